// Package logger renders engine progress for humans: runner steps, supervisor
// phases, swarm waves and summaries. Machine-readable events go to each run's
// trace instead.
package logger

import "strings"

const (
	levelTrace int = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
)

var levelValues = map[string]int{
	"trace": levelTrace,
	"debug": levelDebug,
	"info":  levelInfo,
	"warn":  levelWarn,
	"error": levelError,
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	_, ok := levelValues[strings.ToLower(strings.TrimSpace(level))]
	return ok
}

// normalizeLogLevel lowercases level, falling back to "info".
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if _, ok := levelValues[normalized]; ok {
		return normalized
	}
	return "info"
}

func logLevelToInt(level string) int {
	if v, ok := levelValues[level]; ok {
		return v
	}
	return levelInfo
}

// enabled reports whether a message at msgLevel passes the configured level.
func enabled(configured, msgLevel string) bool {
	return logLevelToInt(msgLevel) >= logLevelToInt(configured)
}
