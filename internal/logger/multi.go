package logger

import (
	"time"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Logger is the full set of events the engine emits. Consumers depend on
// narrower interfaces declared next to them.
type Logger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogStep(index int, step models.Step)
	LogStepResult(step models.Step, res models.ToolResult, attempts int)
	LogStop(res models.RunResult, tracePath string)
	LogPhase(phase models.Phase, detail string)
	LogHeartbeat(label string, elapsed time.Duration)
	LogWaveStart(wave int, ids []string)
	LogSubtaskResult(o models.SubtaskOutcome)
	LogSummary(s models.SwarmSummary)
}

var (
	_ Logger = (*ConsoleLogger)(nil)
	_ Logger = (*FileLogger)(nil)
	_ Logger = (*NoOpLogger)(nil)
	_ Logger = Multi(nil)
)

// Multi fans every event out to each logger in order. Nil entries are skipped.
type Multi []Logger

func (m Multi) each(fn func(Logger)) {
	for _, l := range m {
		if l != nil {
			fn(l)
		}
	}
}

func (m Multi) LogTrace(msg string) { m.each(func(l Logger) { l.LogTrace(msg) }) }
func (m Multi) LogDebug(msg string) { m.each(func(l Logger) { l.LogDebug(msg) }) }
func (m Multi) LogInfo(msg string)  { m.each(func(l Logger) { l.LogInfo(msg) }) }
func (m Multi) LogWarn(msg string)  { m.each(func(l Logger) { l.LogWarn(msg) }) }
func (m Multi) LogError(msg string) { m.each(func(l Logger) { l.LogError(msg) }) }

func (m Multi) LogStep(index int, step models.Step) {
	m.each(func(l Logger) { l.LogStep(index, step) })
}

func (m Multi) LogStepResult(step models.Step, res models.ToolResult, attempts int) {
	m.each(func(l Logger) { l.LogStepResult(step, res, attempts) })
}

func (m Multi) LogStop(res models.RunResult, tracePath string) {
	m.each(func(l Logger) { l.LogStop(res, tracePath) })
}

func (m Multi) LogPhase(phase models.Phase, detail string) {
	m.each(func(l Logger) { l.LogPhase(phase, detail) })
}

func (m Multi) LogHeartbeat(label string, elapsed time.Duration) {
	m.each(func(l Logger) { l.LogHeartbeat(label, elapsed) })
}

func (m Multi) LogWaveStart(wave int, ids []string) {
	m.each(func(l Logger) { l.LogWaveStart(wave, ids) })
}

func (m Multi) LogSubtaskResult(o models.SubtaskOutcome) {
	m.each(func(l Logger) { l.LogSubtaskResult(o) })
}

func (m Multi) LogSummary(s models.SwarmSummary) {
	m.each(func(l Logger) { l.LogSummary(s) })
}

// NoOpLogger discards everything. Useful in tests.
type NoOpLogger struct{}

func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (*NoOpLogger) LogTrace(string)                                   {}
func (*NoOpLogger) LogDebug(string)                                   {}
func (*NoOpLogger) LogInfo(string)                                    {}
func (*NoOpLogger) LogWarn(string)                                    {}
func (*NoOpLogger) LogError(string)                                   {}
func (*NoOpLogger) LogStep(int, models.Step)                          {}
func (*NoOpLogger) LogStepResult(models.Step, models.ToolResult, int) {}
func (*NoOpLogger) LogStop(models.RunResult, string)                  {}
func (*NoOpLogger) LogPhase(models.Phase, string)                     {}
func (*NoOpLogger) LogHeartbeat(string, time.Duration)                {}
func (*NoOpLogger) LogWaveStart(int, []string)                        {}
func (*NoOpLogger) LogSubtaskResult(models.SubtaskOutcome)            {}
func (*NoOpLogger) LogSummary(models.SwarmSummary)                    {}
