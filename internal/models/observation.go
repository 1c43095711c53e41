package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ToolSpec describes a tool offered by a registry.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Dangerous   bool           `json:"dangerous"`
	ArgsSchema  map[string]any `json:"args_schema,omitempty"`
}

// ToolResult is what a tool invocation returns. Retryable governs automatic
// retry in the execution monitor.
type ToolResult struct {
	Success   bool           `json:"success"`
	Output    string         `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Retryable bool           `json:"retryable"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Failure builds an unsuccessful result.
func Failure(msg string, retryable bool) ToolResult {
	return ToolResult{Error: msg, Retryable: retryable}
}

// Observation records something seen after a tool call or external input.
// Observations are appended to history and never modified afterwards.
type Observation struct {
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	Raw          string    `json:"raw"`
	Parsed       any       `json:"parsed,omitempty"`
	Errors       []string  `json:"errors,omitempty"`
	SalientFacts []string  `json:"salient_facts,omitempty"`
}

// maxFactLen bounds a single salient fact.
const maxFactLen = 200

// ObserveResult converts a tool result into an observation.
func ObserveResult(step Step, res ToolResult) Observation {
	obs := Observation{
		Timestamp: time.Now(),
		Source:    step.ToolName,
		Raw:       res.Output,
	}
	if res.Error != "" {
		obs.Errors = append(obs.Errors, res.Error)
	}
	if res.Metadata != nil {
		obs.Parsed = res.Metadata
	}
	if res.Success {
		obs.SalientFacts = SalientLines(res.Output, 3)
	} else {
		obs.SalientFacts = []string{truncate("failed: "+res.Error, maxFactLen)}
	}
	return obs
}

// HasErrors reports whether the observation carries any error.
func (o Observation) HasErrors() bool { return len(o.Errors) > 0 }

// SalientLines returns up to n non-blank lines of text, each truncated.
func SalientLines(text string, n int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, truncate(line, maxFactLen))
		if len(out) == n {
			break
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return Clip(s, n) + "..."
}

// Clip returns the longest prefix of s that fits in n bytes without
// splitting a UTF-8 sequence.
func Clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ClipTail is Clip for the end of s.
func ClipTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
