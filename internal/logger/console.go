package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// ConsoleLogger writes timestamped, level-filtered lines to a writer. It is
// safe for concurrent use; swarm workers share one instance.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger. A nil writer discards output.
// Colour is enabled only when writer is a terminal.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (cl *ConsoleLogger) LogTrace(message string) { cl.logWithLevel("TRACE", message) }
func (cl *ConsoleLogger) LogDebug(message string) { cl.logWithLevel("DEBUG", message) }
func (cl *ConsoleLogger) LogInfo(message string)  { cl.logWithLevel("INFO", message) }
func (cl *ConsoleLogger) LogWarn(message string)  { cl.logWithLevel("WARN", message) }
func (cl *ConsoleLogger) LogError(message string) { cl.logWithLevel("ERROR", message) }

func (cl *ConsoleLogger) logWithLevel(level, message string) {
	if cl.writer == nil || !enabled(cl.logLevel, strings.ToLower(level)) {
		return
	}
	label := level
	if cl.colorOutput {
		label = levelColor(level).Sprint(level)
	}
	cl.write(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), label, message))
}

func levelColor(level string) *color.Color {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack)
	case "DEBUG":
		return color.New(color.FgCyan)
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgBlue)
	}
}

// write emits s if the writer is set. Callers have already filtered by level.
func (cl *ConsoleLogger) write(s string) {
	if cl.writer == nil {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.writer.Write([]byte(s))
}

func (cl *ConsoleLogger) paint(attr color.Attribute, s string) string {
	if !cl.colorOutput {
		return s
	}
	return color.New(attr).Sprint(s)
}

// LogStep logs a step about to run, at DEBUG level.
// Format: "[HH:MM:SS] step <n> <tool> <goal>"
func (cl *ConsoleLogger) LogStep(index int, step models.Step) {
	if !enabled(cl.logLevel, "debug") {
		return
	}
	cl.write(fmt.Sprintf("[%s] step %d %s %s\n", timestamp(), index, cl.paint(color.Bold, step.ToolName), step.Goal))
}

// LogStepResult logs a step's tool outcome at DEBUG level.
func (cl *ConsoleLogger) LogStepResult(step models.Step, res models.ToolResult, attempts int) {
	if !enabled(cl.logLevel, "debug") {
		return
	}
	status := cl.paint(color.FgGreen, "ok")
	if !res.Success {
		status = cl.paint(color.FgRed, "failed") + ": " + res.Error
	}
	cl.write(fmt.Sprintf("[%s]   %s -> %s (attempts=%d)\n", timestamp(), step.ToolName, status, attempts))
}

// LogStop logs the terminal outcome of a run at INFO level.
// Format: "[HH:MM:SS] run <id> stopped: <reason> (<steps> steps, <dur>) trace: <path>"
func (cl *ConsoleLogger) LogStop(res models.RunResult, tracePath string) {
	if !enabled(cl.logLevel, "info") {
		return
	}
	reason := string(res.StopReason)
	if res.OK {
		reason = cl.paint(color.FgGreen, reason)
	} else {
		reason = cl.paint(color.FgRed, reason)
	}
	line := fmt.Sprintf("[%s] run %s stopped: %s (%d steps, %s)", timestamp(), res.RunID, reason, res.Steps, formatDuration(res.Duration()))
	if res.Error != nil && res.Error.Message != "" {
		line += "\n[" + timestamp() + "]   error: " + res.Error.Message
	}
	if tracePath != "" {
		line += "\n[" + timestamp() + "]   trace: " + tracePath
	}
	cl.write(line + "\n")
}

// LogPhase logs a supervisor phase transition at INFO level.
func (cl *ConsoleLogger) LogPhase(phase models.Phase, detail string) {
	if !enabled(cl.logLevel, "info") {
		return
	}
	msg := fmt.Sprintf("[%s] %s", timestamp(), cl.paint(color.Bold, string(phase)))
	if detail != "" {
		msg += " " + detail
	}
	cl.write(msg + "\n")
}

// LogHeartbeat reports that a long call is still outstanding.
func (cl *ConsoleLogger) LogHeartbeat(label string, elapsed time.Duration) {
	if !enabled(cl.logLevel, "info") {
		return
	}
	cl.write(fmt.Sprintf("[%s] ... %s still running (%s)\n", timestamp(), label, formatDuration(elapsed)))
}

// LogWaveStart logs the subtasks released in a scheduling wave.
// Format: "[HH:MM:SS] Starting Wave <n>: <count> subtasks (<ids>)"
func (cl *ConsoleLogger) LogWaveStart(wave int, ids []string) {
	if !enabled(cl.logLevel, "info") {
		return
	}
	name := cl.paint(color.Bold, fmt.Sprintf("Wave %d", wave))
	cl.write(fmt.Sprintf("[%s] Starting %s: %d subtasks (%s)\n", timestamp(), name, len(ids), strings.Join(ids, ", ")))
}

// LogSubtaskResult logs a finished subtask at INFO level.
func (cl *ConsoleLogger) LogSubtaskResult(o models.SubtaskOutcome) {
	if !enabled(cl.logLevel, "info") {
		return
	}
	status := cl.paint(color.FgGreen, "OK")
	if !o.Succeeded() {
		status = cl.paint(color.FgRed, "FAILED")
	}
	suffix := string(o.Result.StopReason)
	if o.Reduced {
		suffix += ", reduced"
	}
	cl.write(fmt.Sprintf("[%s] Subtask %s: %s (%s)\n", timestamp(), o.Subtask.ID, status, suffix))
}

// LogSummary logs the swarm summary including QA at INFO level.
func (cl *ConsoleLogger) LogSummary(s models.SwarmSummary) {
	if !enabled(cl.logLevel, "info") {
		return
	}
	cl.write(FormatSummary(s, timestamp(), cl.paint))
}

// FormatSummary renders a swarm summary as log lines prefixed with ts.
// paint may be nil for plain output.
func FormatSummary(s models.SwarmSummary, ts string, paint func(color.Attribute, string) string) string {
	if paint == nil {
		paint = func(_ color.Attribute, v string) string { return v }
	}
	ok, failed, reduced := s.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", ts, paint(color.Bold, "=== Swarm Summary ==="))
	fmt.Fprintf(&b, "[%s] Objective: %s\n", ts, s.Objective)
	fmt.Fprintf(&b, "[%s] Subtasks: %d\n", ts, len(s.Outcomes))
	fmt.Fprintf(&b, "[%s] %s\n", ts, paint(color.FgGreen, fmt.Sprintf("Succeeded: %d", ok)))
	if failed > 0 {
		fmt.Fprintf(&b, "[%s] %s\n", ts, paint(color.FgRed, fmt.Sprintf("Failed: %d", failed)))
	} else {
		fmt.Fprintf(&b, "[%s] Failed: 0\n", ts)
	}
	fmt.Fprintf(&b, "[%s] Reduced: %d\n", ts, reduced)
	fmt.Fprintf(&b, "[%s] Duration: %s\n", ts, formatDuration(s.Duration))
	for _, o := range s.Outcomes {
		if o.Succeeded() {
			continue
		}
		msg := string(o.Result.StopReason)
		if o.Result.Error != nil {
			msg = o.Result.Error.Type + ": " + o.Result.Error.Message
		}
		fmt.Fprintf(&b, "[%s]   - %s: %s\n", ts, paint(color.FgRed, o.Subtask.ID), msg)
	}
	for _, q := range s.QA {
		verdict := paint(color.FgGreen, "PASS")
		if !q.Passed {
			verdict = paint(color.FgRed, "FAIL")
		}
		fmt.Fprintf(&b, "[%s] QA %s: %s\n", ts, q.SubtaskID, verdict)
		for _, c := range q.Checks {
			if !c.OK {
				fmt.Fprintf(&b, "[%s]     %s %s: %s\n", ts, c.Name, c.Path, c.Detail)
			}
		}
	}
	if s.Test != nil {
		verdict := paint(color.FgGreen, "PASS")
		if !s.Test.Passed {
			verdict = paint(color.FgRed, fmt.Sprintf("FAIL (exit %d)", s.Test.ExitCode))
		}
		fmt.Fprintf(&b, "[%s] Test command %q: %s\n", ts, s.Test.Command, verdict)
	}
	return b.String()
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration renders d as e.g. "5s", "1m30s", "2h15m".
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		h := d / time.Hour
		m := (d % time.Hour) / time.Minute
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	case d >= time.Minute:
		m := d / time.Minute
		s := (d % time.Minute) / time.Second
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}
