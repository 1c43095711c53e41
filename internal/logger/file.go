package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// FileLogger writes a plain-text run log under a log directory and keeps a
// latest.log symlink pointing at the newest one.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger opens run-YYYYMMDD-HHMMSS.log in logDir.
func NewFileLogger(logDir, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlink := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlink); err == nil {
		if err := os.Remove(symlink); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlink); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
	}
	fl.writeRunLog(fmt.Sprintf("=== drcodept run log ===\nStarted at: %s\n\n", time.Now().Format(time.RFC3339)))
	return fl, nil
}

// Path returns the current run log file.
func (fl *FileLogger) Path() string { return fl.runFile }

func (fl *FileLogger) LogTrace(message string) { fl.logWithLevel("TRACE", message) }
func (fl *FileLogger) LogDebug(message string) { fl.logWithLevel("DEBUG", message) }
func (fl *FileLogger) LogInfo(message string)  { fl.logWithLevel("INFO", message) }
func (fl *FileLogger) LogWarn(message string)  { fl.logWithLevel("WARN", message) }
func (fl *FileLogger) LogError(message string) { fl.logWithLevel("ERROR", message) }

func (fl *FileLogger) logWithLevel(level, message string) {
	if !enabled(fl.logLevel, levelKey(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", fileTimestamp(), level, message))
}

func levelKey(level string) string {
	switch level {
	case "TRACE":
		return "trace"
	case "DEBUG":
		return "debug"
	case "WARN":
		return "warn"
	case "ERROR":
		return "error"
	}
	return "info"
}

func (fl *FileLogger) LogStep(index int, step models.Step) {
	fl.logWithLevel("DEBUG", fmt.Sprintf("step %d id=%s tool=%s args=%s goal=%q", index, step.ID, step.ToolName, step.ArgsKey(), step.Goal))
}

func (fl *FileLogger) LogStepResult(step models.Step, res models.ToolResult, attempts int) {
	if res.Success {
		fl.logWithLevel("DEBUG", fmt.Sprintf("step %s ok attempts=%d", step.ID, attempts))
		return
	}
	fl.logWithLevel("DEBUG", fmt.Sprintf("step %s failed attempts=%d retryable=%t error=%q", step.ID, attempts, res.Retryable, res.Error))
}

func (fl *FileLogger) LogStop(res models.RunResult, tracePath string) {
	msg := fmt.Sprintf("run %s stop_reason=%s ok=%t steps=%d duration=%s trace=%s",
		res.RunID, res.StopReason, res.OK, res.Steps, res.Duration().Round(time.Millisecond), tracePath)
	if res.Error != nil {
		msg += fmt.Sprintf(" error_type=%s error=%q", res.Error.Type, res.Error.Message)
	}
	fl.logWithLevel("INFO", msg)
}

func (fl *FileLogger) LogPhase(phase models.Phase, detail string) {
	fl.logWithLevel("INFO", fmt.Sprintf("phase %s %s", phase, detail))
}

func (fl *FileLogger) LogHeartbeat(label string, elapsed time.Duration) {
	fl.logWithLevel("DEBUG", fmt.Sprintf("heartbeat %s elapsed=%s", label, elapsed.Round(time.Second)))
}

func (fl *FileLogger) LogWaveStart(wave int, ids []string) {
	fl.logWithLevel("INFO", fmt.Sprintf("wave %d started subtasks=%v", wave, ids))
}

func (fl *FileLogger) LogSubtaskResult(o models.SubtaskOutcome) {
	fl.logWithLevel("INFO", fmt.Sprintf("subtask %s ok=%t stop_reason=%s reduced=%t run_dir=%s",
		o.Subtask.ID, o.Succeeded(), o.Result.StopReason, o.Reduced, o.RunDir))
}

func (fl *FileLogger) LogSummary(s models.SwarmSummary) {
	if !enabled(fl.logLevel, "info") {
		return
	}
	fl.writeRunLog(FormatSummary(s, fileTimestamp(), nil))
}

// Close syncs and closes the run log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return nil
	}
	if err := fl.runLog.Sync(); err != nil {
		return fmt.Errorf("failed to sync run log: %w", err)
	}
	if err := fl.runLog.Close(); err != nil {
		return fmt.Errorf("failed to close run log: %w", err)
	}
	fl.runLog = nil
	return nil
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}

func fileTimestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
