package swarm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

const maxTestOutput = 8 * 1024

// Validate checks every expected artifact of a subtask run directory for
// presence and, for .json and .jsonl files, that it parses. The result
// depends only on the directory contents.
func Validate(st models.Subtask, runDir string) models.QAResult {
	q := models.QAResult{SubtaskID: st.ID, RunDir: runDir, Passed: true}
	for _, name := range ExpectedArtifacts(st) {
		c := checkArtifact(runDir, name)
		if !c.OK {
			q.Passed = false
		}
		q.Checks = append(q.Checks, c)
	}
	return q
}

func checkArtifact(runDir, name string) models.QACheck {
	c := models.QACheck{Name: name, Path: filepath.Join(runDir, name)}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.Detail = "missing"
		} else {
			c.Detail = err.Error()
		}
		return c
	}
	switch filepath.Ext(name) {
	case ".json":
		if !json.Valid(data) {
			c.Detail = "invalid JSON"
			return c
		}
	case ".jsonl":
		if line, ok := validJSONLines(data); !ok {
			c.Detail = fmt.Sprintf("invalid JSON on line %d", line)
			return c
		}
	}
	c.OK = true
	return c
}

func validJSONLines(data []byte) (int, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return n, false
		}
	}
	if sc.Err() != nil {
		return n + 1, false
	}
	return 0, true
}

// ValidateAll runs Validate for every outcome, in order.
func ValidateAll(outcomes []models.SubtaskOutcome) []models.QAResult {
	out := make([]models.QAResult, len(outcomes))
	for i, o := range outcomes {
		out[i] = Validate(o.Subtask, o.RunDir)
	}
	return out
}

// RunTests runs the QA test command through the shell in dir.
func RunTests(ctx context.Context, command, dir string, timeout time.Duration) models.TestRun {
	run := models.TestRun{Command: command, ExitCode: -1}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	run.Duration = time.Since(start)
	run.Output = tail(strings.TrimSpace(buf.String()), maxTestOutput)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		run.ExitCode = 0
		run.Passed = true
	case ctx.Err() != nil:
		run.Output = strings.TrimSpace(run.Output + fmt.Sprintf("\ntest command timed out after %v", timeout))
	case errors.As(err, &exitErr):
		run.ExitCode = exitErr.ExitCode()
	default:
		run.Output = strings.TrimSpace(run.Output + "\n" + err.Error())
	}
	return run
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
