package llm

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CLIBackend shells out to the claude CLI in print mode with a JSON schema.
// It is safe for concurrent use.
type CLIBackend struct {
	Path         string
	Model        string
	Timeout      time.Duration
	SystemPrompt string
	// Dir is the working directory for the subprocess; empty means inherit.
	Dir string
}

// NewCLIBackend returns a backend invoking path (default "claude").
func NewCLIBackend(path, model string, timeout time.Duration) *CLIBackend {
	if path == "" {
		path = "claude"
	}
	return &CLIBackend{Path: path, Model: model, Timeout: timeout, SystemPrompt: SystemPrompt}
}

func (b *CLIBackend) Name() string { return "cli" }

// cliEnvelope is the --output-format json result object.
type cliEnvelope struct {
	Type             string          `json:"type"`
	Subtype          string          `json:"subtype"`
	IsError          bool            `json:"is_error"`
	Result           string          `json:"result"`
	StructuredOutput json.RawMessage `json:"structured_output"`
	SessionID        string          `json:"session_id"`
}

func (b *CLIBackend) args(prompt, schema string) []string {
	sys := b.SystemPrompt
	if sys == "" {
		sys = SystemPrompt
	}
	args := []string{"--system-prompt", sys, "-p", prompt}
	if schema != "" {
		args = append(args, "--json-schema", schema)
	}
	if b.Model != "" {
		args = append(args, "--model", b.Model)
	}
	args = append(args, "--output-format", "json", "--settings", `{"disableAllHooks": true}`)
	return args
}

// CompleteJSON runs one CLI invocation.
func (b *CLIBackend) CompleteJSON(ctx context.Context, prompt, schema string, out any) error {
	if prompt == "" {
		return newError(KindExecution, b.Name(), "prompt is required", nil)
	}
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, b.Path, b.args(prompt, schema)...)
	cmd.Dir = b.Dir
	cmd.Env = cleanEnv()
	cmd.WaitDelay = 2 * time.Second
	output, err := cmd.CombinedOutput()
	if err != nil {
		if cerr := fromContext(ctx, b.Name()); cerr != nil {
			return cerr
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return newError(KindNotFound, b.Name(), b.Path+" not found", err)
		}
		if looksLikeAuthFailure(string(output)) {
			return newError(KindAuth, b.Name(), truncate(strings.TrimSpace(string(output)), 200), err)
		}
		return newError(KindExecution, b.Name(), truncate(strings.TrimSpace(string(output)), 200), err)
	}
	return b.decode(output, out)
}

func (b *CLIBackend) decode(output []byte, out any) error {
	var env cliEnvelope
	if err := json.Unmarshal(output, &env); err != nil {
		// Some versions print plain text; try it as content.
		return decodeContent(b.Name(), string(output), out)
	}
	if env.IsError {
		if looksLikeAuthFailure(env.Result) {
			return newError(KindAuth, b.Name(), truncate(env.Result, 200), nil)
		}
		return newError(KindExecution, b.Name(), truncate(env.Result, 200), nil)
	}
	if len(env.StructuredOutput) > 0 && string(env.StructuredOutput) != "null" {
		if err := json.Unmarshal(env.StructuredOutput, out); err != nil {
			return newError(KindOutput, b.Name(), "structured output does not match", err)
		}
		return nil
	}
	return decodeContent(b.Name(), env.Result, out)
}

func looksLikeAuthFailure(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range []string{"invalid api key", "unauthorized", "authentication", "please run /login", "not logged in", "401"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// cleanEnv copies the environment with TMPDIR pointed at a private directory.
// Editor sockets in the shared temp dir crash the CLI when --settings is used.
func cleanEnv() []string {
	tmp := filepath.Join(os.TempDir(), "drcodept-cli")
	os.MkdirAll(tmp, 0o755)
	env := os.Environ()
	for i, kv := range env {
		if strings.HasPrefix(kv, "TMPDIR=") {
			env[i] = "TMPDIR=" + tmp
			return env
		}
	}
	return append(env, "TMPDIR="+tmp)
}
