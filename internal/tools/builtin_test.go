package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

type fixedAsker struct {
	answer string
	err    error
}

func (a fixedAsker) Ask(context.Context, string) (string, error) { return a.answer, a.err }

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := NewWorkspace(t.TempDir(), "", nil)
	require.NoError(t, err)
	return w
}

func TestWorkspaceListsBuiltins(t *testing.T) {
	w := newWorkspace(t)
	var names []string
	for _, spec := range w.ListTools() {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{"ask_user", "finish", "list_files", "read_file", "repo_map", "run_shell", "write_file"}, names)
	assert.True(t, w.HasTool("finish"))
	assert.False(t, w.HasTool("browser"))
	assert.True(t, IsDangerous(w, "run_shell"))
	assert.False(t, IsDangerous(w, "read_file"))
}

func TestWriteThenRead(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()

	res := w.Call(ctx, "write_file", map[string]any{"path": "notes/a.txt", "content": "hello\nworld"})
	require.True(t, res.Success, res.Error)

	res = w.Call(ctx, "read_file", map[string]any{"path": "notes/a.txt"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hello\nworld", res.Output)
	assert.Equal(t, "notes/a.txt", res.Metadata["path"])
}

func TestPathsCannotEscapeRoot(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()
	outside := filepath.Join(t.TempDir(), "secret.txt")

	for _, p := range []string{"../escape.txt", outside, "a/../../escape.txt"} {
		res := w.Call(ctx, "write_file", map[string]any{"path": p, "content": "x"})
		assert.False(t, res.Success, p)
		assert.False(t, res.Retryable)
		assert.Contains(t, res.Error, "escapes workspace")
	}
	assert.NoFileExists(t, outside)

	_, err := w.Resolve("../x")
	assert.True(t, errors.Is(err, ErrOutsideWorkspace))
}

func TestSymlinkEscapeRejected(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	w := newWorkspace(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(w.Root, "link")))

	res := w.Call(context.Background(), "write_file", map[string]any{"path": "link/x.txt", "content": "x"})
	assert.False(t, res.Success)
	assert.NoFileExists(t, filepath.Join(outside, "x.txt"))
}

func TestListFilesSkipsVCS(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(w.Root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(w.Root, ".git", "HEAD"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(w.Root, "main.go"), []byte("package main"), 0o644))

	res := w.Call(context.Background(), "list_files", map[string]any{"recursive": true})
	require.True(t, res.Success)
	assert.Equal(t, "main.go", res.Output)
}

func TestRepoMapWritesArtifact(t *testing.T) {
	artifacts := t.TempDir()
	w, err := NewWorkspace(t.TempDir(), artifacts, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(w.Root, "a.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(w.Root, "b.md"), []byte("x"), 0o644))

	res := w.Call(context.Background(), "repo_map", nil)
	require.True(t, res.Success, res.Error)

	data, err := os.ReadFile(filepath.Join(artifacts, "repo_map.json"))
	require.NoError(t, err)
	var m RepoMap
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, 2, m.Files)
	assert.Equal(t, 1, m.Extensions[".go"])
}

func TestAskUser(t *testing.T) {
	ctx := context.Background()
	res := newWorkspace(t).Call(ctx, "ask_user", map[string]any{"question": "which?"})
	assert.False(t, res.Success)

	w, err := NewWorkspace(t.TempDir(), "", fixedAsker{answer: "the blue one"})
	require.NoError(t, err)
	res = w.Call(ctx, "ask_user", map[string]any{"question": "which?"})
	require.True(t, res.Success)
	assert.Equal(t, "the blue one", res.Output)
}

func TestRunShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	w := newWorkspace(t)
	ctx := context.Background()

	res := w.Call(ctx, "run_shell", map[string]any{"command": "pwd"})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, filepath.Base(w.Root))

	res = w.Call(ctx, "run_shell", map[string]any{"command": "exit 3"})
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Metadata["exit_code"])

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	res = w.Call(tctx, "run_shell", map[string]any{"command": "exec sleep 5"})
	assert.False(t, res.Success)
	assert.True(t, res.Retryable)
}

func TestSetUnknownToolAndCustomRegistration(t *testing.T) {
	s := NewSet()
	res := s.Call(context.Background(), "nope", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")

	s.Register(models.ToolSpec{Name: "echo"}, func(_ context.Context, args map[string]any) models.ToolResult {
		return models.ToolResult{Success: true, Output: args["v"].(string)}
	})
	assert.Equal(t, "hi", s.Call(context.Background(), "echo", map[string]any{"v": "hi"}).Output)
}

func TestMissingArguments(t *testing.T) {
	w := newWorkspace(t)
	res := w.Call(context.Background(), "read_file", map[string]any{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, `missing argument "path"`)
	res = w.Call(context.Background(), "read_file", map[string]any{"path": 3})
	assert.Contains(t, res.Error, "must be a string")
}

func TestClipOutputKeepsRunesWhole(t *testing.T) {
	out, cut := clip("x" + strings.Repeat("日", maxOutput))
	assert.True(t, cut)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "\n...[truncated]"))
	assert.LessOrEqual(t, len(out), maxOutput+len("\n...[truncated]"))

	same, cut := clip("日本")
	assert.False(t, cut)
	assert.Equal(t, "日本", same)
}
