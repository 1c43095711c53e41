package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/config"
)

type answer struct {
	Tool string `json:"tool"`
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("planning: %w", newError(KindAuth, "cli", "bad key", nil))
	assert.Equal(t, KindAuth, KindOf(err))
	assert.True(t, errors.Is(err, ErrAuth))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, IsBackendError(err))
	assert.False(t, IsBackendError(errors.New("plain")))
	assert.Contains(t, err.Error(), "cli backend auth error: bad key")
}

func TestFromStatus(t *testing.T) {
	assert.Equal(t, KindAuth, fromStatus(401, "x", nil).Kind)
	assert.Equal(t, KindNotFound, fromStatus(404, "x", nil).Kind)
	assert.Equal(t, KindTimeout, fromStatus(504, "x", nil).Kind)
	assert.Equal(t, KindExecution, fromStatus(500, "x", nil).Kind)
}

func TestDecodeContent(t *testing.T) {
	var a answer
	require.NoError(t, decodeContent("x", `{"tool":"finish"}`, &a))
	assert.Equal(t, "finish", a.Tool)

	require.NoError(t, decodeContent("x", "Sure!\n```json\n{\"tool\":\"read_file\"}\n```", &a))
	assert.Equal(t, "read_file", a.Tool)

	err := decodeContent("x", "no json here", &a)
	assert.Equal(t, KindOutput, KindOf(err))

	err = decodeContent("x", "   ", &a)
	assert.Equal(t, KindOutput, KindOf(err))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := "a" + strings.Repeat("ü", 200)
	got := truncate(s, 200)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "a"+strings.Repeat("ü", 99)+"...", got)
	assert.Equal(t, "short", truncate("short", 200))
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":{"b":1}}`, ExtractJSON(`text {"a":{"b":1}} tail`))
	assert.Equal(t, "", ExtractJSON("} backwards {"))
}

func fakeCLI(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestCLIBackendStructuredOutput(t *testing.T) {
	path := fakeCLI(t, `echo '{"type":"result","is_error":false,"result":"","structured_output":{"tool":"finish"}}'`)
	b := NewCLIBackend(path, "", time.Minute)
	var a answer
	require.NoError(t, b.CompleteJSON(context.Background(), "next step?", `{"type":"object"}`, &a))
	assert.Equal(t, "finish", a.Tool)
}

func TestCLIBackendResultText(t *testing.T) {
	path := fakeCLI(t, `echo '{"type":"result","is_error":false,"result":"{\"tool\":\"list_files\"}"}'`)
	var a answer
	require.NoError(t, NewCLIBackend(path, "", 0).CompleteJSON(context.Background(), "p", "", &a))
	assert.Equal(t, "list_files", a.Tool)
}

func TestCLIBackendErrors(t *testing.T) {
	var a answer
	ctx := context.Background()

	err := NewCLIBackend(filepath.Join(t.TempDir(), "missing"), "", 0).CompleteJSON(ctx, "p", "", &a)
	assert.Equal(t, KindNotFound, KindOf(err))

	err = NewCLIBackend(fakeCLI(t, `echo "Invalid API key"; exit 1`), "", 0).CompleteJSON(ctx, "p", "", &a)
	assert.Equal(t, KindAuth, KindOf(err))

	err = NewCLIBackend(fakeCLI(t, `echo "segfault"; exit 2`), "", 0).CompleteJSON(ctx, "p", "", &a)
	assert.Equal(t, KindExecution, KindOf(err))

	err = NewCLIBackend(fakeCLI(t, `echo '{"type":"result","is_error":true,"result":"overloaded"}'`), "", 0).CompleteJSON(ctx, "p", "", &a)
	assert.Equal(t, KindExecution, KindOf(err))

	err = NewCLIBackend(fakeCLI(t, `echo "hello"`), "", 0).CompleteJSON(ctx, "p", "", &a)
	assert.Equal(t, KindOutput, KindOf(err))

	err = NewCLIBackend(fakeCLI(t, `exec sleep 5`), "", 100*time.Millisecond).CompleteJSON(ctx, "p", "", &a)
	assert.Equal(t, KindTimeout, KindOf(err))

	err = NewCLIBackend("claude", "", 0).CompleteJSON(ctx, "", "", &a)
	assert.Equal(t, KindExecution, KindOf(err))
}

func TestCLIArgs(t *testing.T) {
	b := NewCLIBackend("", "opus", 0)
	args := b.args("hello", `{"type":"object"}`)
	assert.Equal(t, "claude", b.Path)
	assert.Contains(t, args, "--json-schema")
	assert.Contains(t, args, "opus")
	assert.Contains(t, args, "hello")
}

func TestHeartbeat(t *testing.T) {
	var beats atomic.Int32
	err := WithHeartbeat(context.Background(), 10*time.Millisecond, func(time.Duration) { beats.Add(1) },
		func(context.Context) error {
			time.Sleep(60 * time.Millisecond)
			return nil
		})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, beats.Load(), int32(2))

	after := beats.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, beats.Load(), "no beats after stop")

	stop := Heartbeat(context.Background(), 0, nil)
	stop()
}

func TestNewFactory(t *testing.T) {
	b, err := New(config.LLMConfig{Provider: config.ProviderCLI}, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, "cli", b.Name())
	assert.Equal(t, "/tmp", b.(*CLIBackend).Dir)

	b, err = NewFactory(config.LLMConfig{Provider: config.ProviderAnthropic})("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", b.Name())

	b, err = New(config.LLMConfig{Provider: config.ProviderOpenAI}, "")
	require.NoError(t, err)
	assert.Equal(t, "openai", b.Name())

	_, err = New(config.LLMConfig{Provider: "oracle"}, "")
	assert.Error(t, err)
}
