// Package llmtest provides a scripted reasoning backend for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
)

// Reply is one scripted answer. Value is marshalled to JSON unless it is a
// string, which is used verbatim.
type Reply struct {
	Value any
	Err   error
}

// Backend replays Replies in order, then falls back to Handler. It records
// every prompt.
type Backend struct {
	mu      sync.Mutex
	Replies []Reply
	Handler func(prompt, schema string) (any, error)
	prompts []string
}

// New returns a backend replaying values in order.
func New(values ...any) *Backend {
	b := &Backend{}
	for _, v := range values {
		if err, ok := v.(error); ok {
			b.Replies = append(b.Replies, Reply{Err: err})
			continue
		}
		b.Replies = append(b.Replies, Reply{Value: v})
	}
	return b
}

// Func returns a backend answering every prompt with fn.
func Func(fn func(prompt, schema string) (any, error)) *Backend {
	return &Backend{Handler: fn}
}

func (b *Backend) Name() string { return "scripted" }

func (b *Backend) CompleteJSON(ctx context.Context, prompt, schema string, out any) error {
	if err := ctx.Err(); err != nil {
		return &llm.Error{Kind: llm.KindTimeout, Provider: b.Name(), Message: "context done", Err: err}
	}
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	var reply Reply
	switch {
	case len(b.Replies) > 0:
		reply = b.Replies[0]
		b.Replies = b.Replies[1:]
	case b.Handler != nil:
		h := b.Handler
		b.mu.Unlock()
		v, err := h(prompt, schema)
		b.mu.Lock()
		reply = Reply{Value: v, Err: err}
	default:
		reply = Reply{Err: &llm.Error{Kind: llm.KindOutput, Provider: b.Name(), Message: "script exhausted"}}
	}
	b.mu.Unlock()

	if reply.Err != nil {
		return reply.Err
	}
	var data []byte
	if s, ok := reply.Value.(string); ok {
		data = []byte(s)
	} else {
		var err error
		if data, err = json.Marshal(reply.Value); err != nil {
			return &llm.Error{Kind: llm.KindOutput, Provider: b.Name(), Message: "marshal reply", Err: err}
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &llm.Error{Kind: llm.KindOutput, Provider: b.Name(), Message: "decode reply", Err: err}
	}
	return nil
}

// Calls returns how many prompts were received.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}

// Prompts returns a copy of every prompt received.
func (b *Backend) Prompts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prompts...)
}

// PromptsContaining counts prompts containing sub.
func (b *Backend) PromptsContaining(sub string) int {
	n := 0
	for _, p := range b.Prompts() {
		if strings.Contains(p, sub) {
			n++
		}
	}
	return n
}
