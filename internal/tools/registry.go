// Package tools is the boundary between the engine and the actions it can
// take. Every tool returns a ToolResult; tool failures are values, not Go
// errors.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Registry is what planners and runners see.
type Registry interface {
	Call(ctx context.Context, name string, args map[string]any) models.ToolResult
	ListTools() []models.ToolSpec
	HasTool(name string) bool
}

// Handler implements one tool.
type Handler func(ctx context.Context, args map[string]any) models.ToolResult

type entry struct {
	spec    models.ToolSpec
	handler Handler
}

// Set is a mutable Registry. It is safe for concurrent use but each swarm
// worker builds its own.
type Set struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewSet returns an empty registry.
func NewSet() *Set {
	return &Set{tools: make(map[string]entry)}
}

// Register adds or replaces a tool.
func (s *Set) Register(spec models.ToolSpec, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[spec.Name] = entry{spec: spec, handler: h}
}

func (s *Set) Call(ctx context.Context, name string, args map[string]any) models.ToolResult {
	s.mu.RLock()
	e, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return models.Failure(fmt.Sprintf("unknown tool %q", name), false)
	}
	if err := ctx.Err(); err != nil {
		return models.Failure("cancelled: "+err.Error(), false)
	}
	return e.handler(ctx, args)
}

func (s *Set) ListTools() []models.ToolSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ToolSpec, 0, len(s.tools))
	for _, e := range s.tools {
		out = append(out, e.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Set) HasTool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tools[name]
	return ok
}

// IsDangerous reports whether reg marks name as dangerous.
func IsDangerous(reg Registry, name string) bool {
	for _, t := range reg.ListTools() {
		if t.Name == name {
			return t.Dangerous
		}
	}
	return false
}

// stringArg fetches a required string argument.
func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	return s, nil
}

func optionalString(args map[string]any, name, def string) string {
	if s, err := stringArg(args, name); err == nil && s != "" {
		return s
	}
	return def
}

func optionalBool(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}
