package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Tool names with engine-level meaning.
const (
	ToolFinish  = "finish"
	ToolAskUser = "ask_user"
)

// Step is a single planned tool invocation. Steps are never edited once
// planned; a repair produces a new Step.
type Step struct {
	ID              string         `json:"id"`
	Goal            string         `json:"goal"`
	Rationale       string         `json:"rationale,omitempty"`
	ToolName        string         `json:"tool_name"`
	ToolArgs        map[string]any `json:"tool_args,omitempty"`
	SuccessCriteria []string       `json:"success_criteria,omitempty"`
}

// Validate checks the fields every executable step needs.
func (s Step) Validate() error {
	if s.ID == "" {
		return errors.New("step id is required")
	}
	if s.ToolName == "" {
		return fmt.Errorf("step %s: tool name is required", s.ID)
	}
	return nil
}

// IsFinish reports whether the step ends the run.
func (s Step) IsFinish() bool { return s.ToolName == ToolFinish }

// ArgsKey returns a canonical encoding of the tool arguments. Map keys are
// sorted by encoding/json so equal argument sets yield equal keys.
func (s Step) ArgsKey() string {
	if len(s.ToolArgs) == 0 {
		return "{}"
	}
	data, err := json.Marshal(s.ToolArgs)
	if err != nil {
		return fmt.Sprintf("%v", s.ToolArgs)
	}
	return string(data)
}

// StringArg returns a string-valued argument, or "" when absent.
func (s Step) StringArg(name string) string {
	v, ok := s.ToolArgs[name]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", v)
}

// Plan is an ordered list of steps toward a goal. A plan is replaced
// wholesale on replan.
type Plan struct {
	Goal  string `json:"goal"`
	Steps []Step `json:"steps"`
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Steps)
}

// Empty reports whether there is nothing to execute.
func (p *Plan) Empty() bool { return p.Len() == 0 }

// Validate checks every step and rejects duplicate ids.
func (p *Plan) Validate() error {
	if p == nil {
		return errors.New("plan is nil")
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
