package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

// Step variants a backend may return.
const (
	variantTool    = "tool"
	variantFinish  = "finish"
	variantAskUser = "ask_user"
)

// ErrSchemaMismatch is returned when a decoded response does not describe a
// valid step or plan.
var ErrSchemaMismatch = errors.New("planner response does not match schema")

// stepVariant is the tagged union every backend answer is decoded into.
// Type selects which of the remaining fields are meaningful.
type stepVariant struct {
	Type            string         `json:"type"`
	Goal            string         `json:"goal"`
	Rationale       string         `json:"rationale,omitempty"`
	Tool            string         `json:"tool,omitempty"`
	Args            map[string]any `json:"args,omitempty"`
	SuccessCriteria []string       `json:"success_criteria,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	Question        string         `json:"question,omitempty"`
}

// toStep validates the variant against the registry and builds a Step.
func (v stepVariant) toStep(id string, reg tools.Registry) (models.Step, error) {
	step := models.Step{
		ID:              id,
		Goal:            strings.TrimSpace(v.Goal),
		Rationale:       v.Rationale,
		SuccessCriteria: v.SuccessCriteria,
	}
	switch v.Type {
	case variantFinish:
		step.ToolName = models.ToolFinish
		step.ToolArgs = map[string]any{"summary": v.Summary}
		if step.Goal == "" {
			step.Goal = "report completion"
		}
	case variantAskUser:
		if strings.TrimSpace(v.Question) == "" {
			return models.Step{}, fmt.Errorf("%w: ask_user without question", ErrSchemaMismatch)
		}
		step.ToolName = models.ToolAskUser
		step.ToolArgs = map[string]any{"question": v.Question}
		if step.Goal == "" {
			step.Goal = "ask the user"
		}
	case variantTool:
		if v.Tool == "" {
			return models.Step{}, fmt.Errorf("%w: tool step without tool name", ErrSchemaMismatch)
		}
		if reg != nil && !reg.HasTool(v.Tool) {
			return models.Step{}, fmt.Errorf("%w: unknown tool %q", ErrSchemaMismatch, v.Tool)
		}
		step.ToolName = v.Tool
		step.ToolArgs = v.Args
		if step.ToolArgs == nil {
			step.ToolArgs = map[string]any{}
		}
	default:
		return models.Step{}, fmt.Errorf("%w: unknown step type %q", ErrSchemaMismatch, v.Type)
	}
	return step, nil
}

// planVariant is a multi-step answer with the model's own assessment.
type planVariant struct {
	Steps               []stepVariant `json:"steps"`
	GroundingConfidence float64       `json:"grounding_confidence"`
	Destructiveness     float64       `json:"destructiveness"`
	Questions           []string      `json:"questions,omitempty"`
}

// Clarify returns the deterministic step used when a response cannot be
// trusted: ask the user what to do.
func Clarify(task, reason string) models.Step {
	return models.Step{
		ID:        "clarify",
		Goal:      "clarify the task",
		Rationale: reason,
		ToolName:  models.ToolAskUser,
		ToolArgs: map[string]any{
			"question": fmt.Sprintf("I could not work out a valid next step for %q (%s). What should I do next?", task, reason),
		},
	}
}

// ClarifyPlan wraps Clarify in a plan.
func ClarifyPlan(task, reason string) *models.Plan {
	return &models.Plan{Goal: task, Steps: []models.Step{Clarify(task, reason)}}
}

const stepVariantSchema = `{
  "type": "object",
  "properties": {
    "type": {"type": "string", "enum": ["tool", "finish", "ask_user"]},
    "goal": {"type": "string"},
    "rationale": {"type": "string"},
    "tool": {"type": "string"},
    "args": {"type": "object"},
    "success_criteria": {"type": "array", "items": {"type": "string"}},
    "summary": {"type": "string"},
    "question": {"type": "string"}
  },
  "required": ["type", "goal"]
}`

const reactiveSchema = stepVariantSchema

const planSchema = `{
  "type": "object",
  "properties": {
    "steps": {"type": "array", "items": ` + stepVariantSchema + `},
    "grounding_confidence": {"type": "number", "minimum": 0, "maximum": 10},
    "destructiveness": {"type": "number", "minimum": 0, "maximum": 10},
    "questions": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["steps"]
}`

const candidatesSchema = `{
  "type": "object",
  "properties": {
    "candidates": {"type": "array", "items": ` + planSchema + `}
  },
  "required": ["candidates"]
}`

const decomposeSchema = `{
  "type": "object",
  "properties": {
    "subtasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "goal": {"type": "string"},
          "depends_on": {"type": "array", "items": {"type": "string"}},
          "notes": {"type": "string"}
        },
        "required": ["id", "goal"]
      }
    }
  },
  "required": ["subtasks"]
}`

const repairSchema = `{
  "type": "object",
  "properties": {
    "kind": {"type": "string", "enum": ["retry_adjusted", "swap_tool", "regenerate_step", "regenerate_plan"]},
    "reason": {"type": "string"},
    "step": ` + stepVariantSchema + `
  },
  "required": ["kind", "reason"]
}`
