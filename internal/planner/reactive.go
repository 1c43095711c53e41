package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

// Reactive plans exactly one step per call. The runner asks it again after
// every step.
type Reactive struct {
	backend llm.Backend
	tools   tools.Registry
}

// NewReactive returns a single-step planner.
func NewReactive(backend llm.Backend, reg tools.Registry) *Reactive {
	return &Reactive{backend: backend, tools: reg}
}

func (p *Reactive) Name() string { return "reactive" }

// Plan returns a one-step plan. An unknown or missing tool in the answer is
// replaced by a clarification step; backend errors are returned.
func (p *Reactive) Plan(ctx context.Context, req Request) (*models.Plan, error) {
	prompt := describe(req, p.tools.ListTools()) +
		"\nChoose exactly ONE next step. Use type \"tool\" with a tool from the list and its args, " +
		"type \"finish\" with a summary when the task is complete, or type \"ask_user\" with a question when you are blocked."

	var v stepVariant
	if err := p.backend.CompleteJSON(ctx, prompt, reactiveSchema, &v); err != nil {
		return nil, fmt.Errorf("reactive plan: %w", err)
	}
	step, err := v.toStep("step-"+uuid.NewString()[:8], p.tools)
	if err != nil {
		if errors.Is(err, ErrSchemaMismatch) {
			return ClarifyPlan(req.Task, err.Error()), nil
		}
		return nil, err
	}
	return &models.Plan{Goal: req.Task, Steps: []models.Step{step}}, nil
}

func (p *Reactive) Repair(ctx context.Context, req RepairRequest) (Repair, error) {
	return repair(ctx, p.backend, p.tools, req)
}
