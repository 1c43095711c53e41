package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

// RepairKind is what a repair proposes.
type RepairKind string

const (
	RepairRetryAdjusted  RepairKind = "retry_adjusted"
	RepairSwapTool       RepairKind = "swap_tool"
	RepairRegenerateStep RepairKind = "regenerate_step"
	RepairRegeneratePlan RepairKind = "regenerate_plan"
)

// RepairRequest describes a failed step.
type RepairRequest struct {
	Request
	Failed     models.Step
	Result     models.ToolResult
	Reflection models.Reflection
	// Remaining are the plan steps after Failed.
	Remaining []models.Step
}

// Repair is a proposed fix. Step is set for every kind except
// RepairRegeneratePlan.
type Repair struct {
	Kind   RepairKind   `json:"kind"`
	Reason string       `json:"reason"`
	Step   *models.Step `json:"step,omitempty"`
}

// Plan builds the repaired plan: the new step followed by the remaining
// steps. It returns nil when the whole plan has to be regenerated.
func (r Repair) Plan(goal string, remaining []models.Step) *models.Plan {
	if r.Kind == RepairRegeneratePlan || r.Step == nil {
		return nil
	}
	steps := make([]models.Step, 0, len(remaining)+1)
	steps = append(steps, *r.Step)
	steps = append(steps, remaining...)
	return &models.Plan{Goal: goal, Steps: steps}
}

type repairReply struct {
	Kind   string       `json:"kind"`
	Reason string       `json:"reason"`
	Step   *stepVariant `json:"step"`
}

// repair asks the backend for one of the four repair kinds and checks that
// the proposed step fits the kind. A proposal that does not fit becomes
// RepairRegeneratePlan.
func repair(ctx context.Context, backend llm.Backend, reg tools.Registry, req RepairRequest) (Repair, error) {
	var b strings.Builder
	b.WriteString(describe(req.Request, reg.ListTools()))
	fmt.Fprintf(&b, "\nThis step failed:\n  goal: %s\n  tool: %s %s\n  error: %s\n",
		req.Failed.Goal, req.Failed.ToolName, req.Failed.ArgsKey(), req.Result.Error)
	if req.Reflection.Explanation != "" {
		fmt.Fprintf(&b, "  assessment: %s\n", req.Reflection.Explanation)
	}
	if req.Reflection.NextHint != "" {
		fmt.Fprintf(&b, "  hint: %s\n", req.Reflection.NextHint)
	}
	if len(req.Remaining) > 0 {
		b.WriteString("Steps still planned after it:\n")
		for _, s := range req.Remaining {
			fmt.Fprintf(&b, "  - %s (%s)\n", s.Goal, s.ToolName)
		}
	}
	b.WriteString("\nPropose ONE repair: retry_adjusted (same tool, corrected args), swap_tool (a different tool for the same goal), ")
	b.WriteString("regenerate_step (a new step for this goal), or regenerate_plan (the plan itself is wrong). Include the step unless you choose regenerate_plan.")

	var reply repairReply
	if err := backend.CompleteJSON(ctx, b.String(), repairSchema, &reply); err != nil {
		return Repair{}, fmt.Errorf("repair: %w", err)
	}

	rep := Repair{Kind: RepairKind(reply.Kind), Reason: reply.Reason}
	regenerate := func(why string) (Repair, error) {
		return Repair{Kind: RepairRegeneratePlan, Reason: strings.TrimSpace(reply.Reason + " (" + why + ")")}, nil
	}
	switch rep.Kind {
	case RepairRegeneratePlan:
		return rep, nil
	case RepairRetryAdjusted, RepairSwapTool, RepairRegenerateStep:
	default:
		return regenerate(fmt.Sprintf("unknown repair kind %q", reply.Kind))
	}
	if reply.Step == nil {
		return regenerate("no step proposed")
	}
	step, err := reply.Step.toStep(req.Failed.ID+"-r", reg)
	if err != nil {
		if errors.Is(err, ErrSchemaMismatch) {
			return regenerate(err.Error())
		}
		return Repair{}, err
	}
	switch {
	case rep.Kind == RepairRetryAdjusted && step.ToolName != req.Failed.ToolName:
		return regenerate("retry_adjusted changed the tool")
	case rep.Kind == RepairSwapTool && step.ToolName == req.Failed.ToolName:
		return regenerate("swap_tool kept the same tool")
	case rep.Kind == RepairRetryAdjusted && step.ArgsKey() == req.Failed.ArgsKey():
		return regenerate("retry_adjusted did not change the args")
	}
	if step.Goal == "" {
		step.Goal = req.Failed.Goal
	}
	rep.Step = &step
	return rep, nil
}
