package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

// Strategies a plan-first draft can come from.
const (
	StrategyDirect    = "direct"
	StrategyCandidate = "candidate"
	StrategyDecompose = "decomposition"
	StrategyClarify   = "clarify"
)

// PlanFirst drafts a multi-step plan that the runner executes until it is
// exhausted or fails.
type PlanFirst struct {
	backend llm.Backend
	tools   tools.Registry

	// MaxSteps caps plan length.
	MaxSteps int
	// Candidates > 1 asks for that many alternative plans and scores them.
	Candidates int
	// Decompose adds a plan built from 2-5 subtasks to the candidates.
	Decompose bool

	fallback *models.Plan
}

// NewPlanFirst returns a direct-only plan-first planner.
func NewPlanFirst(backend llm.Backend, reg tools.Registry, maxSteps int) *PlanFirst {
	return &PlanFirst{backend: backend, tools: reg, MaxSteps: maxSteps, Candidates: 1}
}

func (p *PlanFirst) Name() string { return "plan_first" }

// Draft is the full outcome of a plan-first call.
type Draft struct {
	Plan      *models.Plan `json:"plan"`
	Fallback  *models.Plan `json:"fallback,omitempty"`
	Strategy  string       `json:"strategy"`
	Score     float64      `json:"score"`
	Questions []string     `json:"questions,omitempty"`
	Ranked    []Candidate  `json:"ranked,omitempty"`
}

// Plan returns the best plan of a draft and keeps the runner-up for
// TakeFallback.
func (p *PlanFirst) Plan(ctx context.Context, req Request) (*models.Plan, error) {
	p.fallback = nil
	d, err := p.Draft(ctx, req)
	if err != nil {
		return nil, err
	}
	p.fallback = d.Fallback
	return d.Plan, nil
}

// TakeFallback returns the runner-up of the last Plan call once.
func (p *PlanFirst) TakeFallback() *models.Plan {
	fb := p.fallback
	p.fallback = nil
	return fb
}

// Draft runs the configured strategies, scores every valid plan and returns
// the winner with the runner-up as fallback. If no strategy yields a valid
// plan the draft is a clarification step. Backend errors abort the draft.
func (p *PlanFirst) Draft(ctx context.Context, req Request) (Draft, error) {
	base := describe(req, p.tools.ListTools())
	var cands []Candidate
	var questions []string

	if p.Candidates > 1 {
		cs, qs, err := p.candidates(ctx, req, base)
		if err != nil {
			return Draft{}, err
		}
		cands = append(cands, cs...)
		questions = append(questions, qs...)
	} else {
		c, qs, err := p.direct(ctx, req, base)
		if err != nil && !errors.Is(err, ErrSchemaMismatch) {
			return Draft{}, err
		}
		if err == nil {
			cands = append(cands, c)
		}
		questions = append(questions, qs...)
	}

	if p.Decompose {
		c, err := p.decomposed(ctx, req, base)
		if err != nil && !errors.Is(err, ErrSchemaMismatch) {
			return Draft{}, err
		}
		if err == nil {
			cands = append(cands, c)
		}
	}

	if req.AllowQuestions && len(questions) > 0 {
		return Draft{Plan: &models.Plan{Goal: req.Task}, Strategy: StrategyClarify, Questions: questions}, nil
	}
	if len(cands) == 0 {
		return Draft{Plan: ClarifyPlan(req.Task, "no valid plan was produced"), Strategy: StrategyClarify}, nil
	}

	ranked := Rank(cands)
	d := Draft{Plan: ranked[0].Plan, Strategy: ranked[0].Strategy, Score: ranked[0].Score, Ranked: ranked}
	if len(ranked) > 1 {
		d.Fallback = ranked[1].Plan
	}
	return d, nil
}

func (p *PlanFirst) instructions(req Request) string {
	s := fmt.Sprintf("\nWrite a plan of at most %d steps. Each step is type \"tool\" with a tool from the list and its args, "+
		"or type \"ask_user\" with a question. End with a type \"finish\" step carrying a summary. "+
		"Rate grounding_confidence (0-10, how well the plan is grounded in what was observed) and destructiveness (0-10).", p.maxSteps())
	if req.AllowQuestions {
		s += " If you cannot plan without more information, return no steps and list your questions."
	}
	return s
}

func (p *PlanFirst) maxSteps() int {
	if p.MaxSteps <= 0 {
		return 30
	}
	return p.MaxSteps
}

func (p *PlanFirst) direct(ctx context.Context, req Request, base string) (Candidate, []string, error) {
	var v planVariant
	if err := p.backend.CompleteJSON(ctx, base+p.instructions(req), planSchema, &v); err != nil {
		return Candidate{}, nil, fmt.Errorf("direct plan: %w", err)
	}
	c, err := p.toCandidate(StrategyDirect, req.Task, "s", v)
	return c, v.Questions, err
}

type candidatesReply struct {
	Candidates []planVariant `json:"candidates"`
}

func (p *PlanFirst) candidates(ctx context.Context, req Request, base string) ([]Candidate, []string, error) {
	prompt := base + p.instructions(req) +
		fmt.Sprintf("\nReturn %d meaningfully different candidate plans.", p.Candidates)
	var reply candidatesReply
	if err := p.backend.CompleteJSON(ctx, prompt, candidatesSchema, &reply); err != nil {
		return nil, nil, fmt.Errorf("candidate plans: %w", err)
	}
	var out []Candidate
	var questions []string
	for i, v := range reply.Candidates {
		questions = append(questions, v.Questions...)
		c, err := p.toCandidate(StrategyCandidate, req.Task, fmt.Sprintf("c%d.s", i+1), v)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, questions, nil
}

func (p *PlanFirst) toCandidate(strategy, task, idPrefix string, v planVariant) (Candidate, error) {
	if len(v.Steps) == 0 {
		return Candidate{}, fmt.Errorf("%w: plan has no steps", ErrSchemaMismatch)
	}
	plan := &models.Plan{Goal: task}
	for i, sv := range v.Steps {
		step, err := sv.toStep(fmt.Sprintf("%s%d", idPrefix, i+1), p.tools)
		if err != nil {
			return Candidate{}, err
		}
		plan.Steps = append(plan.Steps, step)
	}
	if plan.Len() > p.maxSteps() {
		plan.Steps = plan.Steps[:p.maxSteps()]
	}
	return Candidate{
		Strategy:   strategy,
		Plan:       plan,
		Assessment: Assess(plan, p.tools, v.GroundingConfidence, v.Destructiveness),
	}, nil
}

// decomposed splits the task, plans each subtask directly and concatenates
// the results in dependency order with one trailing finish step.
func (p *PlanFirst) decomposed(ctx context.Context, req Request, base string) (Candidate, error) {
	subtasks, err := Decompose(ctx, p.backend, req.Task, base, 2, 5)
	if err != nil {
		return Candidate{}, err
	}

	limit := p.maxSteps() - 1
	plan := &models.Plan{Goal: req.Task}
	var grounding, destructive float64
	planned := 0
	for _, st := range Order(subtasks) {
		if plan.Len() >= limit {
			break
		}
		sub := req
		sub.Task = st.Goal
		sub.Hint = joinHint(req.Hint, fmt.Sprintf("This is subtask %s of the larger task %q. %s", st.ID, req.Task, st.Notes))
		var v planVariant
		if err := p.backend.CompleteJSON(ctx, describe(sub, p.tools.ListTools())+p.instructions(sub), planSchema, &v); err != nil {
			return Candidate{}, fmt.Errorf("plan subtask %s: %w", st.ID, err)
		}
		c, err := p.toCandidate(StrategyDecompose, st.Goal, st.ID+".s", v)
		if err != nil {
			return Candidate{}, err
		}
		planned++
		grounding += c.Assessment.GroundingConfidence
		destructive = max(destructive, v.Destructiveness)
		for _, s := range c.Plan.Steps {
			if s.IsFinish() {
				continue
			}
			if plan.Len() >= limit {
				break
			}
			plan.Steps = append(plan.Steps, s)
		}
	}
	plan.Steps = append(plan.Steps, models.Step{
		ID:       "final",
		Goal:     "report completion",
		ToolName: models.ToolFinish,
		ToolArgs: map[string]any{"summary": "completed all subtasks of: " + req.Task},
	})
	return Candidate{
		Strategy:   StrategyDecompose,
		Plan:       plan,
		Assessment: Assess(plan, p.tools, grounding/float64(max(planned, 1)), destructive),
	}, nil
}

func joinHint(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

func (p *PlanFirst) Repair(ctx context.Context, req RepairRequest) (Repair, error) {
	return repair(ctx, p.backend, p.tools, req)
}
