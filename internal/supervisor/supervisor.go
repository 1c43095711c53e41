// Package supervisor runs team mode: an explicit phase machine that
// observes the workspace, researches, plans, checks in with the user,
// executes one step per iteration, verifies and reflects. The state is
// checkpointed after every phase.
package supervisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/config"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/guard"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/memory"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/monitor"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/planner"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/reflector"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

const tracerName = "github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/supervisor"

// Logger is the subset of logger.Logger the supervisor uses.
type Logger interface {
	LogInfo(message string)
	LogWarn(message string)
	LogPhase(phase models.Phase, detail string)
	LogHeartbeat(label string, elapsed time.Duration)
	LogStep(index int, step models.Step)
	LogStepResult(step models.Step, res models.ToolResult, attempts int)
	LogStop(res models.RunResult, tracePath string)
}

// Critic decisions taken in REFLECT.
const (
	DecisionRetry    = "retry"
	DecisionResearch = "research"
	DecisionAskUser  = "ask_user"
	DecisionPivot    = "pivot"
	DecisionAbort    = "abort"
)

// Deps are the collaborators of a team run. Asker may be nil, in which
// case every question is answered with an empty string.
type Deps struct {
	Backend llm.Backend
	Tools   tools.Registry
	Asker   tools.Asker
	Memory  memory.Store
	Dir     *rundir.Dir
	Logger  Logger
}

// Orchestrator is one team-mode run.
type Orchestrator struct {
	cfg     *config.Config
	backend llm.Backend
	tools   tools.Registry
	asker   tools.Asker
	memory  memory.Store
	dir     *rundir.Dir
	log     Logger
	planner *planner.PlanFirst
	loop    *guard.LoopDetector
	thrash  *guard.ThrashGuard
	tracer  trace.Tracer
	now     func() time.Time

	state *models.OrchestratorState
	agent *models.AgentState

	steps         int
	memories      []string
	hint          string
	asked         bool
	pending       []string
	prefetched    *planner.Draft
	researchFocus string
	prefetch      bool
}

// New wires an orchestrator.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Backend == nil || deps.Tools == nil || deps.Dir == nil {
		return nil, errors.New("supervisor: backend, tools and run directory are required")
	}
	log := deps.Logger
	if log == nil {
		log = nopLogger{}
	}
	mem := deps.Memory
	if mem == nil {
		mem = memory.Nop{}
	}
	pf := planner.NewPlanFirst(deps.Backend, deps.Tools, cfg.Agent.MaxSteps)
	pf.Candidates = cfg.Agent.Candidates
	pf.Decompose = cfg.Agent.Decompose

	return &Orchestrator{
		cfg:     cfg,
		backend: deps.Backend,
		tools:   deps.Tools,
		asker:   deps.Asker,
		memory:  mem,
		dir:     deps.Dir,
		log:     log,
		planner: pf,
		loop:    guard.NewLoopDetector(cfg.Loop.Window, cfg.Loop.Threshold),
		thrash: guard.NewThrashGuard(guard.Thresholds{
			RepeatedAction:   cfg.Thrash.RepeatedAction,
			RepeatedFileRead: cfg.Thrash.RepeatedFileRead,
			NoProgress:       cfg.Thrash.NoProgress,
			RepeatedError:    cfg.Thrash.RepeatedError,
			StopSeverity:     cfg.Thrash.StopSeverity,
		}),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		state:  models.NewOrchestratorState(),
	}, nil
}

// State returns the live orchestrator state.
func (o *Orchestrator) State() *models.OrchestratorState { return o.state }

type stop struct {
	reason  models.StopReason
	errType string
	message string
}

func stopWith(reason models.StopReason, errType, format string, args ...any) *stop {
	return &stop{reason: reason, errType: errType, message: fmt.Sprintf(format, args...)}
}

// Run drives the phase machine until DONE or ABORT.
func (o *Orchestrator) Run(ctx context.Context, goal string) (res models.RunResult) {
	ctx, span := o.tracer.Start(ctx, "supervisor.Run", trace.WithAttributes(attribute.String("run.id", o.dir.RunID())))
	defer span.End()

	o.agent = models.NewAgentState(goal)
	res = models.RunResult{Goal: goal, RunID: o.dir.RunID(), StartedAt: o.now().UTC()}
	o.event(ctx, rundir.EventRunStart, map[string]any{"goal": goal, "run_id": o.dir.RunID(), "mode": "team"})

	defer func() {
		if p := recover(); p != nil {
			o.log.LogWarn(fmt.Sprintf("team run %s panicked: %v\n%s", o.dir.RunID(), p, debug.Stack()))
			res = o.finish(ctx, res, stopWith(models.StopInternalError, "panic", "%v", p))
		}
		if res.OK {
			span.SetStatus(codes.Ok, string(res.StopReason))
		} else {
			span.SetStatus(codes.Error, string(res.StopReason))
		}
	}()

	for !o.state.Phase.Terminal() {
		if st := o.checkBudgets(ctx, res.StartedAt); st != nil {
			return o.finish(ctx, res, st)
		}
		o.state.Iterations++
		if o.state.Iterations > o.cfg.Team.MaxIterations {
			return o.finish(ctx, res, stopWith(models.StopMaxIterations, "budget", "exceeded %d iterations", o.cfg.Team.MaxIterations))
		}

		from := o.state.Phase
		next, st := o.advance(ctx, from)
		if st != nil {
			return o.finish(ctx, res, st)
		}
		o.state.Phase = next
		o.log.LogPhase(next, fmt.Sprintf("(from %s, iteration %d)", from, o.state.Iterations))
		o.event(ctx, rundir.EventPhase, map[string]any{"from": from, "to": next, "iteration": o.state.Iterations})
		o.checkpoint(ctx)
	}
	return o.finish(ctx, res, &stop{reason: models.StopGoalAchieved})
}

func (o *Orchestrator) advance(ctx context.Context, phase models.Phase) (models.Phase, *stop) {
	switch phase {
	case models.PhaseObserve:
		return o.observe(ctx)
	case models.PhaseResearch:
		return o.researchPhase(ctx)
	case models.PhasePlan:
		return o.plan(ctx)
	case models.PhaseAskUser:
		return o.askUser(ctx)
	case models.PhaseExecute:
		return o.execute(ctx)
	case models.PhaseVerify:
		return o.verify()
	case models.PhaseReflect:
		return o.reflect(ctx)
	}
	return models.PhaseAbort, stopWith(models.StopInternalError, "internal", "unknown phase %q", phase)
}

// observe snapshots the tool catalog and the workspace listing.
func (o *Orchestrator) observe(ctx context.Context) (models.Phase, *stop) {
	var names []string
	for _, t := range o.tools.ListTools() {
		names = append(names, t.Name)
	}
	o.state.Context["tools"] = names

	workspace := ""
	if o.tools.HasTool("list_files") {
		res := o.tools.Call(ctx, "list_files", map[string]any{"path": "."})
		if res.Success {
			workspace = clip(res.Output, 2000)
		}
	}
	o.state.Context["workspace"] = workspace

	h := sha256.Sum256([]byte(strings.Join(names, ",") + "\x00" + workspace))
	o.state.ContextFingerprint = hex.EncodeToString(h[:])[:16]

	recs, err := o.memory.Search(ctx, o.agent.Task, o.cfg.Agent.MemoryLimit)
	if err != nil {
		o.log.LogWarn("memory search: " + err.Error())
	}
	for _, r := range recs {
		o.memories = append(o.memories, fmt.Sprintf("[%s] %s", r.Kind, r.Content))
	}
	o.event(ctx, rundir.EventObservation, map[string]any{
		"source":      "workspace",
		"tools":       names,
		"fingerprint": o.state.ContextFingerprint,
		"memories":    len(o.memories),
	})

	if o.cfg.Team.Research {
		o.prefetch = true
		return models.PhaseResearch, nil
	}
	return models.PhasePlan, nil
}

// researchPhase gathers research notes. On the first pass the plan is
// drafted concurrently and handed to PLAN.
func (o *Orchestrator) researchPhase(ctx context.Context) (models.Phase, *stop) {
	var notes string
	var draft planner.Draft
	prefetch := o.prefetch
	o.prefetch = false
	focus := o.researchFocus
	o.researchFocus = ""
	req := o.request()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := o.research(gctx, focus)
		notes = n
		return err
	})
	if prefetch {
		g.Go(func() error {
			d, err := o.planner.Draft(gctx, req)
			draft = d
			return err
		})
	}
	beat := func(elapsed time.Duration) { o.log.LogHeartbeat("research", elapsed) }
	err := llm.WithHeartbeat(ctx, o.cfg.Team.HeartbeatInterval, beat, func(context.Context) error { return g.Wait() })
	if err != nil {
		return models.PhaseAbort, o.reasoningFailure(ctx, "research", err)
	}

	if err := o.dir.WriteText(rundir.ResearchFile, notes); err != nil {
		o.log.LogWarn("write research notes: " + err.Error())
	}
	facts := ExtractFacts(notes)
	if len(facts) > 0 {
		o.state.LastResearch = strings.Join(facts, "\n")
	} else {
		o.state.LastResearch = clip(strings.TrimSpace(notes), 2000)
	}
	o.event(ctx, rundir.EventResearch, map[string]any{"facts": facts, "prefetched_plan": prefetch, "focus": focus})
	if prefetch {
		o.prefetched = &draft
	}
	return models.PhasePlan, nil
}

func (o *Orchestrator) request() planner.Request {
	return planner.Request{
		Task:           o.agent.Task,
		Observations:   o.agent.Observations,
		Memories:       o.memories,
		Hint:           o.hint,
		QAPairs:        o.state.QAPairs,
		Research:       o.state.LastResearch,
		AllowQuestions: !o.asked,
	}
}

func (o *Orchestrator) plan(ctx context.Context) (models.Phase, *stop) {
	var d planner.Draft
	if o.prefetched != nil {
		d = *o.prefetched
		o.prefetched = nil
	} else {
		var err error
		if d, err = o.planner.Draft(ctx, o.request()); err != nil {
			return models.PhaseAbort, o.reasoningFailure(ctx, "plan", err)
		}
	}

	if len(d.Questions) > 0 && !o.asked {
		o.pending = d.Questions
		return models.PhaseAskUser, nil
	}
	if d.Plan.Empty() {
		return models.PhaseAbort, stopWith(models.StopNoSteps, "planner", "planner returned no steps")
	}
	o.state.LastPlan = d.Plan
	o.state.StepIndex = 0
	o.hint = ""
	o.event(ctx, rundir.EventPlan, map[string]any{"strategy": d.Strategy, "score": d.Score, "steps": d.Plan.Steps})
	if err := o.dir.WriteJSON(ctx, rundir.PlanFile, d.Plan); err != nil {
		o.log.LogWarn("write plan: " + err.Error())
	}
	return models.PhaseExecute, nil
}

var abortAnswer = regexp.MustCompile(`(?i)\b(abort|stop)\b`)

// askUser asks each pending question once. Any answer containing "abort"
// or "stop" ends the run.
func (o *Orchestrator) askUser(ctx context.Context) (models.Phase, *stop) {
	questions := o.pending
	o.pending = nil
	o.asked = true
	for _, q := range questions {
		o.event(ctx, rundir.EventQuestion, map[string]any{"question": q})
		answer := ""
		if o.asker != nil {
			a, err := o.asker.Ask(ctx, q)
			if err != nil {
				o.log.LogWarn("ask user: " + err.Error())
			}
			answer = strings.TrimSpace(a)
		}
		o.event(ctx, rundir.EventAnswer, map[string]any{"question": q, "answer": answer})
		o.state.QAPairs = append(o.state.QAPairs, models.QAPair{Question: q, Answer: answer})
		if abortAnswer.MatchString(answer) {
			return models.PhaseAbort, stopWith(models.StopAborted, "user", "user answered %q", answer)
		}
	}
	return models.PhasePlan, nil
}

// execute runs exactly one step of the current plan.
func (o *Orchestrator) execute(ctx context.Context) (models.Phase, *stop) {
	plan := o.state.LastPlan
	if plan == nil || o.state.StepIndex >= plan.Len() {
		return models.PhaseVerify, nil
	}
	step := plan.Steps[o.state.StepIndex]
	if tools.IsDangerous(o.tools, step.ToolName) && !o.cfg.Agent.Unsafe {
		return models.PhaseAbort, stopWith(models.StopUnsafeBlocked, "unsafe", "tool %s is dangerous; rerun with unsafe mode to allow it", step.ToolName)
	}

	o.log.LogStep(o.steps, step)
	o.event(ctx, rundir.EventStep, map[string]any{"index": o.steps, "step": step})
	mon := monitor.New(monitor.Options{
		MaxRetries: o.cfg.Agent.ToolMaxRetries,
		Backoff:    o.cfg.Agent.ToolRetryBackoff,
		Timeout:    o.cfg.Agent.ToolTimeout,
		OnRetry: func(attempt int, res models.ToolResult, wait time.Duration) {
			o.event(ctx, rundir.EventToolRetry, map[string]any{"step_id": step.ID, "attempt": attempt, "error": res.Error})
		},
	})
	rep := mon.Call(ctx, step.ToolName, func(ctx context.Context) models.ToolResult {
		return o.tools.Call(ctx, step.ToolName, step.ToolArgs)
	})
	o.steps++
	o.log.LogStepResult(step, rep.Result, rep.Attempts)

	result := rep.Result
	o.state.LastToolResult = &result
	obs := models.ObserveResult(step, result)
	o.agent.Observe(obs)
	rec := models.ActionRecord{Tool: step.ToolName, ArgsKey: step.ArgsKey(), Error: result.Error, Fingerprint: o.agent.Fingerprint()}
	if step.ToolName == "read_file" {
		rec.Path = step.StringArg("path")
	}
	o.agent.RecordAction(rec)
	o.event(ctx, rundir.EventObservation, map[string]any{"step_id": step.ID, "success": result.Success, "errors": obs.Errors, "facts": obs.SalientFacts})

	if o.loop.Update(guard.Signature(step.ToolName, step.ArgsKey(), result.Output+"\x00"+result.Error)...) {
		return models.PhaseAbort, stopWith(models.StopLoopDetected, "loop", "%s %s repeated within the last %d steps", step.ToolName, step.ArgsKey(), o.loop.Window())
	}
	if det := o.thrash.Check(o.agent); det.Detected {
		o.event(ctx, rundir.EventThrash, map[string]any{"detection": det})
		o.log.LogWarn(guard.Escalation(det))
		o.hint = guard.Escalation(det)
		if stopNow, d := o.thrash.ShouldStop(o.agent); stopNow {
			return models.PhaseAbort, stopWith(models.StopLoopDetected, d.ThrashType, "%s", guard.Escalation(d))
		}
		o.thrash.Handled(o.agent, det)
	}

	if !result.Success {
		o.state.LastError = result.Error
		refl := reflector.Heuristic(step, result)
		if err := o.memory.Add(ctx, memory.Record{Kind: memory.KindReflexion, Task: o.agent.Task, Content: refl.Lesson, Tags: []string{step.ToolName, refl.FailureType}}); err != nil {
			o.log.LogWarn("memory add: " + err.Error())
		}
		o.event(ctx, rundir.EventReflection, map[string]any{"step_id": step.ID, "reflection": refl})
		return models.PhaseReflect, nil
	}

	o.state.LastError = ""
	o.state.StepIndex++
	if step.IsFinish() || o.state.StepIndex >= plan.Len() {
		return models.PhaseVerify, nil
	}
	return models.PhaseExecute, nil
}

// verify accepts the run once a finish step has succeeded. A plan that ran
// out without finishing goes back to planning.
func (o *Orchestrator) verify() (models.Phase, *stop) {
	plan := o.state.LastPlan
	if plan != nil && o.state.StepIndex > 0 && o.state.StepIndex <= plan.Len() {
		last := plan.Steps[o.state.StepIndex-1]
		if last.IsFinish() && o.state.LastToolResult != nil && o.state.LastToolResult.Success {
			return models.PhaseDone, nil
		}
	}
	o.hint = "the previous plan ended without a finish step; check whether the task is complete and finish, or continue"
	o.state.LastPlan = nil
	o.state.StepIndex = 0
	return models.PhasePlan, nil
}

type criticDecision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	Question string `json:"question,omitempty"`
}

const decisionSchema = `{
  "type": "object",
  "properties": {
    "decision": {"type": "string", "enum": ["retry", "research", "ask_user", "pivot", "abort"]},
    "reason": {"type": "string"},
    "question": {"type": "string"}
  },
  "required": ["decision", "reason"]
}`

// reflect asks the critic how to recover from a failed step.
func (o *Orchestrator) reflect(ctx context.Context) (models.Phase, *stop) {
	step := o.state.LastPlan.Steps[o.state.StepIndex]

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nThis step failed:\n  goal: %s\n  tool: %s %s\n  error: %s\n",
		o.agent.Task, step.Goal, step.ToolName, step.ArgsKey(), o.state.LastError)
	fmt.Fprintf(&b, "  retries so far: %d of %d\n", o.state.Retries[step.ID], o.cfg.Team.MaxRetriesPerStep)
	b.WriteString("\nDecide: retry (transient failure), research (missing knowledge), ask_user (needs a human decision), ")
	b.WriteString("pivot (plan is wrong, replan) or abort (task cannot succeed). Give a short reason.")

	var d criticDecision
	if err := o.backend.CompleteJSON(ctx, b.String(), decisionSchema, &d); err != nil {
		return models.PhaseAbort, o.reasoningFailure(ctx, "reflect", err)
	}
	o.event(ctx, rundir.EventReflection, map[string]any{"step_id": step.ID, "decision": d.Decision, "reason": d.Reason})

	switch d.Decision {
	case DecisionRetry:
		o.state.Retries[step.ID]++
		if o.state.Retries[step.ID] > o.cfg.Team.MaxRetriesPerStep {
			return models.PhaseAbort, stopWith(models.StopRetriesExhausted, "retries", "step %s failed after %d retries: %s",
				step.ID, o.cfg.Team.MaxRetriesPerStep, o.state.LastError)
		}
		return models.PhaseExecute, nil
	case DecisionResearch:
		o.researchFocus = d.Reason
		o.dropPlan(d.Reason)
		return models.PhaseResearch, nil
	case DecisionAskUser:
		if !o.asked {
			q := d.Question
			if q == "" {
				q = d.Reason
			}
			o.pending = []string{q}
			o.dropPlan(d.Reason)
			return models.PhaseAskUser, nil
		}
	case DecisionAbort:
		return models.PhaseAbort, stopWith(models.StopAborted, "critic", "%s", d.Reason)
	}
	o.dropPlan(d.Reason)
	return models.PhasePlan, nil
}

func (o *Orchestrator) dropPlan(hint string) {
	o.hint = hint
	o.state.LastPlan = nil
	o.state.StepIndex = 0
}

func (o *Orchestrator) checkBudgets(ctx context.Context, started time.Time) *stop {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return stopWith(models.StopTimeout, "timeout", "context deadline exceeded")
		}
		return stopWith(models.StopAborted, "cancelled", "%v", err)
	}
	if o.cfg.Agent.MaxSteps > 0 && o.steps >= o.cfg.Agent.MaxSteps {
		return stopWith(models.StopMaxSteps, "budget", "reached max steps (%d)", o.cfg.Agent.MaxSteps)
	}
	if t := o.cfg.Agent.Timeout; t > 0 && o.now().Sub(started) >= t {
		return stopWith(models.StopTimeout, "timeout", "run exceeded %v", t)
	}
	return nil
}

func (o *Orchestrator) reasoningFailure(ctx context.Context, op string, err error) *stop {
	if cerr := ctx.Err(); cerr != nil {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return stopWith(models.StopTimeout, "timeout", "%s: %v", op, err)
		}
		return stopWith(models.StopAborted, "cancelled", "%s: %v", op, err)
	}
	kind := llm.KindOf(err)
	o.event(ctx, rundir.EventLLMError, map[string]any{"op": op, "kind": kind, "error": err.Error()})
	if kind == "" {
		return stopWith(models.StopInternalError, "internal", "%s: %v", op, err)
	}
	return stopWith(models.StopLLMError, string(kind), "%s: %v", op, err)
}

func (o *Orchestrator) checkpoint(ctx context.Context) {
	if err := o.dir.WriteJSON(context.WithoutCancel(ctx), rundir.CheckpointFile, o.state); err != nil {
		o.log.LogWarn("checkpoint: " + err.Error())
	}
}

func (o *Orchestrator) finish(ctx context.Context, res models.RunResult, st *stop) models.RunResult {
	ctx = context.WithoutCancel(ctx)
	res.StopReason = st.reason
	res.OK = st.reason == models.StopGoalAchieved
	res.Success = res.OK
	res.Steps = o.steps
	res.Error = nil
	if res.OK {
		o.state.Phase = models.PhaseDone
	} else {
		res.Error = &models.ErrorDetail{Type: st.errType, Message: st.message}
		o.state.Phase = models.PhaseAbort
		o.state.AbortReason = st.message
	}
	res.FinishedAt = o.now().UTC()

	o.checkpoint(ctx)
	o.event(ctx, rundir.EventStop, map[string]any{"stop_reason": res.StopReason, "steps": res.Steps, "error": res.Error, "phase": o.state.Phase})
	if err := o.dir.WriteResult(ctx, res); err != nil {
		o.log.LogWarn("write result: " + err.Error())
	}
	if err := o.memory.Add(ctx, memory.Record{Kind: memory.KindOutcome, Task: o.agent.Task, Content: fmt.Sprintf("team run %s after %d steps", res.StopReason, res.Steps)}); err != nil {
		o.log.LogWarn("memory add: " + err.Error())
	}
	o.log.LogStop(res, o.dir.TracePath())
	return res
}

func (o *Orchestrator) event(ctx context.Context, kind string, fields map[string]any) {
	if err := o.dir.Event(context.WithoutCancel(ctx), kind, fields); err != nil {
		o.log.LogWarn(fmt.Sprintf("trace %s: %v", kind, err))
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return models.Clip(s, n) + "..."
}

type nopLogger struct{}

func (nopLogger) LogInfo(string)                                    {}
func (nopLogger) LogWarn(string)                                    {}
func (nopLogger) LogPhase(models.Phase, string)                     {}
func (nopLogger) LogHeartbeat(string, time.Duration)                {}
func (nopLogger) LogStep(int, models.Step)                          {}
func (nopLogger) LogStepResult(models.Step, models.ToolResult, int) {}
func (nopLogger) LogStop(models.RunResult, string)                  {}
