// Package runner drives a single agent through plan, act, observe and
// reflect until the goal is reached or a budget runs out. Every run ends
// with a result.json and a stop event in its trace, whatever the cause.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

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

const tracerName = "github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/runner"

// Logger is the subset of logger.Logger the runner uses.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogStep(index int, step models.Step)
	LogStepResult(step models.Step, res models.ToolResult, attempts int)
	LogStop(res models.RunResult, tracePath string)
	LogHeartbeat(label string, elapsed time.Duration)
}

// Deps are the collaborators of one run. Backend, Tools and Dir are
// required; a nil Memory disables recall and a nil Planner is built from
// the configuration.
type Deps struct {
	Backend llm.Backend
	Tools   tools.Registry
	Memory  memory.Store
	Dir     *rundir.Dir
	Logger  Logger
	Planner planner.Planner
}

// Task is what a run works on.
type Task struct {
	Goal string
	// Notes seed the first planning call.
	Notes string
	// Reduced marks a swarm subtask whose goal was rewritten after a
	// dependency failed.
	Reduced bool
}

// Runner is a single-agent control loop. A Runner executes one run.
type Runner struct {
	cfg       config.AgentConfig
	backend   *meteredBackend
	tools     tools.Registry
	memory    memory.Store
	dir       *rundir.Dir
	log       Logger
	planner   planner.Planner
	reflector *reflector.Reflector
	loop      *guard.LoopDetector
	thrash    *guard.ThrashGuard
	tracer    trace.Tracer
	now       func() time.Time

	toolAttempts int
}

// New wires a runner from configuration.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	if deps.Backend == nil {
		return nil, errors.New("runner: backend is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("runner: tool registry is required")
	}
	if deps.Dir == nil {
		return nil, errors.New("runner: run directory is required")
	}
	log := deps.Logger
	if log == nil {
		log = nopLogger{}
	}
	mem := deps.Memory
	if mem == nil {
		mem = memory.Nop{}
	}

	metered := &meteredBackend{Backend: deps.Backend, interval: cfg.Team.HeartbeatInterval, log: log}

	p := deps.Planner
	if p == nil {
		switch cfg.Agent.Planner {
		case config.PlannerPlanFirst:
			pf := planner.NewPlanFirst(metered, deps.Tools, cfg.Agent.MaxSteps)
			pf.Candidates = cfg.Agent.Candidates
			pf.Decompose = cfg.Agent.Decompose
			p = pf
		default:
			p = planner.NewReactive(metered, deps.Tools)
		}
	}

	var critic llm.Backend
	if cfg.Agent.Critic {
		critic = metered
	}

	return &Runner{
		cfg:       cfg.Agent,
		backend:   metered,
		tools:     deps.Tools,
		memory:    mem,
		dir:       deps.Dir,
		log:       log,
		planner:   p,
		reflector: reflector.New(critic),
		loop:      guard.NewLoopDetector(cfg.Loop.Window, cfg.Loop.Threshold),
		thrash: guard.NewThrashGuard(guard.Thresholds{
			RepeatedAction:   cfg.Thrash.RepeatedAction,
			RepeatedFileRead: cfg.Thrash.RepeatedFileRead,
			NoProgress:       cfg.Thrash.NoProgress,
			RepeatedError:    cfg.Thrash.RepeatedError,
			StopSeverity:     cfg.Thrash.StopSeverity,
		}),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}, nil
}

// stop carries a terminal condition out of the loop.
type stop struct {
	reason  models.StopReason
	errType string
	message string
}

func (s *stop) Error() string { return string(s.reason) + ": " + s.message }

func stopWith(reason models.StopReason, errType, format string, args ...any) *stop {
	return &stop{reason: reason, errType: errType, message: fmt.Sprintf(format, args...)}
}

// Run executes task and returns its terminal result. result.json is written
// on every path, including panics inside the loop.
func (r *Runner) Run(ctx context.Context, task Task) (res models.RunResult) {
	ctx, span := r.tracer.Start(ctx, "runner.Run", trace.WithAttributes(
		attribute.String("run.id", r.dir.RunID()),
		attribute.String("run.planner", r.planner.Name()),
		attribute.Bool("run.reduced", task.Reduced),
	))
	defer span.End()

	res = models.RunResult{Goal: task.Goal, RunID: r.dir.RunID(), Reduced: task.Reduced, StartedAt: r.now().UTC()}
	state := models.NewAgentState(task.Goal)

	r.event(ctx, rundir.EventRunStart, map[string]any{
		"goal":      task.Goal,
		"run_id":    r.dir.RunID(),
		"planner":   r.planner.Name(),
		"max_steps": r.cfg.MaxSteps,
		"reduced":   task.Reduced,
	})

	defer func() {
		if p := recover(); p != nil {
			r.log.LogWarn(fmt.Sprintf("run %s panicked: %v\n%s", r.dir.RunID(), p, debug.Stack()))
			res = r.finish(ctx, res, state, stopWith(models.StopInternalError, "panic", "%v", p))
		}
		if res.OK {
			span.SetStatus(codes.Ok, string(res.StopReason))
		} else {
			span.SetStatus(codes.Error, string(res.StopReason))
		}
		span.SetAttributes(attribute.Int("run.steps", res.Steps), attribute.String("run.stop_reason", string(res.StopReason)))
	}()

	st := r.loopUntilStop(ctx, task, state, &res)
	return r.finish(ctx, res, state, st)
}

func (r *Runner) loopUntilStop(ctx context.Context, task Task, state *models.AgentState, res *models.RunResult) *stop {
	reactive := r.cfg.Planner != config.PlannerPlanFirst
	hint := task.Notes
	nonSuccess := 0

	for {
		if st := r.checkBudgets(ctx, res); st != nil {
			return st
		}
		if len(state.Observations) > r.cfg.ObservationCeiling && r.cfg.ObservationCeiling > 0 {
			r.compact(ctx, state)
		}

		if state.PlanExhausted() {
			plan, err := r.planner.Plan(ctx, r.request(ctx, state, hint))
			if err != nil {
				return r.reasoningFailure(ctx, "plan", err)
			}
			if plan.Empty() {
				return stopWith(models.StopNoSteps, "planner", "planner returned no steps")
			}
			state.SetPlan(plan)
			hint = ""
			r.event(ctx, rundir.EventPlan, map[string]any{"planner": r.planner.Name(), "steps": plan.Steps})
			if err := r.dir.WriteJSON(ctx, rundir.PlanFile, plan); err != nil {
				r.log.LogWarn("write plan: " + err.Error())
			}
		}

		step, _ := state.CurrentStep()
		if st := r.checkSafety(ctx, step, state); st != nil {
			return st
		}

		result, attempts := r.execute(ctx, res.Steps, step)
		res.Steps++

		obs := models.ObserveResult(step, result)
		state.Observe(obs)
		r.event(ctx, rundir.EventObservation, map[string]any{
			"step_id":  step.ID,
			"source":   obs.Source,
			"success":  result.Success,
			"attempts": attempts,
			"errors":   obs.Errors,
			"facts":    obs.SalientFacts,
		})
		rec := models.ActionRecord{Tool: step.ToolName, ArgsKey: step.ArgsKey(), Error: result.Error, Fingerprint: state.Fingerprint()}
		if step.ToolName == "read_file" {
			rec.Path = step.StringArg("path")
		}
		state.RecordAction(rec)

		if step.IsFinish() && result.Success {
			return &stop{reason: models.StopGoalAchieved}
		}

		if r.loop.Update(guard.Signature(step.ToolName, step.ArgsKey(), result.Output+"\x00"+result.Error)...) {
			return stopWith(models.StopLoopDetected, "loop", "%s %s repeated %d times within the last %d steps",
				step.ToolName, step.ArgsKey(), r.loop.Threshold(), r.loop.Window())
		}

		refl, err := r.reflector.Reflect(ctx, task.Goal, step, result)
		r.event(ctx, rundir.EventReflection, map[string]any{"step_id": step.ID, "reflection": refl})
		if err != nil {
			return r.reasoningFailure(ctx, "reflect", err)
		}

		switch refl.Status {
		case models.ReflectionSuccess:
			nonSuccess = 0
			state.Advance()
		default:
			nonSuccess++
			r.remember(ctx, memory.Record{Kind: memory.KindReflexion, Task: task.Goal, Content: refl.Lesson, Tags: []string{step.ToolName, refl.FailureType}})
			if r.cfg.NoProgressLimit > 0 && nonSuccess >= r.cfg.NoProgressLimit {
				return stopWith(models.StopNoProgress, "no_progress", "%d consecutive steps without success; last: %s", nonSuccess, refl.Explanation)
			}
			if refl.Status == models.ReflectionMinorRepair {
				if st := r.repair(ctx, state, step, result, refl, hint); st != nil {
					return st
				}
			} else {
				if !r.useFallback(ctx, state) {
					state.DiscardPlan()
				}
				hint = refl.NextHint
			}
		}
		if reactive && !state.PlanExhausted() && refl.Status == models.ReflectionSuccess {
			state.DiscardPlan()
		}

		if det := r.thrash.Check(state); det.Detected {
			r.event(ctx, rundir.EventThrash, map[string]any{"detection": det})
			r.log.LogWarn(guard.Escalation(det))
			hint = joinHints(hint, guard.Escalation(det))
			if det.SuggestedAction == guard.SuggestSwitchStrategy {
				state.DiscardPlan()
			}
			if stopNow, d := r.thrash.ShouldStop(state); stopNow {
				return stopWith(models.StopLoopDetected, d.ThrashType, "%s", guard.Escalation(d))
			}
			r.thrash.Handled(state, det)
		}
	}
}

// request builds the planner input, recalling memories for the task.
func (r *Runner) request(ctx context.Context, state *models.AgentState, hint string) planner.Request {
	req := planner.Request{
		Task:           state.Task,
		RollingSummary: state.RollingSummary,
		Observations:   state.Observations,
		Hint:           hint,
	}
	if r.cfg.MemoryLimit <= 0 {
		return req
	}
	query := state.Task
	if n := len(state.Observations); n > 0 {
		query += " " + fmt.Sprint(state.Observations[n-1].SalientFacts)
	}
	recs, err := r.memory.Search(ctx, query, r.cfg.MemoryLimit)
	if err != nil {
		r.log.LogWarn("memory search: " + err.Error())
		return req
	}
	for _, m := range recs {
		req.Memories = append(req.Memories, fmt.Sprintf("[%s] %s", m.Kind, m.Content))
	}
	if len(recs) > 0 {
		r.event(ctx, rundir.EventMemory, map[string]any{"recalled": len(recs)})
	}
	return req
}

// checkBudgets enforces step, time and cost limits.
func (r *Runner) checkBudgets(ctx context.Context, res *models.RunResult) *stop {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return stopWith(models.StopTimeout, "timeout", "context deadline exceeded")
		}
		return stopWith(models.StopAborted, "cancelled", "%v", err)
	}
	if r.cfg.MaxSteps > 0 && res.Steps >= r.cfg.MaxSteps {
		return stopWith(models.StopMaxSteps, "budget", "reached max steps (%d)", r.cfg.MaxSteps)
	}
	if r.cfg.Timeout > 0 {
		if elapsed := r.now().Sub(res.StartedAt); elapsed >= r.cfg.Timeout {
			return stopWith(models.StopTimeout, "timeout", "run exceeded %v", r.cfg.Timeout)
		}
	}
	if r.cfg.CostBudget > 0 {
		if r.cfg.CostPerUnit <= 0 {
			return stopWith(models.StopBudgetExceeded, "budget", "cost budget %.4f set without cost_per_unit", r.cfg.CostBudget)
		}
		if spent := r.spent(); spent >= r.cfg.CostBudget {
			return stopWith(models.StopBudgetExceeded, "budget", "spent %.4f of %.4f", spent, r.cfg.CostBudget)
		}
	}
	return nil
}

// spent is one unit per reasoning call and per tool attempt.
func (r *Runner) spent() float64 {
	return float64(r.backend.Calls()+r.toolAttempts) * r.cfg.CostPerUnit
}

// checkSafety blocks dangerous tools and destructive commands unless the
// run is unsafe.
func (r *Runner) checkSafety(ctx context.Context, step models.Step, state *models.AgentState) *stop {
	var spec models.ToolSpec
	known := false
	for _, t := range r.tools.ListTools() {
		if t.Name == step.ToolName {
			spec, known = t, true
			break
		}
	}
	risk := reflector.Preflight(step, spec, known, state)
	if risk.Risky() {
		r.event(ctx, rundir.EventResource, map[string]any{"step_id": step.ID, "preflight": risk})
	}
	if r.cfg.Unsafe {
		return nil
	}
	if spec.Dangerous {
		return stopWith(models.StopUnsafeBlocked, "unsafe", "tool %s is dangerous; rerun with unsafe mode to allow it", step.ToolName)
	}
	if risk.Block {
		return stopWith(models.StopUnsafeBlocked, "unsafe", "step %s blocked: %v", step.ID, risk.Reasons)
	}
	return nil
}

// execute runs one step through the execution monitor.
func (r *Runner) execute(ctx context.Context, index int, step models.Step) (models.ToolResult, int) {
	ctx, span := r.tracer.Start(ctx, "runner.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.tool", step.ToolName),
	))
	defer span.End()

	r.log.LogStep(index, step)
	r.event(ctx, rundir.EventStep, map[string]any{"index": index, "step": step})

	mon := monitor.New(monitor.Options{
		MaxRetries: r.cfg.ToolMaxRetries,
		Backoff:    r.cfg.ToolRetryBackoff,
		Timeout:    r.cfg.ToolTimeout,
		OnRetry: func(attempt int, res models.ToolResult, wait time.Duration) {
			r.event(ctx, rundir.EventToolRetry, map[string]any{
				"step_id": step.ID, "attempt": attempt, "error": res.Error, "wait_ms": wait.Milliseconds(),
			})
		},
	})
	rep := mon.Call(ctx, step.ToolName, func(ctx context.Context) models.ToolResult {
		return r.tools.Call(ctx, step.ToolName, step.ToolArgs)
	})
	r.toolAttempts += rep.Attempts

	r.log.LogStepResult(step, rep.Result, rep.Attempts)
	span.SetAttributes(attribute.Int("step.attempts", rep.Attempts))
	if rep.Result.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, rep.Result.Error)
	}
	return rep.Result, rep.Attempts
}

// repair asks the planner for a fix of the failed step. A regenerate_plan
// answer drops the current plan.
func (r *Runner) repair(ctx context.Context, state *models.AgentState, step models.Step, result models.ToolResult, refl models.Reflection, hint string) *stop {
	var remaining []models.Step
	if state.CurrentPlan != nil && state.CurrentStepIdx+1 < len(state.CurrentPlan.Steps) {
		remaining = state.CurrentPlan.Steps[state.CurrentStepIdx+1:]
	}
	req := planner.RepairRequest{
		Request:    r.request(ctx, state, hint),
		Failed:     step,
		Result:     result,
		Reflection: refl,
		Remaining:  remaining,
	}
	rep, err := r.planner.Repair(ctx, req)
	if err != nil {
		return r.reasoningFailure(ctx, "repair", err)
	}
	r.event(ctx, rundir.EventRepair, map[string]any{"step_id": step.ID, "kind": rep.Kind, "reason": rep.Reason})
	plan := rep.Plan(state.Task, remaining)
	if plan == nil {
		if !r.useFallback(ctx, state) {
			state.DiscardPlan()
		}
		return nil
	}
	state.SetPlan(plan)
	return nil
}

// useFallback switches to the runner-up plan of the last draft, if the
// planner kept one.
func (r *Runner) useFallback(ctx context.Context, state *models.AgentState) bool {
	fs, ok := r.planner.(planner.FallbackSource)
	if !ok {
		return false
	}
	plan := fs.TakeFallback()
	if plan.Empty() {
		return false
	}
	state.SetPlan(plan)
	r.event(ctx, rundir.EventPlan, map[string]any{"planner": r.planner.Name(), "fallback": true, "steps": plan.Steps})
	return true
}

func joinHints(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	}
	return a + "\n" + b
}

// reasoningFailure maps an error from a reasoning call to a stop.
func (r *Runner) reasoningFailure(ctx context.Context, op string, err error) *stop {
	if cerr := ctx.Err(); cerr != nil {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return stopWith(models.StopTimeout, "timeout", "%s: %v", op, err)
		}
		return stopWith(models.StopAborted, "cancelled", "%s: %v", op, err)
	}
	kind := llm.KindOf(err)
	r.event(ctx, rundir.EventLLMError, map[string]any{"op": op, "kind": kind, "error": err.Error()})
	if kind == "" {
		return stopWith(models.StopInternalError, "internal", "%s: %v", op, err)
	}
	return stopWith(models.StopLLMError, string(kind), "%s: %v", op, err)
}

func (r *Runner) remember(ctx context.Context, rec memory.Record) {
	if rec.Content == "" {
		return
	}
	if err := r.memory.Add(ctx, rec); err != nil {
		r.log.LogWarn("memory add: " + err.Error())
	}
}

// finish records the terminal result. It never fails: write errors are
// logged.
func (r *Runner) finish(ctx context.Context, res models.RunResult, state *models.AgentState, st *stop) models.RunResult {
	ctx = context.WithoutCancel(ctx)
	if st == nil {
		st = stopWith(models.StopInternalError, "internal", "run ended without a stop reason")
	}
	res.StopReason = st.reason
	res.OK = st.reason == models.StopGoalAchieved
	res.Success = res.OK
	res.Error = nil
	if !res.OK {
		res.Error = &models.ErrorDetail{Type: st.errType, Message: st.message}
	}
	res.FinishedAt = r.now().UTC()

	r.event(ctx, rundir.EventStop, map[string]any{"stop_reason": res.StopReason, "steps": res.Steps, "error": res.Error})
	if err := r.dir.WriteResult(ctx, res); err != nil {
		r.log.LogWarn("write result: " + err.Error())
	}

	outcome := fmt.Sprintf("%s after %d steps", res.StopReason, res.Steps)
	if res.Error != nil {
		outcome += ": " + res.Error.Message
	}
	r.remember(ctx, memory.Record{Kind: memory.KindOutcome, Task: state.Task, Content: outcome})

	r.log.LogStop(res, r.dir.TracePath())
	return res
}

// event appends to the trace. Writes outlive cancellation so a cancelled
// run still leaves a complete trace.
func (r *Runner) event(ctx context.Context, kind string, fields map[string]any) {
	if err := r.dir.Event(context.WithoutCancel(ctx), kind, fields); err != nil {
		r.log.LogWarn(fmt.Sprintf("trace %s: %v", kind, err))
	}
}

type nopLogger struct{}

func (nopLogger) LogDebug(string)                                   {}
func (nopLogger) LogInfo(string)                                    {}
func (nopLogger) LogWarn(string)                                    {}
func (nopLogger) LogStep(int, models.Step)                          {}
func (nopLogger) LogStepResult(models.Step, models.ToolResult, int) {}
func (nopLogger) LogStop(models.RunResult, string)                  {}
func (nopLogger) LogHeartbeat(string, time.Duration)                {}
