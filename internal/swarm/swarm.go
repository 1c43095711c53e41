// Package swarm splits an objective into subtasks and runs them on a
// bounded worker pool. Subtasks are released in waves as their
// dependencies finish; each gets its own workspace, backend, tool registry
// and run directory, and reports back through the result.json it leaves on
// disk. A subtask whose dependency failed still runs, against a reduced
// synthesis goal.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/config"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/monitor"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/planner"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

const tracerName = "github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/swarm"

// Logger is the subset of logger.Logger the coordinator uses.
type Logger interface {
	LogInfo(message string)
	LogWarn(message string)
	LogWaveStart(wave int, ids []string)
	LogSubtaskResult(o models.SubtaskOutcome)
	LogSummary(s models.SwarmSummary)
}

// Deps are the collaborators of a swarm run. Backend is only used for
// decomposition; workers build their own.
type Deps struct {
	Backend llm.Backend
	Worker  Worker
	Dir     *rundir.Dir
	Logger  Logger
	Git     GitRunner
}

// Coordinator runs one swarm.
type Coordinator struct {
	cfg      *config.Config
	backend  llm.Backend
	worker   Worker
	dir      *rundir.Dir
	log      Logger
	isolator *Isolator
	tracer   trace.Tracer
	now      func() time.Time
}

// New validates the swarm settings and wires a coordinator.
func New(cfg *config.Config, deps Deps) (*Coordinator, error) {
	if deps.Backend == nil || deps.Worker == nil || deps.Dir == nil {
		return nil, errors.New("swarm: backend, worker and run directory are required")
	}
	mode := models.Isolation(cfg.Swarm.Isolation)
	if mode == "" {
		mode = models.IsolationNone
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("swarm: unknown isolation %q", cfg.Swarm.Isolation)
	}
	log := deps.Logger
	if log == nil {
		log = nopLogger{}
	}
	return &Coordinator{
		cfg:     cfg,
		backend: deps.Backend,
		worker:  deps.Worker,
		dir:     deps.Dir,
		log:     log,
		isolator: &Isolator{
			Mode:    mode,
			Repo:    cfg.Workspace,
			Base:    deps.Dir.File("workspaces"),
			RunID:   deps.Dir.RunID(),
			Cleanup: cfg.Swarm.CleanupWorktrees,
			Git:     deps.Git,
		},
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}, nil
}

// Run decomposes objective, runs every subtask, validates the artifacts
// and writes summary.md. Subtask failures are reported in the summary and
// never returned as an error.
func (c *Coordinator) Run(ctx context.Context, objective string) models.SwarmSummary {
	start := c.now()
	ctx, span := c.tracer.Start(ctx, "swarm.Run", trace.WithAttributes(
		attribute.String("run.id", c.dir.RunID()),
		attribute.String("swarm.isolation", string(c.isolator.Mode)),
		attribute.Int("swarm.workers", c.workers()),
	))
	defer span.End()

	summary := models.SwarmSummary{RunID: c.dir.RunID(), Objective: objective, RunDir: c.dir.Path()}
	c.event(ctx, rundir.EventRunStart, map[string]any{
		"objective": objective,
		"mode":      "swarm",
		"isolation": c.isolator.Mode,
		"workers":   c.workers(),
	})

	subtasks, warnings := Sanitize(c.decompose(ctx, objective))
	for _, w := range warnings {
		c.log.LogWarn(w)
	}
	waves := Waves(subtasks)
	c.event(ctx, rundir.EventPlan, map[string]any{"subtasks": subtasks, "waves": waveIDs(waves), "warnings": warnings})
	if err := c.dir.WriteJSON(ctx, rundir.PlanFile, subtasks); err != nil {
		c.log.LogWarn("write subtasks: " + err.Error())
	}

	summary.Outcomes = c.schedule(ctx, subtasks)

	summary.QA = ValidateAll(summary.Outcomes)
	for _, q := range summary.QA {
		c.event(ctx, rundir.EventQA, map[string]any{"subtask_id": q.SubtaskID, "passed": q.Passed, "checks": q.Checks})
	}
	if c.cfg.Swarm.RunTests {
		if cmd := strings.TrimSpace(c.cfg.Swarm.TestCommand); cmd != "" {
			run := RunTests(ctx, cmd, c.cfg.Workspace, c.cfg.Swarm.TestTimeout)
			summary.Test = &run
			c.event(ctx, rundir.EventQA, map[string]any{"test_command": cmd, "passed": run.Passed, "exit_code": run.ExitCode})
		} else {
			c.log.LogInfo("no QA test command configured; skipping tests")
		}
	}

	summary.Duration = c.now().Sub(start)
	ok, failed, reduced := summary.Counts()
	if err := SaveSummary(context.WithoutCancel(ctx), c.dir, summary); err != nil {
		c.log.LogWarn(err.Error())
	}
	c.event(ctx, rundir.EventStop, map[string]any{
		"succeeded": ok,
		"failed":    failed,
		"reduced":   reduced,
		"qa_passed": summary.QAPassed(),
	})
	c.log.LogSummary(summary)

	if failed > 0 || !summary.QAPassed() {
		span.SetStatus(codes.Error, fmt.Sprintf("%d subtasks failed", failed))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return summary
}

// decompose splits the objective, falling back to a single subtask.
func (c *Coordinator) decompose(ctx context.Context, objective string) []models.Subtask {
	maxN := c.cfg.Swarm.MaxSubtasks
	if maxN <= 0 {
		maxN = 4
	}
	minN := min(2, maxN)
	subtasks, err := planner.Decompose(ctx, c.backend, objective, c.background(), minN, maxN)
	if err != nil {
		c.log.LogWarn(fmt.Sprintf("decomposition failed, running the objective as one subtask: %v", err))
		return []models.Subtask{{ID: "T1", Goal: objective}}
	}
	if len(subtasks) < minN {
		c.log.LogWarn(fmt.Sprintf("decomposition returned %d subtask(s), fewer than the %d asked for; running them as given", len(subtasks), minN))
	}
	return subtasks
}

// background lists the top level of the repository for decomposition.
func (c *Coordinator) background() string {
	entries, err := os.ReadDir(c.cfg.Workspace)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && tools.SkipDir(e.Name()) {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return "Repository top level: " + strings.Join(names, " ")
}

func (c *Coordinator) workers() int {
	if c.cfg.Swarm.Workers <= 0 {
		return 1
	}
	return c.cfg.Swarm.Workers
}

// schedule releases ready subtasks wave by wave until all have run.
// Outcomes are returned in input order.
func (c *Coordinator) schedule(ctx context.Context, subtasks []models.Subtask) []models.SubtaskOutcome {
	done := make(map[string]models.SubtaskOutcome, len(subtasks))
	finished := make(map[string]bool, len(subtasks))
	pending := append([]models.Subtask(nil), subtasks...)

	for wave := 1; len(pending) > 0; wave++ {
		ready := Ready(pending, finished)
		if len(ready) == 0 {
			c.log.LogWarn("no subtask is ready; releasing the rest")
			ready = pending
		}
		ids := make([]string, len(ready))
		for i, st := range ready {
			ids[i] = st.ID
		}
		c.log.LogWaveStart(wave, ids)

		for _, o := range c.runWave(ctx, ready, done) {
			done[o.Subtask.ID] = o
			finished[o.Subtask.ID] = true
			c.log.LogSubtaskResult(o)
			c.event(ctx, rundir.EventSubtaskResult, map[string]any{
				"subtask_id":  o.Subtask.ID,
				"ok":          o.Succeeded(),
				"stop_reason": o.Result.StopReason,
				"error":       o.Result.Error,
				"reduced":     o.Reduced,
				"run_dir":     o.RunDir,
			})
		}

		rest := pending[:0:0]
		for _, st := range pending {
			if !finished[st.ID] {
				rest = append(rest, st)
			}
		}
		pending = rest
	}

	out := make([]models.SubtaskOutcome, len(subtasks))
	for i, st := range subtasks {
		out[i] = done[st.ID]
	}
	return out
}

type waveResult struct {
	index   int
	outcome models.SubtaskOutcome
}

// runWave runs one wave on at most workers goroutines and drains results
// as they complete.
func (c *Coordinator) runWave(ctx context.Context, wave []models.Subtask, done map[string]models.SubtaskOutcome) []models.SubtaskOutcome {
	semaphore := make(chan struct{}, min(c.workers(), len(wave)))
	results := make(chan waveResult, len(wave))

	for i, st := range wave {
		goal, reduced := st.Goal, false
		if failed := failedDeps(st, done); len(failed) > 0 {
			goal, reduced = ReducedGoal(st, failed), true
		}
		c.event(ctx, rundir.EventSubtaskStart, map[string]any{
			"subtask_id": st.ID,
			"goal":       goal,
			"depends_on": st.DependsOn,
			"reduced":    reduced,
		})

		semaphore <- struct{}{}
		go func(i int, st models.Subtask) {
			defer func() { <-semaphore }()
			results <- waveResult{index: i, outcome: c.runSubtask(ctx, st, goal, reduced)}
		}(i, st)
	}

	out := make([]models.SubtaskOutcome, len(wave))
	for range wave {
		r := <-results
		out[r.index] = r.outcome
	}
	return out
}

func failedDeps(st models.Subtask, done map[string]models.SubtaskOutcome) []models.SubtaskOutcome {
	var failed []models.SubtaskOutcome
	for _, dep := range st.DependsOn {
		if o, ok := done[dep]; ok && !o.Succeeded() {
			failed = append(failed, o)
		}
	}
	return failed
}

// runSubtask provisions the workspace, runs the worker and reads the
// result back from disk. Anything that keeps the worker from leaving a
// result.json is converted into a failed result written in its place.
func (c *Coordinator) runSubtask(ctx context.Context, st models.Subtask, goal string, reduced bool) models.SubtaskOutcome {
	ctx, span := c.tracer.Start(ctx, "swarm.subtask", trace.WithAttributes(
		attribute.String("subtask.id", st.ID),
		attribute.Bool("subtask.reduced", reduced),
	))
	defer span.End()

	outcome := models.SubtaskOutcome{Subtask: st, Goal: goal, Reduced: reduced, RunDir: c.dir.File(st.ID)}
	started := c.now().UTC()
	dir, err := c.dir.Sub(st.ID)
	if err != nil {
		outcome.Result = failedResult(st, goal, reduced, started, c.now().UTC(), "internal", err)
		span.SetStatus(codes.Error, err.Error())
		return outcome
	}

	ws, err := c.isolator.Acquire(ctx, st.ID)
	if err != nil {
		outcome.Result = c.recordFailure(ctx, dir, failedResult(st, goal, reduced, started, c.now().UTC(), "isolation", err))
		span.SetStatus(codes.Error, err.Error())
		return outcome
	}

	a := Assignment{Subtask: st, Goal: goal, Reduced: reduced, Workspace: ws.Path(), Dir: dir}
	rep := monitor.New(monitor.Options{}).Do(ctx, "subtask "+st.ID, func(ctx context.Context) error {
		return c.worker.Work(ctx, a)
	})
	if err := ws.Teardown(context.WithoutCancel(ctx)); err != nil {
		c.log.LogWarn(fmt.Sprintf("teardown %s: %v", st.ID, err))
	}

	res, err := rundir.LoadResult(dir.Path())
	switch {
	case err == nil:
		outcome.Result = res
	case rep.Err != nil:
		outcome.Result = c.recordFailure(ctx, dir, failedResult(st, goal, reduced, started, c.now().UTC(), "worker", rep.Err))
	default:
		outcome.Result = c.recordFailure(ctx, dir, failedResult(st, goal, reduced, started, c.now().UTC(), "internal", err))
	}
	if !outcome.Result.OK {
		span.SetStatus(codes.Error, string(outcome.Result.StopReason))
	}
	return outcome
}

func failedResult(st models.Subtask, goal string, reduced bool, started, finished time.Time, errType string, err error) models.RunResult {
	return models.RunResult{
		StopReason: models.StopInternalError,
		Error:      &models.ErrorDetail{Type: errType, Message: err.Error()},
		Goal:       goal,
		RunID:      st.ID,
		Reduced:    reduced,
		StartedAt:  started,
		FinishedAt: finished,
	}
}

func (c *Coordinator) recordFailure(ctx context.Context, dir *rundir.Dir, res models.RunResult) models.RunResult {
	ctx = context.WithoutCancel(ctx)
	if err := dir.Event(ctx, rundir.EventStop, map[string]any{"stop_reason": res.StopReason, "error": res.Error}); err != nil {
		c.log.LogWarn(fmt.Sprintf("trace %s: %v", dir.RunID(), err))
	}
	if err := dir.WriteResult(ctx, res); err != nil {
		c.log.LogWarn(fmt.Sprintf("write result %s: %v", dir.RunID(), err))
	}
	return res
}

func (c *Coordinator) event(ctx context.Context, kind string, fields map[string]any) {
	if err := c.dir.Event(context.WithoutCancel(ctx), kind, fields); err != nil {
		c.log.LogWarn(fmt.Sprintf("trace %s: %v", kind, err))
	}
}

func waveIDs(waves [][]models.Subtask) [][]string {
	out := make([][]string, len(waves))
	for i, w := range waves {
		for _, st := range w {
			out[i] = append(out[i], st.ID)
		}
	}
	return out
}

type nopLogger struct{}

func (nopLogger) LogInfo(string)                         {}
func (nopLogger) LogWarn(string)                         {}
func (nopLogger) LogWaveStart(int, []string)             {}
func (nopLogger) LogSubtaskResult(models.SubtaskOutcome) {}
func (nopLogger) LogSummary(models.SwarmSummary)         {}
