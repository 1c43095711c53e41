package swarm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/config"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm/llmtest"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
)

// scriptedWorker records assignments and writes a result for each.
type scriptedWorker struct {
	mu       sync.Mutex
	got      map[string]Assignment
	fail     map[string]bool
	panicOn  string
	noResult string
}

func (w *scriptedWorker) Work(ctx context.Context, a Assignment) error {
	w.mu.Lock()
	if w.got == nil {
		w.got = map[string]Assignment{}
	}
	w.got[a.Subtask.ID] = a
	w.mu.Unlock()

	switch a.Subtask.ID {
	case w.panicOn:
		panic("worker exploded")
	case w.noResult:
		return nil
	}
	if err := a.Dir.Event(ctx, rundir.EventStep, map[string]any{"goal": a.Goal}); err != nil {
		return err
	}
	res := models.RunResult{OK: true, Success: true, StopReason: models.StopGoalAchieved, Goal: a.Goal, RunID: a.Dir.RunID(), Reduced: a.Reduced}
	if w.fail[a.Subtask.ID] {
		res = models.RunResult{StopReason: models.StopMaxSteps, Error: &models.ErrorDetail{Type: "budget", Message: "ran out of steps"}, Goal: a.Goal, Reduced: a.Reduced}
	}
	return a.Dir.WriteResult(ctx, res)
}

func (w *scriptedWorker) assignment(id string) Assignment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.got[id]
}

func decomposition(subtasks ...map[string]any) map[string]any {
	return map[string]any{"subtasks": subtasks}
}

func newCoordinator(t *testing.T, cfg *config.Config, backend llm.Backend, w Worker) (*Coordinator, *rundir.Dir) {
	t.Helper()
	dir, err := rundir.Create(t.TempDir(), "swarm-test")
	require.NoError(t, err)
	c, err := New(cfg, Deps{Backend: backend, Worker: w, Dir: dir})
	require.NoError(t, err)
	return c, dir
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workspace = newRepo(t)
	cfg.Swarm.Isolation = string(models.IsolationNone)
	cfg.Swarm.Workers = 2
	return cfg
}

func TestRun_FailedDependencyReducesDependent(t *testing.T) {
	backend := llmtest.New(decomposition(
		map[string]any{"id": "A", "goal": "map the repository", "artifacts": []string{"repo_map.json"}},
		map[string]any{"id": "B", "goal": "read the readme"},
		map[string]any{"id": "C", "goal": "write the report", "depends_on": []string{"A", "B"}},
	))
	w := &scriptedWorker{fail: map[string]bool{"A": true}}
	c, dir := newCoordinator(t, testConfig(t), backend, w)

	s := c.Run(context.Background(), "document the repo")

	require.Len(t, s.Outcomes, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{s.Outcomes[0].Subtask.ID, s.Outcomes[1].Subtask.ID, s.Outcomes[2].Subtask.ID})
	assert.False(t, s.Outcomes[0].Succeeded())
	assert.True(t, s.Outcomes[1].Succeeded())

	cGoal := w.assignment("C").Goal
	assert.Contains(t, cGoal, "Reduced synthesis mode")
	assert.Contains(t, cGoal, "Failed dependencies: A")
	assert.Contains(t, cGoal, "- A/repo_map.json")
	assert.True(t, w.assignment("C").Reduced)
	assert.False(t, w.assignment("B").Reduced)
	assert.Equal(t, "read the readme", w.assignment("B").Goal)

	ok, failed, reduced := s.Counts()
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, reduced)

	require.Len(t, s.QA, 3)
	assert.False(t, s.QA[0].Passed, "A never wrote repo_map.json")
	assert.True(t, s.QA[1].Passed)
	assert.True(t, s.QA[2].Passed)

	assert.FileExists(t, dir.File(rundir.SummaryFile))
	loaded, err := LoadSummary(dir.Path())
	require.NoError(t, err)
	assert.Equal(t, s.QA, loaded.QA)

	events, err := rundir.ReadEvents(dir.Path())
	require.NoError(t, err)
	var starts []string
	for _, e := range events {
		if e["event"] == rundir.EventSubtaskStart {
			starts = append(starts, e["subtask_id"].(string))
		}
	}
	require.Len(t, starts, 3)
	assert.Equal(t, "C", starts[2], "C is released only after A and B")
}

func TestRevalidate_Idempotent(t *testing.T) {
	backend := llmtest.New(decomposition(
		map[string]any{"id": "A", "goal": "a", "artifacts": []string{"repo_map.json"}},
		map[string]any{"id": "B", "goal": "b"},
	))
	c, dir := newCoordinator(t, testConfig(t), backend, &scriptedWorker{})
	s := c.Run(context.Background(), "objective")

	first, err := Revalidate(context.Background(), dir.Path())
	require.NoError(t, err)
	second, err := Revalidate(context.Background(), dir.Path())
	require.NoError(t, err)
	assert.Equal(t, s.QA, first.QA)
	assert.Equal(t, first.QA, second.QA)
}

func TestRun_DecompositionFailureFallsBackToOneSubtask(t *testing.T) {
	w := &scriptedWorker{}
	c, _ := newCoordinator(t, testConfig(t), llmtest.New(errors.New("backend down")), w)

	s := c.Run(context.Background(), "fix the build")

	require.Len(t, s.Outcomes, 1)
	assert.Equal(t, "T1", s.Outcomes[0].Subtask.ID)
	assert.Equal(t, "fix the build", w.assignment("T1").Goal)
	assert.True(t, s.Outcomes[0].Succeeded())
}

func TestRun_CycleDoesNotDeadlock(t *testing.T) {
	backend := llmtest.New(decomposition(
		map[string]any{"id": "A", "goal": "a", "depends_on": []string{"B"}},
		map[string]any{"id": "B", "goal": "b", "depends_on": []string{"A"}},
	))
	c, _ := newCoordinator(t, testConfig(t), backend, &scriptedWorker{})

	done := make(chan models.SwarmSummary, 1)
	go func() { done <- c.Run(context.Background(), "objective") }()
	select {
	case s := <-done:
		assert.Len(t, s.Outcomes, 2)
	case <-time.After(10 * time.Second):
		t.Fatal("swarm did not finish")
	}
}

func TestRun_WorkerPanicBecomesFailedResult(t *testing.T) {
	backend := llmtest.New(decomposition(
		map[string]any{"id": "A", "goal": "a"},
		map[string]any{"id": "B", "goal": "b"},
		map[string]any{"id": "C", "goal": "c"},
	))
	w := &scriptedWorker{panicOn: "A", noResult: "B"}
	c, _ := newCoordinator(t, testConfig(t), backend, w)

	s := c.Run(context.Background(), "objective")

	a := s.Outcomes[0]
	require.False(t, a.Succeeded())
	require.NotNil(t, a.Result.Error)
	assert.Equal(t, "worker", a.Result.Error.Type)
	assert.Contains(t, a.Result.Error.Message, "panicked")
	onDisk, err := rundir.LoadResult(a.RunDir)
	require.NoError(t, err)
	assert.Equal(t, models.StopInternalError, onDisk.StopReason)

	b := s.Outcomes[1]
	require.False(t, b.Succeeded())
	assert.Equal(t, "internal", b.Result.Error.Type)

	assert.True(t, s.Outcomes[2].Succeeded())
	assert.True(t, s.QA[0].Passed, "a failure record still leaves valid artifacts")
}

func TestRun_IsolationFailureIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Swarm.Isolation = string(models.IsolationWorktree)
	dir, err := rundir.Create(t.TempDir(), "swarm-test")
	require.NoError(t, err)
	git := &fakeGit{failOn: "worktree add"}
	w := &scriptedWorker{}
	c, err := New(cfg, Deps{Backend: llmtest.New(decomposition(map[string]any{"id": "A", "goal": "a"})), Worker: w, Dir: dir, Git: git.run})
	require.NoError(t, err)

	s := c.Run(context.Background(), "objective")

	require.Len(t, s.Outcomes, 1)
	assert.Equal(t, "isolation", s.Outcomes[0].Result.Error.Type)
	assert.Empty(t, w.got, "the worker never starts without a workspace")
}

func TestRun_TestCommandFoldedIntoSummary(t *testing.T) {
	cfg := testConfig(t)
	cfg.Swarm.RunTests = true
	cfg.Swarm.TestCommand = "test -f README.md"
	c, dir := newCoordinator(t, cfg, llmtest.New(decomposition(map[string]any{"id": "A", "goal": "a"})), &scriptedWorker{})

	s := c.Run(context.Background(), "objective")

	require.NotNil(t, s.Test)
	assert.True(t, s.Test.Passed)
	assert.True(t, s.QAPassed())
	md, err := os.ReadFile(dir.File(rundir.SummaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(md), "test command `test -f README.md`: PASS")
}

func TestNew_RejectsUnknownIsolation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Swarm.Isolation = "vm"
	dir, err := rundir.Create(t.TempDir(), "x")
	require.NoError(t, err)
	_, err = New(cfg, Deps{Backend: llmtest.New(), Worker: &scriptedWorker{}, Dir: dir})
	assert.Error(t, err)
}

func reply(step map[string]any) map[string]any { return step }

// Sandboxed agents only ever write inside their own copy of the repo.
func TestRun_SandboxedAgentsStayInWorkspace(t *testing.T) {
	cfg := testConfig(t)
	cfg.Swarm.Isolation = string(models.IsolationSandbox)
	cfg.Agent.ToolRetryBackoff = time.Millisecond
	cfg.Team.HeartbeatInterval = 0
	repo := cfg.Workspace

	factory := func(string) (llm.Backend, error) {
		return llmtest.New(
			reply(map[string]any{"type": "tool", "goal": "write notes", "tool": "write_file", "args": map[string]any{"path": "notes.txt", "content": "hi"}}),
			reply(map[string]any{"type": "tool", "goal": "escape", "tool": "write_file", "args": map[string]any{"path": "../escape.txt", "content": "x"}}),
			reply(map[string]any{"type": "finish", "goal": "done", "summary": "wrote notes"}),
		), nil
	}
	backend := llmtest.New(decomposition(
		map[string]any{"id": "A", "goal": "write notes"},
		map[string]any{"id": "B", "goal": "write more notes"},
	))
	c, dir := newCoordinator(t, cfg, backend, &AgentWorker{Config: cfg, Factory: factory})

	s := c.Run(context.Background(), "take notes")

	for _, o := range s.Outcomes {
		require.True(t, o.Succeeded(), "%s: %+v", o.Subtask.ID, o.Result.Error)
		sandbox := filepath.Join(dir.File("workspaces"), "sandbox", o.Subtask.ID)
		assert.FileExists(t, filepath.Join(sandbox, "notes.txt"))
		assert.NoFileExists(t, filepath.Join(filepath.Dir(sandbox), "escape.txt"))
	}
	assert.NoFileExists(t, filepath.Join(repo, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(repo), "escape.txt"))
	entries, err := os.ReadDir(repo)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{".git", "README.md", "node_modules", "pkg"}, names)
}

type recordingLogger struct {
	nopLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) LogWarn(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestRun_UnsafeSubtaskIDsStayInsideRunDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Swarm.Isolation = string(models.IsolationSandbox)
	backend := llmtest.New(decomposition(
		map[string]any{"id": "../../escaped", "goal": "map things", "artifacts": []string{"../outside.txt", "notes.md"}},
		map[string]any{"id": "B", "goal": "use the map", "depends_on": []string{"../../escaped"}},
	))
	w := &scriptedWorker{}
	c, dir := newCoordinator(t, cfg, backend, w)

	s := c.Run(context.Background(), "objective")

	require.Len(t, s.Outcomes, 2)
	assert.Equal(t, "escaped", s.Outcomes[0].Subtask.ID)
	assert.Equal(t, []string{"escaped"}, s.Outcomes[1].Subtask.DependsOn)
	for _, o := range s.Outcomes {
		require.True(t, o.Succeeded(), o.Subtask.ID)
		assert.Equal(t, dir.File(o.Subtask.ID), o.RunDir)
		assert.FileExists(t, filepath.Join(o.RunDir, rundir.ResultFile))
		assert.Equal(t, filepath.Join(dir.File("workspaces"), "sandbox", o.Subtask.ID), w.assignment(o.Subtask.ID).Workspace)
	}
	parent := filepath.Dir(dir.Path())
	assert.NoDirExists(t, filepath.Join(parent, "escaped"))
	assert.NoDirExists(t, filepath.Join(filepath.Dir(parent), "escaped"))

	require.Len(t, s.QA, 2)
	for _, check := range s.QA[0].Checks {
		assert.NotContains(t, check.Path, "outside.txt")
	}
	assert.False(t, s.QA[0].Passed, "notes.md was never written")
}

func TestRun_ShortDecompositionRunsAsGivenWithWarning(t *testing.T) {
	log := &recordingLogger{}
	dir, err := rundir.Create(t.TempDir(), "swarm-test")
	require.NoError(t, err)
	w := &scriptedWorker{}
	c, err := New(testConfig(t), Deps{
		Backend: llmtest.New(decomposition(map[string]any{"id": "only", "goal": "the whole thing"})),
		Worker:  w,
		Dir:     dir,
		Logger:  log,
	})
	require.NoError(t, err)

	s := c.Run(context.Background(), "objective")

	require.Len(t, s.Outcomes, 1)
	assert.Equal(t, "only", s.Outcomes[0].Subtask.ID)
	assert.Equal(t, "the whole thing", w.assignment("only").Goal)
	require.NotEmpty(t, log.warns)
	assert.Contains(t, log.warns[0], "fewer than the 2 asked for")
}
