package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/config"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm/llmtest"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/memory"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

type fixture struct {
	cfg   *config.Config
	tools *tools.Set
	dir   *rundir.Dir
	mem   *memory.InMemory

	mu    sync.Mutex
	calls map[string]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := rundir.Create(t.TempDir(), "team-test")
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Agent.Candidates = 1
	cfg.Agent.ToolMaxRetries = 0
	cfg.Agent.ToolRetryBackoff = time.Millisecond
	cfg.Team.HeartbeatInterval = 0
	cfg.Team.Research = false

	f := &fixture{cfg: cfg, tools: tools.NewSet(), dir: dir, mem: memory.NewInMemory(), calls: map[string]int{}}
	var failures int32
	f.register(models.ToolSpec{Name: "list_files"}, func(context.Context, map[string]any) models.ToolResult {
		return models.ToolResult{Success: true, Output: "README.md\nmain.go"}
	})
	f.register(models.ToolSpec{Name: "read_file"}, func(_ context.Context, args map[string]any) models.ToolResult {
		return models.ToolResult{Success: true, Output: fmt.Sprintf("contents of %v", args["path"])}
	})
	f.register(models.ToolSpec{Name: "finish"}, func(_ context.Context, args map[string]any) models.ToolResult {
		return models.ToolResult{Success: true, Output: fmt.Sprint(args["summary"])}
	})
	f.register(models.ToolSpec{Name: "run_shell", Dangerous: true}, func(context.Context, map[string]any) models.ToolResult {
		return models.ToolResult{Success: true, Output: "ran"}
	})
	f.register(models.ToolSpec{Name: "fail"}, func(context.Context, map[string]any) models.ToolResult {
		return models.Failure(fmt.Sprintf("boom %d", atomic.AddInt32(&failures, 1)), false)
	})
	return f
}

func (f *fixture) register(spec models.ToolSpec, h tools.Handler) {
	f.tools.Register(spec, func(ctx context.Context, args map[string]any) models.ToolResult {
		f.mu.Lock()
		f.calls[spec.Name]++
		f.mu.Unlock()
		return h(ctx, args)
	})
}

func (f *fixture) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fixture) orchestrator(t *testing.T, backend llm.Backend, asker tools.Asker) *Orchestrator {
	t.Helper()
	o, err := New(f.cfg, Deps{Backend: backend, Tools: f.tools, Asker: asker, Memory: f.mem, Dir: f.dir})
	require.NoError(t, err)
	return o
}

func (f *fixture) phases(t *testing.T) []string {
	t.Helper()
	events, err := rundir.ReadEvents(f.dir.Path())
	require.NoError(t, err)
	var out []string
	for _, e := range events {
		if e["event"] == rundir.EventPhase {
			out = append(out, fmt.Sprint(e["to"]))
		}
	}
	return out
}

func toolStep(tool string, args map[string]any) map[string]any {
	return map[string]any{"type": "tool", "goal": "use " + tool, "tool": tool, "args": args}
}

func finishStep() map[string]any {
	return map[string]any{"type": "finish", "goal": "done", "summary": "all done"}
}

func plan(steps ...map[string]any) map[string]any {
	return map[string]any{"steps": steps, "grounding_confidence": 8}
}

const (
	researchPrompt = "Research the following task"
	planPrompt     = "Write a plan of at most"
	reflectPrompt  = "Decide: retry"
)

type asker struct {
	answers []string
	asked   []string
}

func (a *asker) Ask(_ context.Context, q string) (string, error) {
	a.asked = append(a.asked, q)
	if len(a.answers) == 0 {
		return "", nil
	}
	ans := a.answers[0]
	a.answers = a.answers[1:]
	return ans, nil
}

func TestRun_ResearchThenExecuteToDone(t *testing.T) {
	f := newFixture(t)
	f.cfg.Team.Research = true
	backend := llmtest.Func(func(prompt, _ string) (any, error) {
		switch {
		case strings.Contains(prompt, researchPrompt):
			return map[string]any{"notes": "# Notes\n\n- README describes setup\n- main.go is the entry point\n"}, nil
		case strings.Contains(prompt, planPrompt):
			return plan(toolStep("read_file", map[string]any{"path": "README.md"}), finishStep()), nil
		}
		return nil, errors.New("unexpected prompt")
	})

	o := f.orchestrator(t, backend, nil)
	res := o.Run(context.Background(), "summarise the readme")

	require.True(t, res.OK, "%+v", res.Error)
	assert.Equal(t, models.StopGoalAchieved, res.StopReason)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, []string{"RESEARCH", "PLAN", "EXECUTE", "EXECUTE", "VERIFY", "DONE"}, f.phases(t))
	assert.Equal(t, 1, backend.PromptsContaining(planPrompt), "the draft prefetched during research is reused")
	assert.Equal(t, 1, backend.PromptsContaining(researchPrompt))
	assert.Contains(t, o.State().LastResearch, "main.go is the entry point")
	assert.NotEmpty(t, o.State().ContextFingerprint)

	notes, err := os.ReadFile(f.dir.File(rundir.ResearchFile))
	require.NoError(t, err)
	assert.Contains(t, string(notes), "README describes setup")

	data, err := os.ReadFile(f.dir.File(rundir.CheckpointFile))
	require.NoError(t, err)
	var cp models.OrchestratorState
	require.NoError(t, json.Unmarshal(data, &cp))
	assert.Equal(t, models.PhaseDone, cp.Phase)

	loaded, err := rundir.LoadResult(f.dir.Path())
	require.NoError(t, err)
	assert.Equal(t, models.StopGoalAchieved, loaded.StopReason)
}

func TestRun_AskUserAnswerFeedsPlan(t *testing.T) {
	f := newFixture(t)
	backend := llmtest.Func(func(prompt, _ string) (any, error) {
		if strings.Contains(prompt, "Answers from the user:") {
			return plan(toolStep("read_file", map[string]any{"path": "notes.txt"}), finishStep()), nil
		}
		return map[string]any{"steps": []any{}, "questions": []string{"Which file?"}}, nil
	})
	a := &asker{answers: []string{"notes.txt"}}

	res := f.orchestrator(t, backend, a).Run(context.Background(), "read the file")

	require.True(t, res.OK, "%+v", res.Error)
	assert.Equal(t, []string{"Which file?"}, a.asked)
	assert.Equal(t, 1, f.count("read_file"))
	assert.Contains(t, f.phases(t), "ASK_USER")
}

func TestRun_AbortAnswerStopsRun(t *testing.T) {
	f := newFixture(t)
	backend := llmtest.New(map[string]any{"steps": []any{}, "questions": []string{"Proceed?"}})
	a := &asker{answers: []string{"No, please stop."}}

	o := f.orchestrator(t, backend, a)
	res := o.Run(context.Background(), "delete things")

	assert.False(t, res.OK)
	assert.Equal(t, models.StopAborted, res.StopReason)
	require.Len(t, o.State().QAPairs, 1)
	assert.Equal(t, "No, please stop.", o.State().QAPairs[0].Answer)
	assert.Equal(t, models.PhaseAbort, o.State().Phase)
	assert.NotEmpty(t, o.State().AbortReason)
}

func TestRun_QuestionsAreAskedOnce(t *testing.T) {
	f := newFixture(t)
	backend := llmtest.Func(func(prompt, _ string) (any, error) {
		if strings.Contains(prompt, "If you cannot plan without more information") {
			return map[string]any{"steps": []any{}, "questions": []string{"Anything else?"}}, nil
		}
		return plan(finishStep()), nil
	})
	a := &asker{}

	res := f.orchestrator(t, backend, a).Run(context.Background(), "do it")

	require.True(t, res.OK, "%+v", res.Error)
	assert.Len(t, a.asked, 1)
}

func TestRun_RetryCapEndsRun(t *testing.T) {
	f := newFixture(t)
	f.cfg.Team.MaxRetriesPerStep = 2
	backend := llmtest.Func(func(prompt, _ string) (any, error) {
		if strings.Contains(prompt, reflectPrompt) {
			return map[string]any{"decision": "retry", "reason": "transient"}, nil
		}
		return plan(toolStep("fail", nil), finishStep()), nil
	})

	o := f.orchestrator(t, backend, nil)
	res := o.Run(context.Background(), "flaky job")

	assert.Equal(t, models.StopRetriesExhausted, res.StopReason)
	assert.Equal(t, 3, f.count("fail"))
	assert.Equal(t, 3, o.State().Retries["s1"])
	assert.Equal(t, "boom 3", o.State().LastError)

	recs, err := f.mem.Search(context.Background(), "flaky job", 10)
	require.NoError(t, err)
	var reflexions int
	for _, r := range recs {
		if r.Kind == memory.KindReflexion {
			reflexions++
		}
	}
	assert.Equal(t, 3, reflexions)
}

func TestRun_PivotReplansWithHint(t *testing.T) {
	f := newFixture(t)
	backend := llmtest.Func(func(prompt, _ string) (any, error) {
		switch {
		case strings.Contains(prompt, reflectPrompt):
			return map[string]any{"decision": "pivot", "reason": "the fail tool never works; read the file instead"}, nil
		case strings.Contains(prompt, "Guidance: the fail tool never works"):
			return plan(toolStep("read_file", map[string]any{"path": "a"}), finishStep()), nil
		}
		return plan(toolStep("fail", nil), finishStep()), nil
	})

	res := f.orchestrator(t, backend, nil).Run(context.Background(), "get it done")

	require.True(t, res.OK, "%+v", res.Error)
	assert.Equal(t, 1, f.count("fail"))
	assert.Equal(t, 1, f.count("read_file"))
	assert.Equal(t, 2, backend.PromptsContaining(planPrompt))
}

func TestRun_ResearchDecisionRevisitsResearch(t *testing.T) {
	f := newFixture(t)
	backend := llmtest.Func(func(prompt, _ string) (any, error) {
		switch {
		case strings.Contains(prompt, researchPrompt):
			return map[string]any{"notes": "- use read_file"}, nil
		case strings.Contains(prompt, reflectPrompt):
			return map[string]any{"decision": "research", "reason": "which tool works here"}, nil
		case strings.Contains(prompt, "Research notes:"):
			return plan(toolStep("read_file", map[string]any{"path": "a"}), finishStep()), nil
		}
		return plan(toolStep("fail", nil), finishStep()), nil
	})

	res := f.orchestrator(t, backend, nil).Run(context.Background(), "find the tool")

	require.True(t, res.OK, "%+v", res.Error)
	assert.Equal(t, 1, backend.PromptsContaining("Focus on: which tool works here"))
	assert.Equal(t, 2, backend.PromptsContaining(planPrompt), "no prefetch after the first research pass")
}

func TestRun_CriticAbort(t *testing.T) {
	f := newFixture(t)
	backend := llmtest.Func(func(prompt, _ string) (any, error) {
		if strings.Contains(prompt, reflectPrompt) {
			return map[string]any{"decision": "abort", "reason": "cannot succeed"}, nil
		}
		return plan(toolStep("fail", nil), finishStep()), nil
	})

	res := f.orchestrator(t, backend, nil).Run(context.Background(), "impossible")

	assert.Equal(t, models.StopAborted, res.StopReason)
	require.NotNil(t, res.Error)
	assert.Equal(t, "critic", res.Error.Type)
}

func TestRun_MaxIterations(t *testing.T) {
	f := newFixture(t)
	f.cfg.Team.MaxIterations = 3
	backend := llmtest.Func(func(string, string) (any, error) {
		return plan(
			toolStep("read_file", map[string]any{"path": "a"}),
			toolStep("read_file", map[string]any{"path": "b"}),
			toolStep("read_file", map[string]any{"path": "c"}),
			finishStep(),
		), nil
	})

	o := f.orchestrator(t, backend, nil)
	res := o.Run(context.Background(), "read everything")

	assert.Equal(t, models.StopMaxIterations, res.StopReason)
	assert.Equal(t, 4, o.State().Iterations)
	assert.Equal(t, 1, f.count("read_file"))
}

func TestRun_SevereThrashStopsRun(t *testing.T) {
	tests := []struct {
		name         string
		stopSeverity int
		wantType     string
		wantCalls    int
	}{
		{name: "default threshold leaves it to the loop detector", stopSeverity: 9, wantType: "loop", wantCalls: 3},
		{name: "repeated error at threshold", stopSeverity: 7, wantType: "repeated_error", wantCalls: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.Thrash.StopSeverity = tc.stopSeverity
			f.register(models.ToolSpec{Name: "locked"}, func(context.Context, map[string]any) models.ToolResult {
				return models.Failure("resource locked", false)
			})
			backend := llmtest.Func(func(prompt, _ string) (any, error) {
				if strings.Contains(prompt, reflectPrompt) {
					return map[string]any{"decision": "retry", "reason": "transient"}, nil
				}
				return plan(toolStep("locked", nil), finishStep()), nil
			})

			res := f.orchestrator(t, backend, nil).Run(context.Background(), "use the locked resource")

			assert.Equal(t, models.StopLoopDetected, res.StopReason)
			require.NotNil(t, res.Error)
			assert.Equal(t, tc.wantType, res.Error.Type)
			assert.Equal(t, tc.wantCalls, f.count("locked"))
		})
	}
}

func TestRun_UnsafeToolBlocked(t *testing.T) {
	f := newFixture(t)
	backend := llmtest.New(plan(toolStep("run_shell", map[string]any{"command": "ls"}), finishStep()))

	res := f.orchestrator(t, backend, nil).Run(context.Background(), "list")

	assert.Equal(t, models.StopUnsafeBlocked, res.StopReason)
	assert.Zero(t, f.count("run_shell"))
}

func TestRun_BackendErrorIsLLMError(t *testing.T) {
	f := newFixture(t)
	backend := llmtest.New(&llm.Error{Kind: llm.KindAuth, Provider: "scripted", Message: "not logged in"})

	res := f.orchestrator(t, backend, nil).Run(context.Background(), "anything")

	assert.Equal(t, models.StopLLMError, res.StopReason)
	require.NotNil(t, res.Error)
	assert.Equal(t, "auth", res.Error.Type)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.orchestrator(t, llmtest.New(), nil).Run(ctx, "anything")

	assert.Equal(t, models.StopAborted, res.StopReason)
	_, err := rundir.LoadResult(f.dir.Path())
	assert.NoError(t, err)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(config.DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestExtractFacts(t *testing.T) {
	tests := []struct {
		name  string
		notes string
		want  []string
	}{
		{
			name:  "tight list",
			notes: "# Findings\n\n- first fact\n- second *fact*\n",
			want:  []string{"first fact", "second fact"},
		},
		{
			name:  "loose list and paragraph",
			notes: "Intro line.\n\n1. one\n\n2. two\n",
			want:  []string{"Intro line.", "one", "two"},
		},
		{
			name:  "nested list keeps parent text",
			notes: "- parent\n  - child\n",
			want:  []string{"parent", "child"},
		},
		{
			name:  "code blocks skipped",
			notes: "```\nrm -rf /\n```\n\n- safe\n",
			want:  []string{"safe"},
		},
		{
			name:  "empty",
			notes: "",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFacts(tt.notes))
		})
	}
}

func TestExtractFacts_Caps(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "- fact %d %s\n", i, strings.Repeat("x", 300))
	}
	facts := ExtractFacts(b.String())
	require.Len(t, facts, maxFacts)
	for _, f := range facts {
		assert.LessOrEqual(t, len(f), maxFactLen+3)
	}
}
