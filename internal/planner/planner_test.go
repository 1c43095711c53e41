package planner

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm/llmtest"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

func testRegistry() *tools.Set {
	set := tools.NewSet()
	noop := func(context.Context, map[string]any) models.ToolResult { return models.ToolResult{Success: true} }
	set.Register(models.ToolSpec{Name: "read_file", Description: "read a file"}, noop)
	set.Register(models.ToolSpec{Name: "write_file", Description: "write a file"}, noop)
	set.Register(models.ToolSpec{Name: "run_shell", Description: "run a command", Dangerous: true}, noop)
	return set
}

func toolStep(tool string, args map[string]any) map[string]any {
	return map[string]any{"type": "tool", "goal": "use " + tool, "tool": tool, "args": args}
}

func finishStep() map[string]any {
	return map[string]any{"type": "finish", "goal": "done", "summary": "all done"}
}

func TestReactive_Plan(t *testing.T) {
	ctx := context.Background()
	req := Request{Task: "read the readme", Observations: []models.Observation{{Source: "list_files", SalientFacts: []string{"README.md"}}}}

	t.Run("valid tool step", func(t *testing.T) {
		backend := llmtest.New(toolStep("read_file", map[string]any{"path": "README.md"}))
		plan, err := NewReactive(backend, testRegistry()).Plan(ctx, req)
		require.NoError(t, err)
		require.Equal(t, 1, plan.Len())
		assert.Equal(t, "read_file", plan.Steps[0].ToolName)
		assert.Equal(t, "README.md", plan.Steps[0].StringArg("path"))
		assert.NotEmpty(t, plan.Steps[0].ID)

		prompt := backend.Prompts()[0]
		assert.Contains(t, prompt, "Task: read the readme")
		assert.Contains(t, prompt, "- run_shell [dangerous]: run a command")
		assert.Contains(t, prompt, "[list_files] README.md")
	})

	t.Run("finish", func(t *testing.T) {
		plan, err := NewReactive(llmtest.New(finishStep()), testRegistry()).Plan(ctx, req)
		require.NoError(t, err)
		assert.True(t, plan.Steps[0].IsFinish())
		assert.Equal(t, "all done", plan.Steps[0].StringArg("summary"))
	})

	mismatches := map[string]any{
		"unknown tool":    toolStep("teleport", nil),
		"missing tool":    map[string]any{"type": "tool", "goal": "x"},
		"unknown variant": map[string]any{"type": "dance", "goal": "x"},
		"empty question":  map[string]any{"type": "ask_user", "goal": "x"},
		"missing variant": map[string]any{"goal": "x", "tool": "read_file"},
	}
	for name, reply := range mismatches {
		t.Run(name+" becomes clarification", func(t *testing.T) {
			plan, err := NewReactive(llmtest.New(reply), testRegistry()).Plan(ctx, req)
			require.NoError(t, err)
			require.Equal(t, 1, plan.Len())
			assert.Equal(t, models.ToolAskUser, plan.Steps[0].ToolName)
			assert.Equal(t, "clarify", plan.Steps[0].ID)
			assert.Contains(t, plan.Steps[0].StringArg("question"), "read the readme")
		})
	}

	t.Run("backend error surfaces", func(t *testing.T) {
		backend := llmtest.New(&llm.Error{Kind: llm.KindTimeout, Provider: "scripted", Message: "slow"})
		_, err := NewReactive(backend, testRegistry()).Plan(ctx, req)
		require.Error(t, err)
		assert.ErrorIs(t, err, llm.ErrTimeout)
	})
}

func TestAssessment_Score(t *testing.T) {
	a := Assessment{GroundingConfidence: 10, ToolFeasibility: 10, Length: 1, Destructiveness: 0}
	assert.InDelta(t, 0.35*10+0.35*10+0.2*10+0.1*11, a.Score(), 1e-9)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		base := Assessment{
			GroundingConfidence: rng.Float64() * 10,
			ToolFeasibility:     rng.Float64() * 10,
			Destructiveness:     rng.Float64() * 10,
			Length:              1 + rng.Intn(20),
		}
		shorter := base
		shorter.Length = base.Length - rng.Intn(base.Length)
		assert.GreaterOrEqual(t, shorter.Score(), base.Score(), "shorter plan scored lower: %+v vs %+v", shorter, base)
	}
}

func TestAssess(t *testing.T) {
	reg := testRegistry()
	plan := &models.Plan{Steps: []models.Step{
		{ID: "1", ToolName: "read_file"},
		{ID: "2", ToolName: "run_shell"},
		{ID: "3", ToolName: "ghost"},
		{ID: "4", ToolName: models.ToolFinish},
	}}
	a := Assess(plan, reg, 14, 2)
	assert.Equal(t, 10.0, a.GroundingConfidence, "clamped")
	assert.Equal(t, 7.5, a.ToolFeasibility)
	assert.Equal(t, 5.0, a.Destructiveness)
	assert.Equal(t, 4, a.Length)
}

func TestRank(t *testing.T) {
	long := Candidate{Strategy: "a", Assessment: Assessment{GroundingConfidence: 5, ToolFeasibility: 10, Length: 8}}
	short := Candidate{Strategy: "b", Assessment: Assessment{GroundingConfidence: 5, ToolFeasibility: 10, Length: 2}}
	ranked := Rank([]Candidate{long, short})
	assert.Equal(t, "b", ranked[0].Strategy)
	assert.Equal(t, "a", ranked[1].Strategy)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestPlanFirst_Direct(t *testing.T) {
	backend := llmtest.New(map[string]any{
		"steps": []any{
			toolStep("read_file", map[string]any{"path": "a"}),
			toolStep("read_file", map[string]any{"path": "b"}),
			toolStep("read_file", map[string]any{"path": "c"}),
			finishStep(),
		},
		"grounding_confidence": 7,
	})
	p := NewPlanFirst(backend, testRegistry(), 3)
	d, err := p.Draft(context.Background(), Request{Task: "read files"})
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, d.Strategy)
	require.Equal(t, 3, d.Plan.Len(), "capped to max steps")
	assert.Equal(t, []string{"s1", "s2", "s3"}, []string{d.Plan.Steps[0].ID, d.Plan.Steps[1].ID, d.Plan.Steps[2].ID})
	assert.Nil(t, d.Fallback)
	require.NoError(t, d.Plan.Validate())
}

func TestPlanFirst_InvalidPlanClarifies(t *testing.T) {
	backend := llmtest.New(map[string]any{"steps": []any{toolStep("teleport", nil), finishStep()}})
	plan, err := NewPlanFirst(backend, testRegistry(), 10).Plan(context.Background(), Request{Task: "go somewhere"})
	require.NoError(t, err)
	require.Equal(t, 1, plan.Len())
	assert.Equal(t, models.ToolAskUser, plan.Steps[0].ToolName)
}

func TestPlanFirst_Candidates(t *testing.T) {
	backend := llmtest.New(map[string]any{
		"candidates": []any{
			map[string]any{
				"steps":                []any{toolStep("run_shell", map[string]any{"command": "cat a"}), finishStep()},
				"grounding_confidence": 6,
				"destructiveness":      4,
			},
			map[string]any{
				"steps":                []any{toolStep("teleport", nil)},
				"grounding_confidence": 10,
			},
			map[string]any{
				"steps":                []any{toolStep("read_file", map[string]any{"path": "a"}), finishStep()},
				"grounding_confidence": 6,
			},
		},
	})
	p := NewPlanFirst(backend, testRegistry(), 10)
	p.Candidates = 3
	d, err := p.Draft(context.Background(), Request{Task: "show a"})
	require.NoError(t, err)
	assert.Equal(t, StrategyCandidate, d.Strategy)
	require.Len(t, d.Ranked, 2, "invalid candidate dropped")
	assert.Equal(t, "read_file", d.Plan.Steps[0].ToolName, "less destructive plan wins")
	require.NotNil(t, d.Fallback)
	assert.Equal(t, "run_shell", d.Fallback.Steps[0].ToolName)
	assert.Equal(t, 1, backend.PromptsContaining("Return 3 meaningfully different candidate plans"))
}

func TestPlanFirst_TakeFallback(t *testing.T) {
	two := map[string]any{"candidates": []any{
		map[string]any{"steps": []any{toolStep("read_file", map[string]any{"path": "a"}), finishStep()}, "grounding_confidence": 9},
		map[string]any{"steps": []any{toolStep("read_file", map[string]any{"path": "b"}), finishStep()}, "grounding_confidence": 3},
	}}
	one := map[string]any{"candidates": []any{
		map[string]any{"steps": []any{finishStep()}, "grounding_confidence": 9},
	}}
	p := NewPlanFirst(llmtest.New(two, two, one), testRegistry(), 10)
	p.Candidates = 2
	var _ FallbackSource = p

	assert.Nil(t, p.TakeFallback(), "nothing drafted yet")

	plan, err := p.Plan(context.Background(), Request{Task: "read"})
	require.NoError(t, err)
	assert.Equal(t, "a", plan.Steps[0].StringArg("path"))
	fb := p.TakeFallback()
	require.NotNil(t, fb)
	assert.Equal(t, "b", fb.Steps[0].StringArg("path"))
	assert.Nil(t, p.TakeFallback(), "the fallback is handed out once")

	_, err = p.Plan(context.Background(), Request{Task: "read"})
	require.NoError(t, err)
	_, err = p.Plan(context.Background(), Request{Task: "read"})
	require.NoError(t, err)
	assert.Nil(t, p.TakeFallback(), "a draft without a runner-up clears the old one")
}

func TestPlanFirst_Decomposition(t *testing.T) {
	subPlan := func(path string) map[string]any {
		return map[string]any{
			"steps":                []any{toolStep("read_file", map[string]any{"path": path}), finishStep()},
			"grounding_confidence": 9,
		}
	}
	backend := llmtest.New(
		map[string]any{
			"steps":                []any{toolStep("read_file", map[string]any{"path": "x"}), finishStep()},
			"grounding_confidence": 1,
		},
		map[string]any{"subtasks": []any{
			map[string]any{"id": "A", "goal": "summarise docs", "depends_on": []string{"B"}},
			map[string]any{"id": "B", "goal": "collect docs"},
		}},
		subPlan("b.md"),
		subPlan("a.md"),
	)
	p := NewPlanFirst(backend, testRegistry(), 10)
	p.Decompose = true
	d, err := p.Draft(context.Background(), Request{Task: "write doc summary"})
	require.NoError(t, err)

	assert.Equal(t, StrategyDecompose, d.Strategy)
	require.Equal(t, 3, d.Plan.Len())
	assert.Equal(t, "B.s1", d.Plan.Steps[0].ID, "dependency planned first")
	assert.Equal(t, "A.s1", d.Plan.Steps[1].ID)
	assert.True(t, d.Plan.Steps[2].IsFinish())
	require.NoError(t, d.Plan.Validate())
	require.NotNil(t, d.Fallback)
	assert.Equal(t, "x", d.Fallback.Steps[0].StringArg("path"))

	prompts := backend.Prompts()
	require.Len(t, prompts, 4)
	assert.Contains(t, prompts[2], "Task: collect docs")
	assert.Contains(t, prompts[2], `subtask B of the larger task "write doc summary"`)
}

func TestPlanFirst_DecompositionCapsSteps(t *testing.T) {
	many := map[string]any{"steps": []any{
		toolStep("read_file", map[string]any{"path": "1"}),
		toolStep("read_file", map[string]any{"path": "2"}),
		toolStep("read_file", map[string]any{"path": "3"}),
	}}
	backend := llmtest.New(
		map[string]any{"steps": []any{finishStep()}},
		map[string]any{"subtasks": []any{
			map[string]any{"id": "A", "goal": "a"},
			map[string]any{"id": "B", "goal": "b"},
		}},
		many,
		many,
	)
	p := NewPlanFirst(backend, testRegistry(), 4)
	p.Decompose = true
	d, err := p.Draft(context.Background(), Request{Task: "t"})
	require.NoError(t, err)

	var decomposed *models.Plan
	for _, c := range d.Ranked {
		if c.Strategy == StrategyDecompose {
			decomposed = c.Plan
		}
	}
	require.NotNil(t, decomposed)
	assert.Equal(t, 4, decomposed.Len(), "max_steps-1 steps plus finish")
	assert.True(t, decomposed.Steps[3].IsFinish())
	assert.Equal(t, 3, backend.Calls(), "second subtask never planned once the cap is reached")
}

func TestPlanFirst_Questions(t *testing.T) {
	backend := llmtest.New(map[string]any{"steps": []any{}, "questions": []string{"Which branch?"}})
	d, err := NewPlanFirst(backend, testRegistry(), 10).Draft(context.Background(), Request{Task: "deploy", AllowQuestions: true})
	require.NoError(t, err)
	assert.Equal(t, StrategyClarify, d.Strategy)
	assert.Equal(t, []string{"Which branch?"}, d.Questions)
	assert.True(t, d.Plan.Empty())
}

func TestDecompose(t *testing.T) {
	backend := llmtest.New(map[string]any{"subtasks": []any{
		map[string]any{"id": " A ", "goal": "first", "artifacts": []string{"repo_map.json", " "}},
		map[string]any{"id": "A", "goal": "second", "depends_on": []string{"A", ""}},
		map[string]any{"id": "", "goal": "third"},
		map[string]any{"id": "D", "goal": "   "},
		map[string]any{"id": "E", "goal": "fifth"},
	}})
	subs, err := Decompose(context.Background(), backend, "objective", "", 2, 3)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "A", subs[0].ID)
	assert.Equal(t, []string{"repo_map.json"}, subs[0].Artifacts)
	assert.Equal(t, "A-2", subs[1].ID)
	assert.Equal(t, []string{"A"}, subs[1].DependsOn)
	assert.Equal(t, "T3", subs[2].ID)

	_, err = Decompose(context.Background(), llmtest.New(map[string]any{"subtasks": []any{}}), "objective", "", 2, 4)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestOrder(t *testing.T) {
	ids := func(subs []models.Subtask) []string {
		var out []string
		for _, s := range subs {
			out = append(out, s.ID)
		}
		return out
	}
	chain := []models.Subtask{
		{ID: "C", DependsOn: []string{"B"}},
		{ID: "B", DependsOn: []string{"A", "ghost"}},
		{ID: "A"},
	}
	assert.Equal(t, []string{"A", "B", "C"}, ids(Order(chain)))

	cycle := []models.Subtask{
		{ID: "X", DependsOn: []string{"Y"}},
		{ID: "Y", DependsOn: []string{"X"}},
		{ID: "Z"},
	}
	assert.Equal(t, []string{"Z", "X", "Y"}, ids(Order(cycle)))
}

func TestRepair(t *testing.T) {
	failed := models.Step{ID: "s2", Goal: "read config", ToolName: "read_file", ToolArgs: map[string]any{"path": "cfg.yml"}}
	remaining := []models.Step{{ID: "s3", ToolName: models.ToolFinish}}
	req := RepairRequest{
		Request:    Request{Task: "configure"},
		Failed:     failed,
		Result:     models.Failure("no such file", false),
		Reflection: models.Reflection{Explanation: "file missing", NextHint: "list first"},
		Remaining:  remaining,
	}
	tests := []struct {
		name     string
		reply    map[string]any
		wantKind RepairKind
		wantTool string
	}{
		{"retry adjusted", map[string]any{"kind": "retry_adjusted", "reason": "typo", "step": toolStep("read_file", map[string]any{"path": "cfg.yaml"})}, RepairRetryAdjusted, "read_file"},
		{"swap tool", map[string]any{"kind": "swap_tool", "reason": "use shell", "step": toolStep("run_shell", map[string]any{"command": "cat cfg*"})}, RepairSwapTool, "run_shell"},
		{"regenerate step", map[string]any{"kind": "regenerate_step", "reason": "ask", "step": map[string]any{"type": "ask_user", "goal": "", "question": "where is the config?"}}, RepairRegenerateStep, models.ToolAskUser},
		{"regenerate plan", map[string]any{"kind": "regenerate_plan", "reason": "wrong approach"}, RepairRegeneratePlan, ""},
		{"retry with different tool", map[string]any{"kind": "retry_adjusted", "reason": "x", "step": toolStep("write_file", nil)}, RepairRegeneratePlan, ""},
		{"retry with same args", map[string]any{"kind": "retry_adjusted", "reason": "x", "step": toolStep("read_file", map[string]any{"path": "cfg.yml"})}, RepairRegeneratePlan, ""},
		{"swap keeping tool", map[string]any{"kind": "swap_tool", "reason": "x", "step": toolStep("read_file", map[string]any{"path": "b"})}, RepairRegeneratePlan, ""},
		{"missing step", map[string]any{"kind": "regenerate_step", "reason": "x"}, RepairRegeneratePlan, ""},
		{"unknown tool", map[string]any{"kind": "swap_tool", "reason": "x", "step": toolStep("teleport", nil)}, RepairRegeneratePlan, ""},
		{"unknown kind", map[string]any{"kind": "pray", "reason": "x"}, RepairRegeneratePlan, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := llmtest.New(tt.reply)
			rep, err := NewReactive(backend, testRegistry()).Repair(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, rep.Kind)
			plan := rep.Plan("configure", remaining)
			if tt.wantTool == "" {
				assert.Nil(t, rep.Step)
				assert.Nil(t, plan)
				return
			}
			require.NotNil(t, plan)
			require.Equal(t, 2, plan.Len())
			assert.Equal(t, tt.wantTool, plan.Steps[0].ToolName)
			assert.Equal(t, "s2-r", plan.Steps[0].ID)
			assert.Equal(t, "s3", plan.Steps[1].ID)
			assert.Contains(t, backend.Prompts()[0], "hint: list first")
		})
	}

	t.Run("backend error", func(t *testing.T) {
		backend := llmtest.New(&llm.Error{Kind: llm.KindExecution, Provider: "scripted", Message: "boom"})
		_, err := NewPlanFirst(backend, testRegistry(), 5).Repair(context.Background(), req)
		assert.ErrorIs(t, err, llm.ErrExecution)
	})
}
