package swarm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
)

func TestReducedGoal(t *testing.T) {
	dir, err := rundir.Create(t.TempDir(), "A")
	require.NoError(t, err)
	require.NoError(t, dir.Event(context.Background(), rundir.EventStep, map[string]any{"tool": "read_file"}))
	require.NoError(t, dir.WriteResult(context.Background(), models.RunResult{
		StopReason: models.StopMaxSteps,
		Error:      &models.ErrorDetail{Type: "budget", Message: "reached max steps (30)"},
	}))

	dep := models.SubtaskOutcome{
		Subtask: models.Subtask{ID: "A", Goal: "map the repo", Artifacts: []string{"repo_map.json"}},
		RunDir:  dir.Path(),
	}
	goal := ReducedGoal(models.Subtask{ID: "C", Goal: "write the report", DependsOn: []string{"A", "B"}}, []models.SubtaskOutcome{dep})

	assert.Contains(t, goal, "Reduced synthesis mode")
	assert.Contains(t, goal, "Failed dependencies: A\n")
	assert.Contains(t, goal, "stop reason: max_steps")
	assert.Contains(t, goal, "reached max steps (30)")
	assert.Contains(t, goal, `"tool":"read_file"`)
	assert.Contains(t, goal, "Missing artifacts:\n- A/repo_map.json\n")
	assert.Contains(t, goal, "write the report")
}

func TestReducedGoal_NothingOnDisk(t *testing.T) {
	deps := []models.SubtaskOutcome{
		{Subtask: models.Subtask{ID: "A", Goal: "a"}, RunDir: t.TempDir()},
		{Subtask: models.Subtask{ID: "B", Goal: "b"}, RunDir: t.TempDir()},
	}
	goal := ReducedGoal(models.Subtask{ID: "C", Goal: "c"}, deps)

	assert.Contains(t, goal, "Failed dependencies: A, B")
	assert.Contains(t, goal, "- A/result.json")
	assert.Contains(t, goal, "- B/trace.jsonl")
	assert.Contains(t, goal, "stop reason: unknown")
}

func TestExpectedArtifacts(t *testing.T) {
	got := ExpectedArtifacts(models.Subtask{Artifacts: []string{" repo_map.json ", "result.json", "", "out/report.md"}})
	assert.Equal(t, []string{"result.json", "trace.jsonl", "repo_map.json", "out/report.md"}, got)

	got = ExpectedArtifacts(models.Subtask{Artifacts: []string{"../x", "/etc/passwd", "a/../../b", "ok.txt"}})
	assert.Equal(t, []string{"result.json", "trace.jsonl", "ok.txt"}, got, "paths leaving the run directory are ignored")
}
