package swarm

import (
	"context"
	"fmt"
	"strings"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/config"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/memory"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/runner"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

// Assignment is everything a worker needs for one subtask.
type Assignment struct {
	Subtask models.Subtask
	// Goal is the subtask goal, or its reduced synthesis goal.
	Goal      string
	Reduced   bool
	Workspace string
	Dir       *rundir.Dir
}

// Worker runs one subtask and leaves a result.json in its run directory.
type Worker interface {
	Work(ctx context.Context, a Assignment) error
}

// AgentWorker runs each subtask with a fresh runner, backend and tool
// registry rooted at the subtask's workspace.
type AgentWorker struct {
	Config  *config.Config
	Factory llm.Factory
	// Memory must be safe for concurrent use; every store in package
	// memory is.
	Memory memory.Store
	Logger runner.Logger
}

// Work implements Worker.
func (w *AgentWorker) Work(ctx context.Context, a Assignment) error {
	backend, err := w.Factory(a.Workspace)
	if err != nil {
		return fmt.Errorf("backend for %s: %w", a.Subtask.ID, err)
	}
	reg, err := tools.NewWorkspace(a.Workspace, a.Dir.Path(), nil)
	if err != nil {
		return fmt.Errorf("tools for %s: %w", a.Subtask.ID, err)
	}
	r, err := runner.New(w.Config, runner.Deps{
		Backend: backend,
		Tools:   reg,
		Memory:  w.Memory,
		Dir:     a.Dir,
		Logger:  w.Logger,
	})
	if err != nil {
		return err
	}
	r.Run(ctx, runner.Task{Goal: a.Goal, Notes: notes(a), Reduced: a.Reduced})
	return nil
}

func notes(a Assignment) string {
	var parts []string
	if a.Subtask.Notes != "" {
		parts = append(parts, a.Subtask.Notes)
	}
	if len(a.Subtask.Artifacts) > 0 {
		parts = append(parts, fmt.Sprintf("This subtask must produce these artifacts: %s. The repo_map tool writes %s.",
			strings.Join(a.Subtask.Artifacts, ", "), rundir.RepoMapFile))
	}
	return strings.Join(parts, "\n")
}
