package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/swarm"
)

// NewSwarmCommand creates the swarm command
func NewSwarmCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swarm <objective>",
		Short: "Decompose an objective and run its subtasks in parallel waves",
		Long: `Split an objective into dependent subtasks, run each with its own agent
in isolated workspaces, and validate their artifacts.

A subtask whose dependency failed runs in reduced synthesis mode: it
summarises the failure and what is missing instead of its original goal.

Profiles:
  fast   4 workers, no isolation
  deep   2 workers, each subtask in a sandbox copy of the workspace
  audit  2 workers, each subtask in a git worktree, test command enabled

The command exits 0 once the swarm completes; subtask failures are
reported in the QA summary.

Examples:
  drcodept swarm "document every package in internal/"
  drcodept swarm --profile deep "port the tests to testify"
  drcodept swarm --isolation worktree --cleanup-worktrees "split the monolith"
  drcodept swarm --profile audit --test-command "go test ./..." "fix the lint errors"`,
		Args: cobra.MinimumNArgs(1),
		RunE: swarmCommand,
	}

	addAgentFlags(cmd)
	cmd.Flags().Int("workers", 0, "Number of parallel workers (default from profile)")
	cmd.Flags().Int("max-subtasks", 0, "Maximum number of subtasks")
	cmd.Flags().String("isolation", "", "Workspace isolation: none, sandbox or worktree")
	cmd.Flags().Bool("cleanup-worktrees", false, "Remove git worktrees after each subtask")
	cmd.Flags().String("test-command", "", "Command run after all subtasks for QA")

	return cmd
}

func swarmCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	backend, err := s.backend()
	if err != nil {
		return err
	}
	coord, err := swarm.New(s.cfg, swarm.Deps{
		Backend: backend,
		Worker: &swarm.AgentWorker{
			Config:  s.cfg,
			Factory: s.factory(),
			Memory:  s.memory,
			Logger:  s.log,
		},
		Dir:    s.dir,
		Logger: s.log,
	})
	if err != nil {
		return err
	}

	summary := coord.Run(ctx, strings.Join(args, " "))
	fmt.Fprintf(cmd.OutOrStdout(), "\nSummary: %s\n", s.dir.File(rundir.SummaryFile))
	fmt.Fprintf(cmd.OutOrStdout(), "Re-check with: drcodept qa %s\n", summary.RunDir)
	return nil
}
