package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/runner"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run a single agent toward a goal",
		Long: `Run a single agent that plans, calls workspace tools and reflects on
each result until the goal is reached or a budget stops it.

Every run writes trace.jsonl and result.json under the runs directory.

Examples:
  drcodept run "summarise the README"
  drcodept run --planner plan_first "add a CHANGELOG entry"
  drcodept run --max-steps 10 --timeout 5m "list the TODOs in pkg/"
  drcodept run --unsafe "run the test suite and report failures"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCommand,
	}

	addAgentFlags(cmd)
	cmd.Flags().String("planner", "", "Planner mode: reactive or plan_first")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
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
	reg, err := tools.NewWorkspace(s.cfg.Workspace, s.dir.Path(), newPromptAsker(cmd.InOrStdin(), cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	r, err := runner.New(s.cfg, runner.Deps{
		Backend: backend,
		Tools:   reg,
		Memory:  s.memory,
		Dir:     s.dir,
		Logger:  s.log,
	})
	if err != nil {
		return err
	}

	res := r.Run(ctx, runner.Task{Goal: strings.Join(args, " ")})
	return report(cmd, res, s.dir.TracePath())
}

// report prints the stop reason and trace path, and turns an unsuccessful
// run into a command error.
func report(cmd *cobra.Command, res models.RunResult, tracePath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nStop reason: %s\n", res.StopReason)
	if res.Error != nil {
		fmt.Fprintf(out, "Error: [%s] %s\n", res.Error.Type, res.Error.Message)
	}
	fmt.Fprintf(out, "Trace: %s\n", tracePath)
	if !res.OK {
		return fmt.Errorf("run stopped: %s", res.StopReason)
	}
	return nil
}
