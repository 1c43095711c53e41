package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/supervisor"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

// NewTeamCommand creates the team command
func NewTeamCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team <goal>",
		Short: "Run the supervised team loop toward a goal",
		Long: `Run the supervisor loop: observe the workspace, research, plan, execute,
verify and reflect, asking the user when the plan needs more information.

Questions are asked once per run. When stdin is not a terminal every
question is answered with an empty string. State is checkpointed to
checkpoint.json after each phase.

Examples:
  drcodept team "migrate the config loader to YAML"
  drcodept team --max-steps 40 "find and fix the flaky test"`,
		Args: cobra.MinimumNArgs(1),
		RunE: teamCommand,
	}

	addAgentFlags(cmd)

	return cmd
}

func teamCommand(cmd *cobra.Command, args []string) error {
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
	asker := newPromptAsker(cmd.InOrStdin(), cmd.OutOrStdout())
	reg, err := tools.NewWorkspace(s.cfg.Workspace, s.dir.Path(), asker)
	if err != nil {
		return err
	}
	o, err := supervisor.New(s.cfg, supervisor.Deps{
		Backend: backend,
		Tools:   reg,
		Asker:   asker,
		Memory:  s.memory,
		Dir:     s.dir,
		Logger:  s.log,
	})
	if err != nil {
		return err
	}

	res := o.Run(ctx, strings.Join(args, " "))
	return report(cmd, res, s.dir.TracePath())
}
