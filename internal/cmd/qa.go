package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/swarm"
)

// NewQACommand creates the qa command
func NewQACommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qa <swarm-run-dir>",
		Short: "Re-run artifact QA over a finished swarm run",
		Long: `Re-validate the artifacts of every subtask in a finished swarm run and
rewrite its summary.md. Running it twice gives the same result.

The QA test command is not re-run.

Examples:
  drcodept qa .drcodept/runs/20260101-120000-ab12cd34`,
		Args: cobra.ExactArgs(1),
		RunE: qaCommand,
	}
	return cmd
}

func qaCommand(cmd *cobra.Command, args []string) error {
	s, err := swarm.Revalidate(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to revalidate %s: %w", args[0], err)
	}
	fmt.Fprint(cmd.OutOrStdout(), swarm.Markdown(s))
	return nil
}
