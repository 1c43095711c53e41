package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for drcodept
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drcodept",
		Short: "Personal automation agent engine",
		Long: `DrCodePT drives a reasoning backend through plan, act and reflect
loops against a local workspace.

It runs a single agent (run), a supervised team loop with research and
user questions (team), or a swarm that decomposes an objective into
dependent subtasks and runs them in parallel waves (swarm).

Configuration is loaded from .drcodept/config.yaml if present, then from
DRCODEPT_* environment variables (a .env file is read first).
CLI flags override both.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .drcodept/config.yaml)")
	cmd.PersistentFlags().String("profile", "", "Swarm profile: fast, deep or audit")
	cmd.PersistentFlags().String("log-level", "", "Console log level: trace, debug, info, warn or error")
	cmd.PersistentFlags().String("provider", "", "Reasoning backend: cli, anthropic or openai")
	cmd.PersistentFlags().String("model", "", "Model name passed to the backend")
	cmd.PersistentFlags().String("workspace", "", "Workspace root the tools operate on")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewTeamCommand())
	cmd.AddCommand(NewSwarmCommand())
	cmd.AddCommand(NewQACommand())

	return cmd
}
