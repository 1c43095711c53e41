package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/config"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/logger"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/memory"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
)

// newBackend is swapped in tests.
var newBackend = llm.New

// session holds what every engine command needs: configuration, loggers,
// the memory store and a fresh run directory.
type session struct {
	cfg    *config.Config
	log    logger.Multi
	memory memory.Store
	dir    *rundir.Dir

	closers []func() error
}

// loadConfig loads .env, the config file and profile, then applies flags
// that were set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath, _ := cmd.Flags().GetString("config")
	profile, _ := cmd.Flags().GetString("profile")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath, profile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".", profile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg.MergeWithFlags(flagOverrides(cmd))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// flagOverrides only sets fields for flags the user actually passed.
func flagOverrides(cmd *cobra.Command) config.Overrides {
	flags := cmd.Flags()
	var o config.Overrides

	if flags.Changed("max-steps") {
		v, _ := flags.GetInt("max-steps")
		o.MaxSteps = &v
	}
	if flags.Changed("timeout") {
		v, _ := flags.GetDuration("timeout")
		o.Timeout = &v
	}
	if flags.Changed("cost-budget") {
		v, _ := flags.GetFloat64("cost-budget")
		o.CostBudget = &v
	}
	if flags.Changed("unsafe") {
		v, _ := flags.GetBool("unsafe")
		o.Unsafe = &v
	}
	if flags.Changed("workers") {
		v, _ := flags.GetInt("workers")
		o.Workers = &v
	}
	if flags.Changed("max-subtasks") {
		v, _ := flags.GetInt("max-subtasks")
		o.MaxSubtasks = &v
	}
	if flags.Changed("cleanup-worktrees") {
		v, _ := flags.GetBool("cleanup-worktrees")
		o.CleanupWorktrees = &v
	}
	o.Planner = changedString(cmd, "planner")
	o.Isolation = changedString(cmd, "isolation")
	o.TestCommand = changedString(cmd, "test-command")
	o.Provider = changedString(cmd, "provider")
	o.Model = changedString(cmd, "model")
	o.LogLevel = changedString(cmd, "log-level")
	o.Workspace = changedString(cmd, "workspace")
	return o
}

func changedString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

// openSession loads configuration and opens loggers, memory and a run
// directory. Callers must Close it.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg}

	console := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)
	s.log = logger.Multi{console}
	if cfg.LogDir != "" {
		fl, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		s.log = append(s.log, fl)
		s.closers = append(s.closers, fl.Close)
	}

	mem, err := memory.Open(ctx, cfg.Memory)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	s.memory = mem
	s.closers = append(s.closers, mem.Close)

	dir, err := rundir.Create(cfg.RunsDir, rundir.NewRunID())
	if err != nil {
		s.Close()
		return nil, err
	}
	s.dir = dir
	s.log.LogInfo(fmt.Sprintf("run directory %s", dir.Path()))
	return s, nil
}

func (s *session) backend() (llm.Backend, error) {
	return newBackend(s.cfg.LLM, s.cfg.Workspace)
}

func (s *session) factory() llm.Factory {
	cfg := s.cfg.LLM
	return func(dir string) (llm.Backend, error) { return newBackend(cfg, dir) }
}

// Close releases everything in reverse order of opening.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: close failed: %v\n", err)
		}
	}
	s.closers = nil
}

// addAgentFlags registers the limits shared by run, team and swarm.
func addAgentFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-steps", 0, "Maximum steps per run (default from config)")
	cmd.Flags().Duration("timeout", 0, "Maximum wall time per run (e.g., 10m, 1h)")
	cmd.Flags().Float64("cost-budget", 0, "Cost budget per run (0 = unlimited)")
	cmd.Flags().Bool("unsafe", false, "Allow dangerous tools such as run_shell")
}
