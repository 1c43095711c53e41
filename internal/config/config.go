// Package config loads engine settings. Precedence, lowest first: built-in
// defaults, swarm profile, YAML file, DRCODEPT_* environment, CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Planner modes.
const (
	PlannerReactive  = "reactive"
	PlannerPlanFirst = "plan_first"
)

// Reasoning backend providers.
const (
	ProviderCLI       = "cli"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Memory store backends.
const (
	MemorySQLite = "sqlite"
	MemoryRedis  = "redis"
	MemoryInMem  = "memory"
	MemoryNone   = "none"
)

// AgentConfig bounds a single-agent run.
type AgentConfig struct {
	MaxSteps           int           `yaml:"max_steps"`
	Timeout            time.Duration `yaml:"timeout"`
	CostBudget         float64       `yaml:"cost_budget"`
	CostPerUnit        float64       `yaml:"cost_per_unit"`
	Planner            string        `yaml:"planner"`
	Candidates         int           `yaml:"candidates"`
	Decompose          bool          `yaml:"decompose"`
	ToolMaxRetries     int           `yaml:"tool_max_retries"`
	ToolRetryBackoff   time.Duration `yaml:"tool_retry_backoff"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	ObservationCeiling int           `yaml:"observation_ceiling"`
	NoProgressLimit    int           `yaml:"no_progress_limit"`
	MemoryLimit        int           `yaml:"memory_limit"`
	Unsafe             bool          `yaml:"unsafe"`
	Critic             bool          `yaml:"critic"`
}

// LoopConfig sizes the repeat-signature detector.
type LoopConfig struct {
	Window    int `yaml:"window"`
	Threshold int `yaml:"threshold"`
}

// ThrashConfig holds the thrash guard thresholds.
type ThrashConfig struct {
	RepeatedAction   int `yaml:"repeated_action"`
	RepeatedFileRead int `yaml:"repeated_file_read"`
	NoProgress       int `yaml:"no_progress"`
	RepeatedError    int `yaml:"repeated_error"`
	StopSeverity     int `yaml:"stop_severity"`
}

// SwarmConfig controls decomposition, isolation and the worker pool.
type SwarmConfig struct {
	Profile          string        `yaml:"profile"`
	Workers          int           `yaml:"workers"`
	MaxSubtasks      int           `yaml:"max_subtasks"`
	Isolation        string        `yaml:"isolation"`
	CleanupWorktrees bool          `yaml:"cleanup_worktrees"`
	RunTests         bool          `yaml:"run_tests"`
	TestCommand      string        `yaml:"test_command"`
	TestTimeout      time.Duration `yaml:"test_timeout"`
}

// TeamConfig controls the supervisor state machine.
type TeamConfig struct {
	MaxIterations     int           `yaml:"max_iterations"`
	MaxRetriesPerStep int           `yaml:"max_retries_per_step"`
	Research          bool          `yaml:"research"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// LLMConfig selects and tunes the reasoning backend.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	CLIPath     string        `yaml:"cli_path"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
}

// MemoryConfig selects the long-term memory store.
type MemoryConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// Config is the full engine configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogDir    string `yaml:"log_dir"`
	RunsDir   string `yaml:"runs_dir"`
	Workspace string `yaml:"workspace"`

	Agent  AgentConfig  `yaml:"agent"`
	Loop   LoopConfig   `yaml:"loop"`
	Thrash ThrashConfig `yaml:"thrash"`
	Swarm  SwarmConfig  `yaml:"swarm"`
	Team   TeamConfig   `yaml:"team"`
	LLM    LLMConfig    `yaml:"llm"`
	Memory MemoryConfig `yaml:"memory"`
}

// DefaultConfig returns the built-in defaults with the fast profile applied.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel:  "info",
		LogDir:    filepath.Join(".drcodept", "logs"),
		RunsDir:   filepath.Join(".drcodept", "runs"),
		Workspace: ".",
		Agent: AgentConfig{
			MaxSteps:           30,
			Timeout:            10 * time.Minute,
			Planner:            PlannerReactive,
			Candidates:         3,
			ToolMaxRetries:     2,
			ToolRetryBackoff:   500 * time.Millisecond,
			ToolTimeout:        60 * time.Second,
			ObservationCeiling: 20,
			NoProgressLimit:    6,
			MemoryLimit:        5,
		},
		Loop: LoopConfig{Window: 8, Threshold: 3},
		Thrash: ThrashConfig{
			RepeatedAction:   3,
			RepeatedFileRead: 3,
			NoProgress:       5,
			RepeatedError:    2,
			StopSeverity:     9,
		},
		Swarm: SwarmConfig{
			MaxSubtasks: 4,
			TestTimeout: 10 * time.Minute,
		},
		Team: TeamConfig{
			MaxIterations:     50,
			MaxRetriesPerStep: 2,
			Research:          true,
			HeartbeatInterval: 15 * time.Second,
		},
		LLM: LLMConfig{
			Provider:  ProviderCLI,
			CLIPath:   "claude",
			Timeout:   5 * time.Minute,
			MaxTokens: 4096,
		},
		Memory: MemoryConfig{
			Backend:     MemorySQLite,
			Path:        filepath.Join(".drcodept", "memory.db"),
			RedisAddr:   "localhost:6379",
			RedisPrefix: "drcodept",
		},
	}
	cfg.ApplyProfile(ProfileFast)
	return cfg
}

// LoadConfig builds a configuration from defaults, the named profile (or the
// file's swarm.profile when profile is empty), the YAML file at path and the
// environment. A missing file is not an error.
func LoadConfig(path, profile string) (*Config, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if profile == "" && fc != nil && fc.Swarm != nil && fc.Swarm.Profile != nil {
		profile = *fc.Swarm.Profile
	}
	if profile != "" {
		if err := cfg.ApplyProfile(profile); err != nil {
			return nil, err
		}
	}
	if fc != nil {
		if err := fc.applyTo(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromDir loads .drcodept/config.yaml under dir.
func LoadConfigFromDir(dir, profile string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".drcodept", "config.yaml"), profile)
}

// Overrides carries CLI flag values. Nil fields were not set on the command
// line and leave the configuration untouched.
type Overrides struct {
	MaxSteps         *int
	Timeout          *time.Duration
	CostBudget       *float64
	Planner          *string
	Unsafe           *bool
	Workers          *int
	MaxSubtasks      *int
	Isolation        *string
	CleanupWorktrees *bool
	TestCommand      *string
	Provider         *string
	Model            *string
	LogLevel         *string
	Workspace        *string
}

// MergeWithFlags applies CLI overrides on top of everything else.
func (c *Config) MergeWithFlags(o Overrides) {
	setInt(&c.Agent.MaxSteps, o.MaxSteps)
	if o.Timeout != nil {
		c.Agent.Timeout = *o.Timeout
	}
	if o.CostBudget != nil {
		c.Agent.CostBudget = *o.CostBudget
	}
	setString(&c.Agent.Planner, o.Planner)
	if o.Unsafe != nil {
		c.Agent.Unsafe = *o.Unsafe
	}
	setInt(&c.Swarm.Workers, o.Workers)
	setInt(&c.Swarm.MaxSubtasks, o.MaxSubtasks)
	setString(&c.Swarm.Isolation, o.Isolation)
	if o.CleanupWorktrees != nil {
		c.Swarm.CleanupWorktrees = *o.CleanupWorktrees
	}
	if o.TestCommand != nil {
		c.Swarm.TestCommand = *o.TestCommand
		if *o.TestCommand != "" {
			c.Swarm.RunTests = true
		}
	}
	setString(&c.LLM.Provider, o.Provider)
	setString(&c.LLM.Model, o.Model)
	setString(&c.LogLevel, o.LogLevel)
	setString(&c.Workspace, o.Workspace)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

var validLogLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate rejects out-of-range limits and unknown enum values.
func (c *Config) Validate() error {
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log_level %q: must be one of trace, debug, info, warn, error", c.LogLevel)
	}
	a := c.Agent
	switch {
	case a.MaxSteps <= 0:
		return fmt.Errorf("agent.max_steps must be positive, got %d", a.MaxSteps)
	case a.Timeout <= 0:
		return fmt.Errorf("agent.timeout must be positive, got %s", a.Timeout)
	case a.CostBudget < 0 || a.CostPerUnit < 0:
		return fmt.Errorf("agent cost settings must not be negative")
	case a.ToolMaxRetries < 0:
		return fmt.Errorf("agent.tool_max_retries must not be negative, got %d", a.ToolMaxRetries)
	case a.ToolRetryBackoff < 0 || a.ToolTimeout < 0:
		return fmt.Errorf("agent tool durations must not be negative")
	case a.ObservationCeiling < 2:
		return fmt.Errorf("agent.observation_ceiling must be at least 2, got %d", a.ObservationCeiling)
	case a.NoProgressLimit <= 0:
		return fmt.Errorf("agent.no_progress_limit must be positive, got %d", a.NoProgressLimit)
	case a.Candidates < 1:
		return fmt.Errorf("agent.candidates must be at least 1, got %d", a.Candidates)
	}
	if a.Planner != PlannerReactive && a.Planner != PlannerPlanFirst {
		return fmt.Errorf("invalid agent.planner %q: must be %s or %s", a.Planner, PlannerReactive, PlannerPlanFirst)
	}
	if c.Loop.Window < 1 || c.Loop.Threshold < 1 {
		return fmt.Errorf("loop window and threshold must be at least 1")
	}
	t := c.Thrash
	if t.RepeatedAction < 1 || t.RepeatedFileRead < 1 || t.NoProgress < 1 || t.RepeatedError < 1 {
		return fmt.Errorf("thrash thresholds must be at least 1")
	}
	if t.StopSeverity < 0 || t.StopSeverity > 10 {
		return fmt.Errorf("thrash.stop_severity must be within 0-10, got %d", t.StopSeverity)
	}
	if c.Swarm.Workers < 1 {
		return fmt.Errorf("swarm.workers must be at least 1, got %d", c.Swarm.Workers)
	}
	if c.Swarm.MaxSubtasks < 1 {
		return fmt.Errorf("swarm.max_subtasks must be at least 1, got %d", c.Swarm.MaxSubtasks)
	}
	if !models.Isolation(c.Swarm.Isolation).Valid() {
		return fmt.Errorf("invalid swarm.isolation %q: must be none, sandbox or worktree", c.Swarm.Isolation)
	}
	if c.Team.MaxIterations < 1 || c.Team.MaxRetriesPerStep < 0 {
		return fmt.Errorf("team limits out of range")
	}
	switch c.LLM.Provider {
	case ProviderCLI, ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid llm.provider %q", c.LLM.Provider)
	}
	switch c.Memory.Backend {
	case MemorySQLite, MemoryRedis, MemoryInMem, MemoryNone:
	default:
		return fmt.Errorf("invalid memory.backend %q", c.Memory.Backend)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
