package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with pointer fields so that keys absent from the
// YAML leave lower-precedence values alone. Durations are strings.
type fileConfig struct {
	LogLevel  *string `yaml:"log_level"`
	LogDir    *string `yaml:"log_dir"`
	RunsDir   *string `yaml:"runs_dir"`
	Workspace *string `yaml:"workspace"`

	Agent *struct {
		MaxSteps           *int     `yaml:"max_steps"`
		Timeout            *string  `yaml:"timeout"`
		CostBudget         *float64 `yaml:"cost_budget"`
		CostPerUnit        *float64 `yaml:"cost_per_unit"`
		Planner            *string  `yaml:"planner"`
		Candidates         *int     `yaml:"candidates"`
		Decompose          *bool    `yaml:"decompose"`
		ToolMaxRetries     *int     `yaml:"tool_max_retries"`
		ToolRetryBackoff   *string  `yaml:"tool_retry_backoff"`
		ToolTimeout        *string  `yaml:"tool_timeout"`
		ObservationCeiling *int     `yaml:"observation_ceiling"`
		NoProgressLimit    *int     `yaml:"no_progress_limit"`
		MemoryLimit        *int     `yaml:"memory_limit"`
		Unsafe             *bool    `yaml:"unsafe"`
		Critic             *bool    `yaml:"critic"`
	} `yaml:"agent"`

	Loop *struct {
		Window    *int `yaml:"window"`
		Threshold *int `yaml:"threshold"`
	} `yaml:"loop"`

	Thrash *struct {
		RepeatedAction   *int `yaml:"repeated_action"`
		RepeatedFileRead *int `yaml:"repeated_file_read"`
		NoProgress       *int `yaml:"no_progress"`
		RepeatedError    *int `yaml:"repeated_error"`
		StopSeverity     *int `yaml:"stop_severity"`
	} `yaml:"thrash"`

	Swarm *struct {
		Profile          *string `yaml:"profile"`
		Workers          *int    `yaml:"workers"`
		MaxSubtasks      *int    `yaml:"max_subtasks"`
		Isolation        *string `yaml:"isolation"`
		CleanupWorktrees *bool   `yaml:"cleanup_worktrees"`
		RunTests         *bool   `yaml:"run_tests"`
		TestCommand      *string `yaml:"test_command"`
		TestTimeout      *string `yaml:"test_timeout"`
	} `yaml:"swarm"`

	Team *struct {
		MaxIterations     *int    `yaml:"max_iterations"`
		MaxRetriesPerStep *int    `yaml:"max_retries_per_step"`
		Research          *bool   `yaml:"research"`
		HeartbeatInterval *string `yaml:"heartbeat_interval"`
	} `yaml:"team"`

	LLM *struct {
		Provider    *string  `yaml:"provider"`
		Model       *string  `yaml:"model"`
		CLIPath     *string  `yaml:"cli_path"`
		Timeout     *string  `yaml:"timeout"`
		MaxTokens   *int     `yaml:"max_tokens"`
		Temperature *float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Memory *struct {
		Backend     *string `yaml:"backend"`
		Path        *string `yaml:"path"`
		RedisAddr   *string `yaml:"redis_addr"`
		RedisPrefix *string `yaml:"redis_prefix"`
	} `yaml:"memory"`
}

// readFile parses path. It returns nil, nil when the file does not exist.
func readFile(path string) (*fileConfig, error) {
	if path == "" || !fileExists(path) {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &fc, nil
}

func setDuration(dst *time.Duration, key string, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s format %q: %w", key, *v, err)
	}
	*dst = d
	return nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func (fc *fileConfig) applyTo(c *Config) error {
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogDir, fc.LogDir)
	setString(&c.RunsDir, fc.RunsDir)
	setString(&c.Workspace, fc.Workspace)

	if a := fc.Agent; a != nil {
		setInt(&c.Agent.MaxSteps, a.MaxSteps)
		if err := setDuration(&c.Agent.Timeout, "agent.timeout", a.Timeout); err != nil {
			return err
		}
		setFloat(&c.Agent.CostBudget, a.CostBudget)
		setFloat(&c.Agent.CostPerUnit, a.CostPerUnit)
		setString(&c.Agent.Planner, a.Planner)
		setInt(&c.Agent.Candidates, a.Candidates)
		setBool(&c.Agent.Decompose, a.Decompose)
		setInt(&c.Agent.ToolMaxRetries, a.ToolMaxRetries)
		if err := setDuration(&c.Agent.ToolRetryBackoff, "agent.tool_retry_backoff", a.ToolRetryBackoff); err != nil {
			return err
		}
		if err := setDuration(&c.Agent.ToolTimeout, "agent.tool_timeout", a.ToolTimeout); err != nil {
			return err
		}
		setInt(&c.Agent.ObservationCeiling, a.ObservationCeiling)
		setInt(&c.Agent.NoProgressLimit, a.NoProgressLimit)
		setInt(&c.Agent.MemoryLimit, a.MemoryLimit)
		setBool(&c.Agent.Unsafe, a.Unsafe)
		setBool(&c.Agent.Critic, a.Critic)
	}
	if l := fc.Loop; l != nil {
		setInt(&c.Loop.Window, l.Window)
		setInt(&c.Loop.Threshold, l.Threshold)
	}
	if t := fc.Thrash; t != nil {
		setInt(&c.Thrash.RepeatedAction, t.RepeatedAction)
		setInt(&c.Thrash.RepeatedFileRead, t.RepeatedFileRead)
		setInt(&c.Thrash.NoProgress, t.NoProgress)
		setInt(&c.Thrash.RepeatedError, t.RepeatedError)
		setInt(&c.Thrash.StopSeverity, t.StopSeverity)
	}
	if s := fc.Swarm; s != nil {
		setString(&c.Swarm.Profile, s.Profile)
		setInt(&c.Swarm.Workers, s.Workers)
		setInt(&c.Swarm.MaxSubtasks, s.MaxSubtasks)
		setString(&c.Swarm.Isolation, s.Isolation)
		setBool(&c.Swarm.CleanupWorktrees, s.CleanupWorktrees)
		setBool(&c.Swarm.RunTests, s.RunTests)
		setString(&c.Swarm.TestCommand, s.TestCommand)
		if err := setDuration(&c.Swarm.TestTimeout, "swarm.test_timeout", s.TestTimeout); err != nil {
			return err
		}
	}
	if t := fc.Team; t != nil {
		setInt(&c.Team.MaxIterations, t.MaxIterations)
		setInt(&c.Team.MaxRetriesPerStep, t.MaxRetriesPerStep)
		setBool(&c.Team.Research, t.Research)
		if err := setDuration(&c.Team.HeartbeatInterval, "team.heartbeat_interval", t.HeartbeatInterval); err != nil {
			return err
		}
	}
	if l := fc.LLM; l != nil {
		setString(&c.LLM.Provider, l.Provider)
		setString(&c.LLM.Model, l.Model)
		setString(&c.LLM.CLIPath, l.CLIPath)
		if err := setDuration(&c.LLM.Timeout, "llm.timeout", l.Timeout); err != nil {
			return err
		}
		setInt(&c.LLM.MaxTokens, l.MaxTokens)
		setFloat(&c.LLM.Temperature, l.Temperature)
	}
	if m := fc.Memory; m != nil {
		setString(&c.Memory.Backend, m.Backend)
		setString(&c.Memory.Path, m.Path)
		setString(&c.Memory.RedisAddr, m.RedisAddr)
		setString(&c.Memory.RedisPrefix, m.RedisPrefix)
	}
	return nil
}
