package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every recognised environment variable.
const EnvPrefix = "DRCODEPT"

// envKeys are bound as DRCODEPT_<KEY with dots replaced by underscores>.
var envKeys = []string{
	"agent.max_steps",
	"agent.timeout_seconds",
	"agent.cost_budget",
	"agent.cost_per_unit",
	"agent.planner",
	"agent.tool_max_retries",
	"agent.unsafe",
	"agent.critic",
	"loop.window",
	"loop.threshold",
	"thrash.repeated_action",
	"thrash.repeated_file_read",
	"thrash.no_progress",
	"thrash.repeated_error",
	"swarm.workers",
	"swarm.max_subtasks",
	"swarm.isolation",
	"swarm.test_command",
	"llm.provider",
	"llm.model",
	"memory.backend",
	"memory.redis_addr",
	"log.level",
}

// EnvVar returns the environment variable name for a config key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func newEnvViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range envKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}
	return v, nil
}

// ApplyEnv overlays DRCODEPT_* environment variables.
func (c *Config) ApplyEnv() error {
	v, err := newEnvViper()
	if err != nil {
		return err
	}
	e := envReader{v: v}

	e.intVar("agent.max_steps", &c.Agent.MaxSteps)
	var secs int
	if e.intVar("agent.timeout_seconds", &secs) {
		c.Agent.Timeout = time.Duration(secs) * time.Second
	}
	e.floatVar("agent.cost_budget", &c.Agent.CostBudget)
	e.floatVar("agent.cost_per_unit", &c.Agent.CostPerUnit)
	e.stringVar("agent.planner", &c.Agent.Planner)
	e.intVar("agent.tool_max_retries", &c.Agent.ToolMaxRetries)
	e.boolVar("agent.unsafe", &c.Agent.Unsafe)
	e.boolVar("agent.critic", &c.Agent.Critic)
	e.intVar("loop.window", &c.Loop.Window)
	e.intVar("loop.threshold", &c.Loop.Threshold)
	e.intVar("thrash.repeated_action", &c.Thrash.RepeatedAction)
	e.intVar("thrash.repeated_file_read", &c.Thrash.RepeatedFileRead)
	e.intVar("thrash.no_progress", &c.Thrash.NoProgress)
	e.intVar("thrash.repeated_error", &c.Thrash.RepeatedError)
	e.intVar("swarm.workers", &c.Swarm.Workers)
	e.intVar("swarm.max_subtasks", &c.Swarm.MaxSubtasks)
	e.stringVar("swarm.isolation", &c.Swarm.Isolation)
	if e.stringVar("swarm.test_command", &c.Swarm.TestCommand) && c.Swarm.TestCommand != "" {
		c.Swarm.RunTests = true
	}
	e.stringVar("llm.provider", &c.LLM.Provider)
	e.stringVar("llm.model", &c.LLM.Model)
	e.stringVar("memory.backend", &c.Memory.Backend)
	e.stringVar("memory.redis_addr", &c.Memory.RedisAddr)
	e.stringVar("log.level", &c.LogLevel)

	return e.err
}

// envReader parses set variables, keeping the first parse error.
type envReader struct {
	v   *viper.Viper
	err error
}

func (e *envReader) raw(key string) (string, bool) {
	if !e.v.IsSet(key) {
		return "", false
	}
	return strings.TrimSpace(e.v.GetString(key)), true
}

func (e *envReader) fail(key, val string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", EnvVar(key), val, err)
	}
}

func (e *envReader) intVar(key string, dst *int) bool {
	s, ok := e.raw(key)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		e.fail(key, s, err)
		return false
	}
	*dst = n
	return true
}

func (e *envReader) floatVar(key string, dst *float64) bool {
	s, ok := e.raw(key)
	if !ok {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		e.fail(key, s, err)
		return false
	}
	*dst = f
	return true
}

func (e *envReader) boolVar(key string, dst *bool) bool {
	s, ok := e.raw(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		e.fail(key, s, err)
		return false
	}
	*dst = b
	return true
}

func (e *envReader) stringVar(key string, dst *string) bool {
	s, ok := e.raw(key)
	if !ok {
		return false
	}
	*dst = s
	return true
}
