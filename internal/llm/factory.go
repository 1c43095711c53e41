package llm

import (
	"fmt"
	"os"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/config"
)

// New constructs a fresh backend for cfg. Call it once per run or subtask.
// dir is the working directory handed to subprocess backends.
func New(cfg config.LLMConfig, dir string) (Backend, error) {
	switch cfg.Provider {
	case config.ProviderCLI, "":
		b := NewCLIBackend(cfg.CLIPath, cfg.Model, cfg.Timeout)
		b.Dir = dir
		return b, nil
	case config.ProviderAnthropic:
		return NewAnthropicBackend(os.Getenv("ANTHROPIC_API_KEY"), cfg.Model, cfg.MaxTokens, cfg.Temperature), nil
	case config.ProviderOpenAI:
		return NewOpenAIBackend(os.Getenv("OPENAI_API_KEY"), cfg.Model, cfg.MaxTokens, cfg.Temperature), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Factory builds backends on demand; swarm workers each call it once.
type Factory func(dir string) (Backend, error)

// NewFactory binds cfg into a Factory.
func NewFactory(cfg config.LLMConfig) Factory {
	return func(dir string) (Backend, error) { return New(cfg, dir) }
}
