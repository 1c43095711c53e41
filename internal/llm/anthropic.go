package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend calls the Messages API.
type AnthropicBackend struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// NewAnthropicBackend builds a client. An empty apiKey falls back to
// ANTHROPIC_API_KEY.
func NewAnthropicBackend(apiKey, model string, maxTokens int, temperature float64, opts ...option.RequestOption) *AnthropicBackend {
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicBackend{
		client:      anthropic.NewClient(opts...),
		model:       anthropic.Model(model),
		maxTokens:   int64(maxTokens),
		temperature: temperature,
	}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) CompleteJSON(ctx context.Context, prompt, schema string, out any) error {
	params := anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(schemaPrompt(prompt, schema))),
		},
		System:      []anthropic.TextBlockParam{{Text: SystemPrompt}},
		Temperature: anthropic.Float(b.temperature),
	}
	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		if cerr := fromContext(ctx, b.Name()); cerr != nil {
			return cerr
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return fromStatus(apiErr.StatusCode, b.Name(), err)
		}
		return newError(KindExecution, b.Name(), "request failed", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return decodeContent(b.Name(), text.String(), out)
}
