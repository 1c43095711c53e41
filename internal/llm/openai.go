package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend calls the Chat Completions API in JSON mode.
type OpenAIBackend struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewOpenAIBackend builds a client. An empty apiKey falls back to
// OPENAI_API_KEY.
func NewOpenAIBackend(apiKey, model string, maxTokens int, temperature float64, opts ...option.RequestOption) *OpenAIBackend {
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAIBackend{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: temperature,
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) CompleteJSON(ctx context.Context, prompt, schema string, out any) error {
	params := openai.ChatCompletionNewParams{
		Model: b.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(schemaPrompt(prompt, schema)),
		},
		Temperature:         openai.Float(b.temperature),
		MaxCompletionTokens: openai.Int(b.maxTokens),
	}
	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if cerr := fromContext(ctx, b.Name()); cerr != nil {
			return cerr
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return fromStatus(apiErr.StatusCode, b.Name(), err)
		}
		return newError(KindExecution, b.Name(), "request failed", err)
	}
	if len(resp.Choices) == 0 {
		return newError(KindOutput, b.Name(), "no choices returned", nil)
	}
	return decodeContent(b.Name(), resp.Choices[0].Message.Content, out)
}
