// Package llm is the boundary to the external reasoning backend. Every
// backend answers a prompt with a JSON document conforming to a schema.
// Clients are constructed per run or per subtask and passed down; there is
// no process-wide router.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// SystemPrompt forces JSON-only answers.
const SystemPrompt = "You are the planning core of an automation agent. Your ONLY output must be valid JSON matching the provided schema. No markdown, no code fences, no prose. Output raw JSON only."

// Backend answers prompts with structured JSON.
type Backend interface {
	// CompleteJSON sends prompt with a JSON schema and decodes the answer
	// into out. Failures are always *Error.
	CompleteJSON(ctx context.Context, prompt, schema string, out any) error
	Name() string
}

// decodeContent unmarshals content into out, falling back to the outermost
// JSON object when the model wrapped it in prose or fences.
func decodeContent(provider, content string, out any) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return newError(KindOutput, provider, "empty response", nil)
	}
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}
	extracted := ExtractJSON(content)
	if extracted == "" {
		return newError(KindOutput, provider, "no JSON object in response: "+truncate(content, 200), nil)
	}
	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return newError(KindOutput, provider, "invalid JSON: "+truncate(extracted, 200), err)
	}
	return nil
}

// ExtractJSON returns the substring from the first '{' to the last '}', or
// "" when there is none.
func ExtractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return ""
}

// schemaPrompt appends the schema to prompts for backends without native
// structured output.
func schemaPrompt(prompt, schema string) string {
	if schema == "" {
		return prompt
	}
	return fmt.Sprintf("%s\n\nRespond with a single JSON object matching this JSON schema:\n%s", prompt, schema)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
