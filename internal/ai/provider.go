// Package ai turns a card generation request into normalised candidate
// cards by rendering a prompt, calling an LLM provider and parsing the reply.
package ai

import (
	"context"
	"fmt"
	"strings"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMCP       = "mcp"
)

// Prompt is a rendered system + user message pair.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// CompletionRequest is one call to a chat model.
type CompletionRequest struct {
	Prompt      Prompt
	Model       string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON-only reply where supported.
	JSON bool
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Completion is a model reply.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Completer is a chat-completion backend.
type Completer interface {
	Name() string
	DefaultModel() string
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// ProviderError wraps a failed provider call with the provider and model.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrNoCards is returned when a reply contains no usable cards.
var ErrNoCards = fmt.Errorf("no cards found in AI response")

// NormalizeProvider lower-cases and trims a provider name.
func NormalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
