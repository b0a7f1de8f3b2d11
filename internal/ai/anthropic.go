package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pinnlo/service_layer/internal/httputil"
)

const anthropicVersion = "2023-06-01"

// AnthropicConfig configures the Anthropic messages provider.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Anthropic calls POST /v1/messages.
type Anthropic struct {
	client *httputil.ServiceClient
	model  string
}

var _ Completer = (*Anthropic)(nil)

// NewAnthropic creates the provider. The API key is required.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Anthropic{
		client: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL: cfg.BaseURL,
			Headers: map[string]string{
				"x-api-key":         cfg.APIKey,
				"anthropic-version": anthropicVersion,
			},
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			Breaker:   ProviderAnthropic,
		}),
		model: cfg.Model,
	}, nil
}

func (a *Anthropic) Name() string         { return ProviderAnthropic }
func (a *Anthropic) DefaultModel() string { return a.model }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

// Complete sends one messages request and joins the text blocks of the reply.
func (a *Anthropic) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	body := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.Prompt.System,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt.User}},
		Temperature: req.Temperature,
	}

	resp, err := a.client.Post(ctx, "/v1/messages", body)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	raw, err := httputil.ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return Completion{}, fmt.Errorf("read Anthropic response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if msg := gjson.GetBytes(raw, "error.message").String(); msg != "" {
			return Completion{}, fmt.Errorf("Anthropic API error (%d): %s", resp.StatusCode, msg)
		}
		return Completion{}, fmt.Errorf("Anthropic API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	res := gjson.ParseBytes(raw)
	var text strings.Builder
	res.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
		return true
	})
	if strings.TrimSpace(text.String()) == "" {
		return Completion{}, fmt.Errorf("Anthropic returned no text content (stop_reason %s)", res.Get("stop_reason").String())
	}

	out := Completion{
		Text:  text.String(),
		Model: res.Get("model").String(),
		Usage: Usage{
			InputTokens:  res.Get("usage.input_tokens").Int(),
			OutputTokens: res.Get("usage.output_tokens").Int(),
		},
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}
