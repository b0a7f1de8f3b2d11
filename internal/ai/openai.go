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

// OpenAIConfig configures the OpenAI chat completions provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// Transport overrides the retrying transport, mostly for tests.
	Transport http.RoundTripper
}

// OpenAI calls POST /v1/chat/completions.
type OpenAI struct {
	client *httputil.ServiceClient
	model  string
}

var _ Completer = (*OpenAI)(nil)

// NewOpenAI creates the provider. The API key is required.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAI{
		client: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL:   cfg.BaseURL,
			Headers:   map[string]string{"Authorization": "Bearer " + cfg.APIKey},
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			Breaker:   ProviderOpenAI,
		}),
		model: cfg.Model,
	}, nil
}

func (o *OpenAI) Name() string         { return ProviderOpenAI }
func (o *OpenAI) DefaultModel() string { return o.model }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model          string            `json:"model"`
	Messages       []openaiMessage   `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

// Complete sends one chat completion.
func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	body := openaiRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.Prompt.System != "" {
		body.Messages = append(body.Messages, openaiMessage{Role: "system", Content: req.Prompt.System})
	}
	body.Messages = append(body.Messages, openaiMessage{Role: "user", Content: req.Prompt.User})
	if req.JSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	raw, err := o.post(ctx, "/v1/chat/completions", body)
	if err != nil {
		return Completion{}, err
	}

	res := gjson.ParseBytes(raw)
	text := res.Get("choices.0.message.content").String()
	if strings.TrimSpace(text) == "" {
		if reason := res.Get("choices.0.finish_reason").String(); reason != "" {
			return Completion{}, fmt.Errorf("OpenAI returned no content (finish_reason %s)", reason)
		}
		return Completion{}, fmt.Errorf("OpenAI returned no content")
	}
	out := Completion{
		Text:  text,
		Model: res.Get("model").String(),
		Usage: Usage{
			InputTokens:  res.Get("usage.prompt_tokens").Int(),
			OutputTokens: res.Get("usage.completion_tokens").Int(),
		},
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

func (o *OpenAI) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	resp, err := o.client.Post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := httputil.ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return nil, fmt.Errorf("read OpenAI response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if msg := gjson.GetBytes(raw, "error.message").String(); msg != "" {
			return nil, fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
