package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pinnlo/service_layer/internal/logging"
)

// ServiceClient calls a JSON HTTP API with fixed headers.
type ServiceClient struct {
	httpClient *http.Client
	baseURL    string
	headers    http.Header
}

// ServiceClientConfig configures a ServiceClient.
type ServiceClientConfig struct {
	BaseURL string
	// Headers are attached to every request (API keys, versions).
	Headers map[string]string
	Timeout time.Duration
	// Transport overrides the resilient default.
	Transport http.RoundTripper
	// Breaker names the circuit breaker; empty disables it.
	Breaker string
	Retry   *RetryPolicy
}

// NewServiceClient creates a client whose transport retries and circuit-breaks.
func NewServiceClient(cfg ServiceClientConfig) *ServiceClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := cfg.Transport
	if transport == nil {
		policy := DefaultRetryPolicy()
		if cfg.Retry != nil {
			policy = *cfg.Retry
		}
		var breaker *Breaker
		if cfg.Breaker != "" {
			breaker = NewBreaker(cfg.Breaker, DefaultBreakerConfig())
		}
		transport = NewResilientTransport(nil, policy, breaker)
	}

	headers := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		if v != "" {
			headers.Set(k, v)
		}
	}

	return &ServiceClient{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers:    headers,
	}
}

// Do sends body as JSON to baseURL+path.
func (c *ServiceClient) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range c.headers {
		req.Header[k] = vs
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if traceID := logging.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// DoJSON sends body and decodes the response into target.
func (c *ServiceClient) DoJSON(ctx context.Context, method, path string, body, target interface{}) error {
	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, target)
}

func (c *ServiceClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

func (c *ServiceClient) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// HTTPError is a non-2xx response with its (bounded) body.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// DecodeResponse decodes a JSON response into target and closes the body.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return &HTTPError{StatusCode: resp.StatusCode, Body: msg}
	}

	if target == nil {
		_, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20))
		return err
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if raw, ok := target.(*[]byte); ok {
		*raw = body
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
