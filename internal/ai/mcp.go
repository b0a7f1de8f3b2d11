package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// GenerateCardsTool is the MCP tool name the API calls.
const GenerateCardsTool = "generate_cards"

// MCPConfig configures the MCP card source.
type MCPConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	// Transport overrides the streamable HTTP transport, mostly for tests.
	// It is called once per tool call.
	Transport func() mcp.Transport
}

// MCPSource calls the generate_cards tool of a PINNLO MCP server.
type MCPSource struct {
	cfg    MCPConfig
	client *mcp.Client
}

var _ CardSource = (*MCPSource)(nil)

// NewMCPSource creates a card source for the MCP server at cfg.URL.
func NewMCPSource(cfg MCPConfig) (*MCPSource, error) {
	if cfg.URL == "" && cfg.Transport == nil {
		return nil, fmt.Errorf("MCP_SERVER_URL not set")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &MCPSource{
		cfg:    cfg,
		client: mcp.NewClient(&mcp.Implementation{Name: "pinnlo-api", Version: "1.0.0"}, nil),
	}, nil
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

func (s *MCPSource) transport() mcp.Transport {
	if s.cfg.Transport != nil {
		return s.cfg.Transport()
	}
	httpClient := &http.Client{Timeout: s.cfg.Timeout}
	if s.cfg.Token != "" {
		httpClient.Transport = &bearerTransport{token: s.cfg.Token, base: http.DefaultTransport}
	}
	return &mcp.StreamableClientTransport{Endpoint: s.cfg.URL, HTTPClient: httpClient}
}

// GenerateCards opens a session, calls the tool and closes the session.
func (s *MCPSource) GenerateCards(ctx context.Context, in ToolInput) (ToolOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	session, err := s.client.Connect(ctx, s.transport(), nil)
	if err != nil {
		return ToolOutput{}, fmt.Errorf("connect MCP server: %w", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: GenerateCardsTool, Arguments: in})
	if err != nil {
		return ToolOutput{}, fmt.Errorf("call %s: %w", GenerateCardsTool, err)
	}
	if res.IsError {
		return ToolOutput{}, fmt.Errorf("%s failed: %s", GenerateCardsTool, toolText(res))
	}

	var out ToolOutput
	if res.StructuredContent != nil {
		data, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return ToolOutput{}, fmt.Errorf("encode structured content: %w", err)
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return ToolOutput{}, fmt.Errorf("decode %s output: %w", GenerateCardsTool, err)
		}
		return out, nil
	}
	if err := json.Unmarshal([]byte(toolText(res)), &out); err != nil {
		return ToolOutput{}, fmt.Errorf("decode %s output: %w", GenerateCardsTool, err)
	}
	return out, nil
}

func toolText(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return "no content"
}
