// Package mcpserver exposes prompt templates and card generation as MCP tools.
package mcpserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pinnlo/service_layer/internal/ai"
	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/httputil"
	"github.com/pinnlo/service_layer/internal/logging"
)

// Tool names.
const (
	ToolListCardTypes       = "list_card_types"
	ToolListPromptTemplates = "list_prompt_templates"
	ToolRenderPrompt        = "render_prompt"
	ToolGenerateCards       = ai.GenerateCardsTool
)

// Config configures the server.
type Config struct {
	Name    string
	Version string
	// Token, when set, is required as a bearer token on /mcp.
	Token string
}

// Generator is the LLM pipeline behind generate_cards.
type Generator interface {
	Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResult, error)
	Prompts() *ai.PromptBuilder
}

// Server is the PINNLO MCP server.
type Server struct {
	cfg     Config
	mcp     *mcp.Server
	gen     Generator
	log     *logging.Logger
	started time.Time
}

// New creates the server and registers its tools.
func New(cfg Config, gen Generator, log *logging.Logger) *Server {
	if cfg.Name == "" {
		cfg.Name = "pinnlo-mcp"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if log == nil {
		log = logging.NewDefault("mcp")
	}
	s := &Server{
		cfg:     cfg,
		mcp:     mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		gen:     gen,
		log:     log,
		started: time.Now(),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// RunStdio serves MCP over stdin/stdout until ctx ends.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Router serves /mcp (streamable HTTP) and /health.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.traceRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": s.cfg.Name,
			"version": s.cfg.Version,
			"uptime":  time.Since(s.started).Round(time.Second).String(),
			"tools":   []string{ToolListCardTypes, ToolListPromptTemplates, ToolRenderPrompt, ToolGenerateCards},
		})
	})

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	r.With(s.requireToken).Handle("/mcp", handler)
	r.With(s.requireToken).Handle("/mcp/*", handler)
	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			s.log.LogSecurityEvent(r.Context(), "mcp_unauthorized", map[string]interface{}{
				"remote_addr": r.RemoteAddr,
				"path":        r.URL.Path,
			})
			httputil.Unauthorized(w, "invalid MCP token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) traceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), traceID)))
	})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolListCardTypes,
		Description: "List every PINNLO card type with its display name and section.",
	}, s.listCardTypes)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolListPromptTemplates,
		Description: "List the card types that have a dedicated prompt template.",
	}, s.listPromptTemplates)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolRenderPrompt,
		Description: "Render the system and user prompt used to generate cards of one type.",
	}, s.renderPrompt)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolGenerateCards,
		Description: "Generate strategy cards of one type with OpenAI or Anthropic and return them normalised.",
	}, s.generateCards)
}

// Empty is the input of argument-less tools.
type Empty struct{}

type CardTypeInfo struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Section string `json:"section"`
}

type CardTypesOutput struct {
	CardTypes []CardTypeInfo `json:"card_types"`
}

type TemplateInfo struct {
	CardType    string `json:"card_type"`
	Description string `json:"description"`
}

type TemplatesOutput struct {
	Templates []TemplateInfo `json:"templates"`
}

type RenderOutput struct {
	System string `json:"system"`
	User   string `json:"user"`
}

func (s *Server) listCardTypes(ctx context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, CardTypesOutput, error) {
	types := card.Types()
	out := CardTypesOutput{CardTypes: make([]CardTypeInfo, len(types))}
	for i, t := range types {
		out.CardTypes[i] = CardTypeInfo{Type: t.Type, Name: t.Name, Section: string(t.Section)}
	}
	return nil, out, nil
}

func (s *Server) listPromptTemplates(ctx context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, TemplatesOutput, error) {
	list := s.gen.Prompts().Templates().List()
	out := TemplatesOutput{Templates: make([]TemplateInfo, len(list))}
	for i, t := range list {
		out.Templates[i] = TemplateInfo{CardType: t.CardType, Description: t.Description}
	}
	return nil, out, nil
}

func (s *Server) renderPrompt(ctx context.Context, _ *mcp.CallToolRequest, in ai.ToolInput) (*mcp.CallToolResult, RenderOutput, error) {
	if err := validateInput(in); err != nil {
		return nil, RenderOutput{}, err
	}
	p, err := s.gen.Prompts().Build(in.Data())
	if err != nil {
		return nil, RenderOutput{}, err
	}
	return nil, RenderOutput{System: p.System, User: p.User}, nil
}

func (s *Server) generateCards(ctx context.Context, _ *mcp.CallToolRequest, in ai.ToolInput) (*mcp.CallToolResult, ai.ToolOutput, error) {
	if err := validateInput(in); err != nil {
		return nil, ai.ToolOutput{}, err
	}
	provider := ai.NormalizeProvider(in.Provider)
	if provider == ai.ProviderMCP {
		return nil, ai.ToolOutput{}, fmt.Errorf("provider %q cannot be used from the MCP server", in.Provider)
	}

	res, err := s.gen.Generate(ctx, ai.GenerateRequest{Provider: provider, Model: in.Model, Data: in.Data()})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("card_type", in.CardType).Warn("generate_cards failed")
		return nil, ai.ToolOutput{}, err
	}
	return nil, ai.ToolOutput{Cards: ai.FromResult(res), Provider: res.Provider, Model: res.Model}, nil
}

func validateInput(in ai.ToolInput) error {
	if !card.ValidType(in.CardType) {
		return fmt.Errorf("unknown card type %q", in.CardType)
	}
	if in.Count < 0 || in.Count > 10 {
		return fmt.Errorf("count must be between 1 and 10")
	}
	return nil
}
