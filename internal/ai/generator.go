package ai

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/metrics"
	"github.com/pinnlo/service_layer/internal/logging"
)

// CardSource produces already-parsed cards, as the MCP tool server does.
type CardSource interface {
	GenerateCards(ctx context.Context, in ToolInput) (ToolOutput, error)
}

// GenerateRequest selects a provider and describes the cards wanted.
type GenerateRequest struct {
	Provider string
	Model    string
	Data     PromptData
}

// GenerateResult is the normalised outcome of a generation.
type GenerateResult struct {
	Cards    []card.Card `json:"cards"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Usage    Usage       `json:"usage"`
	// Rated is parallel to Cards. A nil slice means every rating was set.
	Rated []Rated `json:"-"`
}

// RatedAt reports which ratings the reply set for Cards[i].
func (r *GenerateResult) RatedAt(i int) Rated {
	if i < len(r.Rated) {
		return r.Rated[i]
	}
	return Rated{Priority: true, Confidence: true}
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	DefaultProvider string
	MaxTokens       int
	Temperature     float64
}

// Generator renders prompts, calls a provider and normalises the reply.
type Generator struct {
	cfg       GeneratorConfig
	prompts   *PromptBuilder
	providers map[string]Completer
	mcp       CardSource
	log       *logging.Logger
}

// NewGenerator creates a Generator. Providers may be added with Register and
// the MCP source with UseMCP.
func NewGenerator(cfg GeneratorConfig, prompts *PromptBuilder, log *logging.Logger) *Generator {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = ProviderOpenAI
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if log == nil {
		log = logging.NewDefault("ai")
	}
	return &Generator{
		cfg:       cfg,
		prompts:   prompts,
		providers: make(map[string]Completer),
		log:       log,
	}
}

// Register adds an LLM provider under its name.
func (g *Generator) Register(p Completer) {
	g.providers[p.Name()] = p
}

// UseMCP routes the "mcp" provider to src.
func (g *Generator) UseMCP(src CardSource) {
	g.mcp = src
}

// Prompts returns the prompt builder.
func (g *Generator) Prompts() *PromptBuilder { return g.prompts }

// Providers lists the configured provider names.
func (g *Generator) Providers() []string {
	names := make([]string, 0, len(g.providers)+1)
	for name := range g.providers {
		names = append(names, name)
	}
	if g.mcp != nil {
		names = append(names, ProviderMCP)
	}
	sort.Strings(names)
	return names
}

// ErrProviderUnavailable reports a provider that is unknown or lacks credentials.
type ErrProviderUnavailable struct{ Provider string }

func (e *ErrProviderUnavailable) Error() string {
	return fmt.Sprintf("AI provider %q is not configured", e.Provider)
}

// Resolve returns the provider name that a request would use.
func (g *Generator) Resolve(provider string) (string, error) {
	name := NormalizeProvider(provider)
	if name == "" {
		name = g.cfg.DefaultProvider
	}
	if name == ProviderMCP {
		if g.mcp == nil {
			return "", &ErrProviderUnavailable{Provider: name}
		}
		return name, nil
	}
	if _, ok := g.providers[name]; !ok {
		return "", &ErrProviderUnavailable{Provider: name}
	}
	return name, nil
}

// Generate produces at most req.Data.Count cards of req.Data.CardType.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	name, err := g.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	if req.Data.Count <= 0 {
		req.Data.Count = 3
	}

	start := time.Now()
	var result *GenerateResult
	if name == ProviderMCP {
		result, err = g.generateViaMCP(ctx, req)
	} else {
		result, err = g.generateViaLLM(ctx, g.providers[name], req)
	}
	elapsed := time.Since(start)

	entry := g.log.WithContext(ctx).WithField("provider", name).WithField("card_type", req.Data.CardType)
	if err != nil {
		metrics.RecordGeneration(name, false, elapsed, 0, 0)
		entry.WithError(err).WithField("model", req.Model).Warn("AI generation failed")
		return nil, &ProviderError{Provider: name, Model: req.Model, Err: err}
	}
	metrics.RecordGeneration(name, true, elapsed, result.Usage.InputTokens, result.Usage.OutputTokens)
	entry.WithField("model", result.Model).
		WithField("cards", len(result.Cards)).
		WithField("duration_ms", elapsed.Milliseconds()).
		Info("AI generation completed")
	return result, nil
}

func (g *Generator) generateViaLLM(ctx context.Context, p Completer, req GenerateRequest) (*GenerateResult, error) {
	prompt, err := g.prompts.Build(req.Data)
	if err != nil {
		return nil, err
	}
	completion, err := p.Complete(ctx, CompletionRequest{
		Prompt:      prompt,
		Model:       req.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	raw, err := ParseCandidates(completion.Text)
	if err != nil {
		return nil, err
	}
	cards, rated := NormalizeCandidates(raw, req.Data.CardType, req.Data.Count)
	if len(cards) == 0 {
		return nil, ErrNoCards
	}
	return &GenerateResult{Cards: cards, Rated: rated, Provider: p.Name(), Model: completion.Model, Usage: completion.Usage}, nil
}

func (g *Generator) generateViaMCP(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	out, err := g.mcp.GenerateCards(ctx, ToolInputFromData(req.Data, "", req.Model))
	if err != nil {
		return nil, err
	}
	cards := make([]card.Card, 0, len(out.Cards))
	rated := make([]Rated, 0, len(out.Cards))
	for _, gc := range out.Cards {
		if len(cards) >= req.Data.Count {
			break
		}
		c := gc.Card(req.Data.CardType)
		if c.Title != "" {
			cards = append(cards, c)
			rated = append(rated, gc.Rated())
		}
	}
	if len(cards) == 0 {
		return nil, ErrNoCards
	}
	return &GenerateResult{Cards: cards, Rated: rated, Provider: ProviderMCP, Model: out.Model}, nil
}
