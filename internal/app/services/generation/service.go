// Package generation runs AI card generation against a strategy: it builds
// context from the strategy, its cards and intelligence groups, calls a
// provider, and either caches the cards as a preview or commits them.
package generation

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pinnlo/service_layer/internal/ai"
	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/services/cards"
	"github.com/pinnlo/service_layer/internal/app/services/intelligence"
	"github.com/pinnlo/service_layer/internal/app/storage"
	"github.com/pinnlo/service_layer/internal/cache"
	svcerrors "github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/logging"
)

const (
	MaxCount     = 10
	DefaultCount = 3
	// MaxExistingCards bounds the existing cards sent as context.
	MaxExistingCards = 20
)

// Generator is the AI pipeline used by the service.
type Generator interface {
	Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResult, error)
}

// Request asks for cards of one type in a strategy.
type Request struct {
	StrategyID           string   `json:"strategy_id"`
	CardType             string   `json:"card_type"`
	Count                int      `json:"count"`
	Provider             string   `json:"provider,omitempty"`
	Model                string   `json:"model,omitempty"`
	Context              string   `json:"context,omitempty"`
	Instructions         string   `json:"instructions,omitempty"`
	IncludeExisting      bool     `json:"include_existing"`
	IntelligenceGroupIDs []string `json:"intelligence_group_ids,omitempty"`
	Commit               bool     `json:"commit"`
}

// Result is a preview or the committed cards.
type Result struct {
	PreviewID string      `json:"preview_id,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	Committed bool        `json:"committed"`
	Cards     []card.Card `json:"cards"`
	Provider  string      `json:"provider"`
	Model     string      `json:"model"`
}

// EnhanceRequest asks for a rewrite of one card.
type EnhanceRequest struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Apply        bool   `json:"apply"`
}

// Config tunes the service.
type Config struct {
	PreviewTTL time.Duration
}

// Service orchestrates generation.
type Service struct {
	strategies storage.StrategyStore
	cards      *cards.Service
	groups     *intelligence.Service
	generator  Generator
	previews   cache.PreviewStore
	ttl        time.Duration
	log        *logging.Logger
	now        func() time.Time
}

// New creates a generation service.
func New(cfg Config, strategies storage.StrategyStore, cardSvc *cards.Service, groups *intelligence.Service,
	generator Generator, previews cache.PreviewStore, log *logging.Logger) *Service {
	if cfg.PreviewTTL <= 0 {
		cfg.PreviewTTL = cache.DefaultTTL
	}
	if log == nil {
		log = logging.NewDefault("generation")
	}
	return &Service{
		strategies: strategies,
		cards:      cardSvc,
		groups:     groups,
		generator:  generator,
		previews:   previews,
		ttl:        cfg.PreviewTTL,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Generate produces cards and returns a preview, or inserts them when
// req.Commit is set.
func (s *Service) Generate(ctx context.Context, userID string, req Request) (Result, error) {
	if err := normalizeRequest(&req); err != nil {
		return Result{}, err
	}
	st, err := s.strategies.GetStrategy(ctx, userID, req.StrategyID)
	if err != nil {
		return Result{}, svcerrors.FromStore(err, "strategy")
	}

	data, err := s.buildContext(ctx, userID, st, req)
	if err != nil {
		return Result{}, err
	}
	out, err := s.generator.Generate(ctx, ai.GenerateRequest{Provider: req.Provider, Model: req.Model, Data: data})
	if err != nil {
		return Result{}, upstream(err)
	}

	res := Result{Cards: out.Cards, Provider: out.Provider, Model: out.Model}
	if req.Commit {
		created, err := s.cards.Insert(ctx, userID, st.ID, out.Cards)
		if err != nil {
			return Result{}, err
		}
		res.Cards = created
		res.Committed = true
		return res, nil
	}

	preview := cache.Preview{
		ID:         uuid.NewString(),
		UserID:     userID,
		StrategyID: st.ID,
		CardType:   req.CardType,
		Provider:   out.Provider,
		Model:      out.Model,
		Cards:      out.Cards,
		CreatedAt:  s.now(),
	}
	preview.ExpiresAt = preview.CreatedAt.Add(s.ttl)
	if err := s.previews.Put(ctx, preview, s.ttl); err != nil {
		return Result{}, svcerrors.Internal("failed to store preview", err)
	}
	res.PreviewID = preview.ID
	res.ExpiresAt = &preview.ExpiresAt
	return res, nil
}

// Commit inserts the cards of a cached preview. A preview can be committed
// once, by its owner, into the strategy it was generated for.
func (s *Service) Commit(ctx context.Context, userID, previewID, strategyID string) ([]card.Card, error) {
	previewID = strings.TrimSpace(previewID)
	if previewID == "" {
		return nil, svcerrors.InvalidFormat("preview_id", "is required")
	}
	p, err := s.previews.Get(ctx, previewID)
	if err != nil {
		return nil, previewErr(err)
	}
	if p.UserID != userID || (strategyID != "" && p.StrategyID != strategyID) {
		return nil, svcerrors.NotFound("preview")
	}

	consumed, err := s.previews.Delete(ctx, previewID)
	if err != nil {
		return nil, svcerrors.Internal("failed to consume preview", err)
	}
	if !consumed {
		return nil, svcerrors.NotFound("preview")
	}

	created, err := s.cards.Insert(ctx, userID, p.StrategyID, p.Cards)
	if err != nil {
		remaining := p.ExpiresAt.Sub(s.now())
		if remaining > 0 {
			if putErr := s.previews.Put(ctx, p, remaining); putErr != nil {
				s.log.WithContext(ctx).WithError(putErr).WithField("preview_id", p.ID).Warn("failed to restore preview")
			}
		}
		return nil, err
	}
	s.log.WithContext(ctx).WithField("preview_id", p.ID).WithField("cards", len(created)).Info("preview committed")
	return created, nil
}

// Enhance asks the model to rewrite one card. The proposed card keeps the
// original id; it is only stored when req.Apply is set.
func (s *Service) Enhance(ctx context.Context, userID, cardID string, req EnhanceRequest) (card.Card, error) {
	current, err := s.cards.Get(ctx, userID, cardID)
	if err != nil {
		return card.Card{}, err
	}
	st, err := s.strategies.GetStrategy(ctx, userID, current.StrategyID)
	if err != nil {
		return card.Card{}, svcerrors.FromStore(err, "strategy")
	}

	data, err := s.buildContext(ctx, userID, st, Request{CardType: current.CardType, Count: 1, IncludeExisting: true})
	if err != nil {
		return card.Card{}, err
	}
	data.Instructions = enhanceInstructions(current, req.Instructions)
	data.ExistingCards = withoutCard(data.ExistingCards, current)

	out, err := s.generator.Generate(ctx, ai.GenerateRequest{Provider: req.Provider, Model: req.Model, Data: data})
	if err != nil {
		return card.Card{}, upstream(err)
	}
	proposed := merge(current, out.Cards[0], out.RatedAt(0))
	if !req.Apply {
		return proposed, nil
	}
	return s.cards.Replace(ctx, userID, proposed)
}

func normalizeRequest(req *Request) error {
	req.StrategyID = strings.TrimSpace(req.StrategyID)
	req.CardType = strings.TrimSpace(req.CardType)
	if req.StrategyID == "" {
		return svcerrors.InvalidFormat("strategy_id", "is required")
	}
	if !card.ValidType(req.CardType) {
		return svcerrors.InvalidFormat("card_type", "unknown card type "+req.CardType)
	}
	if req.Count == 0 {
		req.Count = DefaultCount
	}
	if req.Count < 1 || req.Count > MaxCount {
		return svcerrors.InvalidFormat("count", fmt.Sprintf("must be between 1 and %d", MaxCount))
	}
	return nil
}

func (s *Service) buildContext(ctx context.Context, userID string, st strategy.Strategy, req Request) (ai.PromptData, error) {
	data := ai.PromptData{
		Count:    req.Count,
		CardType: req.CardType,
		Strategy: ai.StrategyContext{
			Title:       st.Title,
			Client:      st.Client,
			Description: st.Description,
		},
		Context:      strings.TrimSpace(req.Context),
		Instructions: strings.TrimSpace(req.Instructions),
	}
	if req.IncludeExisting {
		existing, err := s.cards.List(ctx, userID, st.ID, card.Filter{Limit: MaxExistingCards})
		if err != nil {
			return ai.PromptData{}, err
		}
		data.ExistingCards = ai.ToCardContext(existing)
	}
	if len(req.IntelligenceGroupIDs) > 0 {
		intel, err := s.groups.ContextCards(ctx, userID, req.IntelligenceGroupIDs)
		if err != nil {
			return ai.PromptData{}, err
		}
		data.Intelligence = ai.ToCardContext(intel)
	}
	return data, nil
}

func upstream(err error) error {
	var unavailable *ai.ErrProviderUnavailable
	if stderrors.As(err, &unavailable) {
		return svcerrors.NotConfigured(err.Error())
	}
	var perr *ai.ProviderError
	if stderrors.As(err, &perr) {
		return svcerrors.Upstream(perr.Provider, err)
	}
	return svcerrors.Upstream("ai", err)
}

func previewErr(err error) error {
	if stderrors.Is(err, cache.ErrNotFound) {
		return svcerrors.NotFound("preview")
	}
	return svcerrors.Internal("failed to load preview", err)
}

func enhanceInstructions(c card.Card, extra string) string {
	current, _ := json.Marshal(map[string]interface{}{
		"title":               c.Title,
		"description":         c.Description,
		"priority":            c.Priority,
		"confidence_level":    c.ConfidenceLevel,
		"strategic_alignment": c.StrategicAlignment,
		"tags":                c.Tags,
		"card_data":           c.CardData,
	})
	var b strings.Builder
	b.WriteString("Improve the following card. Keep its intent, sharpen the wording, and complete any missing fields.\n")
	b.WriteString("Return exactly one card.\nCurrent card:\n")
	b.Write(current)
	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString("\nAdditional instructions: ")
		b.WriteString(extra)
	}
	return b.String()
}

func withoutCard(items []ai.CardContext, c card.Card) []ai.CardContext {
	out := items[:0]
	for _, it := range items {
		if it.Title == c.Title && it.Description == c.Description {
			continue
		}
		out = append(out, it)
	}
	return out
}

// merge lays the generated content over the stored card, keeping identity,
// ownership and relationships. Ratings the reply did not set are kept.
func merge(current, generated card.Card, rated ai.Rated) card.Card {
	out := current
	out.Title = generated.Title
	if generated.Description != "" {
		out.Description = generated.Description
	}
	if rated.Priority {
		out.Priority = generated.Priority
	}
	if rated.Confidence {
		out.ConfidenceLevel = generated.ConfidenceLevel
	}
	if generated.PriorityRationale != "" {
		out.PriorityRationale = generated.PriorityRationale
	}
	if generated.ConfidenceRationale != "" {
		out.ConfidenceRationale = generated.ConfidenceRationale
	}
	if generated.StrategicAlignment != "" {
		out.StrategicAlignment = generated.StrategicAlignment
	}
	if len(generated.Tags) > 0 {
		out.Tags = generated.Tags
	}
	data := make(map[string]interface{}, len(current.CardData)+len(generated.CardData))
	for k, v := range current.CardData {
		data[k] = v
	}
	for k, v := range generated.CardData {
		data[k] = v
	}
	out.CardData = data
	return out
}
