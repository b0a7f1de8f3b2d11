package generation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnlo/service_layer/internal/ai"
	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/intelligence"
	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/services/cards"
	intelsvc "github.com/pinnlo/service_layer/internal/app/services/intelligence"
	"github.com/pinnlo/service_layer/internal/app/storage/memory"
	"github.com/pinnlo/service_layer/internal/cache"
	svcerrors "github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/logging"
)

type fakeGenerator struct {
	requests []ai.GenerateRequest
	err      error
	rated    []ai.Rated
}

func (f *fakeGenerator) Generate(_ context.Context, req ai.GenerateRequest) (*ai.GenerateResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]card.Card, 0, req.Data.Count)
	for i := 0; i < req.Data.Count; i++ {
		c := card.Card{
			Title:    fmt.Sprintf("Generated %d", i+1),
			CardType: req.Data.CardType,
			Priority: card.LevelHigh,
			CardData: map[string]interface{}{"source": "model"},
		}
		c.Normalize()
		out = append(out, c)
	}
	return &ai.GenerateResult{Cards: out, Rated: f.rated, Provider: "openai", Model: "gpt-test"}, nil
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	gen      *fakeGenerator
	previews *cache.Memory
	cards    *cards.Service
	strategy strategy.Strategy
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	st, err := store.CreateStrategy(context.Background(), strategy.Strategy{UserID: "u1", Title: "Growth", Client: "Acme", Status: strategy.StatusDraft})
	require.NoError(t, err)

	log := logging.Discard()
	cardSvc := cards.New(store, store, store, log)
	gen := &fakeGenerator{}
	previews := cache.NewMemory()
	svc := New(Config{}, store, cardSvc, intelsvc.New(store, log), gen, previews, log)
	return fixture{svc: svc, store: store, gen: gen, previews: previews, cards: cardSvc, strategy: st}
}

func TestGeneratePreviewThenCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, "u1", Request{StrategyID: f.strategy.ID, CardType: "vision", Count: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, res.PreviewID)
	assert.False(t, res.Committed)
	assert.Len(t, res.Cards, 2)
	require.NotNil(t, res.ExpiresAt)

	listed, _ := f.cards.List(ctx, "u1", f.strategy.ID, card.Filter{})
	assert.Empty(t, listed, "preview must not store cards")

	_, err = f.svc.Commit(ctx, "u2", res.PreviewID, "")
	assert.True(t, svcerrors.IsNotFound(err), "another user cannot commit")
	_, err = f.svc.Commit(ctx, "u1", res.PreviewID, "other-strategy")
	assert.True(t, svcerrors.IsNotFound(err), "strategy must match")

	created, err := f.svc.Commit(ctx, "u1", res.PreviewID, f.strategy.ID)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "u1", created[0].CreatedBy)
	assert.Equal(t, f.strategy.ID, created[0].StrategyID)

	_, err = f.svc.Commit(ctx, "u1", res.PreviewID, "")
	assert.True(t, svcerrors.IsNotFound(err), "preview ids are single use")
}

func TestGenerateCommitDirectly(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Generate(context.Background(), "u1", Request{StrategyID: f.strategy.ID, CardType: "okrs", Commit: true})
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Empty(t, res.PreviewID)
	assert.Len(t, res.Cards, DefaultCount)
	assert.NotEmpty(t, res.Cards[0].ID)
	assert.Equal(t, 0, f.previews.Len())
}

func TestGenerateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []Request{
		{CardType: "vision"},
		{StrategyID: f.strategy.ID, CardType: "poem"},
		{StrategyID: f.strategy.ID, CardType: "vision", Count: 11},
		{StrategyID: f.strategy.ID, CardType: "vision", Count: -1},
	}
	for i, req := range cases {
		_, err := f.svc.Generate(ctx, "u1", req)
		assert.Equal(t, 400, svcerrors.HTTPStatus(err), "case %d", i)
	}

	_, err := f.svc.Generate(ctx, "u2", Request{StrategyID: f.strategy.ID, CardType: "vision"})
	assert.True(t, svcerrors.IsNotFound(err))
	assert.Empty(t, f.gen.requests, "no provider call for invalid requests")
}

func TestGenerateBuildsContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing, err := f.store.CreateCards(ctx, []card.Card{
		{StrategyID: f.strategy.ID, UserID: "u1", Title: "Our vision", CardType: "vision"},
		{StrategyID: f.strategy.ID, UserID: "u1", Title: "Market shift", CardType: "market-intelligence"},
	})
	require.NoError(t, err)
	g, err := f.store.CreateGroup(ctx, intelligence.Group{UserID: "u1", Name: "Market", Color: intelligence.DefaultColor})
	require.NoError(t, err)
	_, err = f.store.AddGroupCards(ctx, "u1", g.ID, []string{existing[1].ID})
	require.NoError(t, err)

	_, err = f.svc.Generate(ctx, "u1", Request{
		StrategyID:           f.strategy.ID,
		CardType:             "okrs",
		IncludeExisting:      true,
		IntelligenceGroupIDs: []string{g.ID},
		Context:              "  focus on EMEA ",
	})
	require.NoError(t, err)
	require.Len(t, f.gen.requests, 1)

	data := f.gen.requests[0].Data
	assert.Equal(t, "Growth", data.Strategy.Title)
	assert.Equal(t, "Acme", data.Strategy.Client)
	assert.Len(t, data.ExistingCards, 2)
	require.Len(t, data.Intelligence, 1)
	assert.Equal(t, "Market shift", data.Intelligence[0].Title)
	assert.Equal(t, "focus on EMEA", data.Context)

	_, err = f.svc.Generate(ctx, "u1", Request{StrategyID: f.strategy.ID, CardType: "okrs", IntelligenceGroupIDs: []string{"missing"}})
	assert.True(t, svcerrors.IsNotFound(err))
}

func TestGenerateSurfacesProviderErrors(t *testing.T) {
	f := newFixture(t)
	f.gen.err = &ai.ProviderError{Provider: "openai", Err: fmt.Errorf("OpenAI API error (429): quota exceeded")}

	_, err := f.svc.Generate(context.Background(), "u1", Request{StrategyID: f.strategy.ID, CardType: "vision"})
	require.Error(t, err)
	assert.Equal(t, 500, svcerrors.HTTPStatus(err))
	assert.Equal(t, "OpenAI API error (429): quota exceeded", svcerrors.GetServiceError(err).Message)

	f.gen.err = &ai.ErrProviderUnavailable{Provider: "anthropic"}
	_, err = f.svc.Generate(context.Background(), "u1", Request{StrategyID: f.strategy.ID, CardType: "vision"})
	assert.Equal(t, svcerrors.CodeNotConfigured, svcerrors.GetServiceError(err).Code)
}

func TestEnhance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.cards.Create(ctx, "u1", f.strategy.ID, card.Card{
		Title: "Rough vision", CardType: "vision", Relationships: []string{"x"},
		CardData: map[string]interface{}{"time_horizon": "5y"},
	})
	require.NoError(t, err)

	proposed, err := f.svc.Enhance(ctx, "u1", c.ID, EnhanceRequest{Instructions: "shorter"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, proposed.ID)
	assert.Equal(t, "Generated 1", proposed.Title)
	assert.Equal(t, []string{"x"}, proposed.Relationships)
	assert.Equal(t, "5y", proposed.CardData["time_horizon"])
	assert.Equal(t, "model", proposed.CardData["source"])

	req := f.gen.requests[0]
	assert.Equal(t, 1, req.Data.Count)
	assert.Equal(t, "vision", req.Data.CardType)
	assert.True(t, strings.Contains(req.Data.Instructions, "Rough vision"))
	assert.True(t, strings.Contains(req.Data.Instructions, "shorter"))
	assert.Empty(t, req.Data.ExistingCards, "the card itself is not repeated as context")

	stored, _ := f.cards.Get(ctx, "u1", c.ID)
	assert.Equal(t, "Rough vision", stored.Title, "proposal is not saved without apply")

	applied, err := f.svc.Enhance(ctx, "u1", c.ID, EnhanceRequest{Apply: true})
	require.NoError(t, err)
	assert.Equal(t, "Generated 1", applied.Title)
	assert.Equal(t, "u1", applied.LastModifiedBy)

	_, err = f.svc.Enhance(ctx, "u2", c.ID, EnhanceRequest{})
	assert.True(t, svcerrors.IsNotFound(err))
}

func TestEnhanceKeepsRatingsTheModelOmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.cards.Create(ctx, "u1", f.strategy.ID, card.Card{
		Title: "Rough vision", CardType: "vision", Priority: card.LevelLow, ConfidenceLevel: card.LevelHigh,
	})
	require.NoError(t, err)

	f.gen.rated = []ai.Rated{{}}
	applied, err := f.svc.Enhance(ctx, "u1", c.ID, EnhanceRequest{Apply: true})
	require.NoError(t, err)
	assert.Equal(t, "Generated 1", applied.Title)
	assert.Equal(t, card.LevelLow, applied.Priority)
	assert.Equal(t, card.LevelHigh, applied.ConfidenceLevel)

	stored, err := f.cards.Get(ctx, "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, card.LevelLow, stored.Priority)
	assert.Equal(t, card.LevelHigh, stored.ConfidenceLevel)

	// a rating the model did return still wins
	f.gen.rated = []ai.Rated{{Priority: true}}
	applied, err = f.svc.Enhance(ctx, "u1", c.ID, EnhanceRequest{Apply: true})
	require.NoError(t, err)
	assert.Equal(t, card.LevelHigh, applied.Priority)
	assert.Equal(t, card.LevelHigh, applied.ConfidenceLevel)
}
