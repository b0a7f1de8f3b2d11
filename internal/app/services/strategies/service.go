// Package strategies manages strategy documents.
package strategies

import (
	"context"
	"strings"

	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/storage"
	svcerrors "github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/logging"
)

// Service owns strategy lifecycle operations.
type Service struct {
	store storage.StrategyStore
	cards storage.CardStore
	log   *logging.Logger
}

// New creates a strategy service.
func New(store storage.StrategyStore, cards storage.CardStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("strategies")
	}
	return &Service{store: store, cards: cards, log: log}
}

// Create validates and stores a new strategy owned by userID.
func (s *Service) Create(ctx context.Context, userID string, in strategy.Strategy) (strategy.Strategy, error) {
	in.ID = ""
	in.UserID = userID
	in.Status = strategy.Status(strings.ToLower(strings.TrimSpace(string(in.Status))))
	if err := in.Validate(); err != nil {
		return strategy.Strategy{}, svcerrors.BadRequest(err.Error())
	}
	created, err := s.store.CreateStrategy(ctx, in)
	if err != nil {
		return strategy.Strategy{}, svcerrors.FromStore(err, "strategy")
	}
	s.log.WithContext(ctx).WithField("strategy_id", created.ID).Info("strategy created")
	return created, nil
}

// Get returns the strategy with its card counts by type.
func (s *Service) Get(ctx context.Context, userID, id string) (strategy.Summary, error) {
	st, err := s.store.GetStrategy(ctx, userID, id)
	if err != nil {
		return strategy.Summary{}, svcerrors.FromStore(err, "strategy")
	}
	counts, err := s.cards.CountCardsByType(ctx, userID, id)
	if err != nil {
		return strategy.Summary{}, svcerrors.FromStore(err, "strategy")
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return strategy.Summary{Strategy: st, CardCounts: counts, TotalCards: total}, nil
}

// Owned returns the strategy when userID owns it.
func (s *Service) Owned(ctx context.Context, userID, id string) (strategy.Strategy, error) {
	st, err := s.store.GetStrategy(ctx, userID, id)
	if err != nil {
		return strategy.Strategy{}, svcerrors.FromStore(err, "strategy")
	}
	return st, nil
}

// List returns the caller's strategies, newest first.
func (s *Service) List(ctx context.Context, userID, status string) ([]strategy.Strategy, error) {
	st := strategy.Status(strings.ToLower(strings.TrimSpace(status)))
	if st != "" && !st.Valid() {
		return nil, svcerrors.InvalidFormat("status", "must be draft, active or archived")
	}
	return s.store.ListStrategies(ctx, userID, st)
}

// Update applies a partial update. An empty patch returns the current record.
func (s *Service) Update(ctx context.Context, userID, id string, patch strategy.Patch) (strategy.Strategy, error) {
	current, err := s.store.GetStrategy(ctx, userID, id)
	if err != nil {
		return strategy.Strategy{}, svcerrors.FromStore(err, "strategy")
	}
	if patch.Empty() {
		return current, nil
	}
	patch.Apply(&current)
	if err := current.Validate(); err != nil {
		return strategy.Strategy{}, svcerrors.BadRequest(err.Error())
	}
	updated, err := s.store.UpdateStrategy(ctx, current)
	if err != nil {
		return strategy.Strategy{}, svcerrors.FromStore(err, "strategy")
	}
	return updated, nil
}

// Delete removes a strategy and its cards.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteStrategy(ctx, userID, id); err != nil {
		return svcerrors.FromStore(err, "strategy")
	}
	s.log.WithContext(ctx).WithField("strategy_id", id).Info("strategy deleted")
	return nil
}
