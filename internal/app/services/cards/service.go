// Package cards manages strategy cards and notifies listeners of inserts.
package cards

import (
	"context"
	"strings"
	"sync"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/template"
	"github.com/pinnlo/service_layer/internal/app/storage"
	svcerrors "github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/logging"
)

const (
	// MaxListLimit caps ListCards page sizes.
	MaxListLimit = 500
	// AutomationRuleField marks cards written by an automation rule in card_data.
	AutomationRuleField = "automation_rule_id"
)

// InsertEvent describes cards that were just stored.
type InsertEvent struct {
	UserID     string
	StrategyID string
	Cards      []card.Card
}

// Listener observes card inserts. It runs synchronously after the insert.
type Listener func(ctx context.Context, ev InsertEvent)

type originKey struct{}

// WithAutomationOrigin marks inserts made under ctx as coming from ruleID.
// Such inserts are tagged in card_data and never reach listeners.
func WithAutomationOrigin(ctx context.Context, ruleID string) context.Context {
	return context.WithValue(ctx, originKey{}, ruleID)
}

// AutomationOrigin returns the rule id set by WithAutomationOrigin.
func AutomationOrigin(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(originKey{}).(string)
	return id, ok && id != ""
}

// FromAutomation reports whether a stored card was written by a rule.
func FromAutomation(c card.Card) bool {
	if c.CardData == nil {
		return false
	}
	_, ok := c.CardData[AutomationRuleField]
	return ok
}

// Service owns card operations.
type Service struct {
	store      storage.CardStore
	strategies storage.StrategyStore
	templates  storage.TemplateStore
	log        *logging.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// New creates a card service.
func New(store storage.CardStore, strategies storage.StrategyStore, templates storage.TemplateStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("cards")
	}
	return &Service{store: store, strategies: strategies, templates: templates, log: log}
}

// OnInsert registers a listener for user-initiated inserts.
func (s *Service) OnInsert(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Create stores one card in a strategy owned by userID.
func (s *Service) Create(ctx context.Context, userID, strategyID string, in card.Card) (card.Card, error) {
	created, err := s.Insert(ctx, userID, strategyID, []card.Card{in})
	if err != nil {
		return card.Card{}, err
	}
	return created[0], nil
}

// CreateFromTemplate copies a template into a new card.
func (s *Service) CreateFromTemplate(ctx context.Context, userID, strategyID, templateID string, overrides card.Patch) (card.Card, error) {
	if strings.TrimSpace(templateID) == "" {
		return card.Card{}, svcerrors.InvalidFormat("template_id", "is required")
	}
	tpl, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return card.Card{}, svcerrors.FromStore(err, "template")
	}
	c := FromTemplate(tpl)
	overrides.Apply(&c)
	return s.Create(ctx, userID, strategyID, c)
}

// FromTemplate converts a template into an unsaved card.
func FromTemplate(t template.Card) card.Card {
	data := make(map[string]interface{}, len(t.CardData))
	for k, v := range t.CardData {
		data[k] = v
	}
	tags := append([]string(nil), t.Tags...)
	return card.Card{
		Title:       t.Title,
		Description: t.Description,
		CardType:    t.CardType,
		CardData:    data,
		Tags:        tags,
	}
}

// Insert validates and stores cards in one strategy, then notifies listeners.
func (s *Service) Insert(ctx context.Context, userID, strategyID string, in []card.Card) ([]card.Card, error) {
	if len(in) == 0 {
		return []card.Card{}, nil
	}
	ruleID, automated := AutomationOrigin(ctx)

	batch := make([]card.Card, len(in))
	for i, c := range in {
		c.ID = ""
		c.StrategyID = strategyID
		c.UserID = userID
		c.CreatedBy = userID
		c.LastModifiedBy = ""
		c.Normalize()
		if err := validate(c); err != nil {
			return nil, err
		}
		if automated {
			c.CardData[AutomationRuleField] = ruleID
		}
		batch[i] = c
	}

	created, err := s.store.CreateCards(ctx, batch)
	if err != nil {
		return nil, svcerrors.FromStore(err, "strategy")
	}
	s.log.WithContext(ctx).
		WithField("strategy_id", strategyID).
		WithField("count", len(created)).
		WithField("automated", automated).
		Info("cards created")

	if !automated {
		s.notify(ctx, InsertEvent{UserID: userID, StrategyID: strategyID, Cards: created})
	}
	return created, nil
}

func (s *Service) notify(ctx context.Context, ev InsertEvent) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, ev)
	}
}

func validate(c card.Card) error {
	if c.Title == "" {
		return svcerrors.InvalidFormat("title", "is required")
	}
	if !card.ValidType(c.CardType) {
		return svcerrors.InvalidFormat("card_type", "unknown card type "+c.CardType)
	}
	return nil
}

// Get returns one owned card.
func (s *Service) Get(ctx context.Context, userID, id string) (card.Card, error) {
	c, err := s.store.GetCard(ctx, userID, id)
	if err != nil {
		return card.Card{}, svcerrors.FromStore(err, "card")
	}
	return c, nil
}

// GetMany returns the owned cards among ids, reporting the first missing one.
func (s *Service) GetMany(ctx context.Context, userID string, ids []string) ([]card.Card, error) {
	found, err := s.store.GetCards(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]card.Card, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]card.Card, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, svcerrors.NotFound("card " + id)
		}
		out = append(out, c)
	}
	return out, nil
}

// List returns cards of an owned strategy.
func (s *Service) List(ctx context.Context, userID, strategyID string, filter card.Filter) ([]card.Card, error) {
	if filter.CardType != "" && !card.ValidType(filter.CardType) {
		return nil, svcerrors.InvalidFormat("card_type", "unknown card type "+filter.CardType)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, svcerrors.BadRequest("limit and offset must not be negative")
	}
	if filter.Limit == 0 || filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	filter.Search = strings.TrimSpace(filter.Search)
	if _, err := s.strategies.GetStrategy(ctx, userID, strategyID); err != nil {
		return nil, svcerrors.FromStore(err, "strategy")
	}
	out, err := s.store.ListCards(ctx, userID, strategyID, filter)
	if err != nil {
		return nil, svcerrors.FromStore(err, "strategy")
	}
	return out, nil
}

// Update applies a partial update and records the editor.
func (s *Service) Update(ctx context.Context, userID, id string, patch card.Patch) (card.Card, error) {
	current, err := s.store.GetCard(ctx, userID, id)
	if err != nil {
		return card.Card{}, svcerrors.FromStore(err, "card")
	}
	if patch.Empty() {
		return current, nil
	}
	patch.Apply(&current)
	current.Normalize()
	if err := validate(current); err != nil {
		return card.Card{}, err
	}
	return s.save(ctx, userID, current)
}

// Replace stores c as the new content of an existing owned card.
func (s *Service) Replace(ctx context.Context, userID string, c card.Card) (card.Card, error) {
	c.UserID = userID
	c.Normalize()
	if err := validate(c); err != nil {
		return card.Card{}, err
	}
	return s.save(ctx, userID, c)
}

func (s *Service) save(ctx context.Context, userID string, c card.Card) (card.Card, error) {
	c.LastModifiedBy = userID
	updated, err := s.store.UpdateCard(ctx, c)
	if err != nil {
		return card.Card{}, svcerrors.FromStore(err, "card")
	}
	return updated, nil
}

// Delete removes a card and its group memberships.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteCard(ctx, userID, id); err != nil {
		return svcerrors.FromStore(err, "card")
	}
	return nil
}
