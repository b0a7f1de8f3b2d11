// Package storage defines the persistence contracts for PINNLO entities.
// Every read and write that touches user data is scoped by the owning user id.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pinnlo/service_layer/internal/app/domain/automation"
	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/intelligence"
	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/domain/template"
)

var (
	// ErrNotFound is returned when a record does not exist or is not owned by the caller.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("record already exists")
)

// StrategyStore persists strategies.
type StrategyStore interface {
	CreateStrategy(ctx context.Context, s strategy.Strategy) (strategy.Strategy, error)
	UpdateStrategy(ctx context.Context, s strategy.Strategy) (strategy.Strategy, error)
	GetStrategy(ctx context.Context, userID, id string) (strategy.Strategy, error)
	ListStrategies(ctx context.Context, userID string, status strategy.Status) ([]strategy.Strategy, error)
	// DeleteStrategy removes the strategy together with its cards.
	DeleteStrategy(ctx context.Context, userID, id string) error
}

// CardStore persists cards.
type CardStore interface {
	CreateCards(ctx context.Context, cards []card.Card) ([]card.Card, error)
	UpdateCard(ctx context.Context, c card.Card) (card.Card, error)
	GetCard(ctx context.Context, userID, id string) (card.Card, error)
	// GetCards returns the owned cards among ids, in no particular order.
	GetCards(ctx context.Context, userID string, ids []string) ([]card.Card, error)
	ListCards(ctx context.Context, userID, strategyID string, filter card.Filter) ([]card.Card, error)
	CountCardsByType(ctx context.Context, userID, strategyID string) (map[string]int, error)
	DeleteCard(ctx context.Context, userID, id string) error
}

// IntelligenceStore persists intelligence groups and their memberships.
type IntelligenceStore interface {
	CreateGroup(ctx context.Context, g intelligence.Group) (intelligence.Group, error)
	UpdateGroup(ctx context.Context, g intelligence.Group) (intelligence.Group, error)
	GetGroup(ctx context.Context, userID, id string) (intelligence.Group, error)
	ListGroups(ctx context.Context, userID string) ([]intelligence.Group, error)
	DeleteGroup(ctx context.Context, userID, id string) error

	// AddGroupCards adds memberships, ignoring ones that already exist, and
	// returns the refreshed group.
	AddGroupCards(ctx context.Context, userID, groupID string, cardIDs []string) (intelligence.Group, error)
	RemoveGroupCard(ctx context.Context, userID, groupID, cardID string) error
	ListGroupCards(ctx context.Context, userID, groupID string) ([]card.Card, error)
}

// TemplateStore persists template cards.
type TemplateStore interface {
	ListTemplates(ctx context.Context, cardType string) ([]template.Card, error)
	GetTemplate(ctx context.Context, id string) (template.Card, error)
	UpsertTemplate(ctx context.Context, t template.Card) (template.Card, error)
}

// AutomationStore persists automation rules and executions.
type AutomationStore interface {
	CreateRule(ctx context.Context, r automation.Rule) (automation.Rule, error)
	UpdateRule(ctx context.Context, r automation.Rule) (automation.Rule, error)
	GetRule(ctx context.Context, userID, id string) (automation.Rule, error)
	ListRules(ctx context.Context, userID, strategyID string) ([]automation.Rule, error)
	// ListEnabledRules returns enabled rules of one trigger type across all users.
	ListEnabledRules(ctx context.Context, trigger automation.TriggerType) ([]automation.Rule, error)
	DeleteRule(ctx context.Context, userID, id string) error
	// RecordRuleRun sets only last_run_at and next_run_at so a run never
	// overwrites edits made while it was in flight.
	RecordRuleRun(ctx context.Context, userID, id string, lastRun time.Time, nextRun *time.Time) error

	CreateExecution(ctx context.Context, e automation.Execution) (automation.Execution, error)
	UpdateExecution(ctx context.Context, e automation.Execution) (automation.Execution, error)
	ListExecutions(ctx context.Context, userID, ruleID string, limit int) ([]automation.Execution, error)
}

// Store aggregates every PINNLO store.
type Store interface {
	StrategyStore
	CardStore
	IntelligenceStore
	TemplateStore
	AutomationStore
}

// Pinger is implemented by stores backed by a remote database.
type Pinger interface {
	Ping(ctx context.Context) error
}
