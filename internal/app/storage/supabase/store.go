// Package supabase implements the storage interfaces over PostgREST using
// the project service key. Row level security is bypassed by that key, so
// every query carries an explicit user_id filter.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/storage"
	"github.com/pinnlo/service_layer/internal/supabase"
)

const (
	tableStrategies  = "strategies"
	tableCards       = "cards"
	tableGroups      = "intelligence_groups"
	tableMemberships = "intelligence_group_cards"
	tableTemplates   = "template_cards"
	tableRules       = "automation_rules"
	tableExecutions  = "automation_executions"
)

// Store implements storage.Store against Supabase.
type Store struct {
	client *supabase.Client
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// New creates a Store using client.
func New(client *supabase.Client) *Store {
	return &Store{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping issues a minimal query against the strategies table.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.From(tableStrategies).Select("id").Limit(1).Execute(ctx, nil)
	return err
}

// translate maps PostgREST errors onto storage sentinel errors.
func translate(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *supabase.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == "23505" || (apiErr.StatusCode == http.StatusConflict && apiErr.Code == ""):
			return fmt.Errorf("%s %s: %w", kind, id, storage.ErrConflict)
		case apiErr.Code == "23503", apiErr.Code == "22P02", apiErr.Code == "PGRST116":
			return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
		}
	}
	return err
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// --- StrategyStore ----------------------------------------------------------

func strategyRecord(st strategy.Strategy) map[string]interface{} {
	return map[string]interface{}{
		"title":       st.Title,
		"client":      st.Client,
		"description": st.Description,
		"status":      string(st.Status),
		"updated_at":  ts(st.UpdatedAt),
	}
}

func (s *Store) CreateStrategy(ctx context.Context, st strategy.Strategy) (strategy.Strategy, error) {
	st.ID = newID(st.ID)
	now := s.now()
	st.CreatedAt = now
	st.UpdatedAt = now

	rec := strategyRecord(st)
	rec["id"] = st.ID
	rec["user_id"] = st.UserID
	rec["created_at"] = ts(st.CreatedAt)

	var rows []strategy.Strategy
	if _, err := s.client.From(tableStrategies).Insert(ctx, rec, &rows); err != nil {
		return strategy.Strategy{}, translate("strategy", st.ID, err)
	}
	if len(rows) == 1 {
		return rows[0], nil
	}
	return st, nil
}

func (s *Store) UpdateStrategy(ctx context.Context, st strategy.Strategy) (strategy.Strategy, error) {
	st.UpdatedAt = s.now()
	var rows []strategy.Strategy
	_, err := s.client.From(tableStrategies).
		Eq("id", st.ID).
		Eq("user_id", st.UserID).
		Update(ctx, strategyRecord(st), &rows)
	if err != nil {
		return strategy.Strategy{}, translate("strategy", st.ID, err)
	}
	if len(rows) == 0 {
		return strategy.Strategy{}, notFound("strategy", st.ID)
	}
	return rows[0], nil
}

func (s *Store) GetStrategy(ctx context.Context, userID, id string) (strategy.Strategy, error) {
	var rows []strategy.Strategy
	_, err := s.client.From(tableStrategies).
		Select("*").
		Eq("id", id).
		Eq("user_id", userID).
		Limit(1).
		Execute(ctx, &rows)
	if err != nil {
		return strategy.Strategy{}, translate("strategy", id, err)
	}
	if len(rows) == 0 {
		return strategy.Strategy{}, notFound("strategy", id)
	}
	return rows[0], nil
}

func (s *Store) ListStrategies(ctx context.Context, userID string, status strategy.Status) ([]strategy.Strategy, error) {
	q := s.client.From(tableStrategies).Select("*").Eq("user_id", userID)
	if status != "" {
		q = q.Eq("status", string(status))
	}
	rows := []strategy.Strategy{}
	if _, err := q.Order("created_at", false).Order("id", false).Execute(ctx, &rows); err != nil {
		return nil, translate("strategy", "", err)
	}
	return rows, nil
}

// DeleteStrategy relies on ON DELETE CASCADE for cards and rules.
func (s *Store) DeleteStrategy(ctx context.Context, userID, id string) error {
	var rows []strategy.Strategy
	_, err := s.client.From(tableStrategies).Eq("id", id).Eq("user_id", userID).Delete(ctx, &rows)
	if err != nil {
		return translate("strategy", id, err)
	}
	if len(rows) == 0 {
		return notFound("strategy", id)
	}
	return nil
}

func (s *Store) ownsStrategy(ctx context.Context, userID, strategyID string) error {
	var rows []struct {
		ID string `json:"id"`
	}
	_, err := s.client.From(tableStrategies).Select("id").Eq("id", strategyID).Eq("user_id", userID).Execute(ctx, &rows)
	if err != nil {
		return translate("strategy", strategyID, err)
	}
	if len(rows) == 0 {
		return notFound("strategy", strategyID)
	}
	return nil
}

// searchPattern builds a PostgREST ilike pattern, dropping characters that
// would break the or=() grammar.
func searchPattern(term string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ',', '(', ')', '"', '*', '\\', '%', '_':
			return -1
		}
		return r
	}, term)
	return "*" + strings.TrimSpace(clean) + "*"
}
