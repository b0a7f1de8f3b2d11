package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pinnlo/service_layer/internal/app/domain/automation"
	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/intelligence"
	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/domain/template"
	"github.com/pinnlo/service_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	strategies  map[string]strategy.Strategy
	cards       map[string]card.Card
	groups      map[string]intelligence.Group
	memberships map[string]map[string]intelligence.Membership // group -> card -> membership
	templates   map[string]template.Card
	rules       map[string]automation.Rule
	executions  map[string]automation.Execution
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		strategies:  make(map[string]strategy.Strategy),
		cards:       make(map[string]card.Card),
		groups:      make(map[string]intelligence.Group),
		memberships: make(map[string]map[string]intelligence.Membership),
		templates:   make(map[string]template.Card),
		rules:       make(map[string]automation.Rule),
		executions:  make(map[string]automation.Execution),
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

// --- StrategyStore ----------------------------------------------------------

func (s *Store) CreateStrategy(_ context.Context, st strategy.Strategy) (strategy.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = uuid.NewString()
	} else if _, exists := s.strategies[st.ID]; exists {
		return strategy.Strategy{}, fmt.Errorf("strategy %s: %w", st.ID, storage.ErrConflict)
	}
	now := s.now()
	st.CreatedAt = now
	st.UpdatedAt = now
	s.strategies[st.ID] = st
	return st, nil
}

func (s *Store) UpdateStrategy(_ context.Context, st strategy.Strategy) (strategy.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.strategies[st.ID]
	if !ok || original.UserID != st.UserID {
		return strategy.Strategy{}, notFound("strategy", st.ID)
	}
	st.CreatedAt = original.CreatedAt
	st.UpdatedAt = s.now()
	s.strategies[st.ID] = st
	return st, nil
}

func (s *Store) GetStrategy(_ context.Context, userID, id string) (strategy.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.strategies[id]
	if !ok || st.UserID != userID {
		return strategy.Strategy{}, notFound("strategy", id)
	}
	return st, nil
}

func (s *Store) ListStrategies(_ context.Context, userID string, status strategy.Status) ([]strategy.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]strategy.Strategy, 0)
	for _, st := range s.strategies {
		if st.UserID != userID || (status != "" && st.Status != status) {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) DeleteStrategy(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.strategies[id]
	if !ok || st.UserID != userID {
		return notFound("strategy", id)
	}
	delete(s.strategies, id)
	for cardID, c := range s.cards {
		if c.StrategyID == id {
			s.deleteCardLocked(cardID)
		}
	}
	for ruleID, r := range s.rules {
		if r.StrategyID == id {
			delete(s.rules, ruleID)
		}
	}
	return nil
}

// --- CardStore --------------------------------------------------------------

func (s *Store) CreateCards(_ context.Context, cards []card.Card) ([]card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]card.Card, 0, len(cards))
	for _, c := range cards {
		st, ok := s.strategies[c.StrategyID]
		if !ok || st.UserID != c.UserID {
			return nil, notFound("strategy", c.StrategyID)
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		} else if _, exists := s.cards[c.ID]; exists {
			return nil, fmt.Errorf("card %s: %w", c.ID, storage.ErrConflict)
		}
		c.CreatedAt = now
		c.UpdatedAt = now
		c = cloneCard(c)
		out = append(out, c)
	}
	for _, c := range out {
		s.cards[c.ID] = c
	}
	return cloneCards(out), nil
}

func (s *Store) UpdateCard(_ context.Context, c card.Card) (card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.cards[c.ID]
	if !ok || original.UserID != c.UserID {
		return card.Card{}, notFound("card", c.ID)
	}
	c.StrategyID = original.StrategyID
	c.CreatedBy = original.CreatedBy
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = s.now()
	s.cards[c.ID] = cloneCard(c)
	return cloneCard(c), nil
}

func (s *Store) GetCard(_ context.Context, userID, id string) (card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[id]
	if !ok || c.UserID != userID {
		return card.Card{}, notFound("card", id)
	}
	return cloneCard(c), nil
}

func (s *Store) GetCards(_ context.Context, userID string, ids []string) ([]card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]card.Card, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if c, ok := s.cards[id]; ok && c.UserID == userID {
			out = append(out, cloneCard(c))
		}
	}
	return out, nil
}

func (s *Store) ListCards(_ context.Context, userID, strategyID string, filter card.Filter) ([]card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]card.Card, 0)
	for _, c := range s.cards {
		if c.UserID != userID || c.StrategyID != strategyID || !filter.Matches(c) {
			continue
		}
		out = append(out, cloneCard(c))
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *Store) CountCardsByType(_ context.Context, userID, strategyID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, c := range s.cards {
		if c.UserID == userID && c.StrategyID == strategyID {
			counts[c.CardType]++
		}
	}
	return counts, nil
}

func (s *Store) DeleteCard(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cards[id]
	if !ok || c.UserID != userID {
		return notFound("card", id)
	}
	s.deleteCardLocked(id)
	return nil
}

func (s *Store) deleteCardLocked(id string) {
	delete(s.cards, id)
	for groupID, members := range s.memberships {
		if _, ok := members[id]; ok {
			delete(members, id)
			g := s.groups[groupID]
			g.CardCount = len(members)
			s.groups[groupID] = g
		}
	}
}

// --- IntelligenceStore ------------------------------------------------------

func (s *Store) CreateGroup(_ context.Context, g intelligence.Group) (intelligence.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups {
		if existing.UserID == g.UserID && intelligence.SameName(existing.Name, g.Name) {
			return intelligence.Group{}, fmt.Errorf("group %q: %w", g.Name, storage.ErrConflict)
		}
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := s.now()
	g.CreatedAt = now
	g.UpdatedAt = now
	g.CardCount = 0
	s.groups[g.ID] = g
	s.memberships[g.ID] = make(map[string]intelligence.Membership)
	return g, nil
}

func (s *Store) UpdateGroup(_ context.Context, g intelligence.Group) (intelligence.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.groups[g.ID]
	if !ok || original.UserID != g.UserID {
		return intelligence.Group{}, notFound("intelligence group", g.ID)
	}
	for id, existing := range s.groups {
		if id != g.ID && existing.UserID == g.UserID && intelligence.SameName(existing.Name, g.Name) {
			return intelligence.Group{}, fmt.Errorf("group %q: %w", g.Name, storage.ErrConflict)
		}
	}
	g.CreatedAt = original.CreatedAt
	g.CardCount = original.CardCount
	g.LastUsedAt = original.LastUsedAt
	g.UpdatedAt = s.now()
	s.groups[g.ID] = g
	return g, nil
}

func (s *Store) GetGroup(_ context.Context, userID, id string) (intelligence.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok || g.UserID != userID {
		return intelligence.Group{}, notFound("intelligence group", id)
	}
	return g, nil
}

func (s *Store) ListGroups(_ context.Context, userID string) ([]intelligence.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]intelligence.Group, 0)
	for _, g := range s.groups {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (s *Store) DeleteGroup(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok || g.UserID != userID {
		return notFound("intelligence group", id)
	}
	delete(s.groups, id)
	delete(s.memberships, id)
	return nil
}

func (s *Store) AddGroupCards(_ context.Context, userID, groupID string, cardIDs []string) (intelligence.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok || g.UserID != userID {
		return intelligence.Group{}, notFound("intelligence group", groupID)
	}
	for _, id := range cardIDs {
		if c, ok := s.cards[id]; !ok || c.UserID != userID {
			return intelligence.Group{}, notFound("card", id)
		}
	}

	now := s.now()
	members := s.memberships[groupID]
	for _, id := range cardIDs {
		if _, exists := members[id]; exists {
			continue
		}
		members[id] = intelligence.Membership{GroupID: groupID, CardID: id, AddedBy: userID, AddedAt: now}
	}
	g.CardCount = len(members)
	g.LastUsedAt = &now
	g.UpdatedAt = now
	s.groups[groupID] = g
	return g, nil
}

func (s *Store) RemoveGroupCard(_ context.Context, userID, groupID, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok || g.UserID != userID {
		return notFound("intelligence group", groupID)
	}
	members := s.memberships[groupID]
	if _, ok := members[cardID]; !ok {
		return notFound("group card", cardID)
	}
	delete(members, cardID)
	g.CardCount = len(members)
	g.UpdatedAt = s.now()
	s.groups[groupID] = g
	return nil
}

func (s *Store) ListGroupCards(_ context.Context, userID, groupID string) ([]card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok || g.UserID != userID {
		return nil, notFound("intelligence group", groupID)
	}
	members := make([]intelligence.Membership, 0, len(s.memberships[groupID]))
	for _, m := range s.memberships[groupID] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return newer(members[i].AddedAt, members[j].AddedAt, members[i].CardID, members[j].CardID)
	})

	out := make([]card.Card, 0, len(members))
	for _, m := range members {
		if c, ok := s.cards[m.CardID]; ok {
			out = append(out, cloneCard(c))
		}
	}
	return out, nil
}

// --- TemplateStore ----------------------------------------------------------

func (s *Store) ListTemplates(_ context.Context, cardType string) ([]template.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]template.Card, 0)
	for _, t := range s.templates {
		if cardType != "" && t.CardType != cardType {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CardType != out[j].CardType {
			return out[i].CardType < out[j].CardType
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (template.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return template.Card{}, notFound("template", id)
	}
	return t, nil
}

func (s *Store) UpsertTemplate(_ context.Context, t template.Card) (template.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if existing, ok := s.templates[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	} else {
		t.CreatedAt = s.now()
	}
	s.templates[t.ID] = t
	return t, nil
}

// --- AutomationStore --------------------------------------------------------

func (s *Store) CreateRule(_ context.Context, r automation.Rule) (automation.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.strategies[r.StrategyID]; !ok || st.UserID != r.UserID {
		return automation.Rule{}, notFound("strategy", r.StrategyID)
	}
	for _, existing := range s.rules {
		if existing.StrategyID == r.StrategyID && strings.EqualFold(existing.Name, r.Name) {
			return automation.Rule{}, fmt.Errorf("rule %q: %w", r.Name, storage.ErrConflict)
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules[r.ID] = r
	return r, nil
}

func (s *Store) UpdateRule(_ context.Context, r automation.Rule) (automation.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.rules[r.ID]
	if !ok || original.UserID != r.UserID {
		return automation.Rule{}, notFound("automation rule", r.ID)
	}
	for id, existing := range s.rules {
		if id != r.ID && existing.StrategyID == original.StrategyID && strings.EqualFold(existing.Name, r.Name) {
			return automation.Rule{}, fmt.Errorf("rule %q: %w", r.Name, storage.ErrConflict)
		}
	}
	r.StrategyID = original.StrategyID
	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = s.now()
	s.rules[r.ID] = r
	return r, nil
}

func (s *Store) RecordRuleRun(_ context.Context, userID, id string, lastRun time.Time, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return notFound("automation rule", id)
	}
	r.LastRunAt = &lastRun
	r.NextRunAt = nextRun
	s.rules[id] = r
	return nil
}

func (s *Store) GetRule(_ context.Context, userID, id string) (automation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return automation.Rule{}, notFound("automation rule", id)
	}
	return r, nil
}

func (s *Store) ListRules(_ context.Context, userID, strategyID string) ([]automation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]automation.Rule, 0)
	for _, r := range s.rules {
		if r.UserID != userID || (strategyID != "" && r.StrategyID != strategyID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) ListEnabledRules(_ context.Context, trigger automation.TriggerType) ([]automation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]automation.Rule, 0)
	for _, r := range s.rules {
		if r.Enabled && r.TriggerType == trigger {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteRule(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return notFound("automation rule", id)
	}
	delete(s.rules, id)
	for execID, e := range s.executions {
		if e.RuleID == id {
			delete(s.executions, execID)
		}
	}
	return nil
}

func (s *Store) CreateExecution(_ context.Context, e automation.Execution) (automation.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = s.now()
	}
	if e.CardIDs == nil {
		e.CardIDs = []string{}
	}
	s.executions[e.ID] = e
	return e, nil
}

func (s *Store) UpdateExecution(_ context.Context, e automation.Execution) (automation.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.executions[e.ID]
	if !ok {
		return automation.Execution{}, notFound("automation execution", e.ID)
	}
	e.RuleID = original.RuleID
	e.StartedAt = original.StartedAt
	if e.CardIDs == nil {
		e.CardIDs = []string{}
	}
	s.executions[e.ID] = e
	return e, nil
}

func (s *Store) ListExecutions(_ context.Context, userID, ruleID string, limit int) ([]automation.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]automation.Execution, 0)
	for _, e := range s.executions {
		if e.UserID == userID && e.RuleID == ruleID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].StartedAt, out[j].StartedAt, out[i].ID, out[j].ID) })
	return paginate(out, 0, limit), nil
}

// --- helpers ----------------------------------------------------------------

func newer(a, b time.Time, aID, bID string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID > bID
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneCard(c card.Card) card.Card {
	c.Tags = append([]string{}, c.Tags...)
	c.Relationships = append([]string{}, c.Relationships...)
	if c.CardData != nil {
		data := make(map[string]interface{}, len(c.CardData))
		for k, v := range c.CardData {
			data[k] = v
		}
		c.CardData = data
	}
	return c
}

func cloneCards(cards []card.Card) []card.Card {
	out := make([]card.Card, len(cards))
	for i, c := range cards {
		out[i] = cloneCard(c)
	}
	return out
}
