package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pinnlo/service_layer/internal/app/domain/automation"
	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/intelligence"
	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/domain/template"
	"github.com/pinnlo/service_layer/internal/app/storage"
)

func seedStrategy(t *testing.T, s *Store, userID string) strategy.Strategy {
	t.Helper()
	st, err := s.CreateStrategy(context.Background(), strategy.Strategy{UserID: userID, Title: "Growth", Status: strategy.StatusDraft})
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	return st
}

func TestStrategyOwnership(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := seedStrategy(t, s, "alice")

	if _, err := s.GetStrategy(ctx, "bob", st.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("bob should not see alice's strategy: %v", err)
	}
	st.UserID = "bob"
	if _, err := s.UpdateStrategy(ctx, st); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("bob should not update alice's strategy: %v", err)
	}
	if err := s.DeleteStrategy(ctx, "bob", st.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("bob should not delete alice's strategy: %v", err)
	}

	list, _ := s.ListStrategies(ctx, "alice", "")
	if len(list) != 1 {
		t.Fatalf("alice list = %d", len(list))
	}
	list, _ = s.ListStrategies(ctx, "alice", strategy.StatusArchived)
	if len(list) != 0 {
		t.Fatalf("status filter ignored")
	}
}

func TestCardsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := seedStrategy(t, s, "alice")

	created, err := s.CreateCards(ctx, []card.Card{
		{StrategyID: st.ID, UserID: "alice", Title: "Vision", CardType: "vision", Tags: []string{"a"}},
		{StrategyID: st.ID, UserID: "alice", Title: "Persona", CardType: "personas"},
	})
	if err != nil {
		t.Fatalf("create cards: %v", err)
	}
	if len(created) != 2 || created[0].ID == "" {
		t.Fatalf("created = %+v", created)
	}

	created[0].Tags[0] = "mutated"
	got, _ := s.GetCard(ctx, "alice", created[0].ID)
	if got.Tags[0] != "a" {
		t.Fatal("store must not alias caller slices")
	}

	list, _ := s.ListCards(ctx, "alice", st.ID, card.Filter{CardType: "vision"})
	if len(list) != 1 || list[0].Title != "Vision" {
		t.Fatalf("filtered list = %+v", list)
	}
	counts, _ := s.CountCardsByType(ctx, "alice", st.ID)
	if counts["vision"] != 1 || counts["personas"] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	if _, err := s.CreateCards(ctx, []card.Card{{StrategyID: st.ID, UserID: "bob", Title: "x", CardType: "vision"}}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("bob should not add cards to alice's strategy: %v", err)
	}

	if err := s.DeleteStrategy(ctx, "alice", st.ID); err != nil {
		t.Fatalf("delete strategy: %v", err)
	}
	if _, err := s.GetCard(ctx, "alice", created[1].ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("cards should be deleted with their strategy")
	}
}

func TestListCardsPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := seedStrategy(t, s, "alice")
	var batch []card.Card
	for i := 0; i < 5; i++ {
		batch = append(batch, card.Card{StrategyID: st.ID, UserID: "alice", Title: "c", CardType: "vision"})
	}
	if _, err := s.CreateCards(ctx, batch); err != nil {
		t.Fatal(err)
	}
	page, _ := s.ListCards(ctx, "alice", st.ID, card.Filter{Limit: 2, Offset: 4})
	if len(page) != 1 {
		t.Fatalf("page = %d", len(page))
	}
	page, _ = s.ListCards(ctx, "alice", st.ID, card.Filter{Offset: 10})
	if len(page) != 0 {
		t.Fatalf("offset past end = %d", len(page))
	}
}

func TestGroupMembershipIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := seedStrategy(t, s, "alice")
	cards, _ := s.CreateCards(ctx, []card.Card{
		{StrategyID: st.ID, UserID: "alice", Title: "A", CardType: "market-intelligence"},
		{StrategyID: st.ID, UserID: "alice", Title: "B", CardType: "market-intelligence"},
	})

	g, err := s.CreateGroup(ctx, intelligence.Group{UserID: "alice", Name: "Market", Color: "#000000"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateGroup(ctx, intelligence.Group{UserID: "alice", Name: "market"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate name should conflict: %v", err)
	}
	if _, err := s.CreateGroup(ctx, intelligence.Group{UserID: "bob", Name: "Market"}); err != nil {
		t.Fatalf("other users may reuse names: %v", err)
	}

	g, err = s.AddGroupCards(ctx, "alice", g.ID, []string{cards[0].ID, cards[1].ID})
	if err != nil {
		t.Fatal(err)
	}
	g, _ = s.AddGroupCards(ctx, "alice", g.ID, []string{cards[0].ID})
	if g.CardCount != 2 || g.LastUsedAt == nil {
		t.Fatalf("group = %+v", g)
	}

	if err := s.DeleteCard(ctx, "alice", cards[0].ID); err != nil {
		t.Fatal(err)
	}
	g, _ = s.GetGroup(ctx, "alice", g.ID)
	if g.CardCount != 1 {
		t.Fatalf("card_count after delete = %d", g.CardCount)
	}
	members, _ := s.ListGroupCards(ctx, "alice", g.ID)
	if len(members) != 1 || members[0].Title != "B" {
		t.Fatalf("members = %+v", members)
	}

	if err := s.RemoveGroupCard(ctx, "alice", g.ID, cards[0].ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("removing a non-member should be not found: %v", err)
	}
	if _, err := s.AddGroupCards(ctx, "bob", g.ID, []string{cards[1].ID}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("bob should not see alice's group: %v", err)
	}
}

func TestTemplates(t *testing.T) {
	ctx := context.Background()
	s := New()
	tmpl, _ := s.UpsertTemplate(ctx, template.Card{ID: "vision-1", CardType: "vision", Title: "North star"})
	s.UpsertTemplate(ctx, template.Card{CardType: "okrs", Title: "Quarterly OKR"})

	updated, _ := s.UpsertTemplate(ctx, template.Card{ID: "vision-1", CardType: "vision", Title: "Renamed"})
	if !updated.CreatedAt.Equal(tmpl.CreatedAt) {
		t.Fatal("upsert should keep created_at")
	}
	list, _ := s.ListTemplates(ctx, "vision")
	if len(list) != 1 || list[0].Title != "Renamed" {
		t.Fatalf("list = %+v", list)
	}
	all, _ := s.ListTemplates(ctx, "")
	if len(all) != 2 {
		t.Fatalf("all = %d", len(all))
	}
}

func TestAutomationRulesAndExecutions(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := seedStrategy(t, s, "alice")

	rule := automation.Rule{UserID: "alice", StrategyID: st.ID, Name: "Nightly", Enabled: true, TriggerType: automation.TriggerSchedule, Schedule: "@daily"}
	rule, err := s.CreateRule(ctx, rule)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateRule(ctx, automation.Rule{UserID: "alice", StrategyID: st.ID, Name: "nightly"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate rule name should conflict: %v", err)
	}

	enabled, _ := s.ListEnabledRules(ctx, automation.TriggerSchedule)
	if len(enabled) != 1 {
		t.Fatalf("enabled = %d", len(enabled))
	}

	ran := time.Now().UTC()
	next := ran.Add(24 * time.Hour)
	if err := s.RecordRuleRun(ctx, "alice", rule.ID, ran, &next); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRule(ctx, "alice", rule.ID)
	if got.LastRunAt == nil || !got.LastRunAt.Equal(ran) || got.NextRunAt == nil || got.Name != "Nightly" || !got.UpdatedAt.Equal(rule.UpdatedAt) {
		t.Fatalf("run stats = %+v", got)
	}
	if err := s.RecordRuleRun(ctx, "bob", rule.ID, ran, nil); err == nil {
		t.Fatal("expected not found for another user")
	}

	exec, _ := s.CreateExecution(ctx, automation.Execution{RuleID: rule.ID, UserID: "alice", StrategyID: st.ID, Status: automation.StatusRunning})
	exec.Status = automation.StatusSucceeded
	exec.RuleID = "tampered"
	if _, err := s.UpdateExecution(ctx, exec); err != nil {
		t.Fatal(err)
	}
	execs, _ := s.ListExecutions(ctx, "alice", rule.ID, 10)
	if len(execs) != 1 || execs[0].Status != automation.StatusSucceeded || execs[0].RuleID != rule.ID {
		t.Fatalf("executions = %+v", execs)
	}

	if err := s.DeleteRule(ctx, "alice", rule.ID); err != nil {
		t.Fatal(err)
	}
	execs, _ = s.ListExecutions(ctx, "alice", rule.ID, 10)
	if len(execs) != 0 {
		t.Fatal("executions should be removed with their rule")
	}
}
