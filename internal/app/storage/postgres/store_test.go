package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/pinnlo/service_layer/internal/app/domain/automation"
	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/intelligence"
	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/storage"
	"github.com/pinnlo/service_layer/internal/platform/migrations"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

var cardCols = []string{"id", "strategy_id", "user_id", "title", "description", "card_type", "priority", "confidence_level",
	"priority_rationale", "confidence_rationale", "strategic_alignment", "tags", "relationships", "card_data",
	"created_by", "last_modified_by", "created_at", "updated_at"}

func TestCreateStrategy(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO strategies").
		WithArgs(sqlmock.AnyArg(), "u1", "Growth", "Acme", "", "draft", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	st, err := store.CreateStrategy(context.Background(), strategy.Strategy{UserID: "u1", Title: "Growth", Client: "Acme", Status: strategy.StatusDraft})
	if err != nil {
		t.Fatalf("CreateStrategy: %v", err)
	}
	if st.ID == "" || st.CreatedAt.IsZero() {
		t.Fatalf("unexpected strategy %+v", st)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetStrategyNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM strategies WHERE id = \\$1 AND user_id = \\$2").
		WithArgs("s1", "u2").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetStrategy(context.Background(), "u2", "s1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCardsBuildsFilters(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(cardCols).AddRow(
		"c1", "s1", "u1", "Own 50% of market", "", "vision", "High", "Low",
		"", "", "", []byte("{growth,b2b}"), []byte("{}"), []byte(`{"time_horizon":"3y"}`),
		"u1", nil, now, now,
	)
	mock.ExpectQuery(`card_type = \$3 AND \(title ILIKE \$4 OR description ILIKE \$4\) ORDER BY created_at DESC, id DESC LIMIT \$5 OFFSET \$6`).
		WithArgs("u1", "s1", "vision", `%50\%%`, 10, 20).
		WillReturnRows(rows)

	cards, err := store.ListCards(context.Background(), "u1", "s1", card.Filter{CardType: "vision", Search: "50%", Limit: 10, Offset: 20})
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("cards = %d", len(cards))
	}
	c := cards[0]
	if c.Priority != card.LevelHigh || len(c.Tags) != 2 || c.Tags[1] != "b2b" || c.CardData["time_horizon"] != "3y" {
		t.Fatalf("unexpected card %+v", c)
	}
	if c.LastModifiedBy != "" || c.Relationships == nil {
		t.Fatalf("nullable columns not normalised: %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateCardsChecksOwnershipOncePerStrategy(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM strategies").WithArgs("s1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("INSERT INTO cards").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO cards").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := store.CreateCards(context.Background(), []card.Card{
		{StrategyID: "s1", UserID: "u1", CreatedBy: "u1", Title: "A", CardType: "vision"},
		{StrategyID: "s1", UserID: "u1", CreatedBy: "u1", Title: "B", CardType: "vision", Priority: "low"},
	})
	if err != nil {
		t.Fatalf("CreateCards: %v", err)
	}
	if len(out) != 2 || out[1].Priority != card.LevelLow || out[0].ID == out[1].ID {
		t.Fatalf("unexpected cards %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateCardsForeignStrategyRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM strategies").WithArgs("s1", "intruder").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.CreateCards(context.Background(), []card.Card{{StrategyID: "s1", UserID: "intruder", Title: "x", CardType: "vision"}})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateGroupConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO intelligence_groups").WillReturnError(&pq.Error{Code: "23505"})

	_, err := store.CreateGroup(context.Background(), intelligence.Group{UserID: "u1", Name: "Market", Color: "#000000"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateRuleRequiresOwnedStrategy(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO automation_rules").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.CreateRule(context.Background(), automation.Rule{UserID: "u1", StrategyID: "s-other", Name: "x", TriggerType: automation.TriggerManual})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCardNotOwned(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM cards WHERE id = \\$1 AND user_id = \\$2").
		WithArgs("c1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteCard(context.Background(), "u2", "c1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCountCardsByType(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("GROUP BY card_type").WithArgs("u1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"card_type", "count"}).AddRow("vision", 2).AddRow("okrs", 1))

	counts, err := store.CountCardsByType(context.Background(), "u1", "s1")
	if err != nil {
		t.Fatalf("CountCardsByType: %v", err)
	}
	if counts["vision"] != 2 || counts["okrs"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := New(db)

	userID := "00000000-0000-0000-0000-000000000001"
	st, err := store.CreateStrategy(ctx, strategy.Strategy{UserID: userID, Title: "Integration", Status: strategy.StatusDraft})
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	defer store.DeleteStrategy(ctx, userID, st.ID)

	cards, err := store.CreateCards(ctx, []card.Card{{StrategyID: st.ID, UserID: userID, CreatedBy: userID, Title: "Vision", CardType: "vision"}})
	if err != nil {
		t.Fatalf("create cards: %v", err)
	}
	got, err := store.GetCard(ctx, userID, cards[0].ID)
	if err != nil || got.Title != "Vision" {
		t.Fatalf("get card: %+v %v", got, err)
	}
}
