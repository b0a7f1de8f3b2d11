package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:  sqlx.NewDb(db, "postgres"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to dsn with lib/pq.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// translate maps driver errors onto storage sentinel errors.
func translate(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%s %s: %w", kind, id, storage.ErrConflict)
		case "23503", "22P02":
			// foreign key violation or malformed uuid: the referenced row is not visible
			return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
		}
	}
	return err
}

func mustAffect(kind, id string, res sql.Result, err error) error {
	if err != nil {
		return translate(kind, id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// --- StrategyStore ----------------------------------------------------------

const strategyColumns = `id, user_id, title, client, description, status, created_at, updated_at`

func (s *Store) CreateStrategy(ctx context.Context, st strategy.Strategy) (strategy.Strategy, error) {
	st.ID = newID(st.ID)
	now := s.now()
	st.CreatedAt = now
	st.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategies (id, user_id, title, client, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, st.ID, st.UserID, st.Title, st.Client, st.Description, string(st.Status), st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return strategy.Strategy{}, translate("strategy", st.ID, err)
	}
	return st, nil
}

func (s *Store) UpdateStrategy(ctx context.Context, st strategy.Strategy) (strategy.Strategy, error) {
	st.UpdatedAt = s.now()
	err := s.db.QueryRowxContext(ctx, `
		UPDATE strategies
		SET title = $3, client = $4, description = $5, status = $6, updated_at = $7
		WHERE id = $1 AND user_id = $2
		RETURNING created_at
	`, st.ID, st.UserID, st.Title, st.Client, st.Description, string(st.Status), st.UpdatedAt).Scan(&st.CreatedAt)
	if err != nil {
		return strategy.Strategy{}, translate("strategy", st.ID, err)
	}
	return st, nil
}

func (s *Store) GetStrategy(ctx context.Context, userID, id string) (strategy.Strategy, error) {
	var st strategy.Strategy
	err := s.db.GetContext(ctx, &st, `SELECT `+strategyColumns+` FROM strategies WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return strategy.Strategy{}, translate("strategy", id, err)
	}
	return st, nil
}

func (s *Store) ListStrategies(ctx context.Context, userID string, status strategy.Status) ([]strategy.Strategy, error) {
	out := []strategy.Strategy{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+strategyColumns+`
		FROM strategies
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
	`, userID, string(status))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteStrategy(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = $1 AND user_id = $2`, id, userID)
	return mustAffect("strategy", id, res, err)
}
