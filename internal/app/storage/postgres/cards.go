package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
)

const cardColumns = `id, strategy_id, user_id, title, description, card_type, priority, confidence_level,
	priority_rationale, confidence_rationale, strategic_alignment, tags, relationships, card_data,
	created_by, last_modified_by, created_at, updated_at`

type cardRow struct {
	ID                  string         `db:"id"`
	StrategyID          string         `db:"strategy_id"`
	UserID              string         `db:"user_id"`
	Title               string         `db:"title"`
	Description         string         `db:"description"`
	CardType            string         `db:"card_type"`
	Priority            string         `db:"priority"`
	ConfidenceLevel     string         `db:"confidence_level"`
	PriorityRationale   string         `db:"priority_rationale"`
	ConfidenceRationale string         `db:"confidence_rationale"`
	StrategicAlignment  string         `db:"strategic_alignment"`
	Tags                pq.StringArray `db:"tags"`
	Relationships       pq.StringArray `db:"relationships"`
	CardData            []byte         `db:"card_data"`
	CreatedBy           string         `db:"created_by"`
	LastModifiedBy      sql.NullString `db:"last_modified_by"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r cardRow) toCard() card.Card {
	c := card.Card{
		ID:                  r.ID,
		StrategyID:          r.StrategyID,
		UserID:              r.UserID,
		Title:               r.Title,
		Description:         r.Description,
		CardType:            r.CardType,
		Priority:            card.Level(r.Priority),
		ConfidenceLevel:     card.Level(r.ConfidenceLevel),
		PriorityRationale:   r.PriorityRationale,
		ConfidenceRationale: r.ConfidenceRationale,
		StrategicAlignment:  r.StrategicAlignment,
		Tags:                []string(r.Tags),
		Relationships:       []string(r.Relationships),
		CreatedBy:           r.CreatedBy,
		LastModifiedBy:      r.LastModifiedBy.String,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if len(r.CardData) > 0 {
		_ = json.Unmarshal(r.CardData, &c.CardData)
	}
	c.Normalize()
	return c
}

func toCards(rows []cardRow) []card.Card {
	out := make([]card.Card, len(rows))
	for i, r := range rows {
		out[i] = r.toCard()
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) CreateCards(ctx context.Context, cards []card.Card) ([]card.Card, error) {
	if len(cards) == 0 {
		return []card.Card{}, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	owned := make(map[string]bool)
	now := s.now()
	out := make([]card.Card, 0, len(cards))
	for _, c := range cards {
		key := c.StrategyID + "/" + c.UserID
		if !owned[key] {
			var one int
			err := tx.GetContext(ctx, &one, `SELECT 1 FROM strategies WHERE id = $1 AND user_id = $2`, c.StrategyID, c.UserID)
			if err != nil {
				return nil, translate("strategy", c.StrategyID, err)
			}
			owned[key] = true
		}

		c.ID = newID(c.ID)
		c.CreatedAt = now
		c.UpdatedAt = now
		c.Normalize()
		data, err := c.CardDataJSON()
		if err != nil {
			return nil, fmt.Errorf("encode card_data: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cards (id, strategy_id, user_id, title, description, card_type, priority, confidence_level,
				priority_rationale, confidence_rationale, strategic_alignment, tags, relationships, card_data,
				created_by, last_modified_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`, c.ID, c.StrategyID, c.UserID, c.Title, c.Description, c.CardType, string(c.Priority), string(c.ConfidenceLevel),
			c.PriorityRationale, c.ConfidenceRationale, c.StrategicAlignment, pq.StringArray(c.Tags), pq.StringArray(c.Relationships),
			data, c.CreatedBy, nullString(c.LastModifiedBy), c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return nil, translate("card", c.ID, err)
		}
		out = append(out, c)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateCard(ctx context.Context, c card.Card) (card.Card, error) {
	c.UpdatedAt = s.now()
	c.Normalize()
	data, err := c.CardDataJSON()
	if err != nil {
		return card.Card{}, fmt.Errorf("encode card_data: %w", err)
	}

	err = s.db.QueryRowxContext(ctx, `
		UPDATE cards
		SET title = $3, description = $4, card_type = $5, priority = $6, confidence_level = $7,
			priority_rationale = $8, confidence_rationale = $9, strategic_alignment = $10,
			tags = $11, relationships = $12, card_data = $13, last_modified_by = $14, updated_at = $15
		WHERE id = $1 AND user_id = $2
		RETURNING strategy_id, created_by, created_at
	`, c.ID, c.UserID, c.Title, c.Description, c.CardType, string(c.Priority), string(c.ConfidenceLevel),
		c.PriorityRationale, c.ConfidenceRationale, c.StrategicAlignment,
		pq.StringArray(c.Tags), pq.StringArray(c.Relationships), data, nullString(c.LastModifiedBy), c.UpdatedAt,
	).Scan(&c.StrategyID, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return card.Card{}, translate("card", c.ID, err)
	}
	return c, nil
}

func (s *Store) GetCard(ctx context.Context, userID, id string) (card.Card, error) {
	var row cardRow
	err := s.db.GetContext(ctx, &row, `SELECT `+cardColumns+` FROM cards WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return card.Card{}, translate("card", id, err)
	}
	return row.toCard(), nil
}

func (s *Store) GetCards(ctx context.Context, userID string, ids []string) ([]card.Card, error) {
	if len(ids) == 0 {
		return []card.Card{}, nil
	}
	var rows []cardRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+cardColumns+` FROM cards WHERE user_id = $1 AND id::text = ANY($2)`, userID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return toCards(rows), nil
}

func (s *Store) ListCards(ctx context.Context, userID, strategyID string, filter card.Filter) ([]card.Card, error) {
	where := []string{"user_id = $1", "strategy_id = $2"}
	args := []interface{}{userID, strategyID}
	if filter.CardType != "" {
		args = append(args, filter.CardType)
		where = append(where, fmt.Sprintf("card_type = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}

	query := `SELECT ` + cardColumns + ` FROM cards WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []cardRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toCards(rows), nil
}

func (s *Store) CountCardsByType(ctx context.Context, userID, strategyID string) (map[string]int, error) {
	var rows []struct {
		CardType string `db:"card_type"`
		Count    int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT card_type, count(*) AS count
		FROM cards
		WHERE user_id = $1 AND strategy_id = $2
		GROUP BY card_type
	`, userID, strategyID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.CardType] = r.Count
	}
	return counts, nil
}

func (s *Store) DeleteCard(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id = $1 AND user_id = $2`, id, userID)
	return mustAffect("card", id, res, err)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
