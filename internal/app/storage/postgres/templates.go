package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pinnlo/service_layer/internal/app/domain/template"
)

const templateColumns = `id, card_type, title, description, card_data, tags, is_public, created_at`

type templateRow struct {
	ID          string         `db:"id"`
	CardType    string         `db:"card_type"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	CardData    []byte         `db:"card_data"`
	Tags        pq.StringArray `db:"tags"`
	IsPublic    bool           `db:"is_public"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r templateRow) toTemplate() template.Card {
	t := template.Card{
		ID:          r.ID,
		CardType:    r.CardType,
		Title:       r.Title,
		Description: r.Description,
		Tags:        []string(r.Tags),
		IsPublic:    r.IsPublic,
		CreatedAt:   r.CreatedAt,
	}
	if len(r.CardData) > 0 {
		_ = json.Unmarshal(r.CardData, &t.CardData)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t
}

func (s *Store) ListTemplates(ctx context.Context, cardType string) ([]template.Card, error) {
	var rows []templateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+templateColumns+`
		FROM template_cards
		WHERE is_public AND ($1 = '' OR card_type = $1)
		ORDER BY card_type, title
	`, cardType)
	if err != nil {
		return nil, err
	}
	out := make([]template.Card, len(rows))
	for i, r := range rows {
		out[i] = r.toTemplate()
	}
	return out, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (template.Card, error) {
	var row templateRow
	err := s.db.GetContext(ctx, &row, `SELECT `+templateColumns+` FROM template_cards WHERE id = $1 AND is_public`, id)
	if err != nil {
		return template.Card{}, translate("template", id, err)
	}
	return row.toTemplate(), nil
}

func (s *Store) UpsertTemplate(ctx context.Context, t template.Card) (template.Card, error) {
	t.ID = newID(t.ID)
	data, err := json.Marshal(orEmpty(t.CardData))
	if err != nil {
		return template.Card{}, fmt.Errorf("encode card_data: %w", err)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}

	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO template_cards (id, card_type, title, description, card_data, tags, is_public, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET card_type = EXCLUDED.card_type, title = EXCLUDED.title, description = EXCLUDED.description,
			card_data = EXCLUDED.card_data, tags = EXCLUDED.tags, is_public = EXCLUDED.is_public
		RETURNING created_at
	`, t.ID, t.CardType, t.Title, t.Description, data, pq.StringArray(t.Tags), t.IsPublic, s.now()).Scan(&t.CreatedAt)
	if err != nil {
		return template.Card{}, translate("template", t.ID, err)
	}
	return t, nil
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
