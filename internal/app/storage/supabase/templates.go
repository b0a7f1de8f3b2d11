package supabase

import (
	"context"

	"github.com/pinnlo/service_layer/internal/app/domain/template"
)

func (s *Store) ListTemplates(ctx context.Context, cardType string) ([]template.Card, error) {
	q := s.client.From(tableTemplates).Select("*").Eq("is_public", true)
	if cardType != "" {
		q = q.Eq("card_type", cardType)
	}
	rows := []template.Card{}
	if _, err := q.Order("card_type", true).Order("title", true).Execute(ctx, &rows); err != nil {
		return nil, translate("template", "", err)
	}
	return rows, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (template.Card, error) {
	var rows []template.Card
	_, err := s.client.From(tableTemplates).Select("*").Eq("id", id).Eq("is_public", true).Limit(1).Execute(ctx, &rows)
	if err != nil {
		return template.Card{}, translate("template", id, err)
	}
	if len(rows) == 0 {
		return template.Card{}, notFound("template", id)
	}
	return rows[0], nil
}

func (s *Store) UpsertTemplate(ctx context.Context, t template.Card) (template.Card, error) {
	t.ID = newID(t.ID)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.CardData == nil {
		t.CardData = map[string]interface{}{}
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	var rows []template.Card
	if _, err := s.client.From(tableTemplates).Upsert(ctx, t, "id", &rows); err != nil {
		return template.Card{}, translate("template", t.ID, err)
	}
	if len(rows) == 1 {
		return rows[0], nil
	}
	return t, nil
}
