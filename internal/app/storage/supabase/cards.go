package supabase

import (
	"context"
	"fmt"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
)

func cardRecord(c card.Card) map[string]interface{} {
	rec := map[string]interface{}{
		"title":                c.Title,
		"description":          c.Description,
		"card_type":            c.CardType,
		"priority":             string(c.Priority),
		"confidence_level":     string(c.ConfidenceLevel),
		"priority_rationale":   c.PriorityRationale,
		"confidence_rationale": c.ConfidenceRationale,
		"strategic_alignment":  c.StrategicAlignment,
		"tags":                 c.Tags,
		"relationships":        c.Relationships,
		"card_data":            c.CardData,
		"updated_at":           ts(c.UpdatedAt),
	}
	if c.LastModifiedBy != "" {
		rec["last_modified_by"] = c.LastModifiedBy
	}
	return rec
}

func normalizeAll(cards []card.Card) []card.Card {
	for i := range cards {
		cards[i].Normalize()
	}
	return cards
}

// CreateCards checks strategy ownership then inserts all cards in one
// request, which PostgREST runs as a single statement.
func (s *Store) CreateCards(ctx context.Context, cards []card.Card) ([]card.Card, error) {
	if len(cards) == 0 {
		return []card.Card{}, nil
	}

	checked := make(map[string]bool)
	now := s.now()
	records := make([]map[string]interface{}, 0, len(cards))
	for i := range cards {
		c := &cards[i]
		key := c.StrategyID + "/" + c.UserID
		if !checked[key] {
			if err := s.ownsStrategy(ctx, c.UserID, c.StrategyID); err != nil {
				return nil, err
			}
			checked[key] = true
		}
		c.ID = newID(c.ID)
		c.CreatedAt = now
		c.UpdatedAt = now
		c.Normalize()

		rec := cardRecord(*c)
		rec["id"] = c.ID
		rec["strategy_id"] = c.StrategyID
		rec["user_id"] = c.UserID
		rec["created_by"] = c.CreatedBy
		rec["created_at"] = ts(c.CreatedAt)
		records = append(records, rec)
	}

	var rows []card.Card
	if _, err := s.client.From(tableCards).Insert(ctx, records, &rows); err != nil {
		return nil, translate("card", cards[0].ID, err)
	}
	if len(rows) != len(cards) {
		return normalizeAll(cards), nil
	}
	return normalizeAll(rows), nil
}

func (s *Store) UpdateCard(ctx context.Context, c card.Card) (card.Card, error) {
	c.UpdatedAt = s.now()
	c.Normalize()
	var rows []card.Card
	_, err := s.client.From(tableCards).Eq("id", c.ID).Eq("user_id", c.UserID).Update(ctx, cardRecord(c), &rows)
	if err != nil {
		return card.Card{}, translate("card", c.ID, err)
	}
	if len(rows) == 0 {
		return card.Card{}, notFound("card", c.ID)
	}
	rows[0].Normalize()
	return rows[0], nil
}

func (s *Store) GetCard(ctx context.Context, userID, id string) (card.Card, error) {
	var rows []card.Card
	_, err := s.client.From(tableCards).Select("*").Eq("id", id).Eq("user_id", userID).Limit(1).Execute(ctx, &rows)
	if err != nil {
		return card.Card{}, translate("card", id, err)
	}
	if len(rows) == 0 {
		return card.Card{}, notFound("card", id)
	}
	rows[0].Normalize()
	return rows[0], nil
}

func (s *Store) GetCards(ctx context.Context, userID string, ids []string) ([]card.Card, error) {
	if len(ids) == 0 {
		return []card.Card{}, nil
	}
	rows := []card.Card{}
	_, err := s.client.From(tableCards).Select("*").Eq("user_id", userID).In("id", ids).Execute(ctx, &rows)
	if err != nil {
		return nil, translate("card", "", err)
	}
	return normalizeAll(rows), nil
}

func (s *Store) ListCards(ctx context.Context, userID, strategyID string, filter card.Filter) ([]card.Card, error) {
	q := s.client.From(tableCards).Select("*").Eq("user_id", userID).Eq("strategy_id", strategyID)
	if filter.CardType != "" {
		q = q.Eq("card_type", filter.CardType)
	}
	if filter.Search != "" {
		p := searchPattern(filter.Search)
		q = q.Or(fmt.Sprintf("title.ilike.%s,description.ilike.%s", p, p))
	}
	rows := []card.Card{}
	_, err := q.Order("created_at", false).Order("id", false).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Execute(ctx, &rows)
	if err != nil {
		return nil, translate("card", "", err)
	}
	return normalizeAll(rows), nil
}

func (s *Store) CountCardsByType(ctx context.Context, userID, strategyID string) (map[string]int, error) {
	var rows []struct {
		CardType string `json:"card_type"`
	}
	_, err := s.client.From(tableCards).Select("card_type").Eq("user_id", userID).Eq("strategy_id", strategyID).Execute(ctx, &rows)
	if err != nil {
		return nil, translate("card", "", err)
	}
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.CardType]++
	}
	return counts, nil
}

func (s *Store) DeleteCard(ctx context.Context, userID, id string) error {
	var rows []card.Card
	_, err := s.client.From(tableCards).Eq("id", id).Eq("user_id", userID).Delete(ctx, &rows)
	if err != nil {
		return translate("card", id, err)
	}
	if len(rows) == 0 {
		return notFound("card", id)
	}
	return nil
}
