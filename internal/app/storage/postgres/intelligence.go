package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/intelligence"
	"github.com/pinnlo/service_layer/internal/app/storage"
)

const groupColumns = `id, user_id, name, description, color, card_count, created_at, updated_at, last_used_at`

func (s *Store) CreateGroup(ctx context.Context, g intelligence.Group) (intelligence.Group, error) {
	g.ID = newID(g.ID)
	now := s.now()
	g.CreatedAt = now
	g.UpdatedAt = now
	g.CardCount = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intelligence_groups (id, user_id, name, description, color, card_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
	`, g.ID, g.UserID, g.Name, g.Description, g.Color, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return intelligence.Group{}, translate("intelligence group", g.Name, err)
	}
	return g, nil
}

func (s *Store) UpdateGroup(ctx context.Context, g intelligence.Group) (intelligence.Group, error) {
	g.UpdatedAt = s.now()
	err := s.db.QueryRowxContext(ctx, `
		UPDATE intelligence_groups
		SET name = $3, description = $4, color = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2
		RETURNING card_count, created_at, last_used_at
	`, g.ID, g.UserID, g.Name, g.Description, g.Color, g.UpdatedAt).Scan(&g.CardCount, &g.CreatedAt, &g.LastUsedAt)
	if err != nil {
		return intelligence.Group{}, translate("intelligence group", g.ID, err)
	}
	return g, nil
}

func (s *Store) GetGroup(ctx context.Context, userID, id string) (intelligence.Group, error) {
	var g intelligence.Group
	err := s.db.GetContext(ctx, &g, `SELECT `+groupColumns+` FROM intelligence_groups WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return intelligence.Group{}, translate("intelligence group", id, err)
	}
	return g, nil
}

func (s *Store) ListGroups(ctx context.Context, userID string) ([]intelligence.Group, error) {
	out := []intelligence.Group{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+groupColumns+`
		FROM intelligence_groups
		WHERE user_id = $1
		ORDER BY lower(name)
	`, userID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteGroup(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM intelligence_groups WHERE id = $1 AND user_id = $2`, id, userID)
	return mustAffect("intelligence group", id, res, err)
}

func (s *Store) AddGroupCards(ctx context.Context, userID, groupID string, cardIDs []string) (intelligence.Group, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return intelligence.Group{}, err
	}
	defer tx.Rollback()

	var locked string
	err = tx.GetContext(ctx, &locked, `SELECT id FROM intelligence_groups WHERE id = $1 AND user_id = $2 FOR UPDATE`, groupID, userID)
	if err != nil {
		return intelligence.Group{}, translate("intelligence group", groupID, err)
	}

	unique := dedupe(cardIDs)
	if len(unique) > 0 {
		var owned int
		err = tx.GetContext(ctx, &owned, `SELECT count(*) FROM cards WHERE user_id = $1 AND id::text = ANY($2)`, userID, pq.Array(unique))
		if err != nil {
			return intelligence.Group{}, err
		}
		if owned != len(unique) {
			return intelligence.Group{}, fmt.Errorf("card: %w", storage.ErrNotFound)
		}
	}

	now := s.now()
	for _, cardID := range unique {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO intelligence_group_cards (group_id, card_id, added_by, added_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (group_id, card_id) DO NOTHING
		`, groupID, cardID, userID, now)
		if err != nil {
			return intelligence.Group{}, translate("card", cardID, err)
		}
	}

	var g intelligence.Group
	err = tx.GetContext(ctx, &g, `
		UPDATE intelligence_groups
		SET card_count = (SELECT count(*) FROM intelligence_group_cards WHERE group_id = $1),
			last_used_at = $2, updated_at = $2
		WHERE id = $1
		RETURNING `+groupColumns, groupID, now)
	if err != nil {
		return intelligence.Group{}, translate("intelligence group", groupID, err)
	}

	if err := tx.Commit(); err != nil {
		return intelligence.Group{}, err
	}
	return g, nil
}

func (s *Store) RemoveGroupCard(ctx context.Context, userID, groupID, cardID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM intelligence_group_cards gc
		USING intelligence_groups g
		WHERE gc.group_id = g.id AND g.id = $1 AND g.user_id = $2 AND gc.card_id = $3
	`, groupID, userID, cardID)
	return mustAffect("group card", cardID, res, err)
}

func (s *Store) ListGroupCards(ctx context.Context, userID, groupID string) ([]card.Card, error) {
	if _, err := s.GetGroup(ctx, userID, groupID); err != nil {
		return nil, err
	}
	var rows []cardRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT c.id, c.strategy_id, c.user_id, c.title, c.description, c.card_type, c.priority, c.confidence_level,
			c.priority_rationale, c.confidence_rationale, c.strategic_alignment, c.tags, c.relationships, c.card_data,
			c.created_by, c.last_modified_by, c.created_at, c.updated_at
		FROM cards c
		JOIN intelligence_group_cards gc ON gc.card_id = c.id
		WHERE gc.group_id = $1
		ORDER BY gc.added_at DESC, c.id DESC
	`, groupID)
	if err != nil {
		return nil, err
	}
	return toCards(rows), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
