package supabase

import (
	"context"
	"sort"
	"strings"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/intelligence"
)

func (s *Store) CreateGroup(ctx context.Context, g intelligence.Group) (intelligence.Group, error) {
	g.ID = newID(g.ID)
	now := s.now()
	g.CreatedAt = now
	g.UpdatedAt = now
	g.CardCount = 0

	rec := map[string]interface{}{
		"id":          g.ID,
		"user_id":     g.UserID,
		"name":        g.Name,
		"description": g.Description,
		"color":       g.Color,
		"created_at":  ts(now),
		"updated_at":  ts(now),
	}
	var rows []intelligence.Group
	if _, err := s.client.From(tableGroups).Insert(ctx, rec, &rows); err != nil {
		return intelligence.Group{}, translate("intelligence group", g.Name, err)
	}
	if len(rows) == 1 {
		return rows[0], nil
	}
	return g, nil
}

func (s *Store) UpdateGroup(ctx context.Context, g intelligence.Group) (intelligence.Group, error) {
	rec := map[string]interface{}{
		"name":        g.Name,
		"description": g.Description,
		"color":       g.Color,
		"updated_at":  ts(s.now()),
	}
	var rows []intelligence.Group
	_, err := s.client.From(tableGroups).Eq("id", g.ID).Eq("user_id", g.UserID).Update(ctx, rec, &rows)
	if err != nil {
		return intelligence.Group{}, translate("intelligence group", g.ID, err)
	}
	if len(rows) == 0 {
		return intelligence.Group{}, notFound("intelligence group", g.ID)
	}
	return rows[0], nil
}

func (s *Store) GetGroup(ctx context.Context, userID, id string) (intelligence.Group, error) {
	var rows []intelligence.Group
	_, err := s.client.From(tableGroups).Select("*").Eq("id", id).Eq("user_id", userID).Limit(1).Execute(ctx, &rows)
	if err != nil {
		return intelligence.Group{}, translate("intelligence group", id, err)
	}
	if len(rows) == 0 {
		return intelligence.Group{}, notFound("intelligence group", id)
	}
	return rows[0], nil
}

func (s *Store) ListGroups(ctx context.Context, userID string) ([]intelligence.Group, error) {
	rows := []intelligence.Group{}
	if _, err := s.client.From(tableGroups).Select("*").Eq("user_id", userID).Execute(ctx, &rows); err != nil {
		return nil, translate("intelligence group", "", err)
	}
	// PostgREST cannot order by lower(name).
	sort.SliceStable(rows, func(i, j int) bool {
		return strings.ToLower(rows[i].Name) < strings.ToLower(rows[j].Name)
	})
	return rows, nil
}

func (s *Store) DeleteGroup(ctx context.Context, userID, id string) error {
	var rows []intelligence.Group
	_, err := s.client.From(tableGroups).Eq("id", id).Eq("user_id", userID).Delete(ctx, &rows)
	if err != nil {
		return translate("intelligence group", id, err)
	}
	if len(rows) == 0 {
		return notFound("intelligence group", id)
	}
	return nil
}

func (s *Store) AddGroupCards(ctx context.Context, userID, groupID string, cardIDs []string) (intelligence.Group, error) {
	if _, err := s.GetGroup(ctx, userID, groupID); err != nil {
		return intelligence.Group{}, err
	}
	ids := dedupe(cardIDs)
	owned, err := s.GetCards(ctx, userID, ids)
	if err != nil {
		return intelligence.Group{}, err
	}
	if len(owned) != len(ids) {
		return intelligence.Group{}, notFound("card", strings.Join(missing(ids, owned), ","))
	}

	now := s.now()
	if len(ids) > 0 {
		records := make([]map[string]interface{}, len(ids))
		for i, id := range ids {
			records[i] = map[string]interface{}{
				"group_id": groupID,
				"card_id":  id,
				"added_by": userID,
				"added_at": ts(now),
			}
		}
		if _, err := s.client.From(tableMemberships).Upsert(ctx, records, "group_id,card_id", nil); err != nil {
			return intelligence.Group{}, translate("intelligence group", groupID, err)
		}
	}

	// card_count is maintained by a trigger; touching last_used_at returns it.
	var rows []intelligence.Group
	_, err = s.client.From(tableGroups).Eq("id", groupID).Eq("user_id", userID).
		Update(ctx, map[string]interface{}{"last_used_at": ts(now)}, &rows)
	if err != nil {
		return intelligence.Group{}, translate("intelligence group", groupID, err)
	}
	if len(rows) == 0 {
		return intelligence.Group{}, notFound("intelligence group", groupID)
	}
	return rows[0], nil
}

func (s *Store) RemoveGroupCard(ctx context.Context, userID, groupID, cardID string) error {
	if _, err := s.GetGroup(ctx, userID, groupID); err != nil {
		return err
	}
	var rows []intelligence.Membership
	_, err := s.client.From(tableMemberships).Eq("group_id", groupID).Eq("card_id", cardID).Delete(ctx, &rows)
	if err != nil {
		return translate("intelligence group card", cardID, err)
	}
	if len(rows) == 0 {
		return notFound("intelligence group card", cardID)
	}
	return nil
}

func (s *Store) ListGroupCards(ctx context.Context, userID, groupID string) ([]card.Card, error) {
	if _, err := s.GetGroup(ctx, userID, groupID); err != nil {
		return nil, err
	}
	var members []intelligence.Membership
	_, err := s.client.From(tableMemberships).Select("card_id").Eq("group_id", groupID).Execute(ctx, &members)
	if err != nil {
		return nil, translate("intelligence group", groupID, err)
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.CardID
	}
	cards, err := s.GetCards(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cards, func(i, j int) bool {
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.After(cards[j].CreatedAt)
		}
		return cards[i].ID > cards[j].ID
	})
	return cards, nil
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

func missing(ids []string, found []card.Card) []string {
	have := make(map[string]bool, len(found))
	for _, c := range found {
		have[c.ID] = true
	}
	var out []string
	for _, id := range ids {
		if !have[id] {
			out = append(out, id)
		}
	}
	return out
}
