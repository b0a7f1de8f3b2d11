package supabase

import (
	"context"
	"time"

	"github.com/pinnlo/service_layer/internal/app/domain/automation"
)

func ruleRecord(r automation.Rule) map[string]interface{} {
	rec := map[string]interface{}{
		"name":             r.Name,
		"description":      r.Description,
		"enabled":          r.Enabled,
		"trigger_type":     string(r.TriggerType),
		"schedule":         r.Schedule,
		"event_card_types": r.EventCardTypes,
		"condition":        r.Condition,
		"action":           r.Action,
		"last_run_at":      nil,
		"next_run_at":      nil,
		"updated_at":       ts(r.UpdatedAt),
	}
	if r.EventCardTypes == nil {
		rec["event_card_types"] = []string{}
	}
	if r.LastRunAt != nil {
		rec["last_run_at"] = ts(*r.LastRunAt)
	}
	if r.NextRunAt != nil {
		rec["next_run_at"] = ts(*r.NextRunAt)
	}
	return rec
}

func (s *Store) CreateRule(ctx context.Context, r automation.Rule) (automation.Rule, error) {
	if err := s.ownsStrategy(ctx, r.UserID, r.StrategyID); err != nil {
		return automation.Rule{}, err
	}
	r.ID = newID(r.ID)
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now

	rec := ruleRecord(r)
	rec["id"] = r.ID
	rec["user_id"] = r.UserID
	rec["strategy_id"] = r.StrategyID
	rec["created_at"] = ts(now)

	var rows []automation.Rule
	if _, err := s.client.From(tableRules).Insert(ctx, rec, &rows); err != nil {
		return automation.Rule{}, translate("automation rule", r.Name, err)
	}
	if len(rows) == 1 {
		return rows[0], nil
	}
	return r, nil
}

func (s *Store) UpdateRule(ctx context.Context, r automation.Rule) (automation.Rule, error) {
	r.UpdatedAt = s.now()
	var rows []automation.Rule
	_, err := s.client.From(tableRules).Eq("id", r.ID).Eq("user_id", r.UserID).Update(ctx, ruleRecord(r), &rows)
	if err != nil {
		return automation.Rule{}, translate("automation rule", r.ID, err)
	}
	if len(rows) == 0 {
		return automation.Rule{}, notFound("automation rule", r.ID)
	}
	return rows[0], nil
}

func (s *Store) RecordRuleRun(ctx context.Context, userID, id string, lastRun time.Time, nextRun *time.Time) error {
	rec := map[string]interface{}{"last_run_at": ts(lastRun), "next_run_at": nil}
	if nextRun != nil {
		rec["next_run_at"] = ts(*nextRun)
	}
	var rows []automation.Rule
	if _, err := s.client.From(tableRules).Eq("id", id).Eq("user_id", userID).Update(ctx, rec, &rows); err != nil {
		return translate("automation rule", id, err)
	}
	if len(rows) == 0 {
		return notFound("automation rule", id)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, userID, id string) (automation.Rule, error) {
	var rows []automation.Rule
	_, err := s.client.From(tableRules).Select("*").Eq("id", id).Eq("user_id", userID).Limit(1).Execute(ctx, &rows)
	if err != nil {
		return automation.Rule{}, translate("automation rule", id, err)
	}
	if len(rows) == 0 {
		return automation.Rule{}, notFound("automation rule", id)
	}
	return rows[0], nil
}

func (s *Store) ListRules(ctx context.Context, userID, strategyID string) ([]automation.Rule, error) {
	q := s.client.From(tableRules).Select("*").Eq("user_id", userID)
	if strategyID != "" {
		q = q.Eq("strategy_id", strategyID)
	}
	rows := []automation.Rule{}
	if _, err := q.Order("created_at", false).Order("id", false).Execute(ctx, &rows); err != nil {
		return nil, translate("automation rule", "", err)
	}
	return rows, nil
}

func (s *Store) ListEnabledRules(ctx context.Context, trigger automation.TriggerType) ([]automation.Rule, error) {
	rows := []automation.Rule{}
	_, err := s.client.From(tableRules).Select("*").
		Eq("enabled", true).
		Eq("trigger_type", string(trigger)).
		Order("id", true).
		Execute(ctx, &rows)
	if err != nil {
		return nil, translate("automation rule", "", err)
	}
	return rows, nil
}

func (s *Store) DeleteRule(ctx context.Context, userID, id string) error {
	var rows []automation.Rule
	_, err := s.client.From(tableRules).Eq("id", id).Eq("user_id", userID).Delete(ctx, &rows)
	if err != nil {
		return translate("automation rule", id, err)
	}
	if len(rows) == 0 {
		return notFound("automation rule", id)
	}
	return nil
}

func executionRecord(e automation.Execution) map[string]interface{} {
	rec := map[string]interface{}{
		"status":        string(e.Status),
		"cards_created": e.CardsCreated,
		"card_ids":      e.CardIDs,
		"preview_id":    e.PreviewID,
		"error":         e.Error,
		"finished_at":   nil,
	}
	if e.FinishedAt != nil {
		rec["finished_at"] = ts(*e.FinishedAt)
	}
	return rec
}

func (s *Store) CreateExecution(ctx context.Context, e automation.Execution) (automation.Execution, error) {
	e.ID = newID(e.ID)
	if e.StartedAt.IsZero() {
		e.StartedAt = s.now()
	}
	if e.CardIDs == nil {
		e.CardIDs = []string{}
	}
	rec := executionRecord(e)
	rec["id"] = e.ID
	rec["rule_id"] = e.RuleID
	rec["user_id"] = e.UserID
	rec["strategy_id"] = e.StrategyID
	rec["trigger"] = e.Trigger
	rec["started_at"] = ts(e.StartedAt)

	if _, err := s.client.From(tableExecutions).Insert(ctx, rec, nil); err != nil {
		return automation.Execution{}, translate("automation execution", e.ID, err)
	}
	return e, nil
}

func (s *Store) UpdateExecution(ctx context.Context, e automation.Execution) (automation.Execution, error) {
	if e.CardIDs == nil {
		e.CardIDs = []string{}
	}
	var rows []automation.Execution
	_, err := s.client.From(tableExecutions).Eq("id", e.ID).Update(ctx, executionRecord(e), &rows)
	if err != nil {
		return automation.Execution{}, translate("automation execution", e.ID, err)
	}
	if len(rows) == 0 {
		return automation.Execution{}, notFound("automation execution", e.ID)
	}
	return rows[0], nil
}

func (s *Store) ListExecutions(ctx context.Context, userID, ruleID string, limit int) ([]automation.Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows := []automation.Execution{}
	_, err := s.client.From(tableExecutions).Select("*").
		Eq("user_id", userID).
		Eq("rule_id", ruleID).
		Order("started_at", false).
		Order("id", false).
		Limit(limit).
		Execute(ctx, &rows)
	if err != nil {
		return nil, translate("automation execution", "", err)
	}
	for i := range rows {
		if rows[i].CardIDs == nil {
			rows[i].CardIDs = []string{}
		}
	}
	return rows, nil
}
