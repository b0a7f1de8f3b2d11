package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pinnlo/service_layer/internal/app/domain/automation"
)

const ruleColumns = `id, user_id, strategy_id, name, description, enabled, trigger_type, schedule, event_card_types,
	condition, action, last_run_at, next_run_at, created_at, updated_at`

type ruleRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	StrategyID     string         `db:"strategy_id"`
	Name           string         `db:"name"`
	Description    string         `db:"description"`
	Enabled        bool           `db:"enabled"`
	TriggerType    string         `db:"trigger_type"`
	Schedule       string         `db:"schedule"`
	EventCardTypes pq.StringArray `db:"event_card_types"`
	Condition      string         `db:"condition"`
	Action         []byte         `db:"action"`
	LastRunAt      *time.Time     `db:"last_run_at"`
	NextRunAt      *time.Time     `db:"next_run_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r ruleRow) toRule() automation.Rule {
	rule := automation.Rule{
		ID:             r.ID,
		UserID:         r.UserID,
		StrategyID:     r.StrategyID,
		Name:           r.Name,
		Description:    r.Description,
		Enabled:        r.Enabled,
		TriggerType:    automation.TriggerType(r.TriggerType),
		Schedule:       r.Schedule,
		EventCardTypes: []string(r.EventCardTypes),
		Condition:      r.Condition,
		LastRunAt:      r.LastRunAt,
		NextRunAt:      r.NextRunAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.Action) > 0 {
		_ = json.Unmarshal(r.Action, &rule.Action)
	}
	if rule.EventCardTypes == nil {
		rule.EventCardTypes = []string{}
	}
	return rule
}

func toRules(rows []ruleRow) []automation.Rule {
	out := make([]automation.Rule, len(rows))
	for i, r := range rows {
		out[i] = r.toRule()
	}
	return out
}

func (s *Store) CreateRule(ctx context.Context, r automation.Rule) (automation.Rule, error) {
	r.ID = newID(r.ID)
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	action, err := json.Marshal(r.Action)
	if err != nil {
		return automation.Rule{}, fmt.Errorf("encode action: %w", err)
	}

	// The insert only happens when the strategy belongs to the rule's owner.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_rules (id, user_id, strategy_id, name, description, enabled, trigger_type, schedule,
			event_card_types, condition, action, last_run_at, next_run_at, created_at, updated_at)
		SELECT $1::uuid, $2::uuid, $3::uuid, $4::text, $5::text, $6::boolean, $7::text, $8::text,
			$9::text[], $10::text, $11::jsonb, $12::timestamptz, $13::timestamptz, $14::timestamptz, $15::timestamptz
		WHERE EXISTS (SELECT 1 FROM strategies WHERE id = $3::uuid AND user_id = $2::uuid)
	`, r.ID, r.UserID, r.StrategyID, r.Name, r.Description, r.Enabled, string(r.TriggerType), r.Schedule,
		pq.StringArray(r.EventCardTypes), r.Condition, action, r.LastRunAt, r.NextRunAt, r.CreatedAt, r.UpdatedAt)
	if err := mustAffect("strategy", r.StrategyID, res, err); err != nil {
		return automation.Rule{}, err
	}
	return r, nil
}

func (s *Store) UpdateRule(ctx context.Context, r automation.Rule) (automation.Rule, error) {
	r.UpdatedAt = s.now()
	action, err := json.Marshal(r.Action)
	if err != nil {
		return automation.Rule{}, fmt.Errorf("encode action: %w", err)
	}

	err = s.db.QueryRowxContext(ctx, `
		UPDATE automation_rules
		SET name = $3, description = $4, enabled = $5, trigger_type = $6, schedule = $7, event_card_types = $8,
			condition = $9, action = $10, last_run_at = $11, next_run_at = $12, updated_at = $13
		WHERE id = $1 AND user_id = $2
		RETURNING strategy_id, created_at
	`, r.ID, r.UserID, r.Name, r.Description, r.Enabled, string(r.TriggerType), r.Schedule,
		pq.StringArray(r.EventCardTypes), r.Condition, action, r.LastRunAt, r.NextRunAt, r.UpdatedAt,
	).Scan(&r.StrategyID, &r.CreatedAt)
	if err != nil {
		return automation.Rule{}, translate("automation rule", r.ID, err)
	}
	return r, nil
}

func (s *Store) RecordRuleRun(ctx context.Context, userID, id string, lastRun time.Time, nextRun *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET last_run_at = $3, next_run_at = $4
		WHERE id = $1 AND user_id = $2
	`, id, userID, lastRun, nextRun)
	return mustAffect("automation rule", id, res, err)
}

func (s *Store) GetRule(ctx context.Context, userID, id string) (automation.Rule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return automation.Rule{}, translate("automation rule", id, err)
	}
	return row.toRule(), nil
}

func (s *Store) ListRules(ctx context.Context, userID, strategyID string) ([]automation.Rule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE user_id = $1 AND ($2 = '' OR strategy_id::text = $2)
		ORDER BY created_at DESC, id DESC
	`, userID, strategyID)
	if err != nil {
		return nil, err
	}
	return toRules(rows), nil
}

func (s *Store) ListEnabledRules(ctx context.Context, trigger automation.TriggerType) ([]automation.Rule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE enabled AND trigger_type = $1
		ORDER BY id
	`, string(trigger))
	if err != nil {
		return nil, err
	}
	return toRules(rows), nil
}

func (s *Store) DeleteRule(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = $1 AND user_id = $2`, id, userID)
	return mustAffect("automation rule", id, res, err)
}

const executionColumns = `id, rule_id, user_id, strategy_id, trigger, status, cards_created, card_ids, preview_id,
	error, started_at, finished_at`

type executionRow struct {
	ID           string         `db:"id"`
	RuleID       string         `db:"rule_id"`
	UserID       string         `db:"user_id"`
	StrategyID   string         `db:"strategy_id"`
	Trigger      string         `db:"trigger"`
	Status       string         `db:"status"`
	CardsCreated int            `db:"cards_created"`
	CardIDs      pq.StringArray `db:"card_ids"`
	PreviewID    string         `db:"preview_id"`
	Error        string         `db:"error"`
	StartedAt    time.Time      `db:"started_at"`
	FinishedAt   *time.Time     `db:"finished_at"`
}

func (r executionRow) toExecution() automation.Execution {
	e := automation.Execution{
		ID:           r.ID,
		RuleID:       r.RuleID,
		UserID:       r.UserID,
		StrategyID:   r.StrategyID,
		Trigger:      r.Trigger,
		Status:       automation.Status(r.Status),
		CardsCreated: r.CardsCreated,
		CardIDs:      []string(r.CardIDs),
		PreviewID:    r.PreviewID,
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
	if e.CardIDs == nil {
		e.CardIDs = []string{}
	}
	return e
}

func (s *Store) CreateExecution(ctx context.Context, e automation.Execution) (automation.Execution, error) {
	e.ID = newID(e.ID)
	if e.StartedAt.IsZero() {
		e.StartedAt = s.now()
	}
	if e.CardIDs == nil {
		e.CardIDs = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_executions (id, rule_id, user_id, strategy_id, trigger, status, cards_created, card_ids,
			preview_id, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.RuleID, e.UserID, e.StrategyID, e.Trigger, string(e.Status), e.CardsCreated, pq.StringArray(e.CardIDs),
		e.PreviewID, e.Error, e.StartedAt, e.FinishedAt)
	if err != nil {
		return automation.Execution{}, translate("automation execution", e.ID, err)
	}
	return e, nil
}

func (s *Store) UpdateExecution(ctx context.Context, e automation.Execution) (automation.Execution, error) {
	if e.CardIDs == nil {
		e.CardIDs = []string{}
	}
	err := s.db.QueryRowxContext(ctx, `
		UPDATE automation_executions
		SET status = $2, cards_created = $3, card_ids = $4, preview_id = $5, error = $6, finished_at = $7
		WHERE id = $1
		RETURNING rule_id, started_at
	`, e.ID, string(e.Status), e.CardsCreated, pq.StringArray(e.CardIDs), e.PreviewID, e.Error, e.FinishedAt,
	).Scan(&e.RuleID, &e.StartedAt)
	if err != nil {
		return automation.Execution{}, translate("automation execution", e.ID, err)
	}
	return e, nil
}

func (s *Store) ListExecutions(ctx context.Context, userID, ruleID string, limit int) ([]automation.Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []executionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+executionColumns+`
		FROM automation_executions
		WHERE user_id = $1 AND rule_id = $2
		ORDER BY started_at DESC, id DESC
		LIMIT $3
	`, userID, ruleID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]automation.Execution, len(rows))
	for i, r := range rows {
		out[i] = r.toExecution()
	}
	return out, nil
}
