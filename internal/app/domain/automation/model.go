package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerType selects what starts a rule.
type TriggerType string

const (
	TriggerSchedule  TriggerType = "schedule"
	TriggerCardEvent TriggerType = "card_event"
	TriggerManual    TriggerType = "manual"
)

// Status is the outcome of one execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// MaxCount bounds cards generated by one run.
const MaxCount = 10

// Action describes the generation a rule performs.
type Action struct {
	CardType     string `json:"card_type"`
	Count        int    `json:"count"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	AutoCommit   bool   `json:"auto_commit"`
}

// Rule generates cards for a strategy when its trigger fires.
type Rule struct {
	ID             string      `json:"id" db:"id"`
	UserID         string      `json:"user_id" db:"user_id"`
	StrategyID     string      `json:"strategy_id" db:"strategy_id"`
	Name           string      `json:"name" db:"name"`
	Description    string      `json:"description,omitempty" db:"description"`
	Enabled        bool        `json:"enabled" db:"enabled"`
	TriggerType    TriggerType `json:"trigger_type" db:"trigger_type"`
	Schedule       string      `json:"schedule,omitempty" db:"schedule"`
	EventCardTypes []string    `json:"event_card_types" db:"event_card_types"`
	Condition      string      `json:"condition,omitempty" db:"condition"`
	Action         Action      `json:"action" db:"action"`
	LastRunAt      *time.Time  `json:"last_run_at,omitempty" db:"last_run_at"`
	NextRunAt      *time.Time  `json:"next_run_at,omitempty" db:"next_run_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// Execution records one run of a rule.
type Execution struct {
	ID           string     `json:"id" db:"id"`
	RuleID       string     `json:"rule_id" db:"rule_id"`
	UserID       string     `json:"user_id" db:"user_id"`
	StrategyID   string     `json:"strategy_id" db:"strategy_id"`
	Trigger      string     `json:"trigger" db:"trigger"`
	Status       Status     `json:"status" db:"status"`
	CardsCreated int        `json:"cards_created" db:"cards_created"`
	CardIDs      []string   `json:"card_ids" db:"card_ids"`
	PreviewID    string     `json:"preview_id,omitempty" db:"preview_id"`
	Error        string     `json:"error,omitempty" db:"error"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Patch carries a partial rule update.
type Patch struct {
	Name           *string      `json:"name,omitempty"`
	Description    *string      `json:"description,omitempty"`
	Enabled        *bool        `json:"enabled,omitempty"`
	TriggerType    *TriggerType `json:"trigger_type,omitempty"`
	Schedule       *string      `json:"schedule,omitempty"`
	EventCardTypes *[]string    `json:"event_card_types,omitempty"`
	Condition      *string      `json:"condition,omitempty"`
	Action         *Action      `json:"action,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Enabled == nil && p.TriggerType == nil &&
		p.Schedule == nil && p.EventCardTypes == nil && p.Condition == nil && p.Action == nil
}

func (p Patch) Apply(r *Rule) {
	if p.Name != nil {
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.TriggerType != nil {
		r.TriggerType = *p.TriggerType
	}
	if p.Schedule != nil {
		r.Schedule = strings.TrimSpace(*p.Schedule)
	}
	if p.EventCardTypes != nil {
		r.EventCardTypes = *p.EventCardTypes
	}
	if p.Condition != nil {
		r.Condition = strings.TrimSpace(*p.Condition)
	}
	if p.Action != nil {
		r.Action = *p.Action
	}
}

// Validate checks trigger-specific requirements. validType reports whether a
// card type is known.
func (r *Rule) Validate(validType func(string) bool) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(r.StrategyID) == "" {
		return fmt.Errorf("strategy_id is required")
	}

	switch r.TriggerType {
	case TriggerSchedule:
		if r.Schedule == "" {
			return fmt.Errorf("schedule is required for schedule triggers")
		}
		if _, err := ParseSchedule(r.Schedule); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
	case TriggerCardEvent:
		for _, t := range r.EventCardTypes {
			if !validType(t) {
				return fmt.Errorf("unknown event card type %q", t)
			}
		}
	case TriggerManual:
	case "":
		r.TriggerType = TriggerManual
	default:
		return fmt.Errorf("invalid trigger_type %q", r.TriggerType)
	}

	if r.EventCardTypes == nil {
		r.EventCardTypes = []string{}
	}
	if !validType(r.Action.CardType) {
		return fmt.Errorf("unknown action card type %q", r.Action.CardType)
	}
	if r.Action.Count == 0 {
		r.Action.Count = 3
	}
	if r.Action.Count < 1 || r.Action.Count > MaxCount {
		return fmt.Errorf("action count must be between 1 and %d", MaxCount)
	}
	return nil
}

// MatchesCardType reports whether a card_event rule reacts to cardType.
func (r Rule) MatchesCardType(cardType string) bool {
	if len(r.EventCardTypes) == 0 {
		return true
	}
	for _, t := range r.EventCardTypes {
		if t == cardType {
			return true
		}
	}
	return false
}

// ParseSchedule parses a standard five-field cron expression or descriptor.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}

// NextRun returns the next activation after from, or nil for non-schedule rules.
func (r Rule) NextRun(from time.Time) *time.Time {
	if r.TriggerType != TriggerSchedule || !r.Enabled {
		return nil
	}
	sched, err := ParseSchedule(r.Schedule)
	if err != nil {
		return nil
	}
	next := sched.Next(from).UTC()
	return &next
}
