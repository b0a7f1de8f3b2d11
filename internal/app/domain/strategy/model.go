package strategy

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a strategy.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// MaxTitleLength bounds strategy titles.
const MaxTitleLength = 200

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusActive || s == StatusArchived
}

// Strategy is the top-level container owning a set of cards.
type Strategy struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Title       string    `json:"title" db:"title"`
	Client      string    `json:"client,omitempty" db:"client"`
	Description string    `json:"description,omitempty" db:"description"`
	Status      Status    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Summary is a strategy with its card counts by type.
type Summary struct {
	Strategy
	CardCounts map[string]int `json:"card_counts"`
	TotalCards int            `json:"total_cards"`
}

// Patch carries a partial strategy update.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Client      *string `json:"client,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Client == nil && p.Description == nil && p.Status == nil
}

func (p Patch) Apply(s *Strategy) {
	if p.Title != nil {
		s.Title = strings.TrimSpace(*p.Title)
	}
	if p.Client != nil {
		s.Client = strings.TrimSpace(*p.Client)
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Status != nil {
		s.Status = Status(strings.ToLower(strings.TrimSpace(*p.Status)))
	}
}

// Validate checks the strategy fields a caller controls.
func (s *Strategy) Validate() error {
	s.Title = strings.TrimSpace(s.Title)
	if s.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len([]rune(s.Title)) > MaxTitleLength {
		return fmt.Errorf("title must be at most %d characters", MaxTitleLength)
	}
	if s.Status == "" {
		s.Status = StatusDraft
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	return nil
}
