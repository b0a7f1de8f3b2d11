package intelligence

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultColor is used when a group is created without one.
const DefaultColor = "#3B82F6"

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Group is a user-curated collection of intelligence cards.
type Group struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description,omitempty" db:"description"`
	Color       string     `json:"color" db:"color"`
	CardCount   int        `json:"card_count" db:"card_count"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Membership links a card to a group.
type Membership struct {
	GroupID string    `json:"group_id" db:"group_id"`
	CardID  string    `json:"card_id" db:"card_id"`
	AddedBy string    `json:"added_by" db:"added_by"`
	AddedAt time.Time `json:"added_at" db:"added_at"`
}

// Patch carries a partial group update.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Color == nil
}

func (p Patch) Apply(g *Group) {
	if p.Name != nil {
		g.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
	if p.Color != nil {
		g.Color = strings.TrimSpace(*p.Color)
	}
}

// Validate checks name and color, filling the default color.
func (g *Group) Validate() error {
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(g.Name) > 100 {
		return fmt.Errorf("name must be at most 100 characters")
	}
	if g.Color == "" {
		g.Color = DefaultColor
	}
	if !colorPattern.MatchString(g.Color) {
		return fmt.Errorf("color must be a hex value like #3B82F6")
	}
	return nil
}

// SameName compares group names case-insensitively.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
