package card

import (
	"encoding/json"
	"strings"
	"time"
)

// Level is a High/Medium/Low rating used for priority and confidence.
type Level string

const (
	LevelHigh   Level = "High"
	LevelMedium Level = "Medium"
	LevelLow    Level = "Low"
)

// ParseLevel maps free-form input onto a Level. Unknown values become Medium.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "h", "critical", "urgent", "3":
		return LevelHigh
	case "low", "l", "1":
		return LevelLow
	default:
		return LevelMedium
	}
}

// Valid reports whether l is one of the three levels.
func (l Level) Valid() bool {
	return l == LevelHigh || l == LevelMedium || l == LevelLow
}

// Card is one typed unit of strategy content.
type Card struct {
	ID                  string                 `json:"id" db:"id"`
	StrategyID          string                 `json:"strategy_id" db:"strategy_id"`
	UserID              string                 `json:"user_id" db:"user_id"`
	Title               string                 `json:"title" db:"title"`
	Description         string                 `json:"description" db:"description"`
	CardType            string                 `json:"card_type" db:"card_type"`
	Priority            Level                  `json:"priority" db:"priority"`
	ConfidenceLevel     Level                  `json:"confidence_level" db:"confidence_level"`
	PriorityRationale   string                 `json:"priority_rationale,omitempty" db:"priority_rationale"`
	ConfidenceRationale string                 `json:"confidence_rationale,omitempty" db:"confidence_rationale"`
	StrategicAlignment  string                 `json:"strategic_alignment,omitempty" db:"strategic_alignment"`
	Tags                []string               `json:"tags" db:"tags"`
	Relationships       []string               `json:"relationships" db:"relationships"`
	CardData            map[string]interface{} `json:"card_data" db:"card_data"`
	CreatedBy           string                 `json:"created_by" db:"created_by"`
	LastModifiedBy      string                 `json:"last_modified_by,omitempty" db:"last_modified_by"`
	CreatedAt           time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at" db:"updated_at"`
}

// Patch carries a partial card update. Nil fields are left unchanged.
type Patch struct {
	Title               *string                 `json:"title,omitempty"`
	Description         *string                 `json:"description,omitempty"`
	CardType            *string                 `json:"card_type,omitempty"`
	Priority            *string                 `json:"priority,omitempty"`
	ConfidenceLevel     *string                 `json:"confidence_level,omitempty"`
	PriorityRationale   *string                 `json:"priority_rationale,omitempty"`
	ConfidenceRationale *string                 `json:"confidence_rationale,omitempty"`
	StrategicAlignment  *string                 `json:"strategic_alignment,omitempty"`
	Tags                *[]string               `json:"tags,omitempty"`
	Relationships       *[]string               `json:"relationships,omitempty"`
	CardData            *map[string]interface{} `json:"card_data,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.CardType == nil && p.Priority == nil &&
		p.ConfidenceLevel == nil && p.PriorityRationale == nil && p.ConfidenceRationale == nil &&
		p.StrategicAlignment == nil && p.Tags == nil && p.Relationships == nil && p.CardData == nil
}

// Apply writes the patch onto c.
func (p Patch) Apply(c *Card) {
	if p.Title != nil {
		c.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.CardType != nil {
		c.CardType = strings.TrimSpace(*p.CardType)
	}
	if p.Priority != nil {
		c.Priority = ParseLevel(*p.Priority)
	}
	if p.ConfidenceLevel != nil {
		c.ConfidenceLevel = ParseLevel(*p.ConfidenceLevel)
	}
	if p.PriorityRationale != nil {
		c.PriorityRationale = *p.PriorityRationale
	}
	if p.ConfidenceRationale != nil {
		c.ConfidenceRationale = *p.ConfidenceRationale
	}
	if p.StrategicAlignment != nil {
		c.StrategicAlignment = *p.StrategicAlignment
	}
	if p.Tags != nil {
		c.Tags = *p.Tags
	}
	if p.Relationships != nil {
		c.Relationships = *p.Relationships
	}
	if p.CardData != nil {
		c.CardData = *p.CardData
	}
}

// Normalize fills defaults and trims fields in place.
func (c *Card) Normalize() {
	c.Title = strings.TrimSpace(c.Title)
	c.CardType = strings.TrimSpace(c.CardType)
	if !c.Priority.Valid() {
		c.Priority = ParseLevel(string(c.Priority))
	}
	if !c.ConfidenceLevel.Valid() {
		c.ConfidenceLevel = ParseLevel(string(c.ConfidenceLevel))
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.Relationships == nil {
		c.Relationships = []string{}
	}
	if c.CardData == nil {
		c.CardData = map[string]interface{}{}
	}
}

// CardDataJSON returns card_data encoded for storage.
func (c Card) CardDataJSON() ([]byte, error) {
	if c.CardData == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.CardData)
}

// Filter narrows a card listing.
type Filter struct {
	CardType string
	// Search matches title or description case-insensitively.
	Search string
	Limit  int
	Offset int
}

// Matches reports whether c passes the type and search filters.
func (f Filter) Matches(c Card) bool {
	if f.CardType != "" && c.CardType != f.CardType {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(c.Title), q) && !strings.Contains(strings.ToLower(c.Description), q) {
			return false
		}
	}
	return true
}
