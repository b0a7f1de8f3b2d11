package template

import "time"

// Card is a reusable starting point for a card of a given type.
type Card struct {
	ID          string                 `json:"id" db:"id" yaml:"id"`
	CardType    string                 `json:"card_type" db:"card_type" yaml:"card_type"`
	Title       string                 `json:"title" db:"title" yaml:"title"`
	Description string                 `json:"description" db:"description" yaml:"description"`
	CardData    map[string]interface{} `json:"card_data" db:"card_data" yaml:"card_data"`
	Tags        []string               `json:"tags" db:"tags" yaml:"tags"`
	IsPublic    bool                   `json:"is_public" db:"is_public" yaml:"is_public"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at" yaml:"-"`
}
