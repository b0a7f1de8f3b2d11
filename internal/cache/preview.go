// Package cache holds generated card previews between the preview and commit
// steps of AI generation.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
)

// ErrNotFound is returned for unknown or expired preview ids.
var ErrNotFound = errors.New("preview not found or expired")

// DefaultTTL is how long a preview stays committable.
const DefaultTTL = 30 * time.Minute

// Preview is a set of generated, not yet stored, cards.
type Preview struct {
	ID         string      `json:"preview_id"`
	UserID     string      `json:"user_id"`
	StrategyID string      `json:"strategy_id"`
	CardType   string      `json:"card_type"`
	Provider   string      `json:"provider"`
	Model      string      `json:"model"`
	Cards      []card.Card `json:"cards"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// PreviewStore stores previews with a TTL.
type PreviewStore interface {
	Put(ctx context.Context, p Preview, ttl time.Duration) error
	Get(ctx context.Context, id string) (Preview, error)
	// Delete removes the preview and reports whether it was still present,
	// so that exactly one caller can consume it.
	Delete(ctx context.Context, id string) (bool, error)
}
