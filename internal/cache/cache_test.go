package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
)

func exercise(t *testing.T, store PreviewStore, id string) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	p := Preview{ID: id, UserID: "u1", StrategyID: "s1", CardType: "vision", Cards: []card.Card{{Title: "A"}}}
	require.NoError(t, store.Put(ctx, p, time.Minute))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	require.Len(t, got.Cards, 1)
	assert.Equal(t, "A", got.Cards[0].Title)

	ok, err := store.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "a preview can only be consumed once")
}

func TestMemoryPreviewStore(t *testing.T) {
	exercise(t, NewMemory(), "p1")
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(context.Background(), Preview{ID: "old"}, time.Minute))
	now = now.Add(2 * time.Minute)

	_, err := m.Get(context.Background(), "old")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(context.Background(), Preview{ID: "a"}, 0))
	require.NoError(t, m.Put(context.Background(), Preview{ID: "b"}, time.Second))
	now = now.Add(5 * time.Second)
	require.NoError(t, m.Put(context.Background(), Preview{ID: "c"}, 0))
	assert.Equal(t, 2, m.Len(), "expired entries are swept on write")

	ok, err := m.Delete(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPreviewStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	exercise(t, NewRedis(client), "test-"+time.Now().Format("150405.000000"))
}
