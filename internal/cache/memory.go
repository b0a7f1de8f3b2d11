package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	preview   Preview
	expiresAt time.Time
}

// Memory is an in-process PreviewStore.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ PreviewStore = (*Memory)(nil)

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) Put(_ context.Context, p Preview, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
		}
	}
	m.entries[p.ID] = memoryEntry{preview: p, expiresAt: now.Add(ttl)}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Preview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Preview{}, ErrNotFound
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, id)
		return Preview{}, ErrNotFound
	}
	return e.preview, nil
}

func (m *Memory) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return false, nil
	}
	delete(m.entries, id)
	return !m.now().After(e.expiresAt), nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
