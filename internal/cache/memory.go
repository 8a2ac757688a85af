package cache

import (
	"context"
	"sync"
	"time"

	"canvaspreview/internal/domain"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryIndex is an in-process Index for development and tests. Items never
// expire inside go-cache; soft expiry is evaluated on the record itself.
type MemoryIndex struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex(cleanupInterval time.Duration) *MemoryIndex {
	return &MemoryIndex{items: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *MemoryIndex) Get(_ context.Context, key string) (*domain.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items.Get(key)
	if !ok {
		return nil, nil
	}
	rec := v.(domain.CacheRecord)
	return &rec, nil
}

func (m *MemoryIndex) Upsert(_ context.Context, rec domain.CacheRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.items.Get(rec.Key); ok {
		if prev := v.(domain.CacheRecord); prev.HitCount > rec.HitCount {
			rec.HitCount = prev.HitCount
		}
	}
	m.items.Set(rec.Key, rec, gocache.NoExpiration)
	return nil
}

func (m *MemoryIndex) IncrementHit(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items.Get(key)
	if !ok {
		return domain.ErrNotFound
	}
	rec := v.(domain.CacheRecord)
	rec.HitCount++
	rec.LastAccessedAt = at
	m.items.Set(key, rec, gocache.NoExpiration)
	return nil
}

func (m *MemoryIndex) DeleteExpired(_ context.Context, before time.Time) ([]domain.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []domain.CacheRecord
	for key, item := range m.items.Items() {
		rec := item.Object.(domain.CacheRecord)
		if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(before) {
			m.items.Delete(key)
			removed = append(removed, rec)
		}
	}
	return removed, nil
}

var _ Index = (*MemoryIndex)(nil)
