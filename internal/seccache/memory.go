package seccache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCache is a map+mutex Cache for the single-instance deployment the
// core spec assumes. A background sweeper prunes expired entries at a
// fixed cadence so long-running processes don't accumulate stale keys
// between accesses.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	log     *slog.Logger
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache(log *slog.Logger) *MemoryCache {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryCache{entries: make(map[string]entry), log: log.With("component", "seccache.memory")}
}

// Incr implements Cache.
func (m *MemoryCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	e, ok := m.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = entry{count: 0, expiresAt: now.Add(ttl)}
	}
	e.count++
	m.entries[key] = e
	return e.count, nil
}

// SetNX implements Cache.
func (m *MemoryCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	m.entries[key] = entry{count: 1, expiresAt: now.Add(ttl)}
	return true, nil
}

// Get implements Cache.
func (m *MemoryCache) Get(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !time.Now().Before(e.expiresAt) {
		return 0, nil
	}
	return e.count, nil
}

// Size reports the number of entries currently held, expired or not. Used
// by the security-observability endpoint (spec §6 "cache sizes"); not part
// of the Cache interface since the Redis backend has no equivalent O(1)
// count.
func (m *MemoryCache) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RunSweeper prunes expired entries every interval until ctx is cancelled.
// Mirrors the teacher's cleanup-service sweep loop shape (fixed ticker,
// swallow-and-log on nothing-to-do, exit cleanly on ctx.Done).
func (m *MemoryCache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned := m.sweep()
			if pruned > 0 {
				m.log.Debug("pruned expired security-cache entries", "count", pruned)
			}
		}
	}
}

func (m *MemoryCache) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	pruned := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			pruned++
		}
	}
	return pruned
}
