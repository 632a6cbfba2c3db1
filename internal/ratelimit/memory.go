package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounters is an in-process CounterStore for tests and
// single-node development. Expired windows are dropped inline during
// Incr, mirroring the lazy cleanup the per-IP transport limiter uses.
//
// MemoryCounters is safe for concurrent use by multiple goroutines.
type MemoryCounters struct {
	mu       sync.Mutex
	counts   map[counterKey]*counterEntry
	lastSeen time.Time
}

type counterKey struct {
	userID      string
	op          Operation
	windowStart int64 // unix nanos, comparable map key
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounters creates an empty in-memory counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{counts: make(map[counterKey]*counterEntry)}
}

// Incr atomically increments and returns the counter for the window.
func (m *MemoryCounters) Incr(_ context.Context, userID string, op Operation, windowStart time.Time, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if now.Sub(m.lastSeen) > time.Minute {
		for k, e := range m.counts {
			if now.After(e.expiresAt) {
				delete(m.counts, k)
			}
		}
	}
	m.lastSeen = now

	key := counterKey{userID: userID, op: op, windowStart: windowStart.UnixNano()}
	entry, ok := m.counts[key]
	if !ok {
		entry = &counterEntry{expiresAt: windowStart.Add(2 * ttl)}
		m.counts[key] = entry
	}
	entry.count++
	return entry.count, nil
}
