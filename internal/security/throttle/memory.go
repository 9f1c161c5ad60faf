package throttle

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps throttle state in process memory. Counters are
// per-instance: in a multi-node deployment each node tracks failures
// independently, so use the Redis store there instead.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	lastSweep time.Time
}

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

const memorySweepInterval = 5 * time.Minute

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]memoryEntry),
		lastSweep: time.Now(),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.sweepLocked(now)

	e, ok := m.entries[key]
	if !ok || now.After(e.expiresAt) {
		return State{}, nil
	}
	return e.state, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, s State, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{state: s, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// sweepLocked prunes expired entries at most once per sweep interval so the
// map does not grow unbounded under enumeration attempts.
func (m *MemoryStore) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < memorySweepInterval {
		return
	}
	m.lastSweep = now

	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
