package call

import (
	"context"
	"sync"
	"time"
)

// MemoryPendingStore keeps pending calls in process. Entries older than the
// TTL are invisible to Take and removed by Run.
type MemoryPendingStore struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	items map[string]Pending
}

func NewMemoryPendingStore(ttl time.Duration) *MemoryPendingStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &MemoryPendingStore{ttl: ttl, now: time.Now, items: make(map[string]Pending)}
}

func (m *MemoryPendingStore) Put(_ context.Context, p Pending) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	m.mu.Lock()
	m.items[p.CallID] = p
	m.mu.Unlock()
	return nil
}

func (m *MemoryPendingStore) Take(_ context.Context, callID string) (Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[callID]
	if !ok {
		return Pending{}, ErrPendingNotFound
	}
	delete(m.items, callID)
	if m.expired(p) {
		return Pending{}, ErrPendingNotFound
	}
	return p, nil
}

// Len counts entries including expired ones not yet swept.
func (m *MemoryPendingStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryPendingStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for id, p := range m.items {
		if m.expired(p) {
			delete(m.items, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps every half TTL until ctx is done.
func (m *MemoryPendingStore) Run(ctx context.Context) {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *MemoryPendingStore) expired(p Pending) bool {
	return m.now().Sub(p.CreatedAt) > m.ttl
}
