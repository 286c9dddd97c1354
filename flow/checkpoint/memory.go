package checkpoint

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store implementation.
//
// Designed for tests and single-process development. Data is lost when the
// process exits; use SQLiteStore or MySQLStore for durability.
//
// MemStore is safe for concurrent use.
type MemStore[S any] struct {
	mu     sync.RWMutex
	chains map[chainKey][]Record[S] // sorted by CheckpointID
}

type chainKey struct {
	sessionID string
	namespace string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{chains: make(map[chainKey][]Record[S])}
}

// Put implements Store. Re-putting an existing checkpoint id is a no-op.
func (m *MemStore[S]) Put(_ context.Context, rec Record[S]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := chainKey{rec.SessionID, rec.Namespace}
	chain := m.chains[key]
	for _, existing := range chain {
		if existing.CheckpointID == rec.CheckpointID {
			return nil
		}
	}
	chain = append(chain, rec)
	sort.Slice(chain, func(i, j int) bool {
		return chain[i].CheckpointID < chain[j].CheckpointID
	})
	m.chains[key] = chain
	return nil
}

// Latest implements Store.
func (m *MemStore[S]) Latest(_ context.Context, sessionID, namespace string) (Record[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[chainKey{sessionID, namespace}]
	if len(chain) == 0 {
		var zero Record[S]
		return zero, ErrNotFound
	}
	return chain[len(chain)-1], nil
}

// Chain implements Store.
func (m *MemStore[S]) Chain(_ context.Context, sessionID, namespace string, limit int) ([]Record[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[chainKey{sessionID, namespace}]
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	if limit > 0 && limit < len(chain) {
		chain = chain[len(chain)-limit:]
	}
	out := make([]Record[S], len(chain))
	copy(out, chain)
	return out, nil
}

// Compact implements Store.
func (m *MemStore[S]) Compact(_ context.Context, sessionID, namespace string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := chainKey{sessionID, namespace}
	chain := m.chains[key]
	if len(chain) <= keep+1 {
		return nil
	}
	compacted := make([]Record[S], 0, keep+1)
	compacted = append(compacted, chain[0])
	compacted = append(compacted, chain[len(chain)-keep:]...)
	m.chains[key] = compacted
	return nil
}

// Delete implements Store.
func (m *MemStore[S]) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.chains {
		if key.sessionID == sessionID {
			delete(m.chains, key)
		}
	}
	return nil
}
