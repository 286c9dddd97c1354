package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory artifact Store for tests and development.
// Safe for concurrent use.
type MemStore struct {
	mu      sync.RWMutex
	records map[string][]Record // per session, ordered by version
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]Record)}
}

// Save implements Store.
func (m *MemStore) Save(_ context.Context, rec Record) (Record, error) {
	stored, err := clone(rec)
	if err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.records[rec.SessionID]
	stored.ID = uuid.NewString()
	stored.Version = len(versions) + 1
	stored.CreatedAt = time.Now().UTC()
	m.records[rec.SessionID] = append(versions, stored)
	return stored, nil
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, sessionID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.records[sessionID]
	if len(versions) == 0 {
		return Record{}, ErrNotFound
	}
	return versions[len(versions)-1], nil
}

// clone isolates stored records from caller mutation of maps.
func clone(rec Record) (Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal artifact: %w", err)
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return Record{}, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return out, nil
}
