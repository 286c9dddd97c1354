package search

import (
	"context"
	"sync"
)

// MockSearcher returns canned results per category and can be scripted
// to fail, for exercising the research fallback path.
type MockSearcher struct {
	mu       sync.Mutex
	results  map[string][]Result
	err      error
	failures int // remaining calls that fail before recovering
	calls    int
}

// NewMockSearcher creates a mock keyed by query category.
func NewMockSearcher(results map[string][]Result) *MockSearcher {
	return &MockSearcher{results: results}
}

// FailAlways makes every call return err.
func (m *MockSearcher) FailAlways(err error) *MockSearcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failures = -1
	return m
}

// FailN makes the next n calls return err, then recover.
func (m *MockSearcher) FailN(n int, err error) *MockSearcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failures = n
	return m
}

// Search implements Searcher.
func (m *MockSearcher) Search(ctx context.Context, q Query) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures < 0 {
		return nil, m.err
	}
	if m.failures > 0 {
		m.failures--
		return nil, m.err
	}
	return m.results[q.Category], nil
}

// Calls reports how many searches were attempted.
func (m *MockSearcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
