package model

import (
	"context"
	"fmt"
	"sync"
)

// MockCompleter returns scripted responses for tests. Responses are
// consumed in order; when the script runs out, the last response repeats.
// Errors can be injected at specific call indexes.
type MockCompleter struct {
	mu        sync.Mutex
	responses []string
	errs      map[int]error
	calls     int
	requests  []Request
}

// NewMockCompleter scripts the given responses.
func NewMockCompleter(responses ...string) *MockCompleter {
	return &MockCompleter{responses: responses, errs: make(map[int]error)}
}

// FailAt injects an error for the zero-based call index.
func (m *MockCompleter) FailAt(call int, err error) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[call] = err
	return m
}

// Complete implements Completer.
func (m *MockCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)

	if err, ok := m.errs[idx]; ok {
		return Response{}, err
	}
	if len(m.responses) == 0 {
		return Response{}, fmt.Errorf("mock completer has no scripted responses")
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	text := m.responses[idx]
	return Response{
		Text:      text,
		TokensIn:  len(req.Messages) * 100,
		TokensOut: len(text) / 4,
		Model:     "mock",
	}, nil
}

// Calls reports how many completions were requested.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request seen.
func (m *MockCompleter) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}
