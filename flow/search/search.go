// Package search provides the web research collaborator: a Searcher
// interface, an HTTP JSON implementation, a read-through TTL cache, a
// static fallback library, and a test mock.
package search

import "context"

// Query describes one research request for a technology gap.
type Query struct {
	GapID    string
	Category string
	Context  string
	Terms    []string
}

// Result is one candidate found for a query.
type Result struct {
	Title   string             `json:"title"`
	URL     string             `json:"url"`
	Snippet string             `json:"snippet"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Searcher performs technology research. Implementations must be safe
// for concurrent use and honor context cancellation.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}
