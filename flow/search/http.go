package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPSearcher queries a JSON search endpoint. The endpoint receives the
// query terms as the "q" parameter and must return a JSON array of
// results; an API key, when set, is sent as a bearer token.
type HTTPSearcher struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSearcher builds a searcher against endpoint. client may be nil;
// timeouts come from the caller's context.
func NewHTTPSearcher(endpoint, apiKey string, client *http.Client) *HTTPSearcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSearcher{endpoint: endpoint, apiKey: apiKey, client: client}
}

// Search implements Searcher.
func (s *HTTPSearcher) Search(ctx context.Context, q Query) ([]Result, error) {
	terms := strings.Join(q.Terms, " ")
	if terms == "" {
		terms = q.Category + " " + q.Context
	}

	reqURL := fmt.Sprintf("%s?q=%s", s.endpoint, url.QueryEscape(terms))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var results []Result
	if err := json.Unmarshal(body, &results); err != nil {
		// Some endpoints wrap the array.
		var wrapped struct {
			Results []Result `json:"results"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode search response: %w", err)
		}
		results = wrapped.Results
	}
	return results, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
