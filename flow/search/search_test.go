package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCachedSearcher(t *testing.T) {
	query := Query{
		GapID:    "gap-db",
		Category: "database",
		Context:  "primary data store",
		Terms:    []string{"database", "technology options"},
	}

	t.Run("hit avoids the inner searcher", func(t *testing.T) {
		inner := NewMockSearcher(map[string][]Result{
			"database": {{Title: "PostgreSQL"}},
		})
		cached := NewCachedSearcher(inner, time.Hour)

		for i := 0; i < 3; i++ {
			results, err := cached.Search(context.Background(), query)
			if err != nil {
				t.Fatalf("search %d: %v", i, err)
			}
			if len(results) != 1 || results[0].Title != "PostgreSQL" {
				t.Fatalf("search %d: unexpected results %+v", i, results)
			}
		}
		if inner.Calls() != 1 {
			t.Errorf("expected 1 inner call, got %d", inner.Calls())
		}
	})

	t.Run("different terms miss", func(t *testing.T) {
		inner := NewMockSearcher(map[string][]Result{
			"database": {{Title: "PostgreSQL"}},
		})
		cached := NewCachedSearcher(inner, time.Hour)

		if _, err := cached.Search(context.Background(), query); err != nil {
			t.Fatalf("search: %v", err)
		}
		custom := query
		custom.Terms = []string{"serverless postgres"}
		if _, err := cached.Search(context.Background(), custom); err != nil {
			t.Fatalf("search: %v", err)
		}
		if inner.Calls() != 2 {
			t.Errorf("expected 2 inner calls, got %d", inner.Calls())
		}
	})

	t.Run("expiry refetches", func(t *testing.T) {
		inner := NewMockSearcher(map[string][]Result{
			"database": {{Title: "PostgreSQL"}},
		})
		cached := NewCachedSearcher(inner, time.Hour)

		clock := time.Now()
		cached.now = func() time.Time { return clock }

		if _, err := cached.Search(context.Background(), query); err != nil {
			t.Fatalf("search: %v", err)
		}
		clock = clock.Add(2 * time.Hour)
		if _, err := cached.Search(context.Background(), query); err != nil {
			t.Fatalf("search: %v", err)
		}
		if inner.Calls() != 2 {
			t.Errorf("expected refetch after expiry, got %d calls", inner.Calls())
		}

		cached.Purge()
		if len(cached.entries) != 1 {
			t.Errorf("expected only the fresh entry after purge, got %d", len(cached.entries))
		}
	})

	t.Run("failures are not cached", func(t *testing.T) {
		inner := NewMockSearcher(map[string][]Result{
			"database": {{Title: "PostgreSQL"}},
		}).FailN(1, errors.New("rate limited"))
		cached := NewCachedSearcher(inner, time.Hour)

		if _, err := cached.Search(context.Background(), query); err == nil {
			t.Fatal("expected first call to fail")
		}
		results, err := cached.Search(context.Background(), query)
		if err != nil || len(results) != 1 {
			t.Errorf("expected recovery on retry, got %v %v", results, err)
		}
	})
}

func TestHTTPSearcher(t *testing.T) {
	t.Run("bare array response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("q"); got != "database technology options" {
				t.Errorf("unexpected query %q", got)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
				t.Errorf("unexpected auth header %q", got)
			}
			_, _ = w.Write([]byte(`[{"title": "PostgreSQL", "url": "https://pg", "snippet": "relational"}]`))
		}))
		defer srv.Close()

		s := NewHTTPSearcher(srv.URL, "key-1", srv.Client())
		results, err := s.Search(context.Background(), Query{
			Category: "database",
			Terms:    []string{"database", "technology options"},
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) != 1 || results[0].Title != "PostgreSQL" {
			t.Errorf("unexpected results %+v", results)
		}
	})

	t.Run("wrapped response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"results": [{"title": "MySQL"}]}`))
		}))
		defer srv.Close()

		s := NewHTTPSearcher(srv.URL, "", srv.Client())
		results, err := s.Search(context.Background(), Query{Terms: []string{"db"}})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) != 1 || results[0].Title != "MySQL" {
			t.Errorf("unexpected results %+v", results)
		}
	})

	t.Run("non-200 fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		s := NewHTTPSearcher(srv.URL, "", srv.Client())
		if _, err := s.Search(context.Background(), Query{Terms: []string{"db"}}); err == nil {
			t.Error("expected error on 429")
		}
	})
}

func TestStaticLibrary(t *testing.T) {
	lib := NewStaticLibrary()

	results, err := lib.Search(context.Background(), Query{Category: "database"})
	if err != nil || len(results) == 0 {
		t.Fatalf("expected database results, got %v %v", results, err)
	}

	// Unknown categories fall back to the generic set.
	generic, err := lib.Search(context.Background(), Query{Category: "3d-rendering"})
	if err != nil || len(generic) == 0 {
		t.Fatalf("expected generic results, got %v %v", generic, err)
	}
}
