package upstream

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/specflow-go/flow"
)

func TestArtifacts_Missing(t *testing.T) {
	complete := Artifacts{
		PRD: "# PRD",
		DesignDocs: map[string]string{
			DocDesignSystem: "ds",
			DocUXFlow:       "ux",
			DocScreenSpecs:  "screens",
		},
	}
	if missing := complete.Missing(); len(missing) != 0 {
		t.Errorf("expected nothing missing, got %v", missing)
	}

	partial := complete
	partial.DesignDocs = map[string]string{DocDesignSystem: "ds"}
	missing := partial.Missing()
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing docs, got %v", missing)
	}

	empty := Artifacts{}
	if missing := empty.Missing(); missing[0] != "prd" {
		t.Errorf("expected prd first, got %v", missing)
	}
}

func TestMemLoader(t *testing.T) {
	loader := NewMemLoader()
	loader.Put("job-1", Artifacts{
		PRD: "# PRD",
		DesignDocs: map[string]string{
			DocDesignSystem: "ds", DocUXFlow: "ux", DocScreenSpecs: "screens",
		},
	})

	if _, err := loader.Load(context.Background(), "job-1"); err != nil {
		t.Errorf("load: %v", err)
	}

	_, err := loader.Load(context.Background(), "ghost")
	var incomplete *flow.UpstreamIncompleteError
	if !errors.As(err, &incomplete) {
		t.Errorf("expected UpstreamIncompleteError, got %v", err)
	}

	loader.Put("job-partial", Artifacts{PRD: "# PRD"})
	_, err = loader.Load(context.Background(), "job-partial")
	if !errors.As(err, &incomplete) || len(incomplete.Missing) != 3 {
		t.Errorf("expected 3 missing docs, got %v", err)
	}
}

func TestManifestParser(t *testing.T) {
	t.Run("bare array", func(t *testing.T) {
		parser := NewManifestParser(func(context.Context, string) ([]byte, error) {
			return []byte(`[{"name": "TaskBoard", "file_path": "src/TaskBoard.tsx", "api_calls": [{"method": "GET", "path": "/tasks"}]}]`), nil
		})
		components, err := parser.Parse(context.Background(), "bundle-1")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(components) != 1 || components[0].Name != "TaskBoard" {
			t.Errorf("unexpected components %+v", components)
		}
		if len(components[0].APICalls) != 1 || components[0].APICalls[0].Path != "/tasks" {
			t.Errorf("api calls lost: %+v", components[0].APICalls)
		}
	})

	t.Run("wrapped with malformed entries skipped", func(t *testing.T) {
		parser := NewManifestParser(func(context.Context, string) ([]byte, error) {
			return []byte(`{"components": [{"name": "Good"}, "not an object", {"name": "AlsoGood"}]}`), nil
		})
		components, err := parser.Parse(context.Background(), "bundle-1")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(components) != 2 {
			t.Errorf("expected 2 tolerant records, got %+v", components)
		}
	})

	t.Run("fetch failure", func(t *testing.T) {
		parser := NewManifestParser(func(context.Context, string) ([]byte, error) {
			return nil, errors.New("object store unavailable")
		})
		if _, err := parser.Parse(context.Background(), "bundle-1"); err == nil {
			t.Error("expected fetch error")
		}
	})
}
