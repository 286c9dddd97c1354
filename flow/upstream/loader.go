// Package upstream holds the collaborator interfaces at the session's
// boundaries: the loader that fetches design artifacts produced by the
// preceding pipeline stage, the parser for the generated UI code bundle,
// and the notifier that signals the downstream consumer.
package upstream

import (
	"context"
	"sync"

	"github.com/dshills/specflow-go/flow"
)

// Required design doc keys in Artifacts.DesignDocs.
const (
	DocDesignSystem = "design_system"
	DocUXFlow       = "ux_flow"
	DocScreenSpecs  = "screen_specs"
)

// Artifacts is the input set produced by the upstream design job. The
// PRD and the three design docs are required; the code bundle is
// optional.
type Artifacts struct {
	PRD           string
	DesignDocs    map[string]string
	CodeBundleRef string
}

// Missing lists the required artifacts that are absent.
func (a Artifacts) Missing() []string {
	var missing []string
	if a.PRD == "" {
		missing = append(missing, "prd")
	}
	for _, doc := range []string{DocDesignSystem, DocUXFlow, DocScreenSpecs} {
		if a.DesignDocs[doc] == "" {
			missing = append(missing, doc)
		}
	}
	return missing
}

// Loader fetches the upstream job's outputs. Implementations must be
// safe for concurrent use.
type Loader interface {
	Load(ctx context.Context, jobID string) (Artifacts, error)
}

// MemLoader serves fixed artifacts per job id, for tests and demos.
type MemLoader struct {
	mu   sync.RWMutex
	jobs map[string]Artifacts
}

// NewMemLoader creates an empty loader.
func NewMemLoader() *MemLoader {
	return &MemLoader{jobs: make(map[string]Artifacts)}
}

// Put registers a job's artifacts.
func (l *MemLoader) Put(jobID string, a Artifacts) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[jobID] = a
}

// Load implements Loader. Unknown jobs and jobs with missing required
// artifacts return a flow.UpstreamIncompleteError.
func (l *MemLoader) Load(_ context.Context, jobID string) (Artifacts, error) {
	l.mu.RLock()
	a, ok := l.jobs[jobID]
	l.mu.RUnlock()
	if !ok {
		return Artifacts{}, &flow.UpstreamIncompleteError{Missing: []string{"job " + jobID}}
	}
	if missing := a.Missing(); len(missing) > 0 {
		return Artifacts{}, &flow.UpstreamIncompleteError{Missing: missing}
	}
	return a, nil
}
