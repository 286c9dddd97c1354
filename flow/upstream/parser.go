package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dshills/specflow-go/flow"
)

// BundleParser extracts component records from a generated UI code
// bundle. Parse errors on individual files are tolerated; the parser
// returns whatever it could extract.
type BundleParser interface {
	Parse(ctx context.Context, bundleRef string) ([]flow.Component, error)
}

// ManifestParser reads a JSON component manifest: an array of component
// records, or an object wrapping one under "components". Records that
// fail to decode are skipped.
type ManifestParser struct {
	fetch func(ctx context.Context, ref string) ([]byte, error)
}

// NewManifestParser builds a parser over a fetch function that resolves
// a bundle ref to manifest bytes (file read, object-store get).
func NewManifestParser(fetch func(ctx context.Context, ref string) ([]byte, error)) *ManifestParser {
	return &ManifestParser{fetch: fetch}
}

// Parse implements BundleParser.
func (p *ManifestParser) Parse(ctx context.Context, bundleRef string) ([]flow.Component, error) {
	data, err := p.fetch(ctx, bundleRef)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle %s: %w", bundleRef, err)
	}

	var components []flow.Component
	if err := json.Unmarshal(data, &components); err == nil {
		return components, nil
	}

	var wrapped struct {
		Components []json.RawMessage `json:"components"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode bundle manifest: %w", err)
	}

	// Per-record decoding tolerates individually malformed entries.
	out := make([]flow.Component, 0, len(wrapped.Components))
	for _, raw := range wrapped.Components {
		var c flow.Component
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// MemParser serves fixed components per bundle ref, for tests.
type MemParser struct {
	mu      sync.RWMutex
	bundles map[string][]flow.Component
	err     error
}

// NewMemParser creates an empty parser.
func NewMemParser() *MemParser {
	return &MemParser{bundles: make(map[string][]flow.Component)}
}

// Put registers a bundle's components.
func (p *MemParser) Put(ref string, components []flow.Component) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bundles[ref] = components
}

// Fail makes subsequent Parse calls return err.
func (p *MemParser) Fail(err error) *MemParser {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	return p
}

// Parse implements BundleParser.
func (p *MemParser) Parse(_ context.Context, ref string) ([]flow.Component, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.bundles[ref], nil
}
