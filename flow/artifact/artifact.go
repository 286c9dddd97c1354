// Package artifact persists the documents a completed session produces:
// the TRD, API specification, database schema and ERD, architecture
// diagram, and tech-stack document, versioned per session.
package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/specflow-go/flow"
)

// ErrNotFound is returned when no artifact exists for the session.
var ErrNotFound = errors.New("artifact not found")

// Record is one saved artifact set. Version starts at 1 and increments
// on each save for the same session. ID is assigned by the store.
type Record struct {
	ID                  string         `json:"id"`
	SessionID           string         `json:"session_id"`
	ProjectID           string         `json:"project_id"`
	TRDContent          string         `json:"trd_content"`
	APISpecification    map[string]any `json:"api_specification,omitempty"`
	DatabaseSchema      *flow.DBSchema `json:"database_schema,omitempty"`
	DatabaseERD         string         `json:"database_erd,omitempty"`
	ArchitectureDiagram string         `json:"architecture_diagram,omitempty"`
	TechStackDocument   map[string]any `json:"tech_stack_document,omitempty"`
	QualityScore        int            `json:"quality_score"`
	ValidationReport    map[string]any `json:"validation_report,omitempty"`
	Errors              []flow.ErrorRecord `json:"errors,omitempty"`
	Version             int            `json:"version"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Store persists artifact records. Save must be atomic: either the new
// version is fully visible or the previous one remains.
type Store interface {
	// Save assigns the next version for the session, persists the record,
	// and returns the stored copy with ID, Version, and CreatedAt set.
	Save(ctx context.Context, rec Record) (Record, error)

	// Get returns the latest version for the session, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (Record, error)
}
