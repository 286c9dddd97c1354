// Package checkpoint provides durable per-session, per-step snapshots of
// workflow state.
//
// Records are keyed by (session_id, namespace, checkpoint_id). Checkpoint
// ids are a session-local counter assigned by the caller; parent pointers
// form a strict, linear chain per namespace. The single-writer guarantee is
// enforced above this package by the session scheduler.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for the requested key.
var ErrNotFound = errors.New("checkpoint not found")

// DefaultNamespace is used by sessions that do not partition their chain.
const DefaultNamespace = "session"

// Metadata describes the step that produced a checkpoint.
type Metadata struct {
	NodeName  string    `json:"node_name"`
	Progress  float64   `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one durable snapshot. CheckpointID is a monotonically
// increasing session-local counter starting at 1; ParentID 0 marks the
// first record in a chain.
//
// Type parameter S is the state type; it must be JSON-serializable.
type Record[S any] struct {
	SessionID    string   `json:"session_id"`
	Namespace    string   `json:"namespace"`
	CheckpointID int64    `json:"checkpoint_id"`
	ParentID     int64    `json:"parent_checkpoint_id"`
	State        S        `json:"state"`
	Meta         Metadata `json:"metadata"`
}

// Store persists checkpoint chains.
//
// Implementations must make Put idempotent under retry with the same
// (session_id, namespace, checkpoint_id): re-putting an already-committed
// record succeeds without duplication. After Put returns nil the record is
// durable; if Put fails, the step is treated as not completed and is
// re-executed on resume.
type Store[S any] interface {
	// Put durably persists one record.
	Put(ctx context.Context, rec Record[S]) error

	// Latest returns the record with the highest checkpoint id for the
	// session and namespace, or ErrNotFound.
	Latest(ctx context.Context, sessionID, namespace string) (Record[S], error)

	// Chain returns up to limit records, oldest to newest, for audit.
	// limit <= 0 returns the full chain.
	Chain(ctx context.Context, sessionID, namespace string, limit int) ([]Record[S], error)

	// Compact drops interior records, keeping the first record and the
	// most recent keep records. Parent pointers of surviving records are
	// not rewritten; the chain remains reconstructible by checkpoint id.
	Compact(ctx context.Context, sessionID, namespace string, keep int) error

	// Delete removes every chain for the session. Used by garbage
	// collection of completed or expired sessions.
	Delete(ctx context.Context, sessionID string) error
}
