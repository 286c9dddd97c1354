package flow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies faults into the closed set used by error events,
// error records, and the retry policy.
type ErrorKind string

// Error kinds.
const (
	KindUpstreamIncomplete       ErrorKind = "upstream_incomplete"
	KindInvalidState             ErrorKind = "invalid_state"
	KindNodeTimeout              ErrorKind = "node_timeout"
	KindExternalServiceError     ErrorKind = "external_service_error"
	KindValidationBelowThreshold ErrorKind = "validation_below_threshold"
	KindUserTimeout              ErrorKind = "user_timeout"
	KindStorageUnavailable       ErrorKind = "storage_unavailable"
	KindCancelled                ErrorKind = "cancelled"
	KindResearchFallback         ErrorKind = "research_fallback"
)

// Recoverable reports whether sessions hitting this kind can continue
// (possibly after a retry or fallback) rather than terminate.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindExternalServiceError, KindValidationBelowThreshold,
		KindStorageUnavailable, KindResearchFallback, KindNodeTimeout:
		return true
	}
	return false
}

// Interrupt-controller sentinels. Callers distinguish these with
// errors.Is.
var (
	// ErrSessionNotFound means no checkpoint chain exists for the session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotWaiting means a decision arrived while the session was
	// not parked at a waiting stage.
	ErrSessionNotWaiting = errors.New("session is not waiting for input")

	// ErrDecisionConflict means a different decision was already accepted
	// for the same prompt.
	ErrDecisionConflict = errors.New("conflicting decision already applied")

	// ErrUserMismatch means the decision came from a user other than the
	// session owner.
	ErrUserMismatch = errors.New("decision user does not own session")

	// ErrSessionTerminal means the session already completed or failed.
	ErrSessionTerminal = errors.New("session already terminal")
)

// NodeError wraps a failure inside a node with its kind and stage so the
// runner can classify, record, and publish it.
type NodeError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Errf builds a NodeError from a format string.
func Errf(stage Stage, kind ErrorKind, format string, args ...any) *NodeError {
	return &NodeError{Stage: stage, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the error kind, defaulting to external_service_error
// for unclassified failures.
func KindOf(err error) ErrorKind {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	var ue *UpstreamIncompleteError
	if errors.As(err, &ue) {
		return KindUpstreamIncomplete
	}
	return KindExternalServiceError
}

// UpstreamIncompleteError reports which required upstream artifacts are
// missing. Sessions failing on this kind are terminal; the user re-runs
// after completing the upstream job.
type UpstreamIncompleteError struct {
	Missing []string
}

func (e *UpstreamIncompleteError) Error() string {
	return "upstream artifacts incomplete: missing " + strings.Join(e.Missing, ", ")
}
