package upstream

import (
	"context"
	"sync"
)

// Notification tells the downstream collaborator that a session's
// artifacts are ready.
type Notification struct {
	ProjectID  string `json:"project_id"`
	SessionID  string `json:"session_id"`
	ArtifactID string `json:"artifact_id"`
}

// Notifier delivers completion signals. Delivery is at-least-once; the
// session id is the idempotency key, so implementations must tolerate
// duplicates.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// MemNotifier records notifications in memory, deduplicating by session
// id.
type MemNotifier struct {
	mu   sync.Mutex
	seen map[string]Notification
	err  error
}

// NewMemNotifier creates an empty notifier.
func NewMemNotifier() *MemNotifier {
	return &MemNotifier{seen: make(map[string]Notification)}
}

// Fail makes subsequent Notify calls return err.
func (n *MemNotifier) Fail(err error) *MemNotifier {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
	return n
}

// Notify implements Notifier.
func (n *MemNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if _, dup := n.seen[note.SessionID]; !dup {
		n.seen[note.SessionID] = note
	}
	return nil
}

// Count reports how many distinct sessions were notified.
func (n *MemNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

// Get returns the notification recorded for a session.
func (n *MemNotifier) Get(sessionID string) (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	note, ok := n.seen[sessionID]
	return note, ok
}
