// Package emit provides the per-session event fan-out for workflow sessions.
package emit

import "time"

// Kind identifies the semantic type of an event.
type Kind string

// Event kinds published during a session's lifetime.
const (
	// KindConnectionEstablished is delivered to a subscriber immediately
	// after subscribing, before any backlog replay.
	KindConnectionEstablished Kind = "connection_established"

	// KindProgressUpdate carries the progress target published when a node
	// begins executing.
	KindProgressUpdate Kind = "progress_update"

	// KindAgentMessage carries questions, option presentations, and
	// confirmations directed at the user.
	KindAgentMessage Kind = "agent_message"

	// KindUserMessageEcho mirrors an accepted user decision back onto the
	// session stream.
	KindUserMessageEcho Kind = "user_message_echo"

	// KindCompletion announces the persisted artifact record.
	KindCompletion Kind = "completion"

	// KindError reports a fault; always published before a session
	// transitions to failed.
	KindError Kind = "error"

	// KindPong answers transport keepalives.
	KindPong Kind = "pong"
)

// MessageType qualifies an agent_message event.
type MessageType string

// Agent message types.
const (
	MessageQuestion           MessageType = "question"
	MessageOptionPresentation MessageType = "option_presentation"
	MessageConfirmation       MessageType = "confirmation"
	MessageErrorNotice        MessageType = "error_notice"
)

// Event is a single entry on a session's stream.
//
// Every event carries the session id, kind, timestamp, and a per-session
// sequence number assigned at publish time. The remaining fields are
// populated per kind; unused fields are omitted from the JSON encoding.
// The (SessionID, ID) pair is the dedup key for at-least-once delivery.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`

	// progress_update
	Progress float64 `json:"progress,omitempty"`
	Stage    string  `json:"stage,omitempty"`

	// agent_message / user_message_echo
	Message     string         `json:"message,omitempty"`
	MessageType MessageType    `json:"message_type,omitempty"`
	Data        map[string]any `json:"data,omitempty"`

	// completion
	ArtifactID string `json:"artifact_id,omitempty"`
	Version    int    `json:"version,omitempty"`

	// error
	ErrorKind   string `json:"error_kind,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}
