package emit

// Bus is the per-session publish channel between the runner and the
// outside world.
//
// Publish is non-blocking: a slow or absent subscriber never stalls the
// runner. Events published while no subscriber is attached are queued in a
// bounded backlog and replayed, in order, to the next subscriber. Ordering
// is FIFO per session across all subscribers of that session.
type Bus interface {
	// Publish appends an event to the session's stream. The bus assigns
	// the event id, sequence number, and timestamp if unset.
	Publish(sessionID string, ev Event)

	// Subscribe attaches a consumer to the session's stream. The returned
	// subscription first receives a connection_established event, then the
	// queued backlog, then live events.
	Subscribe(sessionID string) *Subscription

	// Release discards the session's backlog and detaches its
	// subscribers. Called when a session is garbage collected.
	Release(sessionID string)

	// Close shuts down the bus and closes all subscriber channels.
	Close()
}

// Tap observes every event published on the bus, across sessions. Taps
// back observability sinks (logs, traces, metrics); they must not block.
type Tap interface {
	Observe(Event)
}

// Subscription is a live attachment to a session stream. Receive from C
// until it is closed; call Unsubscribe to detach early.
type Subscription struct {
	C         <-chan Event
	sessionID string
	cancel    func()
}

// Unsubscribe detaches the subscription and closes C.
func (s *Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// SessionID reports which session this subscription is attached to.
func (s *Subscription) SessionID() string { return s.sessionID }
