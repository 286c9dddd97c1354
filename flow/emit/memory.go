package emit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueCapacity bounds the offline backlog per session.
const DefaultQueueCapacity = 100

// SessionBus is the in-memory Bus implementation.
//
// Per session it keeps a bounded backlog (drop-oldest on overflow, with a
// loss counter) and a set of live subscribers. Subscribers receive events
// through buffered channels; a subscriber that falls behind loses events
// rather than blocking Publish.
//
// SessionBus is safe for concurrent use.
type SessionBus struct {
	mu       sync.Mutex
	capacity int
	taps     []Tap
	onDrop   func(sessionID string)
	sessions map[string]*sessionQueue
	closed   bool
}

type sessionQueue struct {
	seq     uint64
	backlog []Event
	dropped uint64
	subs    map[int]chan Event
	nextSub int
}

// BusOption configures a SessionBus.
type BusOption func(*SessionBus)

// WithQueueCapacity overrides the per-session backlog bound.
func WithQueueCapacity(n int) BusOption {
	return func(b *SessionBus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithTaps registers observers invoked synchronously for every published
// event.
func WithTaps(taps ...Tap) BusOption {
	return func(b *SessionBus) { b.taps = append(b.taps, taps...) }
}

// WithDropCallback registers a hook invoked whenever a backlog or
// subscriber overflow drops an event. Used to feed loss metrics.
func WithDropCallback(fn func(sessionID string)) BusOption {
	return func(b *SessionBus) { b.onDrop = fn }
}

// NewSessionBus creates an in-memory session bus.
func NewSessionBus(opts ...BusOption) *SessionBus {
	b := &SessionBus{
		capacity: DefaultQueueCapacity,
		sessions: make(map[string]*sessionQueue),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *SessionBus) queue(sessionID string) *sessionQueue {
	q, ok := b.sessions[sessionID]
	if !ok {
		q = &sessionQueue{subs: make(map[int]chan Event)}
		b.sessions[sessionID] = q
	}
	return q
}

// Publish implements Bus. It stamps the event, appends it to the backlog,
// and fans out to live subscribers without blocking.
func (b *SessionBus) Publish(sessionID string, ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	q := b.queue(sessionID)
	q.seq++
	ev.SessionID = sessionID
	ev.Sequence = q.seq
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	q.backlog = append(q.backlog, ev)
	if len(q.backlog) > b.capacity {
		q.backlog = q.backlog[len(q.backlog)-b.capacity:]
		q.dropped++
		if b.onDrop != nil {
			b.onDrop(sessionID)
		}
	}

	for _, ch := range q.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is saturated; it keeps its ordering guarantee
			// but loses this event.
			q.dropped++
			if b.onDrop != nil {
				b.onDrop(sessionID)
			}
		}
	}
	taps := b.taps
	b.mu.Unlock()

	for _, t := range taps {
		t.Observe(ev)
	}
}

// Subscribe implements Bus. The backlog is replayed into the subscription
// channel ahead of live events, preceded by a connection_established event
// with sequence 0.
func (b *SessionBus) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(sessionID)
	// Sized for the hello event, full backlog replay, and live headroom.
	ch := make(chan Event, b.capacity*2+1)

	ch <- Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      KindConnectionEstablished,
		Timestamp: time.Now().UTC(),
	}
	for _, ev := range q.backlog {
		ch <- ev
	}

	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch

	return &Subscription{
		C:         ch,
		sessionID: sessionID,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := q.subs[id]; ok {
				delete(q.subs, id)
				close(sub)
			}
		},
	}
}

// Release implements Bus.
func (b *SessionBus) Release(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	for id, ch := range q.subs {
		delete(q.subs, id)
		close(ch)
	}
	delete(b.sessions, sessionID)
}

// Dropped reports how many events the session has lost to overflow.
func (b *SessionBus) Dropped(sessionID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.sessions[sessionID]; ok {
		return q.dropped
	}
	return 0
}

// Close implements Bus.
func (b *SessionBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, q := range b.sessions {
		for id, ch := range q.subs {
			delete(q.subs, id)
			close(ch)
		}
	}
	b.sessions = make(map[string]*sessionQueue)
}
