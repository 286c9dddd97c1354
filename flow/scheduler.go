package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/specflow-go/flow/checkpoint"
	"github.com/dshills/specflow-go/flow/emit"
)

// SessionStatus summarizes one session for callers polling progress.
type SessionStatus struct {
	SessionID          string    `json:"session_id"`
	Status             string    `json:"status"` // running, waiting_for_input, completed, failed, cancelled, expired
	CurrentStage       Stage     `json:"current_stage"`
	Progress           float64   `json:"progress"`
	PendingDecisions   []string  `json:"pending_decisions,omitempty"`
	DecisionsCompleted int       `json:"decisions_completed"`
	DecisionsTotal     int       `json:"decisions_total"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Scheduler owns session lifecycles: it starts new sessions, resumes
// paused or interrupted ones, routes external decisions to the interrupt
// controller, and enforces single-writer semantics with one mutex and at
// most one runner goroutine per session.
type Scheduler struct {
	runner  *Runner
	ctrl    *Controller
	store   checkpoint.Store[SessionState]
	bus     emit.Bus
	metrics *Metrics
	cfg     Config

	mu       sync.Mutex
	sessions map[string]*sessionHandle
	closed   bool

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// sessionHandle serializes all state transitions for one session. The
// runner goroutine holds run while executing; decision submission takes
// the same lock, so a decision can only land while the session is parked.
type sessionHandle struct {
	run sync.Mutex

	mu           sync.Mutex
	cancel       context.CancelFunc
	cancelled    bool
	waitingSince time.Time
	reminded     bool
}

// NewScheduler assembles a scheduler over a node registry. The reminder
// sweep starts immediately; call Close to stop it and all sessions.
func NewScheduler(reg Registry, store checkpoint.Store[SessionState], bus emit.Bus, metrics *Metrics, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:   NewRunner(reg, NewRouter(cfg), store, bus, metrics, cfg),
		ctrl:     NewController(store, bus, cfg),
		store:    store,
		bus:      bus,
		metrics:  metrics,
		cfg:      cfg,
		sessions: make(map[string]*sessionHandle),
		rootCtx:  ctx,
		cancel:   cancel,
	}
	if cfg.DecisionReminder > 0 {
		s.wg.Add(1)
		go s.reminderSweep()
	}
	return s
}

// Start creates a new session for an upstream job and begins executing
// it on its own goroutine. The returned session id subscribes to events
// and submits decisions.
func (s *Scheduler) Start(projectID, userID, upstreamJobID string) (string, error) {
	sessionID := uuid.NewString()
	state := NewState(sessionID, projectID, userID, upstreamJobID, time.Now())

	handle, err := s.register(sessionID)
	if err != nil {
		return "", err
	}
	s.spawn(sessionID, handle, func(ctx context.Context) (Outcome, error) {
		return s.runner.Begin(ctx, state)
	})
	return sessionID, nil
}

// Resume re-attaches a session found in the checkpoint store, typically
// after a process restart. Running it from its latest checkpoint is safe
// even when the crash interrupted a node: the step re-executes.
func (s *Scheduler) Resume(ctx context.Context, sessionID string) error {
	rec, err := s.store.Latest(ctx, sessionID, s.cfg.Namespace)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if rec.State.CurrentStage.Terminal() {
		return ErrSessionTerminal
	}

	handle, err := s.register(sessionID)
	if err != nil {
		return err
	}
	if rec.State.CurrentStage.Waiting() {
		// Parked; nothing to run until a decision arrives.
		handle.markWaiting(time.Now())
		return nil
	}
	s.spawn(sessionID, handle, func(runCtx context.Context) (Outcome, error) {
		return s.runner.Run(runCtx, sessionID)
	})
	return nil
}

// SubmitDecision applies an external decision and, when it advances the
// session, re-enters the runner on the session's goroutine.
func (s *Scheduler) SubmitDecision(ctx context.Context, sessionID string, d Decision) error {
	handle := s.handle(sessionID)
	if handle == nil {
		// Session may exist only in storage; attach it.
		var err error
		if handle, err = s.register(sessionID); err != nil {
			return err
		}
	}

	handle.run.Lock()
	state, err := s.ctrl.Submit(ctx, sessionID, d)
	if err != nil {
		handle.run.Unlock()
		return err
	}
	handle.clearWaiting()
	handle.run.Unlock()

	if state.CurrentStage.Waiting() || state.CurrentStage.Terminal() {
		return nil
	}
	s.spawn(sessionID, handle, func(runCtx context.Context) (Outcome, error) {
		return s.runner.Run(runCtx, sessionID)
	})
	return nil
}

// Status reports a session's current position from its latest checkpoint.
func (s *Scheduler) Status(ctx context.Context, sessionID string) (SessionStatus, error) {
	rec, err := s.store.Latest(ctx, sessionID, s.cfg.Namespace)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return SessionStatus{}, ErrSessionNotFound
		}
		return SessionStatus{}, fmt.Errorf("load checkpoint: %w", err)
	}
	state := rec.State

	status := "running"
	switch {
	case state.CurrentStage == StageCompleted:
		status = "completed"
	case state.CurrentStage == StageFailed:
		status = "failed"
	case s.cfg.SessionTTL > 0 && time.Since(rec.Meta.CreatedAt) > s.cfg.SessionTTL:
		status = "expired"
	case s.handle(sessionID).isCancelled():
		status = "cancelled"
	case state.CurrentStage.Waiting():
		status = "waiting_for_input"
	}

	return SessionStatus{
		SessionID:          sessionID,
		Status:             status,
		CurrentStage:       state.CurrentStage,
		Progress:           state.ProgressPercentage,
		PendingDecisions:   state.PendingDecisions,
		DecisionsCompleted: len(state.UserDecisions),
		DecisionsTotal:     len(state.UserDecisions) + len(state.PendingDecisions),
		UpdatedAt:          rec.Meta.CreatedAt,
	}, nil
}

// Subscribe attaches an event listener to a session. The subscription
// first receives a connection_established event and the session's
// backlog, then live events.
func (s *Scheduler) Subscribe(sessionID string) *emit.Subscription {
	return s.bus.Subscribe(sessionID)
}

// Ping answers a liveness probe on the session's event channel.
func (s *Scheduler) Ping(sessionID string) {
	if s.bus != nil {
		s.bus.Publish(sessionID, emit.Event{Kind: emit.KindPong})
	}
}

// Cancel stops a session's runner at the next node boundary. The session
// reads as cancelled until a decision or Resume re-enters it, and remains
// resumable from its last checkpoint.
func (s *Scheduler) Cancel(sessionID string) {
	if handle := s.handle(sessionID); handle != nil {
		handle.mu.Lock()
		handle.cancelled = true
		if handle.cancel != nil {
			handle.cancel()
		}
		handle.mu.Unlock()
	}
}

// Sessions lists the session ids currently attached to this scheduler.
func (s *Scheduler) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

// GC removes chains of terminal sessions and of sessions idle past the
// TTL, releasing their event queues.
func (s *Scheduler) GC(ctx context.Context) error {
	now := time.Now()
	var firstErr error
	for _, sessionID := range s.Sessions() {
		rec, err := s.store.Latest(ctx, sessionID, s.cfg.Namespace)
		if err != nil {
			if !errors.Is(err, checkpoint.ErrNotFound) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		expired := now.Sub(rec.Meta.CreatedAt) > s.cfg.SessionTTL
		if !rec.State.CurrentStage.Terminal() && !expired {
			continue
		}
		if err := s.store.Delete(ctx, sessionID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if s.bus != nil {
			s.bus.Release(sessionID)
		}
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	}
	return firstErr
}

// Close cancels every session and waits for runner goroutines to stop.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	if s.bus != nil {
		s.bus.Close()
	}
}

func (s *Scheduler) register(sessionID string) (*sessionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("scheduler closed")
	}
	if handle, ok := s.sessions[sessionID]; ok {
		return handle, nil
	}
	handle := &sessionHandle{}
	s.sessions[sessionID] = handle
	return handle, nil
}

func (s *Scheduler) handle(sessionID string) *sessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

// spawn runs one runner invocation on the session's goroutine, holding
// the session's run lock for the duration. Storage pauses are retried a
// few times before the session is left for a later Resume.
func (s *Scheduler) spawn(sessionID string, handle *sessionHandle, invoke func(context.Context) (Outcome, error)) {
	s.wg.Add(1)
	s.metrics.SessionStarted()

	runCtx, cancel := context.WithCancel(s.rootCtx)
	handle.mu.Lock()
	handle.cancel = cancel
	handle.cancelled = false
	handle.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.metrics.SessionStopped()
		defer cancel()

		handle.run.Lock()
		defer handle.run.Unlock()

		for attempt := 0; ; attempt++ {
			outcome, err := invoke(runCtx)
			switch outcome {
			case OutcomeWaiting:
				handle.markWaiting(time.Now())
				return
			case OutcomePaused:
				if runCtx.Err() != nil || attempt >= 2 {
					return
				}
				select {
				case <-time.After(time.Duration(attempt+1) * time.Second):
				case <-runCtx.Done():
					return
				}
				invoke = func(ctx context.Context) (Outcome, error) {
					return s.runner.Run(ctx, sessionID)
				}
				continue
			default:
				_ = err
				return
			}
		}
	}()
}

// reminderSweep periodically nudges sessions that have waited too long
// for a decision.
func (s *Scheduler) reminderSweep() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.rootCtx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			type pending struct {
				id     string
				handle *sessionHandle
			}
			var due []pending
			for id, handle := range s.sessions {
				due = append(due, pending{id, handle})
			}
			s.mu.Unlock()

			for _, p := range due {
				p.handle.mu.Lock()
				remind := !p.handle.waitingSince.IsZero() && !p.handle.reminded &&
					now.Sub(p.handle.waitingSince) >= s.cfg.DecisionReminder
				if remind {
					p.handle.reminded = true
				}
				p.handle.mu.Unlock()

				if remind && s.bus != nil {
					s.bus.Publish(p.id, emit.Event{
						Kind:        emit.KindAgentMessage,
						MessageType: emit.MessageConfirmation,
						Message:     "Still waiting on your decision. The session stays resumable until it expires.",
					})
				}
			}
		}
	}
}

func (h *sessionHandle) markWaiting(t time.Time) {
	h.mu.Lock()
	h.waitingSince = t
	h.reminded = false
	h.mu.Unlock()
}

// isCancelled is nil-safe so Status can consult an unattached session.
func (h *sessionHandle) isCancelled() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// clearWaiting marks the session re-engaged: an accepted decision ends
// both the waiting window and any prior cancellation.
func (h *sessionHandle) clearWaiting() {
	h.mu.Lock()
	h.waitingSince = time.Time{}
	h.reminded = false
	h.cancelled = false
	h.mu.Unlock()
}
