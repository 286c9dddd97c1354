package flow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dshills/specflow-go/flow/checkpoint"
	"github.com/dshills/specflow-go/flow/emit"
)

// Outcome is why a runner invocation returned.
type Outcome int

// Runner outcomes.
const (
	// OutcomeCompleted means the session reached the completed stage.
	OutcomeCompleted Outcome = iota
	// OutcomeWaiting means the session is parked at a waiting stage and
	// will resume when a decision arrives.
	OutcomeWaiting
	// OutcomeFailed means the session reached the failed stage.
	OutcomeFailed
	// OutcomePaused means a checkpoint could not be persisted; the last
	// node is treated as not completed and the scheduler retries later.
	OutcomePaused
)

// Runner drives one session through the graph: load state, execute the
// current node under its policy, merge the patch, checkpoint, route, and
// repeat until the session waits, completes, or fails.
//
// Runner holds no per-session state; the scheduler guarantees at most one
// invocation per session at a time.
type Runner struct {
	registry Registry
	router   Router
	store    checkpoint.Store[SessionState]
	bus      emit.Bus
	metrics  *Metrics
	cfg      Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRunner assembles a runner. bus and metrics may be nil.
func NewRunner(reg Registry, router Router, store checkpoint.Store[SessionState], bus emit.Bus, metrics *Metrics, cfg Config) *Runner {
	return &Runner{
		registry: reg,
		router:   router,
		store:    store,
		bus:      bus,
		metrics:  metrics,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- retry jitter
	}
}

// Begin persists the first checkpoint for a fresh session and then runs
// it. The initial record carries checkpoint id 1 with parent 0.
func (r *Runner) Begin(ctx context.Context, state SessionState) (Outcome, error) {
	rec := checkpoint.Record[SessionState]{
		SessionID:    state.SessionID,
		Namespace:    r.cfg.Namespace,
		CheckpointID: 1,
		ParentID:     0,
		State:        state,
		Meta: checkpoint.Metadata{
			NodeName:  string(state.CurrentStage),
			CreatedAt: time.Now().UTC(),
		},
	}
	if err := r.store.Put(ctx, rec); err != nil {
		return OutcomePaused, fmt.Errorf("persist initial checkpoint: %w", err)
	}
	return r.Run(ctx, state.SessionID)
}

// Run resumes a session from its latest checkpoint and executes nodes
// until the session waits for input, terminates, pauses on a storage
// fault, or the context is cancelled.
func (r *Runner) Run(ctx context.Context, sessionID string) (Outcome, error) {
	rec, err := r.store.Latest(ctx, sessionID, r.cfg.Namespace)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return OutcomeFailed, ErrSessionNotFound
		}
		return OutcomePaused, fmt.Errorf("load checkpoint: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			// Clean stop at a node boundary; the checkpoint already holds
			// the last completed step.
			return OutcomePaused, err
		}

		state := rec.State
		stage := state.CurrentStage

		switch stage {
		case StageCompleted:
			return OutcomeCompleted, nil
		case StageFailed:
			return OutcomeFailed, nil
		}

		node, ok := r.registry[stage]
		if !ok {
			return r.fail(ctx, rec, Errf(stage, KindInvalidState, "stage %q not registered", stage))
		}

		// Research and reselect loops revisit nodes with lower targets;
		// published progress holds at the session's high-water mark.
		target := node.Progress
		if state.ProgressPercentage > target {
			target = state.ProgressPercentage
		}
		r.publish(emit.Event{
			Kind:     emit.KindProgressUpdate,
			Stage:    string(stage),
			Progress: target,
		}, state.SessionID)

		res := r.execute(ctx, node, state)
		if res.Err != nil {
			return r.fail(ctx, rec, res.Err)
		}

		if res.Patch.Progress == nil {
			res.Patch.Progress = ptr(target)
		}
		next, err := Apply(state, res.Patch)
		if err != nil {
			return r.fail(ctx, rec, &NodeError{Stage: stage, Kind: KindInvalidState, Err: err})
		}

		switch res.Control {
		case ControlWait:
			// Park at the waiting stage itself; the interrupt controller
			// advances current_stage when the decision arrives.
			next.CurrentStage = stage
		case ControlCompleted:
			next.CurrentStage = StageCompleted
			next.CompletedAt = time.Now().UTC()
		case ControlFailed:
			return r.fail(ctx, rec, Errf(stage, KindInvalidState, "node requested failure"))
		default:
			to, err := r.router(stage, next)
			if err != nil {
				return r.fail(ctx, rec, err)
			}
			next.CurrentStage = to
			if to == StageCompleted {
				next.CompletedAt = time.Now().UTC()
			}
		}

		newRec, err := r.checkpointStep(ctx, rec, next, stage, target)
		if err != nil {
			// The step is treated as not completed; resume re-executes it.
			return OutcomePaused, err
		}
		rec = newRec

		for _, ev := range res.Events {
			r.publish(ev, state.SessionID)
		}

		switch res.Control {
		case ControlWait:
			return OutcomeWaiting, nil
		case ControlCompleted:
			r.metrics.SessionTerminal(StageCompleted)
			return OutcomeCompleted, nil
		}
		if rec.State.CurrentStage == StageCompleted {
			r.metrics.SessionTerminal(StageCompleted)
			return OutcomeCompleted, nil
		}
	}
}

// execute runs the node under its timeout and retry policy. Retries
// consume attempts only for retryable errors; the returned Result is the
// last attempt's.
func (r *Runner) execute(ctx context.Context, node Node, state SessionState) Result {
	policy := node.Retry
	attempts := 1
	if policy != nil && policy.MaxAttempts > 1 {
		attempts = policy.MaxAttempts
	}

	var res Result
	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		res = runWithTimeout(ctx, node, state, node.Timeout)
		if res.Err == nil {
			r.metrics.ObserveNode(node.Stage, time.Since(start), "success")
			return res
		}

		status := "error"
		if KindOf(res.Err) == KindNodeTimeout {
			status = "timeout"
		}
		r.metrics.ObserveNode(node.Stage, time.Since(start), status)

		last := attempt == attempts-1
		if last || policy == nil || policy.Retryable == nil || !policy.Retryable(res.Err) {
			return res
		}

		r.metrics.NodeRetried(node.Stage, string(KindOf(res.Err)))
		delay := r.backoff(attempt, policy)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{Err: &NodeError{Stage: node.Stage, Kind: KindCancelled, Err: ctx.Err()}}
		}
	}
	return res
}

// fail records a terminal failure: append the error, mark the session
// failed, checkpoint, and publish an error event.
func (r *Runner) fail(ctx context.Context, rec checkpoint.Record[SessionState], cause error) (Outcome, error) {
	kind := KindOf(cause)
	state := rec.State

	failed, err := Apply(state, Patch{
		AppendErrors: []ErrorRecord{{
			Node:      state.CurrentStage,
			Kind:      string(kind),
			Message:   cause.Error(),
			Recovered: false,
		}},
	})
	if err != nil {
		failed = state
	}
	failed.CurrentStage = StageFailed
	failed.CompletedAt = time.Now().UTC()

	if _, cpErr := r.checkpointStep(ctx, rec, failed, state.CurrentStage, state.ProgressPercentage); cpErr != nil {
		return OutcomePaused, errors.Join(cause, cpErr)
	}

	r.publish(emit.Event{
		Kind:        emit.KindError,
		Message:     cause.Error(),
		ErrorKind:   string(kind),
		Recoverable: false,
	}, state.SessionID)

	r.metrics.SessionTerminal(StageFailed)
	return OutcomeFailed, cause
}

// checkpointStep persists the successor of rec and optionally compacts
// the chain.
func (r *Runner) checkpointStep(ctx context.Context, prev checkpoint.Record[SessionState], state SessionState, ranStage Stage, progress float64) (checkpoint.Record[SessionState], error) {
	rec := checkpoint.Record[SessionState]{
		SessionID:    prev.SessionID,
		Namespace:    prev.Namespace,
		CheckpointID: prev.CheckpointID + 1,
		ParentID:     prev.CheckpointID,
		State:        state,
		Meta: checkpoint.Metadata{
			NodeName:  string(ranStage),
			Progress:  progress,
			CreatedAt: time.Now().UTC(),
		},
	}
	if err := r.store.Put(ctx, rec); err != nil {
		return checkpoint.Record[SessionState]{}, &NodeError{
			Stage: ranStage, Kind: KindStorageUnavailable,
			Err: fmt.Errorf("persist checkpoint %d: %w", rec.CheckpointID, err),
		}
	}
	if r.cfg.CompactKeep > 0 && rec.CheckpointID%int64(r.cfg.CompactKeep*2) == 0 {
		// Best effort; a failed compaction never blocks progress.
		_ = r.store.Compact(ctx, rec.SessionID, rec.Namespace, r.cfg.CompactKeep)
	}
	return rec, nil
}

func (r *Runner) publish(ev emit.Event, sessionID string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(sessionID, ev)
}

// backoff serializes access to the shared RNG; sessions run on separate
// goroutines.
func (r *Runner) backoff(attempt int, policy *RetryPolicy) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return computeBackoff(attempt, policy.BaseDelay, policy.MaxDelay, r.rng)
}
