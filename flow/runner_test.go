package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/specflow-go/flow/checkpoint"
	"github.com/dshills/specflow-go/flow/emit"
)

// linearRouter routes through a fixed stage sequence ending in completed.
func linearRouter(order ...Stage) Router {
	return func(from Stage, _ SessionState) (Stage, error) {
		for i, s := range order {
			if s != from {
				continue
			}
			if i+1 < len(order) {
				return order[i+1], nil
			}
			return StageCompleted, nil
		}
		return "", Errf(from, KindInvalidState, "no route from %q", from)
	}
}

func okNode(stage Stage, progress float64) Node {
	return Node{
		Stage:    stage,
		Progress: progress,
		Run: func(context.Context, SessionState) Result {
			return Result{}
		},
	}
}

func TestRunner_LinearCompletion(t *testing.T) {
	reg, err := NewRegistry(
		Node{
			Stage:    StageLoadInputs,
			Progress: 5,
			Run: func(context.Context, SessionState) Result {
				return Result{Patch: Patch{PRDContent: ptr("# PRD")}}
			},
		},
		okNode(StageSave, 95),
		okNode(StageNotify, 100),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := checkpoint.NewMemStore[SessionState]()
	runner := NewRunner(reg, linearRouter(StageLoadInputs, StageSave, StageNotify),
		store, nil, nil, NewConfig())

	outcome, err := runner.Begin(context.Background(), baseState())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %v", outcome)
	}

	rec, err := store.Latest(context.Background(), "sess-1", "session")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.State.CurrentStage != StageCompleted {
		t.Errorf("expected completed stage, got %s", rec.State.CurrentStage)
	}
	if rec.State.PRDContent != "# PRD" {
		t.Errorf("node patch lost: %q", rec.State.PRDContent)
	}
	if rec.State.CompletedAt.IsZero() {
		t.Error("completed_at not set")
	}
	if rec.State.ProgressPercentage != 100 {
		t.Errorf("expected progress 100, got %f", rec.State.ProgressPercentage)
	}
	// Initial record plus one per node.
	if rec.CheckpointID != 4 {
		t.Errorf("expected checkpoint 4, got %d", rec.CheckpointID)
	}
}

func TestRunner_PublishedProgressHoldsHighWaterMark(t *testing.T) {
	// A loop re-entering a node with a lower declared target must not
	// regress the published progress stream.
	reg, err := NewRegistry(
		okNode(StageResearchTechnologies, 35),
		okNode(StageSave, 98),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	state := baseState()
	state.CurrentStage = StageResearchTechnologies
	state.ProgressPercentage = 50

	store := checkpoint.NewMemStore[SessionState]()
	if err := store.Put(context.Background(), checkpoint.Record[SessionState]{
		SessionID:    state.SessionID,
		Namespace:    "session",
		CheckpointID: 1,
		State:        state,
		Meta:         checkpoint.Metadata{CreatedAt: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	bus := emit.NewSessionBus()
	defer bus.Close()
	runner := NewRunner(reg, linearRouter(StageResearchTechnologies, StageSave),
		store, bus, nil, NewConfig())

	outcome, err := runner.Run(context.Background(), state.SessionID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %v", outcome)
	}

	sub := bus.Subscribe(state.SessionID)
	defer sub.Unsubscribe()
	var progress []float64
	for ev := range sub.C {
		if ev.Kind == emit.KindProgressUpdate {
			progress = append(progress, ev.Progress)
		}
		if len(progress) == 2 {
			break
		}
	}
	if progress[0] != 50 {
		t.Errorf("revisited node should publish the high-water mark 50, got %v", progress)
	}
	if progress[1] < progress[0] {
		t.Errorf("published progress regressed: %v", progress)
	}

	rec, err := store.Latest(context.Background(), state.SessionID, "session")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.State.ProgressPercentage < 50 {
		t.Errorf("state progress regressed to %f", rec.State.ProgressPercentage)
	}
}

func TestRunner_RetriesTransientErrors(t *testing.T) {
	attempts := 0
	reg, err := NewRegistry(Node{
		Stage:    StageLoadInputs,
		Progress: 5,
		Retry: &RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Retryable:   DefaultRetryable,
		},
		Run: func(context.Context, SessionState) Result {
			attempts++
			if attempts < 3 {
				return Result{Err: Errf(StageLoadInputs, KindExternalServiceError, "flaky upstream")}
			}
			return Result{}
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := checkpoint.NewMemStore[SessionState]()
	runner := NewRunner(reg, linearRouter(StageLoadInputs), store, nil, nil, NewConfig())

	outcome, err := runner.Begin(context.Background(), baseState())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Errorf("expected completed after retries, got %v", outcome)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunner_NonRetryableFails(t *testing.T) {
	reg, err := NewRegistry(Node{
		Stage:    StageLoadInputs,
		Progress: 5,
		Retry: &RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Retryable:   DefaultRetryable,
		},
		Run: func(context.Context, SessionState) Result {
			return Result{Err: Errf(StageLoadInputs, KindInvalidState, "cycle in gap dependencies")}
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := checkpoint.NewMemStore[SessionState]()
	bus := emit.NewSessionBus()
	defer bus.Close()
	runner := NewRunner(reg, linearRouter(StageLoadInputs), store, bus, nil, NewConfig())

	outcome, err := runner.Begin(context.Background(), baseState())
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %v", outcome)
	}
	if KindOf(err) != KindInvalidState {
		t.Errorf("expected invalid_state, got %s", KindOf(err))
	}

	rec, err := store.Latest(context.Background(), "sess-1", "session")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.State.CurrentStage != StageFailed {
		t.Errorf("expected failed stage, got %s", rec.State.CurrentStage)
	}
	if len(rec.State.Errors) != 1 || rec.State.Errors[0].Recovered {
		t.Errorf("expected one unrecovered error record, got %+v", rec.State.Errors)
	}

	// The error event precedes the failed transition on the stream.
	sub := bus.Subscribe("sess-1")
	defer sub.Unsubscribe()
	var sawError bool
	for ev := range sub.C {
		if ev.Kind == emit.KindError {
			sawError = true
			if ev.ErrorKind != string(KindInvalidState) {
				t.Errorf("expected invalid_state event, got %s", ev.ErrorKind)
			}
			break
		}
	}
	if !sawError {
		t.Error("no error event published")
	}
}

func TestRunner_NodeTimeout(t *testing.T) {
	reg, err := NewRegistry(Node{
		Stage:    StageLoadInputs,
		Progress: 5,
		Timeout:  10 * time.Millisecond,
		Run: func(ctx context.Context, _ SessionState) Result {
			select {
			case <-time.After(time.Second):
				return Result{}
			case <-ctx.Done():
				return Result{Err: ctx.Err()}
			}
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := checkpoint.NewMemStore[SessionState]()
	runner := NewRunner(reg, linearRouter(StageLoadInputs), store, nil, nil, NewConfig())

	outcome, err := runner.Begin(context.Background(), baseState())
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %v", outcome)
	}
	if KindOf(err) != KindNodeTimeout {
		t.Errorf("expected node_timeout, got %s", KindOf(err))
	}
}

func TestRunner_WaitParksAtStage(t *testing.T) {
	reg, err := NewRegistry(
		okNode(StageLoadInputs, 5),
		Node{
			Stage:    StageAskClarification,
			Progress: 20,
			Run: func(context.Context, SessionState) Result {
				return Result{Control: ControlWait}
			},
		},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := checkpoint.NewMemStore[SessionState]()
	runner := NewRunner(reg, linearRouter(StageLoadInputs, StageAskClarification),
		store, nil, nil, NewConfig())

	outcome, err := runner.Begin(context.Background(), baseState())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if outcome != OutcomeWaiting {
		t.Fatalf("expected waiting, got %v", outcome)
	}

	rec, err := store.Latest(context.Background(), "sess-1", "session")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.State.CurrentStage != StageAskClarification {
		t.Errorf("expected session parked at ask_clarification, got %s", rec.State.CurrentStage)
	}
}

// flakyStore fails Put after a fixed number of successes.
type flakyStore struct {
	*checkpoint.MemStore[SessionState]
	okPuts int
	puts   int
}

func (f *flakyStore) Put(ctx context.Context, rec checkpoint.Record[SessionState]) error {
	f.puts++
	if f.puts > f.okPuts {
		return errors.New("disk full")
	}
	return f.MemStore.Put(ctx, rec)
}

func TestRunner_StorageFaultPauses(t *testing.T) {
	reg, err := NewRegistry(okNode(StageLoadInputs, 5))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := &flakyStore{MemStore: checkpoint.NewMemStore[SessionState](), okPuts: 1}
	runner := NewRunner(reg, linearRouter(StageLoadInputs), store, nil, nil, NewConfig())

	outcome, err := runner.Begin(context.Background(), baseState())
	if outcome != OutcomePaused {
		t.Fatalf("expected paused, got %v", outcome)
	}
	if KindOf(err) != KindStorageUnavailable {
		t.Errorf("expected storage_unavailable, got %s", KindOf(err))
	}

	// The step was not committed; resume re-executes from checkpoint 1.
	rec, err := store.Latest(context.Background(), "sess-1", "session")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.CheckpointID != 1 || rec.State.CurrentStage != StageLoadInputs {
		t.Errorf("expected pristine checkpoint 1, got %d at %s",
			rec.CheckpointID, rec.State.CurrentStage)
	}
}

func TestRunner_UnregisteredStageFails(t *testing.T) {
	reg, err := NewRegistry(okNode(StageSave, 95))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := checkpoint.NewMemStore[SessionState]()
	runner := NewRunner(reg, linearRouter(StageSave), store, nil, nil, NewConfig())

	outcome, err := runner.Begin(context.Background(), baseState())
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %v", outcome)
	}
	if KindOf(err) != KindInvalidState {
		t.Errorf("expected invalid_state, got %s", KindOf(err))
	}
}
