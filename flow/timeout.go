package flow

import (
	"context"
	"errors"
	"time"
)

// runWithTimeout executes a node body under a deadline. The body runs in
// its own goroutine; on timeout the context is cancelled and a
// node_timeout NodeError is returned. A body that ignores cancellation
// leaks its goroutine until it returns, so node bodies must honor ctx.
func runWithTimeout(ctx context.Context, node Node, state SessionState, timeout time.Duration) Result {
	if timeout <= 0 {
		return node.Run(ctx, state)
	}

	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		done <- node.Run(nodeCtx, state)
	}()

	select {
	case res := <-done:
		return res
	case <-nodeCtx.Done():
		if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
			return Result{Err: Errf(node.Stage, KindNodeTimeout,
				"node exceeded %s timeout", timeout)}
		}
		return Result{Err: &NodeError{Stage: node.Stage, Kind: KindCancelled, Err: nodeCtx.Err()}}
	}
}
