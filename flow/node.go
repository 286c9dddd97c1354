package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/specflow-go/flow/emit"
)

// Control tells the runner what to do after a node returns.
type Control int

// Control values.
const (
	// ControlContinue routes to the next stage via the router table.
	ControlContinue Control = iota
	// ControlWait parks the session at the current stage until a user
	// decision arrives.
	ControlWait
	// ControlCompleted ends the session successfully.
	ControlCompleted
	// ControlFailed ends the session with a terminal error.
	ControlFailed
)

// Result is what a node hands back to the runner: a state patch, a
// control signal, and events to publish after the step checkpoints.
// Err marks a step failure; the runner decides retry or terminal per the
// node's policy and the error kind.
type Result struct {
	Patch   Patch
	Control Control
	Events  []emit.Event
	Err     error
}

// RunFunc is the body of a node. It receives an immutable snapshot of the
// session state and returns a Result; it must not retain or mutate the
// snapshot.
type RunFunc func(ctx context.Context, state SessionState) Result

// Node binds a stage name to its body and per-node execution policy.
type Node struct {
	Stage    Stage
	Progress float64 // progress raised to before the body runs
	Timeout  time.Duration
	Retry    *RetryPolicy
	Run      RunFunc
}

// Registry maps every stage to its node. The router may only return
// stages that are registered (or terminal).
type Registry map[Stage]Node

// NewRegistry builds a registry from nodes, rejecting duplicates and
// missing bodies.
func NewRegistry(nodes ...Node) (Registry, error) {
	reg := make(Registry, len(nodes))
	for _, n := range nodes {
		if n.Stage == "" {
			return nil, fmt.Errorf("node with empty stage")
		}
		if n.Run == nil {
			return nil, fmt.Errorf("node %s has no body", n.Stage)
		}
		if _, dup := reg[n.Stage]; dup {
			return nil, fmt.Errorf("duplicate node %s", n.Stage)
		}
		reg[n.Stage] = n
	}
	return reg, nil
}
