package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/specflow-go/flow/checkpoint"
	"github.com/dshills/specflow-go/flow/emit"
)

// DecisionKind names which kind of prompt a decision answers.
type DecisionKind string

// Decision kinds, one per waiting stage.
const (
	DecisionClarification DecisionKind = "clarification"
	DecisionOptionSelect  DecisionKind = "option_select"
	DecisionWarnOutcome   DecisionKind = "warn_outcome"
)

// Decision is an external resume signal. ID is caller-chosen and makes
// submission idempotent: re-submitting an applied ID succeeds without
// effect. Stage names the waiting stage the decision answers; a mismatch
// with the session's parked stage is a conflict.
type Decision struct {
	ID     string
	UserID string
	Stage  Stage
	Kind   DecisionKind
	Value  string
	Reason string
}

// SearchPrefix marks an option_select value requesting a custom research
// query instead of a presented option.
const SearchPrefix = "search:"

// AIRecommendationValue selects the orchestrator's recommended option.
const AIRecommendationValue = "ai_recommendation"

// Controller accepts external decisions for parked sessions: it
// validates ownership and stage, deposits the decision into state,
// checkpoints, and echoes the input on the session's event channel. The
// scheduler then re-enters the runner.
//
// Ownership here is an equality check on user id; authentication is the
// caller's concern.
type Controller struct {
	store checkpoint.Store[SessionState]
	bus   emit.Bus
	cfg   Config
}

// NewController assembles a controller. bus may be nil.
func NewController(store checkpoint.Store[SessionState], bus emit.Bus, cfg Config) *Controller {
	return &Controller{store: store, bus: bus, cfg: cfg}
}

// Submit applies a decision to a parked session and returns the updated
// state. Sentinel errors: ErrSessionNotFound, ErrSessionTerminal,
// ErrSessionNotWaiting, ErrDecisionConflict, ErrUserMismatch.
func (c *Controller) Submit(ctx context.Context, sessionID string, d Decision) (SessionState, error) {
	rec, err := c.store.Latest(ctx, sessionID, c.cfg.Namespace)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return SessionState{}, ErrSessionNotFound
		}
		return SessionState{}, fmt.Errorf("load checkpoint: %w", err)
	}
	state := rec.State

	for _, applied := range state.AppliedDecisionIDs {
		if applied == d.ID && d.ID != "" {
			return state, nil
		}
	}

	if state.CurrentStage.Terminal() {
		return SessionState{}, ErrSessionTerminal
	}
	if !state.CurrentStage.Waiting() {
		return SessionState{}, ErrSessionNotWaiting
	}
	if d.Stage != "" && d.Stage != state.CurrentStage {
		return SessionState{}, ErrDecisionConflict
	}
	if d.UserID != state.UserID {
		return SessionState{}, ErrUserMismatch
	}

	var (
		patch Patch
		next  Stage
	)
	switch state.CurrentStage {
	case StageAskClarification:
		patch, next = c.applyClarification(state, d)
	case StageWaitUserDecision:
		patch, next, err = c.applyOptionSelect(state, d)
		if err != nil {
			return SessionState{}, err
		}
	case StageWarnUser:
		patch, next, err = c.applyWarnOutcome(state, d)
		if err != nil {
			return SessionState{}, err
		}
	}

	if d.ID != "" {
		patch.AppendAppliedDecisionIDs = append(patch.AppendAppliedDecisionIDs, d.ID)
	}
	patch.AppendConversation = append(patch.AppendConversation, ConversationEntry{
		Role:      RoleUser,
		Message:   d.Value,
		Timestamp: time.Now().UTC(),
	})

	updated, err := Apply(state, patch)
	if err != nil {
		return SessionState{}, err
	}
	updated.CurrentStage = next

	newRec := checkpoint.Record[SessionState]{
		SessionID:    rec.SessionID,
		Namespace:    rec.Namespace,
		CheckpointID: rec.CheckpointID + 1,
		ParentID:     rec.CheckpointID,
		State:        updated,
		Meta: checkpoint.Metadata{
			NodeName:  string(state.CurrentStage),
			Progress:  updated.ProgressPercentage,
			CreatedAt: time.Now().UTC(),
		},
	}
	if err := c.store.Put(ctx, newRec); err != nil {
		return SessionState{}, fmt.Errorf("persist decision checkpoint: %w", err)
	}

	if c.bus != nil {
		c.bus.Publish(sessionID, emit.Event{
			Kind:    emit.KindUserMessageEcho,
			Message: d.Value,
			Data:    map[string]any{"decision_id": d.ID, "kind": string(d.Kind)},
		})
	}
	return updated, nil
}

// applyClarification records the answer and loops back to analysis.
func (c *Controller) applyClarification(state SessionState, d Decision) (Patch, Stage) {
	answer := strings.TrimSpace(d.Value)
	patch := Patch{AppendDesignDecisions: []string{answer}}
	if len(state.ClarificationQueue) > 1 {
		patch.ClarificationQueue = state.ClarificationQueue[1:]
	} else {
		patch.ClarificationQueue = []string{}
	}
	return patch, StageAnalyzeCompleteness
}

// applyOptionSelect resolves the awaited gap into a candidate decision,
// or redirects to a custom search.
func (c *Controller) applyOptionSelect(state SessionState, d Decision) (Patch, Stage, error) {
	gapID := state.AwaitingGapID
	if gapID == "" {
		return Patch{}, "", Errf(state.CurrentStage, KindInvalidState, "no gap awaiting decision")
	}
	value := strings.TrimSpace(d.Value)

	if strings.HasPrefix(value, SearchPrefix) {
		query := strings.TrimSpace(strings.TrimPrefix(value, SearchPrefix))
		if query == "" {
			return Patch{}, "", fmt.Errorf("empty custom search query")
		}
		return Patch{PendingSearchQuery: ptr(query)}, StageResearchTechnologies, nil
	}

	var (
		chosen string
		source DecisionSource
	)
	switch {
	case value == AIRecommendationValue:
		if state.AIRecommendation == "" {
			return Patch{}, "", fmt.Errorf("no recommendation available for gap %s", gapID)
		}
		chosen = state.AIRecommendation
		source = SourceAIRecommended
	default:
		research, ok := state.ResearchFor(gapID)
		if !ok {
			return Patch{}, "", Errf(state.CurrentStage, KindInvalidState, "no research for gap %s", gapID)
		}
		name, err := resolveOption(research.Options, value)
		if err != nil {
			return Patch{}, "", err
		}
		chosen = name
		source = SourceUser
		if state.PendingSearchQuery != "" {
			source = SourceCustomSearch
		}
	}

	cand := UserDecision{
		GapID:      gapID,
		ChosenName: chosen,
		Reason:     d.Reason,
		Source:     source,
		Timestamp:  time.Now().UTC(),
	}
	return Patch{SetCandidate: &cand, PendingSearchQuery: ptr("")}, StageValidateDecision, nil
}

// applyWarnOutcome handles the two answers to a critical warning:
// reselect discards the candidate and re-presents the options; continue
// accepts the candidate despite the warning.
func (c *Controller) applyWarnOutcome(state SessionState, d Decision) (Patch, Stage, error) {
	switch strings.TrimSpace(strings.ToLower(d.Value)) {
	case "reselect":
		return Patch{
			ClearCandidate:         true,
			LastValidationCritical: ptr(false),
		}, StagePresentOptions, nil

	case "continue":
		if state.CandidateDecision == nil {
			return Patch{}, "", Errf(state.CurrentStage, KindInvalidState, "no candidate decision to accept")
		}
		accepted := *state.CandidateDecision
		if d.Reason != "" {
			accepted.Reason = d.Reason
		}
		patch := Patch{
			AppendUserDecisions:    []UserDecision{accepted},
			SetPendingDecisions:    removeString(state.PendingDecisions, accepted.GapID),
			PendingDecisionsSet:    true,
			ClearCandidate:         true,
			AwaitingGapID:          ptr(""),
			LastValidationCritical: ptr(false),
		}
		next := StageParseCode
		if len(patch.SetPendingDecisions) > 0 {
			next = StageResearchTechnologies
		}
		return patch, next, nil
	}
	return Patch{}, "", fmt.Errorf("warn outcome must be %q or %q, got %q", "reselect", "continue", d.Value)
}

// resolveOption accepts either a 1-based index or an option name.
func resolveOption(options []ResearchOption, value string) (string, error) {
	if idx, err := strconv.Atoi(value); err == nil {
		if idx < 1 || idx > len(options) {
			return "", fmt.Errorf("option index %d out of range 1..%d", idx, len(options))
		}
		return options[idx-1].Name, nil
	}
	for _, opt := range options {
		if strings.EqualFold(opt.Name, value) {
			return opt.Name, nil
		}
	}
	return "", fmt.Errorf("unknown option %q", value)
}

func removeString(in []string, drop string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
