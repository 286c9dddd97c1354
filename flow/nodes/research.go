package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/specflow-go/flow"
	"github.com/dshills/specflow-go/flow/emit"
	"github.com/dshills/specflow-go/flow/model"
	"github.com/dshills/specflow-go/flow/search"
)

const (
	searchAttempts    = 3
	maxHarvestResults = 5
)

// researchTechnologies researches one gap: the topologically first
// undecided one, or the awaited gap again when the user asked for a
// custom search. Live search failures fall back to the static library
// and the session records the recovery instead of failing.
func (d Deps) researchTechnologies(ctx context.Context, s flow.SessionState) flow.Result {
	gap, ok := d.pickGap(s)
	if !ok {
		return flow.Result{Err: flow.Errf(flow.StageResearchTechnologies,
			flow.KindInvalidState, "no pending gap to research")}
	}

	query := search.Query{
		GapID:    gap.ID,
		Category: gap.Category,
		Context:  gap.Description + " " + strings.Join(gap.Requirements, " "),
		Terms:    []string{gap.Category, "technology options", gap.Description},
	}
	if s.PendingSearchQuery != "" && s.AwaitingGapID == gap.ID {
		query.Terms = []string{s.PendingSearchQuery}
	}

	results, fellBack, err := d.searchWithFallback(ctx, query)
	if err != nil {
		return flow.Result{Err: err}
	}
	if len(results) > maxHarvestResults {
		results = results[:maxHarvestResults]
	}

	options := d.enrichOptions(ctx, gap, results)
	if len(options) > d.Config.OptionsPerGap {
		options = options[:d.Config.OptionsPerGap]
	}

	patch := flow.Patch{
		AppendResearchResults: []flow.ResearchResult{{
			GapID:     gap.ID,
			Options:   options,
			Timestamp: time.Now().UTC(),
		}},
		AwaitingGapID:      &gap.ID,
		ResearchIterations: flowPtr(s.ResearchIterations + 1),
	}
	if fellBack {
		patch.AppendErrors = []flow.ErrorRecord{{
			Node:      flow.StageResearchTechnologies,
			Kind:      string(flow.KindResearchFallback),
			Message:   fmt.Sprintf("live search unavailable for gap %s; served static options", gap.ID),
			Recovered: true,
		}}
	}
	return flow.Result{Patch: patch}
}

// pickGap returns the gap to research next. A pending custom search
// re-targets the awaited gap; otherwise the first pending gap, in
// dependency order, whose dependencies are all decided, preferring gaps
// without research yet.
func (d Deps) pickGap(s flow.SessionState) (flow.TechGap, bool) {
	if s.PendingSearchQuery != "" && s.AwaitingGapID != "" {
		if gap, ok := s.GapByID(s.AwaitingGapID); ok {
			return gap, true
		}
	}

	var fallback *flow.TechGap
	for i := range s.TechGaps {
		gap := s.TechGaps[i]
		if !s.IsPending(gap.ID) || !depsDecided(s, gap) {
			continue
		}
		if _, researched := s.ResearchFor(gap.ID); !researched {
			return gap, true
		}
		if fallback == nil {
			fallback = &gap
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return flow.TechGap{}, false
}

func depsDecided(s flow.SessionState, gap flow.TechGap) bool {
	for _, dep := range gap.DependsOn {
		if s.IsPending(dep) {
			return false
		}
	}
	return true
}

// searchWithFallback tries the live searcher a few times, then the
// static library. fellBack reports whether the fallback served results.
func (d Deps) searchWithFallback(ctx context.Context, q search.Query) (results []search.Result, fellBack bool, err error) {
	if d.Searcher != nil {
		var lastErr error
		for attempt := 0; attempt < searchAttempts; attempt++ {
			results, lastErr = d.Searcher.Search(ctx, q)
			if lastErr == nil && len(results) > 0 {
				return results, false, nil
			}
			if ctx.Err() != nil {
				return nil, false, &flow.NodeError{
					Stage: flow.StageResearchTechnologies, Kind: flow.KindCancelled, Err: ctx.Err(),
				}
			}
		}
	}

	if d.Fallback == nil {
		return nil, false, flow.Errf(flow.StageResearchTechnologies,
			flow.KindExternalServiceError, "search failed and no fallback library configured")
	}
	results, err = d.Fallback.Search(ctx, q)
	if err != nil {
		return nil, false, &flow.NodeError{
			Stage: flow.StageResearchTechnologies, Kind: flow.KindExternalServiceError, Err: err,
		}
	}
	return results, d.Searcher != nil, nil
}

// enrichOptions turns raw search results into comparable options via the
// LLM; when enrichment fails the raw results are used directly so the
// loop still presents something.
func (d Deps) enrichOptions(ctx context.Context, gap flow.TechGap, results []search.Result) []flow.ResearchOption {
	var digest strings.Builder
	for _, r := range results {
		fmt.Fprintf(&digest, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
	}

	prompt := fmt.Sprintf(`Compare these candidates for the %q choice (%s).
Requirements: %s.

Candidates:
%s
Return JSON: {"options": [{"name": "...", "description": "...", "pros": [...], "cons": [...], "popularity_metrics": {"github_stars": 0}, "docs_url": "...", "learning_curve": "easy|moderate|steep", "setup_time": "...", "cost": "free|freemium|paid"}]}.
Order by overall fit, best first.`,
		gap.Category, gap.Description, strings.Join(gap.Requirements, "; "), digest.String())

	resp, err := d.complete(ctx, flow.StageResearchTechnologies, model.Request{
		System:      systemPrompt,
		Messages:    []model.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens:   2048,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err == nil {
		var out struct {
			Options []flow.ResearchOption `json:"options"`
		}
		if decodeErr := decodeJSON(resp.Text, &out); decodeErr == nil && len(out.Options) > 0 {
			return out.Options
		}
	}

	options := make([]flow.ResearchOption, 0, len(results))
	for _, r := range results {
		options = append(options, flow.ResearchOption{
			Name:              r.Title,
			Description:       r.Snippet,
			PopularityMetrics: r.Metrics,
			DocsURL:           r.URL,
		})
	}
	return options
}

// presentOptions renders the awaited gap's options and computes the
// recommendation from fixed weights: ease of use 30, popularity 20,
// recency 15, documentation 10, cost 15, setup time 10.
func (d Deps) presentOptions(_ context.Context, s flow.SessionState) flow.Result {
	gap, ok := s.GapByID(s.AwaitingGapID)
	if !ok {
		return flow.Result{Err: flow.Errf(flow.StagePresentOptions,
			flow.KindInvalidState, "no gap awaiting presentation")}
	}
	research, ok := s.ResearchFor(gap.ID)
	if !ok || len(research.Options) == 0 {
		return flow.Result{Err: flow.Errf(flow.StagePresentOptions,
			flow.KindInvalidState, "no research results for gap %s", gap.ID)}
	}

	recommendation := recommend(research.Options)

	var msg strings.Builder
	fmt.Fprintf(&msg, "For %s (%s) I found %d options:\n", gap.Category, gap.Description, len(research.Options))
	for i, opt := range research.Options {
		fmt.Fprintf(&msg, "%d. %s: %s\n", i+1, opt.Name, opt.Description)
	}
	fmt.Fprintf(&msg, "I recommend %s. Reply with a number, a name, %q, or %q to research differently.",
		recommendation, flow.AIRecommendationValue, flow.SearchPrefix+"<query>")

	return flow.Result{
		Patch: flow.Patch{
			AIRecommendation: &recommendation,
			AppendConversation: []flow.ConversationEntry{{
				Role:        flow.RoleAgent,
				Message:     msg.String(),
				MessageType: string(emit.MessageOptionPresentation),
				Timestamp:   time.Now().UTC(),
			}},
		},
		Events: []emit.Event{{
			Kind:        emit.KindAgentMessage,
			MessageType: emit.MessageOptionPresentation,
			Message:     msg.String(),
			Data: map[string]any{
				"gap_id":            gap.ID,
				"category":          gap.Category,
				"options":           research.Options,
				"ai_recommendation": recommendation,
			},
		}},
	}
}

// recommend scores each option and returns the best name. Weights are
// fixed; popularity is scored relative to the best-known option in the
// set.
func recommend(options []flow.ResearchOption) string {
	maxPopularity := 0.0
	for _, opt := range options {
		if p := popularityOf(opt); p > maxPopularity {
			maxPopularity = p
		}
	}

	best, bestScore := options[0].Name, -1.0
	for _, opt := range options {
		score := easeScore(opt) + docsScore(opt) + costScore(opt) + setupScore(opt) + recencyScore(opt)
		if maxPopularity > 0 {
			score += 20 * popularityOf(opt) / maxPopularity
		}
		if score > bestScore {
			best, bestScore = opt.Name, score
		}
	}
	return best
}

func popularityOf(opt flow.ResearchOption) float64 {
	var total float64
	for _, v := range opt.PopularityMetrics {
		total += v
	}
	return total
}

func easeScore(opt flow.ResearchOption) float64 {
	switch strings.ToLower(opt.LearningCurve) {
	case "easy":
		return 30
	case "moderate":
		return 20
	case "steep":
		return 10
	}
	return 15
}

func recencyScore(opt flow.ResearchOption) float64 {
	if v, ok := opt.PopularityMetrics["recency"]; ok && v > 0 {
		return 15
	}
	return 7.5
}

func docsScore(opt flow.ResearchOption) float64 {
	if opt.DocsURL != "" {
		return 10
	}
	return 0
}

func costScore(opt flow.ResearchOption) float64 {
	switch strings.ToLower(opt.Cost) {
	case "free":
		return 15
	case "freemium":
		return 10
	case "paid":
		return 5
	}
	return 8
}

func setupScore(opt flow.ResearchOption) float64 {
	setup := strings.ToLower(opt.SetupTime)
	switch {
	case strings.Contains(setup, "minute"), strings.Contains(setup, "hour"):
		return 10
	case strings.Contains(setup, "day"):
		return 6
	case setup == "":
		return 5
	}
	return 3
}

// waitUserDecision parks the session until the interrupt controller
// deposits a selection.
func (d Deps) waitUserDecision(_ context.Context, s flow.SessionState) flow.Result {
	return flow.Result{
		Control: flow.ControlWait,
		Patch: flow.Patch{
			AppendConversation: []flow.ConversationEntry{{
				Role:           flow.RoleAgent,
				Message:        "Waiting for your selection.",
				MessageType:    string(emit.MessageQuestion),
				Timestamp:      time.Now().UTC(),
				ExpectingInput: true,
			}},
		},
	}
}

// validateDecision checks the candidate against the PRD requirements and
// the already-chosen technologies. Critical conflicts keep the candidate
// unaccepted and route the session to the warning prompt; otherwise the
// decision is accepted and the gap leaves the pending set.
func (d Deps) validateDecision(ctx context.Context, s flow.SessionState) flow.Result {
	cand := s.CandidateDecision
	if cand == nil {
		return flow.Result{Err: flow.Errf(flow.StageValidateDecision,
			flow.KindInvalidState, "no candidate decision to validate")}
	}
	gap, _ := s.GapByID(cand.GapID)

	warnings, err := d.checkCompatibility(ctx, s, gap, *cand)
	recovered := false
	if err != nil {
		// Validation is advisory; a dead validator must not block the
		// decision loop.
		warnings = nil
		recovered = true
	}

	critical := false
	for _, w := range warnings {
		if w.Severity == flow.SeverityCritical {
			critical = true
		}
	}

	patch := flow.Patch{
		AppendValidationWarnings: warnings,
		LastValidationCritical:   &critical,
	}
	if recovered {
		patch.AppendErrors = []flow.ErrorRecord{{
			Node:      flow.StageValidateDecision,
			Kind:      string(flow.KindExternalServiceError),
			Message:   fmt.Sprintf("decision validation unavailable: %v", err),
			Recovered: true,
		}}
	}

	if !critical {
		patch.AppendUserDecisions = []flow.UserDecision{*cand}
		patch.SetPendingDecisions = removePending(s.PendingDecisions, cand.GapID)
		patch.PendingDecisionsSet = true
		patch.ClearCandidate = true
		patch.AwaitingGapID = flowPtr("")
	}
	return flow.Result{Patch: patch}
}

func (d Deps) checkCompatibility(ctx context.Context, s flow.SessionState, gap flow.TechGap, cand flow.UserDecision) ([]flow.ValidationWarning, error) {
	prompt := fmt.Sprintf(`The user chose %q for the %s gap (%s).
Gap requirements: %s.
Already chosen technologies:
%s
Does this choice conflict with a requirement or an existing choice?
Return JSON: {"warnings": [{"type": "requirement_mismatch|tech_incompatibility", "severity": "critical|warning", "description": "..."}]}. Empty list if compatible. Mark critical only for conflicts that would break a stated requirement.`,
		cand.ChosenName, gap.Category, gap.Description,
		strings.Join(gap.Requirements, "; "), decisionsDigest(s))

	resp, err := d.complete(ctx, flow.StageValidateDecision, model.Request{
		System:      systemPrompt,
		Messages:    []model.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens:   1024,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Warnings []struct {
			Type        string `json:"type"`
			Severity    string `json:"severity"`
			Description string `json:"description"`
		} `json:"warnings"`
	}
	if err := decodeJSON(resp.Text, &out); err != nil {
		return nil, err
	}

	warnings := make([]flow.ValidationWarning, 0, len(out.Warnings))
	for _, w := range out.Warnings {
		warnings = append(warnings, flow.ValidationWarning{
			GapID:       gap.ID,
			Type:        flow.WarningType(w.Type),
			Severity:    flow.WarningSeverity(w.Severity),
			Description: w.Description,
		})
	}
	return warnings, nil
}

// warnUser surfaces the critical warnings and parks the session for a
// reselect-or-continue answer.
func (d Deps) warnUser(_ context.Context, s flow.SessionState) flow.Result {
	var lines []string
	for _, w := range s.ValidationWarnings {
		if w.GapID == s.AwaitingGapID && w.Severity == flow.SeverityCritical {
			lines = append(lines, w.Description)
		}
	}
	msg := fmt.Sprintf("Your choice has potential problems:\n- %s\nReply %q to pick a different option or %q to keep it anyway.",
		strings.Join(lines, "\n- "), "reselect", "continue")

	return flow.Result{
		Control: flow.ControlWait,
		Patch: flow.Patch{
			AppendConversation: []flow.ConversationEntry{{
				Role:           flow.RoleAgent,
				Message:        msg,
				MessageType:    string(emit.MessageConfirmation),
				Timestamp:      time.Now().UTC(),
				ExpectingInput: true,
			}},
		},
		Events: []emit.Event{{
			Kind:        emit.KindAgentMessage,
			MessageType: emit.MessageConfirmation,
			Message:     msg,
			Data:        map[string]any{"gap_id": s.AwaitingGapID},
		}},
	}
}

func removePending(in []string, drop string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

func flowPtr[T any](v T) *T { return &v }
