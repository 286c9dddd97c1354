package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/specflow-go/flow"
	"github.com/dshills/specflow-go/flow/emit"
	"github.com/dshills/specflow-go/flow/model"
)

// loadInputs fetches the upstream job's artifacts. Missing required
// documents are a terminal failure; the caller re-runs once the upstream
// job is complete.
func (d Deps) loadInputs(ctx context.Context, s flow.SessionState) flow.Result {
	arts, err := d.Upstream.Load(ctx, s.UpstreamJobID)
	if err != nil {
		return flow.Result{Err: err}
	}

	return flow.Result{
		Patch: flow.Patch{
			PRDContent:    &arts.PRD,
			DesignDocs:    arts.DesignDocs,
			CodeBundleRef: &arts.CodeBundleRef,
		},
	}
}

// analyzeCompleteness scores the inputs against a fixed weighted rubric
// and collects missing and ambiguous elements. Clarification answers
// accumulated in earlier passes are part of the prompt, so re-analysis
// after an answer can raise the score.
func (d Deps) analyzeCompleteness(ctx context.Context, s flow.SessionState) flow.Result {
	prompt := fmt.Sprintf(`Assess the completeness of these product inputs for deriving a technical design.

Score with this rubric (weights total 100):
- functional requirements coverage: 30
- data entities and relationships: 20
- user flows and screens: 20
- non-functional requirements: 15
- integration and external services: 15

Return JSON: {"completeness_score": 0-100, "missing_elements": [...], "ambiguous_elements": [...]}.
List only elements a technical design cannot proceed without.

%s`, inputsDigest(s))

	resp, err := d.complete(ctx, flow.StageAnalyzeCompleteness, model.Request{
		System:      systemPrompt,
		Messages:    []model.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens:   2048,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return flow.Result{Err: err}
	}

	var out struct {
		CompletenessScore int      `json:"completeness_score"`
		MissingElements   []string `json:"missing_elements"`
		AmbiguousElements []string `json:"ambiguous_elements"`
	}
	if err := decodeJSON(resp.Text, &out); err != nil {
		return flow.Result{Err: &flow.NodeError{
			Stage: flow.StageAnalyzeCompleteness, Kind: flow.KindExternalServiceError, Err: err,
		}}
	}

	score := clampScore(out.CompletenessScore)
	queue := append(append([]string{}, out.MissingElements...), out.AmbiguousElements...)

	return flow.Result{
		Patch: flow.Patch{
			CompletenessScore:  &score,
			MissingElements:    out.MissingElements,
			AmbiguousElements:  out.AmbiguousElements,
			ClarificationQueue: queue,
		},
	}
}

// askClarification dequeues one open question and parks the session for
// the answer. An empty queue falls through to re-analysis.
func (d Deps) askClarification(_ context.Context, s flow.SessionState) flow.Result {
	if len(s.ClarificationQueue) == 0 {
		return flow.Result{}
	}
	item := s.ClarificationQueue[0]
	question := fmt.Sprintf("The inputs are unclear about %q. Can you clarify how this should work?", item)

	return flow.Result{
		Control: flow.ControlWait,
		Patch: flow.Patch{
			AppendConversation: []flow.ConversationEntry{{
				Role:           flow.RoleAgent,
				Message:        question,
				MessageType:    string(emit.MessageQuestion),
				Timestamp:      time.Now().UTC(),
				ExpectingInput: true,
			}},
		},
		Events: []emit.Event{{
			Kind:        emit.KindAgentMessage,
			MessageType: emit.MessageQuestion,
			Message:     question,
			Data:        map[string]any{"element": item},
		}},
	}
}

// identifyTechGaps derives the unresolved technology questions from the
// inputs. The gap list seeds pending_decisions so the research loop
// visits every gap; a dependency cycle is an invalid state.
func (d Deps) identifyTechGaps(ctx context.Context, s flow.SessionState) flow.Result {
	prompt := fmt.Sprintf(`Identify the technology choices this project still has to make.

For each, return a gap record. Categories: database, authentication, payments, hosting, messaging, or another concrete concern. depends_on lists the ids of gaps whose decision constrains this one.

Return JSON: {"gaps": [{"id": "gap-database", "category": "database", "description": "...", "requirements": ["..."], "urgency": "critical|high|medium|low", "depends_on": []}]}.
Only include genuine open choices; an explicit technology named in the PRD is decided, not a gap.

%s`, inputsDigest(s))

	resp, err := d.complete(ctx, flow.StageIdentifyTechGaps, model.Request{
		System:      systemPrompt,
		Messages:    []model.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens:   2048,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return flow.Result{Err: err}
	}

	var out struct {
		Gaps []flow.TechGap `json:"gaps"`
	}
	if err := decodeJSON(resp.Text, &out); err != nil {
		return flow.Result{Err: &flow.NodeError{
			Stage: flow.StageIdentifyTechGaps, Kind: flow.KindExternalServiceError, Err: err,
		}}
	}

	ordered, err := topoSort(out.Gaps)
	if err != nil {
		return flow.Result{Err: &flow.NodeError{
			Stage: flow.StageIdentifyTechGaps, Kind: flow.KindInvalidState, Err: err,
		}}
	}
	if limit := d.Config.MaxGapsPerSession; limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	pending := make([]string, len(ordered))
	for i, g := range ordered {
		pending[i] = g.ID
	}

	return flow.Result{
		Patch: flow.Patch{
			TechGaps:            ordered,
			SetPendingDecisions: pending,
			PendingDecisionsSet: true,
		},
	}
}

// topoSort orders gaps so dependencies come first, using Kahn's
// algorithm. Unknown dependency ids are ignored; a cycle is an error.
func topoSort(gaps []flow.TechGap) ([]flow.TechGap, error) {
	byID := make(map[string]flow.TechGap, len(gaps))
	for _, g := range gaps {
		byID[g.ID] = g
	}

	indegree := make(map[string]int, len(gaps))
	dependents := make(map[string][]string)
	for _, g := range gaps {
		for _, dep := range g.DependsOn {
			if _, known := byID[dep]; !known {
				continue
			}
			indegree[g.ID]++
			dependents[dep] = append(dependents[dep], g.ID)
		}
	}

	var queue []string
	for _, g := range gaps {
		if indegree[g.ID] == 0 {
			queue = append(queue, g.ID)
		}
	}

	ordered := make([]flow.TechGap, 0, len(gaps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(ordered) != len(gaps) {
		return nil, fmt.Errorf("gap dependency cycle among %d gaps", len(gaps)-len(ordered))
	}
	return ordered, nil
}
