package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/specflow-go/flow"
	"github.com/dshills/specflow-go/flow/artifact"
	"github.com/dshills/specflow-go/flow/checkpoint"
	"github.com/dshills/specflow-go/flow/emit"
	"github.com/dshills/specflow-go/flow/model"
	"github.com/dshills/specflow-go/flow/search"
	"github.com/dshills/specflow-go/flow/upstream"
)

// Scripted LLM responses, in the order the workflow calls the completer.
const (
	respAnalysisComplete = `{"completeness_score": 92, "missing_elements": [], "ambiguous_elements": []}`
	respNoGaps           = `{"gaps": []}`
	respOneGap           = `{"gaps": [{"id": "gap-database", "category": "database", "description": "Primary data store", "requirements": ["relational", "ACID"], "urgency": "critical", "depends_on": []}]}`
	respOptions          = `{"options": [
		{"name": "PostgreSQL", "description": "Mature relational database", "pros": ["ACID", "extensions"], "cons": ["ops overhead"], "popularity_metrics": {"github_stars": 15000, "recency": 1}, "docs_url": "https://www.postgresql.org/docs/", "learning_curve": "moderate", "setup_time": "hours", "cost": "free"},
		{"name": "MySQL", "description": "Widely deployed relational database", "pros": ["hosting support"], "cons": [], "popularity_metrics": {"github_stars": 10500}, "docs_url": "https://dev.mysql.com/doc/", "learning_curve": "easy", "setup_time": "hours", "cost": "free"},
		{"name": "MongoDB", "description": "Document database", "pros": ["flexible schema"], "cons": ["no joins"], "popularity_metrics": {"github_stars": 26000}, "docs_url": "https://www.mongodb.com/docs/", "learning_curve": "easy", "setup_time": "minutes", "cost": "freemium"}
	]}`
	respTwoGaps = `{"gaps": [
		{"id": "gap-database", "category": "database", "description": "Primary data store", "requirements": ["relational", "ACID"], "urgency": "critical", "depends_on": []},
		{"id": "gap-auth", "category": "authentication", "description": "User sign-in", "requirements": ["oauth"], "urgency": "important", "depends_on": []}
	]}`
	respAuthOptions = `{"options": [
		{"name": "Auth0", "description": "Hosted identity platform", "pros": ["quick setup"], "cons": ["vendor lock-in"], "popularity_metrics": {"github_stars": 9000}, "docs_url": "https://auth0.com/docs", "learning_curve": "easy", "setup_time": "minutes", "cost": "freemium"},
		{"name": "Keycloak", "description": "Self-hosted identity server", "pros": ["open source"], "cons": ["ops overhead"], "popularity_metrics": {"github_stars": 21000}, "docs_url": "https://www.keycloak.org/documentation", "learning_curve": "steep", "setup_time": "days", "cost": "free"},
		{"name": "Firebase Auth", "description": "Managed auth service", "pros": ["SDKs"], "cons": ["Google coupling"], "popularity_metrics": {"github_stars": 5000}, "docs_url": "https://firebase.google.com/docs/auth", "learning_curve": "easy", "setup_time": "minutes", "cost": "freemium"}
	]}`
	respNoWarnings      = `{"warnings": []}`
	respCriticalWarning = `{"warnings": [{"type": "requirement_mismatch", "severity": "critical", "description": "MongoDB cannot satisfy the ACID requirement"}]}`
	respTRDDraft        = "# Technical Requirements Document\n\n## Overview\nA task tracker.\n"
	respTRDPass         = `{"score": 95, "missing_sections": [], "inconsistencies": [], "suggestions": []}`
	respSchema          = `{"ddl": "CREATE TABLE tasks (\n\tid BIGINT PRIMARY KEY,\n\tuser_id BIGINT NOT NULL\n);", "tables": [{"name": "users", "columns": [{"name": "id", "type": "BIGINT", "primary_key": true}, {"name": "email", "type": "TEXT"}]}, {"name": "tasks", "columns": [{"name": "id", "type": "BIGINT", "primary_key": true}, {"name": "user_id", "type": "BIGINT"}]}]}`
)

type env struct {
	completer *model.MockCompleter
	searcher  *search.MockSearcher
	loader    *upstream.MemLoader
	parser    *upstream.MemParser
	notifier  *upstream.MemNotifier
	artifacts *artifact.MemStore
	store     *checkpoint.MemStore[flow.SessionState]
	sched     *flow.Scheduler
}

func jobArtifacts(bundleRef string) upstream.Artifacts {
	return upstream.Artifacts{
		PRD: "# PRD\nA task tracker for small teams. Tasks belong to users.",
		DesignDocs: map[string]string{
			upstream.DocDesignSystem: "# Design System\nSpacing, colors, typography.",
			upstream.DocUXFlow:       "# UX Flow\nSign in, view board, create task.",
			upstream.DocScreenSpecs:  "# Screens\nBoard, task detail, settings.",
		},
		CodeBundleRef: bundleRef,
	}
}

func newEnv(t *testing.T, completer *model.MockCompleter, opts ...flow.Option) *env {
	t.Helper()

	e := &env{
		completer: completer,
		searcher: search.NewMockSearcher(map[string][]search.Result{
			"database": {
				{Title: "PostgreSQL", URL: "https://www.postgresql.org/docs/", Snippet: "Relational database"},
				{Title: "MySQL", URL: "https://dev.mysql.com/doc/", Snippet: "Relational database"},
				{Title: "MongoDB", URL: "https://www.mongodb.com/docs/", Snippet: "Document database"},
			},
			"authentication": {
				{Title: "Auth0", URL: "https://auth0.com/docs", Snippet: "Hosted identity"},
				{Title: "Keycloak", URL: "https://www.keycloak.org/documentation", Snippet: "Self-hosted identity"},
				{Title: "Firebase Auth", URL: "https://firebase.google.com/docs/auth", Snippet: "Managed auth"},
			},
		}),
		loader:    upstream.NewMemLoader(),
		parser:    upstream.NewMemParser(),
		notifier:  upstream.NewMemNotifier(),
		artifacts: artifact.NewMemStore(),
		store:     checkpoint.NewMemStore[flow.SessionState](),
	}
	e.loader.Put("job-1", jobArtifacts("bundle-1"))
	e.parser.Put("bundle-1", []flow.Component{{
		Name:     "TaskBoard",
		FilePath: "src/TaskBoard.tsx",
		APICalls: []flow.APICall{
			{Method: "get", Path: "/tasks"},
			{Method: "post", Path: "/tasks"},
			{Method: "get", Path: "/users/{id}"},
		},
	}})
	cfg := flow.NewConfig(append([]flow.Option{
		flow.WithDecisionReminder(0),
		flow.WithCompactKeep(0),
	}, opts...)...)

	reg, err := Build(Deps{
		Completer: e.completer,
		Usage:     model.NewUsageTracker(),
		Searcher:  e.searcher,
		Fallback:  search.NewStaticLibrary(),
		Upstream:  e.loader,
		Parser:    e.parser,
		Notifier:  e.notifier,
		Artifacts: e.artifacts,
		Config:    cfg,
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	e.sched = flow.NewScheduler(reg, e.store, emit.NewSessionBus(), nil, cfg)
	t.Cleanup(e.sched.Close)
	return e
}

// waitStatus polls until the session reaches the wanted status.
func waitStatus(t *testing.T, e *env, sessionID, want string) flow.SessionStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last flow.SessionStatus
	for time.Now().Before(deadline) {
		status, err := e.sched.Status(context.Background(), sessionID)
		if err == nil {
			last = status
			if status.Status == want {
				return status
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %q; last status %+v", want, last)
	return last
}

func finalState(t *testing.T, e *env, sessionID string) flow.SessionState {
	t.Helper()
	rec, err := e.store.Latest(context.Background(), sessionID, "session")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	return rec.State
}

func submit(t *testing.T, e *env, sessionID string, d flow.Decision) {
	t.Helper()
	if err := e.sched.SubmitDecision(context.Background(), sessionID, d); err != nil {
		t.Fatalf("submit %+v: %v", d, err)
	}
}

func TestWorkflow_HappyPathWithDecision(t *testing.T) {
	e := newEnv(t, model.NewMockCompleter(
		respAnalysisComplete,
		respOneGap,
		respOptions,
		respNoWarnings,
		respTRDDraft,
		respTRDPass,
		respSchema,
	))

	sessionID, err := e.sched.Start("proj-1", "user-1", "job-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	status := waitStatus(t, e, sessionID, "waiting_for_input")
	if status.CurrentStage != flow.StageWaitUserDecision {
		t.Fatalf("expected wait_user_decision, got %s", status.CurrentStage)
	}
	if status.DecisionsTotal != 1 {
		t.Errorf("expected 1 decision total, got %d", status.DecisionsTotal)
	}

	submit(t, e, sessionID, flow.Decision{
		ID: "d1", UserID: "user-1", Stage: flow.StageWaitUserDecision,
		Kind: flow.DecisionOptionSelect, Value: "1",
	})
	waitStatus(t, e, sessionID, "completed")

	s := finalState(t, e, sessionID)
	if len(s.UserDecisions) != 1 || s.UserDecisions[0].ChosenName != "PostgreSQL" {
		t.Fatalf("expected PostgreSQL decision, got %+v", s.UserDecisions)
	}
	if s.FinalTRD == "" {
		t.Error("final TRD missing")
	}
	if s.DBSchema == nil || len(s.DBSchema.Tables) != 2 {
		t.Errorf("expected 2 tables, got %+v", s.DBSchema)
	}
	if !strings.Contains(s.DBERD, "erDiagram") || !strings.Contains(s.DBERD, "users ||--o{ tasks") {
		t.Errorf("ERD missing relation:\n%s", s.DBERD)
	}
	if !strings.Contains(s.ArchitectureDiagram, "PostgreSQL") {
		t.Errorf("architecture diagram missing chosen technology:\n%s", s.ArchitectureDiagram)
	}
	if s.ProgressPercentage != 100 {
		t.Errorf("expected progress 100, got %f", s.ProgressPercentage)
	}

	// Endpoints came from the parsed components, not the docs.
	for _, ep := range s.InferredAPISpec {
		if ep.Source != flow.SourceComponentCode {
			t.Errorf("endpoint %s %s attributed to %s", ep.Method, ep.Path, ep.Source)
		}
	}

	rec, err := e.artifacts.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if rec.Version != 1 || rec.TRDContent == "" || rec.QualityScore != 95 {
		t.Errorf("unexpected artifact record: version %d score %d", rec.Version, rec.QualityScore)
	}
	note, ok := e.notifier.Get(sessionID)
	if !ok || note.ArtifactID != rec.ID {
		t.Errorf("downstream not notified with artifact id: %+v", note)
	}
}

func TestWorkflow_TwoGapDecisionLoop(t *testing.T) {
	e := newEnv(t, model.NewMockCompleter(
		respAnalysisComplete,
		respTwoGaps,
		respOptions,     // enrich gap-database
		respNoWarnings,  // validate PostgreSQL
		respAuthOptions, // enrich gap-auth
		respNoWarnings,  // validate Auth0
		respTRDDraft,
		respTRDPass,
		respSchema,
	))

	sessionID, err := e.sched.Start("proj-1", "user-1", "job-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	status := waitStatus(t, e, sessionID, "waiting_for_input")
	if status.DecisionsTotal != 2 {
		t.Fatalf("expected 2 decisions total, got %d", status.DecisionsTotal)
	}
	submit(t, e, sessionID, flow.Decision{
		ID: "d1", UserID: "user-1", Stage: flow.StageWaitUserDecision,
		Kind: flow.DecisionOptionSelect, Value: "1",
	})

	// The second gap sends the session through the research loop again.
	status = waitStatus(t, e, sessionID, "waiting_for_input")
	if status.DecisionsCompleted != 1 {
		t.Fatalf("expected 1 decision done before the second gap, got %d", status.DecisionsCompleted)
	}
	submit(t, e, sessionID, flow.Decision{
		ID: "d2", UserID: "user-1", Stage: flow.StageWaitUserDecision,
		Kind: flow.DecisionOptionSelect, Value: "1",
	})
	waitStatus(t, e, sessionID, "completed")

	s := finalState(t, e, sessionID)
	if len(s.UserDecisions) != 2 {
		t.Fatalf("expected 2 decisions, got %+v", s.UserDecisions)
	}
	if s.UserDecisions[0].ChosenName != "PostgreSQL" || s.UserDecisions[1].ChosenName != "Auth0" {
		t.Errorf("unexpected chosen technologies: %+v", s.UserDecisions)
	}
	if len(s.ResearchResults) != 2 {
		t.Errorf("expected one research pass per gap, got %d", len(s.ResearchResults))
	}
	if len(s.PendingDecisions) != 0 {
		t.Errorf("pending decisions not drained: %v", s.PendingDecisions)
	}

	// Published progress never regresses, even though the loop revisits
	// nodes with lower declared targets.
	sub := e.sched.Subscribe(sessionID)
	defer sub.Unsubscribe()
	var progress []float64
	timeout := time.After(5 * time.Second)
collect:
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				break collect
			}
			if ev.Kind == emit.KindProgressUpdate {
				progress = append(progress, ev.Progress)
			}
			if ev.Kind == emit.KindCompletion {
				break collect
			}
		case <-timeout:
			t.Fatal("event stream never replayed completion")
		}
	}
	if len(progress) == 0 {
		t.Fatal("no progress events replayed")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("published progress regressed at index %d: %v", i, progress)
		}
	}
}

func TestWorkflow_SearchFallbackRecovers(t *testing.T) {
	e := newEnv(t, model.NewMockCompleter(
		respAnalysisComplete,
		respOneGap,
		respOptions,
		respNoWarnings,
		respTRDDraft,
		respTRDPass,
		respSchema,
	))
	e.searcher.FailAlways(errors.New("search api down"))

	sessionID, err := e.sched.Start("proj-1", "user-1", "job-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, e, sessionID, "waiting_for_input")

	// The live searcher failed every attempt before the static library
	// served the options.
	if e.searcher.Calls() < 3 {
		t.Errorf("expected 3 live search attempts, got %d", e.searcher.Calls())
	}
	s := finalState(t, e, sessionID)
	var fallback bool
	for _, rec := range s.Errors {
		if rec.Kind == string(flow.KindResearchFallback) && rec.Recovered {
			fallback = true
		}
	}
	if !fallback {
		t.Errorf("no recovered research_fallback record: %+v", s.Errors)
	}

	submit(t, e, sessionID, flow.Decision{
		ID: "d1", UserID: "user-1", Stage: flow.StageWaitUserDecision,
		Kind: flow.DecisionOptionSelect, Value: flow.AIRecommendationValue,
	})
	waitStatus(t, e, sessionID, "completed")

	s = finalState(t, e, sessionID)
	if len(s.UserDecisions) != 1 || s.UserDecisions[0].Source != flow.SourceAIRecommended {
		t.Errorf("expected ai_recommended decision, got %+v", s.UserDecisions)
	}
}

func TestWorkflow_TRDRetryLoopForcesPass(t *testing.T) {
	e := newEnv(t, model.NewMockCompleter(
		respAnalysisComplete,
		respNoGaps,
		respTRDDraft,
		`{"score": 70, "missing_sections": ["API Design"], "inconsistencies": [], "suggestions": ["add API section"]}`,
		respTRDDraft,
		`{"score": 75, "missing_sections": [], "inconsistencies": ["data model mismatch"], "suggestions": []}`,
		respTRDDraft,
		`{"score": 80, "missing_sections": [], "inconsistencies": [], "suggestions": []}`,
		respSchema,
	))

	sessionID, err := e.sched.Start("proj-1", "user-1", "job-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, e, sessionID, "completed")

	s := finalState(t, e, sessionID)
	if s.IterationCount != 3 {
		t.Errorf("expected 3 TRD iterations, got %d", s.IterationCount)
	}
	if s.TRDValidation == nil || s.TRDValidation.IsValid {
		t.Errorf("final validation should be a failed score, got %+v", s.TRDValidation)
	}
	if s.FinalTRD == "" {
		t.Error("exhausted retries must still force the draft through")
	}

	rec, err := e.artifacts.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if rec.QualityScore != 80 {
		t.Errorf("expected quality score 80, got %d", rec.QualityScore)
	}
	notes, _ := rec.ValidationReport["notes"].(string)
	if !strings.Contains(notes, "trd.forced_pass") {
		t.Errorf("validation report missing trd.forced_pass marker: %v", rec.ValidationReport)
	}

	// Regeneration prompts carry the previous critique.
	reqs := e.completer.Requests()
	var critiqued bool
	for _, r := range reqs {
		for _, m := range r.Messages {
			if strings.Contains(m.Content, "previous draft scored 70") {
				critiqued = true
			}
		}
	}
	if !critiqued {
		t.Error("regeneration prompt did not include the previous critique")
	}
}

func TestWorkflow_CriticalWarningReselect(t *testing.T) {
	e := newEnv(t, model.NewMockCompleter(
		respAnalysisComplete,
		respOneGap,
		respOptions,
		respCriticalWarning,
		respNoWarnings,
		respTRDDraft,
		respTRDPass,
		respSchema,
	))

	sessionID, err := e.sched.Start("proj-1", "user-1", "job-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, e, sessionID, "waiting_for_input")

	// First pick conflicts with the ACID requirement.
	submit(t, e, sessionID, flow.Decision{
		ID: "d1", UserID: "user-1", Stage: flow.StageWaitUserDecision,
		Kind: flow.DecisionOptionSelect, Value: "MongoDB",
	})
	status := waitStatus(t, e, sessionID, "waiting_for_input")
	if status.CurrentStage != flow.StageWarnUser {
		t.Fatalf("expected warn_user, got %s", status.CurrentStage)
	}

	submit(t, e, sessionID, flow.Decision{
		ID: "d2", UserID: "user-1", Stage: flow.StageWarnUser,
		Kind: flow.DecisionWarnOutcome, Value: "reselect",
	})
	status = waitStatus(t, e, sessionID, "waiting_for_input")
	if status.CurrentStage != flow.StageWaitUserDecision {
		t.Fatalf("expected options re-presented, got %s", status.CurrentStage)
	}

	submit(t, e, sessionID, flow.Decision{
		ID: "d3", UserID: "user-1", Stage: flow.StageWaitUserDecision,
		Kind: flow.DecisionOptionSelect, Value: "PostgreSQL",
	})
	waitStatus(t, e, sessionID, "completed")

	s := finalState(t, e, sessionID)
	if len(s.UserDecisions) != 1 || s.UserDecisions[0].ChosenName != "PostgreSQL" {
		t.Fatalf("expected exactly one accepted decision, got %+v", s.UserDecisions)
	}
	// The warning stays on the record even though the pick changed.
	if len(s.ValidationWarnings) != 1 || s.ValidationWarnings[0].Severity != flow.SeverityCritical {
		t.Errorf("critical warning not retained: %+v", s.ValidationWarnings)
	}
	// Research was re-presented, not redone.
	if len(s.ResearchResults) != 1 {
		t.Errorf("expected a single research pass, got %d", len(s.ResearchResults))
	}
}

func TestWorkflow_ResumeAfterCrash(t *testing.T) {
	e := newEnv(t, model.NewMockCompleter(
		respAnalysisComplete,
		respNoGaps,
		respTRDDraft,
		respTRDPass,
		respSchema,
	))

	sessionID, err := e.sched.Start("proj-1", "user-1", "job-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, e, sessionID, "completed")
	done := finalState(t, e, sessionID)

	// Rebuild the chain as it looked right after generate_db_schema
	// committed, simulating a crash mid-tail.
	chain, err := e.store.Chain(context.Background(), sessionID, "session", 0)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	crashed := checkpoint.NewMemStore[flow.SessionState]()
	for _, rec := range chain {
		if err := crashed.Put(context.Background(), rec); err != nil {
			t.Fatalf("copy checkpoint: %v", err)
		}
		if rec.Meta.NodeName == string(flow.StageGenerateDBSchema) {
			break
		}
	}

	e2 := newEnv(t, model.NewMockCompleter("unused"))
	e2.store = crashed
	cfg := flow.NewConfig(flow.WithDecisionReminder(0))
	reg, err := Build(Deps{
		Completer: e2.completer,
		Usage:     model.NewUsageTracker(),
		Fallback:  search.NewStaticLibrary(),
		Upstream:  e2.loader,
		Parser:    e2.parser,
		Notifier:  e2.notifier,
		Artifacts: e2.artifacts,
		Config:    cfg,
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	sched := flow.NewScheduler(reg, crashed, emit.NewSessionBus(), nil, cfg)
	defer sched.Close()

	if err := sched.Resume(context.Background(), sessionID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	e2.sched = sched
	waitStatus(t, e2, sessionID, "completed")

	resumed := finalState(t, e2, sessionID)
	if resumed.DBSchema == nil || done.DBSchema == nil || resumed.DBSchema.DDL != done.DBSchema.DDL {
		t.Error("schema changed across resume")
	}
	if len(resumed.ConversationHistory) != len(done.ConversationHistory) {
		t.Errorf("resume duplicated conversation entries: %d vs %d",
			len(resumed.ConversationHistory), len(done.ConversationHistory))
	}
	if resumed.ArtifactID == "" {
		t.Error("resumed session never saved an artifact")
	}
	if e2.notifier.Count() != 1 {
		t.Errorf("expected one notification, got %d", e2.notifier.Count())
	}
}

func TestWorkflow_UpstreamIncompleteFails(t *testing.T) {
	e := newEnv(t, model.NewMockCompleter("unused"))
	partial := jobArtifacts("")
	delete(partial.DesignDocs, upstream.DocScreenSpecs)
	e.loader.Put("job-partial", partial)

	sessionID, err := e.sched.Start("proj-1", "user-1", "job-partial")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, e, sessionID, "failed")

	s := finalState(t, e, sessionID)
	if len(s.Errors) == 0 {
		t.Fatal("no error recorded")
	}
	last := s.Errors[len(s.Errors)-1]
	if last.Kind != string(flow.KindUpstreamIncomplete) {
		t.Errorf("expected upstream_incomplete, got %s", last.Kind)
	}
	if !strings.Contains(last.Message, upstream.DocScreenSpecs) {
		t.Errorf("error does not name the missing artifact: %s", last.Message)
	}
}

func TestWorkflow_ClarificationRaisesScore(t *testing.T) {
	e := newEnv(t, model.NewMockCompleter(
		`{"completeness_score": 60, "missing_elements": ["error handling"], "ambiguous_elements": []}`,
		respAnalysisComplete,
		respNoGaps,
		respTRDDraft,
		respTRDPass,
		respSchema,
	))

	sessionID, err := e.sched.Start("proj-1", "user-1", "job-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	status := waitStatus(t, e, sessionID, "waiting_for_input")
	if status.CurrentStage != flow.StageAskClarification {
		t.Fatalf("expected ask_clarification, got %s", status.CurrentStage)
	}

	submit(t, e, sessionID, flow.Decision{
		ID: "d1", UserID: "user-1", Stage: flow.StageAskClarification,
		Kind: flow.DecisionClarification, Value: "Show a retry banner on failures",
	})
	waitStatus(t, e, sessionID, "completed")

	s := finalState(t, e, sessionID)
	if s.CompletenessScore != 92 {
		t.Errorf("re-analysis score not applied: %d", s.CompletenessScore)
	}
	if len(s.DesignDecisions) != 1 {
		t.Errorf("clarification answer not recorded: %v", s.DesignDecisions)
	}

	// The second analysis prompt includes the answer.
	var carried bool
	for _, r := range e.completer.Requests() {
		for _, m := range r.Messages {
			if strings.Contains(m.Content, "retry banner") {
				carried = true
			}
		}
	}
	if !carried {
		t.Error("clarification answer missing from re-analysis prompt")
	}
}
