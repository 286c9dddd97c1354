// Package flow implements the session state machine at the heart of the
// orchestrator: a typed session state, a node registry, a router over a
// static edge table, a checkpointing runner, an interrupt/resume
// controller, and a per-session scheduler.
package flow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage names one node of the workflow graph. The session state stores the
// stage that will execute next; waiting stages park the session until a
// decision arrives.
type Stage string

// Workflow stages, in spine order.
const (
	StageLoadInputs           Stage = "load_inputs"
	StageAnalyzeCompleteness  Stage = "analyze_completeness"
	StageAskClarification     Stage = "ask_clarification"
	StageIdentifyTechGaps     Stage = "identify_tech_gaps"
	StageResearchTechnologies Stage = "research_technologies"
	StagePresentOptions       Stage = "present_options"
	StageWaitUserDecision     Stage = "wait_user_decision"
	StageValidateDecision     Stage = "validate_decision"
	StageWarnUser             Stage = "warn_user"
	StageParseCode            Stage = "parse_code"
	StageInferAPI             Stage = "infer_api"
	StageGenerateTRD          Stage = "generate_trd"
	StageValidateTRD          Stage = "validate_trd"
	StageGenerateAPISpec      Stage = "generate_api_spec"
	StageGenerateDBSchema     Stage = "generate_db_schema"
	StageGenerateDBERD        Stage = "generate_db_erd"
	StageGenerateArchitecture Stage = "generate_architecture"
	StageValidateArchitecture Stage = "validate_architecture"
	StageGenerateTechStackDoc Stage = "generate_tech_stack_doc"
	StageSave                 Stage = "save"
	StageNotify               Stage = "notify"

	// Terminal stages.
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// Waiting reports whether the stage parks the session for user input.
func (s Stage) Waiting() bool {
	switch s {
	case StageAskClarification, StageWaitUserDecision, StageWarnUser:
		return true
	}
	return false
}

// Terminal reports whether the stage ends the session.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Urgency ranks a technology gap.
type Urgency string

// Gap urgency levels.
const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// TechGap is one unresolved technology-selection question discovered
// during analysis. DependsOn orders research: a gap is researched only
// after the gaps it depends on are decided.
type TechGap struct {
	ID           string   `json:"id"`
	Category     string   `json:"category"`
	Description  string   `json:"description"`
	Requirements []string `json:"requirements,omitempty"`
	Urgency      Urgency  `json:"urgency"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

// ResearchOption is one enriched candidate technology for a gap.
type ResearchOption struct {
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	Pros              []string           `json:"pros,omitempty"`
	Cons              []string           `json:"cons,omitempty"`
	PopularityMetrics map[string]float64 `json:"popularity_metrics,omitempty"`
	DocsURL           string             `json:"docs_url,omitempty"`
	LearningCurve     string             `json:"learning_curve,omitempty"` // easy|moderate|steep
	SetupTime         string             `json:"setup_time,omitempty"`
	Cost              string             `json:"cost,omitempty"` // free|freemium|paid
}

// ResearchResult is the enriched option set produced for one gap.
type ResearchResult struct {
	GapID     string           `json:"gap_id"`
	Options   []ResearchOption `json:"options"`
	Timestamp time.Time        `json:"timestamp"`
}

// DecisionSource records how a decision was made.
type DecisionSource string

// Decision sources.
const (
	SourceUser          DecisionSource = "user"
	SourceAIRecommended DecisionSource = "ai_recommended"
	SourceCustomSearch  DecisionSource = "custom_search"
)

// UserDecision resolves one gap.
type UserDecision struct {
	GapID      string         `json:"gap_id"`
	ChosenName string         `json:"chosen_name"`
	Reason     string         `json:"reason,omitempty"`
	Source     DecisionSource `json:"source"`
	Timestamp  time.Time      `json:"timestamp"`
}

// WarningType classifies a decision validation warning.
type WarningType string

// Warning types.
const (
	WarningRequirementMismatch WarningType = "requirement_mismatch"
	WarningTechIncompatibility WarningType = "tech_incompatibility"
)

// WarningSeverity grades a validation warning. Critical warnings route the
// session to warn_user.
type WarningSeverity string

// Warning severities.
const (
	SeverityCritical WarningSeverity = "critical"
	SeverityWarning  WarningSeverity = "warning"
)

// ValidationWarning flags a conflict between a chosen technology and the
// PRD requirements or previously chosen technologies.
type ValidationWarning struct {
	GapID       string          `json:"gap_id"`
	Type        WarningType     `json:"type"`
	Severity    WarningSeverity `json:"severity"`
	Description string          `json:"description"`
}

// APICall is an outbound call observed in a UI component.
type APICall struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Component is one parsed record from the generated UI code bundle.
type Component struct {
	Name          string            `json:"name"`
	FilePath      string            `json:"file_path"`
	PropsSchema   map[string]string `json:"props_schema,omitempty"`
	StateVars     []string          `json:"state_vars,omitempty"`
	APICalls      []APICall         `json:"api_calls,omitempty"`
	EventHandlers []string          `json:"event_handlers,omitempty"`
	Imports       []string          `json:"imports,omitempty"`
}

// EndpointSource records where an inferred endpoint came from.
type EndpointSource string

// Endpoint sources.
const (
	SourceComponentCode EndpointSource = "component_code"
	SourceDesignDocs    EndpointSource = "design_docs"
)

// Endpoint is one inferred API operation. (Method, Path) is the dedup key.
type Endpoint struct {
	Method        string         `json:"method"`
	Path          string         `json:"path"`
	RequestShape  map[string]any `json:"request_shape,omitempty"`
	ResponseShape map[string]any `json:"response_shape,omitempty"`
	Source        EndpointSource `json:"source"`
}

// TRDValidation is the critique of a TRD draft.
type TRDValidation struct {
	Score           int      `json:"score"`
	IsValid         bool     `json:"is_valid"`
	MissingSections []string `json:"missing_sections,omitempty"`
	Inconsistencies []string `json:"inconsistencies,omitempty"`
	Suggestions     []string `json:"suggestions,omitempty"`
}

// ArchValidation scores the generated architecture diagram. Scores below
// threshold record a warning but never retry.
type ArchValidation struct {
	Score  int      `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// Table describes one table of the generated schema.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column describes one column of a generated table.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable,omitempty"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// DBSchema is the generated database design: raw DDL plus its structured
// table list.
type DBSchema struct {
	DDL    string  `json:"ddl"`
	Tables []Table `json:"tables"`
}

// Role identifies the author of a conversation entry.
type Role string

// Conversation roles.
const (
	RoleAgent  Role = "agent"
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// ConversationEntry is one append-only turn of the session dialogue.
type ConversationEntry struct {
	Role           Role      `json:"role"`
	Message        string    `json:"message"`
	MessageType    string    `json:"message_type,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	ExpectingInput bool      `json:"expecting_input,omitempty"`
}

// ErrorRecord is one append-only fault entry.
type ErrorRecord struct {
	Node       Stage  `json:"node"`
	Kind       string `json:"error_kind"`
	Message    string `json:"message"`
	Stack      string `json:"stack,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
	Recovered  bool   `json:"recovered"`
}

// SessionState is the single typed record flowing through the graph. It is
// mutated exclusively by the runner through node patches; external actors
// mutate it only through the interrupt controller.
type SessionState struct {
	// Identity. Immutable after creation.
	SessionID     string `json:"session_id"`
	ProjectID     string `json:"project_id"`
	UserID        string `json:"user_id"`
	UpstreamJobID string `json:"upstream_job_id"`

	// Inputs, written once by load_inputs. DesignDecisions also collects
	// clarification answers supplied during analysis.
	PRDContent      string            `json:"prd_content,omitempty"`
	DesignDocs      map[string]string `json:"design_docs,omitempty"`
	CodeBundleRef   string            `json:"code_bundle_ref,omitempty"`
	DesignDecisions []string          `json:"design_decisions,omitempty"`

	// Analysis.
	CompletenessScore int       `json:"completeness_score"`
	MissingElements   []string  `json:"missing_elements,omitempty"`
	AmbiguousElements []string  `json:"ambiguous_elements,omitempty"`
	ClarificationQueue []string `json:"clarification_queue,omitempty"`
	TechGaps          []TechGap `json:"tech_gaps,omitempty"`

	// Research and decisions.
	ResearchResults    []ResearchResult    `json:"research_results,omitempty"` // append-only
	PendingDecisions   []string            `json:"pending_decisions,omitempty"`
	UserDecisions      []UserDecision      `json:"user_decisions,omitempty"` // append-only
	ValidationWarnings []ValidationWarning `json:"validation_warnings,omitempty"`

	// Interrupt bookkeeping for the research loop.
	AwaitingGapID          string        `json:"awaiting_gap_id,omitempty"`
	AIRecommendation       string        `json:"ai_recommendation,omitempty"`
	CandidateDecision      *UserDecision `json:"candidate_decision,omitempty"`
	PendingSearchQuery     string        `json:"pending_search_query,omitempty"`
	LastValidationCritical bool          `json:"last_validation_critical,omitempty"`
	AppliedDecisionIDs     []string      `json:"applied_decision_ids,omitempty"` // append-only

	// Code and API inference.
	ParsedComponents    []Component `json:"parsed_components,omitempty"`
	InferredAPISpec     []Endpoint  `json:"inferred_api_spec,omitempty"`
	CodeAnalysisSkipped bool        `json:"code_analysis_skipped,omitempty"`

	// Generated artifacts.
	TRDDraft               string          `json:"trd_draft,omitempty"`
	TRDValidation          *TRDValidation  `json:"trd_validation,omitempty"`
	FinalTRD               string          `json:"final_trd,omitempty"`
	APISpecification       map[string]any  `json:"api_specification,omitempty"`
	DBSchema               *DBSchema       `json:"db_schema,omitempty"`
	DBERD                  string          `json:"db_erd,omitempty"`
	ArchitectureDiagram    string          `json:"architecture_diagram,omitempty"`
	ArchitectureValidation *ArchValidation `json:"architecture_validation,omitempty"`
	TechStackDocument      map[string]any  `json:"tech_stack_document,omitempty"`
	ArtifactID             string          `json:"artifact_id,omitempty"`
	ArtifactVersion        int             `json:"artifact_version,omitempty"`
	Notified               bool            `json:"notified,omitempty"`

	// Workflow control.
	CurrentStage       Stage               `json:"current_stage"`
	IterationCount     int                 `json:"iteration_count"`      // TRD retry loop
	ResearchIterations int                 `json:"research_iterations"`  // research loop
	ProgressPercentage float64             `json:"progress_percentage"`
	StartedAt          time.Time           `json:"started_at"`
	CompletedAt        time.Time           `json:"completed_at,omitzero"`
	Errors             []ErrorRecord       `json:"errors,omitempty"`               // append-only
	ConversationHistory []ConversationEntry `json:"conversation_history,omitempty"` // append-only
}

// NewState creates a session state with identity and bookkeeping
// populated. Inputs are filled by the load_inputs node.
func NewState(sessionID, projectID, userID, upstreamJobID string, now time.Time) SessionState {
	return SessionState{
		SessionID:     sessionID,
		ProjectID:     projectID,
		UserID:        userID,
		UpstreamJobID: upstreamJobID,
		CurrentStage:  StageLoadInputs,
		StartedAt:     now.UTC(),
	}
}

// GapByID looks up a gap record.
func (s *SessionState) GapByID(id string) (TechGap, bool) {
	for _, g := range s.TechGaps {
		if g.ID == id {
			return g, true
		}
	}
	return TechGap{}, false
}

// ResearchFor returns the most recent research result for a gap.
func (s *SessionState) ResearchFor(gapID string) (ResearchResult, bool) {
	for i := len(s.ResearchResults) - 1; i >= 0; i-- {
		if s.ResearchResults[i].GapID == gapID {
			return s.ResearchResults[i], true
		}
	}
	return ResearchResult{}, false
}

// DecisionFor returns the accepted decision for a gap, if any.
func (s *SessionState) DecisionFor(gapID string) (UserDecision, bool) {
	for i := len(s.UserDecisions) - 1; i >= 0; i-- {
		if s.UserDecisions[i].GapID == gapID {
			return s.UserDecisions[i], true
		}
	}
	return UserDecision{}, false
}

// IsPending reports whether a gap still awaits a decision.
func (s *SessionState) IsPending(gapID string) bool {
	for _, id := range s.PendingDecisions {
		if id == gapID {
			return true
		}
	}
	return false
}

// Clone deep-copies the state via a JSON round trip. All fields are
// exported and JSON-serializable, so the copy is complete.
func (s SessionState) Clone() (SessionState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return SessionState{}, fmt.Errorf("marshal state: %w", err)
	}
	var out SessionState
	if err := json.Unmarshal(data, &out); err != nil {
		return SessionState{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return out, nil
}
