package flow

import "fmt"

// Patch is a partial state update produced by one node execution. The
// runner applies patches with Apply; nodes never mutate the state they
// receive.
//
// Scalar fields use pointers so the zero value means "unchanged". Slice
// fields come in two flavors: Append* fields concatenate onto append-only
// logs, Set* fields replace working collections wholesale.
type Patch struct {
	// Inputs.
	PRDContent    *string
	DesignDocs    map[string]string
	CodeBundleRef *string

	// Analysis.
	CompletenessScore  *int
	MissingElements    []string // replace
	AmbiguousElements  []string // replace
	ClarificationQueue []string // replace
	TechGaps           []TechGap // replace
	AppendDesignDecisions []string

	// Research and decisions.
	AppendResearchResults    []ResearchResult
	SetPendingDecisions      []string
	PendingDecisionsSet      bool // distinguishes "replace with empty" from "unchanged"
	AppendUserDecisions      []UserDecision
	AppendValidationWarnings []ValidationWarning
	AppendAppliedDecisionIDs []string

	// Interrupt bookkeeping.
	AwaitingGapID          *string
	AIRecommendation       *string
	SetCandidate           *UserDecision
	ClearCandidate         bool
	PendingSearchQuery     *string
	LastValidationCritical *bool

	// Code and API inference.
	ParsedComponents    []Component // replace
	InferredAPISpec     []Endpoint  // replace
	CodeAnalysisSkipped *bool

	// Artifacts.
	TRDDraft               *string
	TRDValidation          *TRDValidation
	FinalTRD               *string
	APISpecification       map[string]any
	DBSchema               *DBSchema
	DBERD                  *string
	ArchitectureDiagram    *string
	ArchitectureValidation *ArchValidation
	TechStackDocument      map[string]any
	ArtifactID             *string
	ArtifactVersion        *int
	Notified               *bool

	// Control.
	IterationCount     *int
	ResearchIterations *int
	Progress           *float64
	AppendErrors       []ErrorRecord
	AppendConversation []ConversationEntry
}

// Apply merges a patch into a copy of prev and returns the result.
// Append-only logs only ever grow; progress never decreases.
func Apply(prev SessionState, p Patch) (SessionState, error) {
	next, err := prev.Clone()
	if err != nil {
		return SessionState{}, err
	}

	if p.PRDContent != nil {
		next.PRDContent = *p.PRDContent
	}
	if p.DesignDocs != nil {
		next.DesignDocs = p.DesignDocs
	}
	if p.CodeBundleRef != nil {
		next.CodeBundleRef = *p.CodeBundleRef
	}

	if p.CompletenessScore != nil {
		next.CompletenessScore = *p.CompletenessScore
	}
	if p.MissingElements != nil {
		next.MissingElements = p.MissingElements
	}
	if p.AmbiguousElements != nil {
		next.AmbiguousElements = p.AmbiguousElements
	}
	if p.ClarificationQueue != nil {
		next.ClarificationQueue = p.ClarificationQueue
	}
	if p.TechGaps != nil {
		next.TechGaps = p.TechGaps
	}
	next.DesignDecisions = append(next.DesignDecisions, p.AppendDesignDecisions...)

	next.ResearchResults = append(next.ResearchResults, p.AppendResearchResults...)
	if p.PendingDecisionsSet {
		next.PendingDecisions = p.SetPendingDecisions
	}
	next.UserDecisions = append(next.UserDecisions, p.AppendUserDecisions...)
	next.ValidationWarnings = append(next.ValidationWarnings, p.AppendValidationWarnings...)
	next.AppliedDecisionIDs = append(next.AppliedDecisionIDs, p.AppendAppliedDecisionIDs...)

	if p.AwaitingGapID != nil {
		next.AwaitingGapID = *p.AwaitingGapID
	}
	if p.AIRecommendation != nil {
		next.AIRecommendation = *p.AIRecommendation
	}
	if p.SetCandidate != nil {
		cand := *p.SetCandidate
		next.CandidateDecision = &cand
	}
	if p.ClearCandidate {
		next.CandidateDecision = nil
	}
	if p.PendingSearchQuery != nil {
		next.PendingSearchQuery = *p.PendingSearchQuery
	}
	if p.LastValidationCritical != nil {
		next.LastValidationCritical = *p.LastValidationCritical
	}

	if p.ParsedComponents != nil {
		next.ParsedComponents = p.ParsedComponents
	}
	if p.InferredAPISpec != nil {
		next.InferredAPISpec = p.InferredAPISpec
	}
	if p.CodeAnalysisSkipped != nil {
		next.CodeAnalysisSkipped = *p.CodeAnalysisSkipped
	}

	if p.TRDDraft != nil {
		next.TRDDraft = *p.TRDDraft
	}
	if p.TRDValidation != nil {
		v := *p.TRDValidation
		next.TRDValidation = &v
	}
	if p.FinalTRD != nil {
		next.FinalTRD = *p.FinalTRD
	}
	if p.APISpecification != nil {
		next.APISpecification = p.APISpecification
	}
	if p.DBSchema != nil {
		schema := *p.DBSchema
		next.DBSchema = &schema
	}
	if p.DBERD != nil {
		next.DBERD = *p.DBERD
	}
	if p.ArchitectureDiagram != nil {
		next.ArchitectureDiagram = *p.ArchitectureDiagram
	}
	if p.ArchitectureValidation != nil {
		v := *p.ArchitectureValidation
		next.ArchitectureValidation = &v
	}
	if p.TechStackDocument != nil {
		next.TechStackDocument = p.TechStackDocument
	}
	if p.ArtifactID != nil {
		next.ArtifactID = *p.ArtifactID
	}
	if p.ArtifactVersion != nil {
		next.ArtifactVersion = *p.ArtifactVersion
	}
	if p.Notified != nil {
		next.Notified = *p.Notified
	}

	if p.IterationCount != nil {
		next.IterationCount = *p.IterationCount
	}
	if p.ResearchIterations != nil {
		next.ResearchIterations = *p.ResearchIterations
	}
	if p.Progress != nil && *p.Progress > next.ProgressPercentage {
		next.ProgressPercentage = *p.Progress
	}
	next.Errors = append(next.Errors, p.AppendErrors...)
	next.ConversationHistory = append(next.ConversationHistory, p.AppendConversation...)

	if err := validate(prev, next); err != nil {
		return SessionState{}, err
	}
	return next, nil
}

// validate enforces the state invariants that survive every transition:
// append-only logs never shrink, progress never decreases, identity never
// changes.
func validate(prev, next SessionState) error {
	if next.SessionID != prev.SessionID || next.UserID != prev.UserID ||
		next.ProjectID != prev.ProjectID || next.UpstreamJobID != prev.UpstreamJobID {
		return fmt.Errorf("session identity mutated")
	}
	if next.ProgressPercentage < prev.ProgressPercentage {
		return fmt.Errorf("progress decreased from %.1f to %.1f",
			prev.ProgressPercentage, next.ProgressPercentage)
	}
	for name, pair := range map[string][2]int{
		"research_results":     {len(prev.ResearchResults), len(next.ResearchResults)},
		"user_decisions":       {len(prev.UserDecisions), len(next.UserDecisions)},
		"errors":               {len(prev.Errors), len(next.Errors)},
		"conversation_history": {len(prev.ConversationHistory), len(next.ConversationHistory)},
		"applied_decision_ids": {len(prev.AppliedDecisionIDs), len(next.AppliedDecisionIDs)},
	} {
		if pair[1] < pair[0] {
			return fmt.Errorf("append-only field %s shrank from %d to %d", name, pair[0], pair[1])
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
