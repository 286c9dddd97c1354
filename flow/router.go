package flow

// Router selects the next stage from the exit state of the stage that
// just ran. It is a pure function: same state, same answer.
type Router func(from Stage, state SessionState) (Stage, error)

// CompletenessThreshold is the analysis score below which clarification
// is requested.
const CompletenessThreshold = 80

// NewRouter builds the routing table: the unconditional spine plus the
// five conditional edges, evaluated in a fixed order with first match
// winning. The two cycles (clarification/research loop, TRD retry) are
// bounded by pending-decision consumption and the TRD retry cap.
func NewRouter(cfg Config) Router {
	return func(from Stage, s SessionState) (Stage, error) {
		switch from {
		case StageLoadInputs:
			return StageAnalyzeCompleteness, nil

		case StageAnalyzeCompleteness:
			// Conditional edge 1.
			if s.CompletenessScore >= CompletenessThreshold {
				return StageIdentifyTechGaps, nil
			}
			return StageAskClarification, nil

		case StageAskClarification:
			return StageAnalyzeCompleteness, nil

		case StageIdentifyTechGaps:
			// Conditional edge 2.
			if len(s.TechGaps) > 0 {
				return StageResearchTechnologies, nil
			}
			return StageParseCode, nil

		case StageResearchTechnologies:
			return StagePresentOptions, nil

		case StagePresentOptions:
			return StageWaitUserDecision, nil

		case StageWaitUserDecision:
			return StageValidateDecision, nil

		case StageValidateDecision:
			// Conditional edge 4, then 3.
			if s.LastValidationCritical {
				return StageWarnUser, nil
			}
			return afterDecision(s), nil

		case StageWarnUser:
			// A reselect keeps the gap awaiting; the existing research is
			// re-presented rather than redone.
			if s.AwaitingGapID != "" && s.IsPending(s.AwaitingGapID) {
				return StagePresentOptions, nil
			}
			return afterDecision(s), nil

		case StageParseCode:
			return StageInferAPI, nil

		case StageInferAPI:
			return StageGenerateTRD, nil

		case StageGenerateTRD:
			return StageValidateTRD, nil

		case StageValidateTRD:
			// Conditional edge 5.
			if (s.TRDValidation != nil && s.TRDValidation.IsValid) ||
				s.IterationCount >= cfg.TRDMaxRetries {
				return StageGenerateAPISpec, nil
			}
			return StageGenerateTRD, nil

		case StageGenerateAPISpec:
			return StageGenerateDBSchema, nil

		case StageGenerateDBSchema:
			return StageGenerateDBERD, nil

		case StageGenerateDBERD:
			return StageGenerateArchitecture, nil

		case StageGenerateArchitecture:
			return StageValidateArchitecture, nil

		case StageValidateArchitecture:
			return StageGenerateTechStackDoc, nil

		case StageGenerateTechStackDoc:
			return StageSave, nil

		case StageSave:
			return StageNotify, nil

		case StageNotify:
			return StageCompleted, nil
		}

		return "", Errf(from, KindInvalidState, "no route from stage %q", from)
	}
}

// afterDecision is conditional edge 3: more pending gaps loop back to
// research, otherwise the workflow proceeds to code analysis.
func afterDecision(s SessionState) Stage {
	if len(s.PendingDecisions) > 0 {
		return StageResearchTechnologies
	}
	return StageParseCode
}
