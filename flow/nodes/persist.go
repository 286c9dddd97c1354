package nodes

import (
	"context"
	"fmt"

	"github.com/dshills/specflow-go/flow"
	"github.com/dshills/specflow-go/flow/artifact"
	"github.com/dshills/specflow-go/flow/emit"
	"github.com/dshills/specflow-go/flow/upstream"
)

// save persists the artifact record with the session's error log and the
// aggregated validation report. The store's Save is transactional, so a
// crash leaves either the previous version or the new one, never a
// partial record.
func (d Deps) save(ctx context.Context, s flow.SessionState) flow.Result {
	report := map[string]any{}
	score := 0
	if s.TRDValidation != nil {
		score = s.TRDValidation.Score
		report["trd"] = map[string]any{
			"score":            s.TRDValidation.Score,
			"is_valid":         s.TRDValidation.IsValid,
			"missing_sections": s.TRDValidation.MissingSections,
			"inconsistencies":  s.TRDValidation.Inconsistencies,
		}
		if !s.TRDValidation.IsValid {
			report["notes"] = fmt.Sprintf(
				"trd.forced_pass: accepted after %d regeneration attempts", s.IterationCount)
		}
	}
	if s.ArchitectureValidation != nil {
		report["architecture"] = map[string]any{
			"score":  s.ArchitectureValidation.Score,
			"issues": s.ArchitectureValidation.Issues,
		}
	}

	rec, err := d.Artifacts.Save(ctx, artifact.Record{
		SessionID:           s.SessionID,
		ProjectID:           s.ProjectID,
		TRDContent:          s.FinalTRD,
		APISpecification:    s.APISpecification,
		DatabaseSchema:      s.DBSchema,
		DatabaseERD:         s.DBERD,
		ArchitectureDiagram: s.ArchitectureDiagram,
		TechStackDocument:   s.TechStackDocument,
		QualityScore:        score,
		ValidationReport:    report,
		Errors:              s.Errors,
	})
	if err != nil {
		return flow.Result{Err: &flow.NodeError{
			Stage: flow.StageSave, Kind: flow.KindStorageUnavailable, Err: err,
		}}
	}

	return flow.Result{Patch: flow.Patch{
		ArtifactID:      &rec.ID,
		ArtifactVersion: &rec.Version,
	}}
}

// notify signals the downstream collaborator. Delivery failure never
// fails the session; the notifier is at-least-once with the session id
// as idempotency key, so a resume may call it again safely.
func (d Deps) notify(ctx context.Context, s flow.SessionState) flow.Result {
	patch := flow.Patch{Notified: flowPtr(true)}

	if d.Notifier != nil && !s.Notified {
		err := d.Notifier.Notify(ctx, upstream.Notification{
			ProjectID:  s.ProjectID,
			SessionID:  s.SessionID,
			ArtifactID: s.ArtifactID,
		})
		if err != nil {
			patch.Notified = flowPtr(false)
			patch.AppendErrors = []flow.ErrorRecord{{
				Node:      flow.StageNotify,
				Kind:      string(flow.KindExternalServiceError),
				Message:   fmt.Sprintf("downstream notification failed: %v", err),
				Recovered: true,
			}}
		}
	}

	done := emit.Event{
		Kind:       emit.KindCompletion,
		ArtifactID: s.ArtifactID,
		Version:    s.ArtifactVersion,
	}
	if d.Usage != nil {
		in, out := d.Usage.Tokens()
		done.Data = map[string]any{
			"tokens_in":    in,
			"tokens_out":   out,
			"llm_cost_usd": d.Usage.TotalCost(),
		}
	}

	return flow.Result{
		Control: flow.ControlCompleted,
		Patch:   patch,
		Events:  []emit.Event{done},
	}
}
