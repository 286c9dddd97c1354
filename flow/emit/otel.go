package emit

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelTap converts bus events into OpenTelemetry spans.
//
// Each event becomes a point-in-time span named after its kind, carrying
// the session id, sequence, stage, and progress as attributes. Error
// events set the span status to error.
//
// Setup:
//
//	tracer := otel.Tracer("specflow")
//	bus := emit.NewSessionBus(emit.WithTaps(emit.NewOTelTap(tracer)))
type OTelTap struct {
	tracer trace.Tracer
}

// NewOTelTap creates an OTelTap using the given tracer.
func NewOTelTap(tracer trace.Tracer) *OTelTap {
	return &OTelTap{tracer: tracer}
}

// Observe implements Tap.
func (o *OTelTap) Observe(ev Event) {
	_, span := o.tracer.Start(context.Background(), string(ev.Kind))
	defer span.End()

	span.SetAttributes(
		attribute.String("specflow.session_id", ev.SessionID),
		attribute.Int64("specflow.sequence", int64(ev.Sequence)), // #nosec G115 -- sequence fits int64 for any realistic session
	)
	if ev.Stage != "" {
		span.SetAttributes(attribute.String("specflow.stage", ev.Stage))
	}
	if ev.Progress > 0 {
		span.SetAttributes(attribute.Float64("specflow.progress", ev.Progress))
	}
	if ev.MessageType != "" {
		span.SetAttributes(attribute.String("specflow.message_type", string(ev.MessageType)))
	}
	if ev.ArtifactID != "" {
		span.SetAttributes(
			attribute.String("specflow.artifact_id", ev.ArtifactID),
			attribute.Int("specflow.artifact_version", ev.Version),
		)
	}
	if ev.Kind == KindError {
		span.SetAttributes(
			attribute.String("specflow.error_kind", ev.ErrorKind),
			attribute.Bool("specflow.recoverable", ev.Recoverable),
		)
		span.SetStatus(codes.Error, ev.Message)
	}
}

// Flush forces export of buffered spans. Call before shutdown.
func (o *OTelTap) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
