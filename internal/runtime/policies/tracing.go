package policies

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
	"github.com/drblury/policyflow/internal/runtime/policy"
)

// TracerName is the instrumentation name of the tracing policy.
const TracerName = "github.com/drblury/policyflow"

// Tracing wraps the rest of the chain in a span. A nil provider uses the
// global one.
func Tracing(provider trace.TracerProvider) policy.Policy {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(TracerName)
	return policy.Policy{
		ID: TracingID,
		Chain: func(ctx context.Context, ev *event.Event, next policy.Processor) (*event.Event, error) {
			ctx, span := tracer.Start(ctx, "ProcessEvent", trace.WithAttributes(
				attribute.String("policyflow.flow", ev.Context().FlowName()),
				attribute.String("policyflow.correlation_id", ev.CorrelationID()),
				attribute.String("policyflow.event_id", ev.Context().ID()),
			))
			defer span.End()

			out, err := next(ctx, ev)
			if err != nil {
				var ex *exception.MessagingException
				if errors.As(err, &ex) {
					span.SetAttributes(
						attribute.String("policyflow.error_type", ex.ErrorType().String()),
						attribute.String("policyflow.failing_component", ex.FailingComponent()),
					)
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			span.SetStatus(codes.Ok, "")
			return out, nil
		},
	}
}
