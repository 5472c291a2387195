package policies

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/policy"
)

func attributeValue(attrs []attribute.KeyValue, key string) string {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func spanContextValid(ctx context.Context) bool {
	return trace.SpanContextFromContext(ctx).IsValid()
}

func TestTracingRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	var spanCtxValid bool
	_, err := run(t, Tracing(provider), func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		spanCtxValid = spanContextValid(ctx)
		return ev, nil
	})
	require.NoError(t, err)
	assert.True(t, spanCtxValid, "downstream runs inside the span")

	_, err = run(t, Tracing(provider), func(context.Context, *event.Event) (*event.Event, error) {
		return nil, errors.New("flow failed")
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "ProcessEvent", ok.Name())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	assert.Equal(t, "orders", attributeValue(ok.Attributes(), "policyflow.flow"))
	assert.Equal(t, "corr-1", attributeValue(ok.Attributes(), "policyflow.correlation_id"))

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "CORE:UNKNOWN", attributeValue(failed.Attributes(), "policyflow.error_type"))
	assert.Equal(t, policy.DefaultTerminalName, attributeValue(failed.Attributes(), "policyflow.failing_component"))
	assert.NotEmpty(t, failed.Events(), "error is recorded as a span event")
}
