package runtime

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
	loggingpkg "github.com/drblury/policyflow/internal/runtime/logging"
)

func TestHooksMergeOrder(t *testing.T) {
	var calls []string
	first := Hooks{
		OnStart:   func(FlowContext) { calls = append(calls, "first-start") },
		OnFailure: func(FlowContext, *exception.MessagingException) { calls = append(calls, "first-failure") },
	}
	second := Hooks{
		OnStart:   func(FlowContext) { calls = append(calls, "second-start") },
		OnSuccess: func(FlowContext, *event.Event) { calls = append(calls, "second-success") },
	}

	merged := first.Merge(second)
	merged.start(FlowContext{})
	merged.success(FlowContext{}, nil)
	merged.failure(FlowContext{}, nil)

	assert.Equal(t, []string{"first-start", "second-start", "second-success", "first-failure"}, calls)
}

func TestHooksNilSafe(t *testing.T) {
	var h Hooks
	assert.NotPanics(t, func() {
		h.start(FlowContext{})
		h.success(FlowContext{}, nil)
		h.failure(FlowContext{}, nil)
	})
	assert.Nil(t, h.Merge(Hooks{}).OnStart)
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	log := loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	hooks := LoggingHooks(log)

	fc := FlowContext{Flow: "orders", MessageUUID: "m-1", CorrelationID: "c-1", TransactionID: "tx-1"}
	hooks.OnStart(fc)
	hooks.OnSuccess(fc, nil)

	ev := event.New(event.NewContext("orders", "c-1"), event.Message{})
	hooks.OnFailure(fc, exception.New(ev, errors.New("downstream unavailable"), exception.WithComponent("flow")))

	out := buf.String()
	assert.Contains(t, out, "Flow started")
	assert.Contains(t, out, "Flow completed")
	assert.Contains(t, out, "Flow failed")
	assert.Contains(t, out, "transaction_id=tx-1")
	assert.Contains(t, out, "downstream unavailable")
}
