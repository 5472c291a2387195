package runtime

import (
	"time"

	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
	loggingpkg "github.com/drblury/policyflow/internal/runtime/logging"
)

// FlowContext describes one message travelling through a flow.
type FlowContext struct {
	Flow          string
	ConsumeQueue  string
	MessageUUID   string
	CorrelationID string
	TransactionID string
	StartedAt     time.Time
	// Duration is set for OnSuccess and OnFailure.
	Duration time.Duration
}

// Hooks observe flow outcomes. Nil hooks are skipped.
type Hooks struct {
	OnStart func(fc FlowContext)
	// OnSuccess receives the event that completed the flow, including events
	// recovered by an on-error-continue acceptor.
	OnSuccess func(fc FlowContext, ev *event.Event)
	// OnFailure receives the exception surfaced by the error handler. It is
	// not called for recovered failures.
	OnFailure func(fc FlowContext, ex *exception.MessagingException)
}

// Merge returns hooks calling h first, then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStart:   chain1(h.OnStart, other.OnStart),
		OnSuccess: chain2(h.OnSuccess, other.OnSuccess),
		OnFailure: chain2(h.OnFailure, other.OnFailure),
	}
}

func chain1[A any](a, b func(A)) func(A) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A) {
		a(x)
		b(x)
	}
}

func chain2[A, B any](a, b func(A, B)) func(A, B) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A, y B) {
		a(x, y)
		b(x, y)
	}
}

func (h Hooks) start(fc FlowContext) {
	if h.OnStart != nil {
		h.OnStart(fc)
	}
}

func (h Hooks) success(fc FlowContext, ev *event.Event) {
	if h.OnSuccess != nil {
		h.OnSuccess(fc, ev)
	}
}

func (h Hooks) failure(fc FlowContext, ex *exception.MessagingException) {
	if h.OnFailure != nil {
		h.OnFailure(fc, ex)
	}
}

// LoggingHooks logs every flow outcome.
func LoggingHooks(log loggingpkg.ServiceLogger) Hooks {
	log = loggingpkg.OrNop(log)
	fields := func(fc FlowContext) loggingpkg.LogFields {
		f := loggingpkg.LogFields{
			"flow":           fc.Flow,
			"message_uuid":   fc.MessageUUID,
			"correlation_id": fc.CorrelationID,
		}
		if fc.TransactionID != "" {
			f["transaction_id"] = fc.TransactionID
		}
		if fc.Duration > 0 {
			f["duration_ms"] = fc.Duration.Milliseconds()
		}
		return f
	}
	return Hooks{
		OnStart: func(fc FlowContext) {
			log.Debug("Flow started", fields(fc))
		},
		OnSuccess: func(fc FlowContext, _ *event.Event) {
			log.Info("Flow completed", fields(fc))
		},
		OnFailure: func(fc FlowContext, ex *exception.MessagingException) {
			f := fields(fc)
			f["error_type"] = ex.ErrorType().String()
			f["component"] = ex.FailingComponent()
			log.Error("Flow failed", ex, f)
		},
	}
}
