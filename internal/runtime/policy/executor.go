package policy

import (
	"context"
	"fmt"

	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/logging"
	"github.com/drblury/policyflow/internal/runtime/outcome"
)

// SourceExecutor runs the policies of a message source around its flow and
// reports the result as an Outcome.
type SourceExecutor struct {
	composite *Composite
}

// NewSourceExecutor wraps c.
func NewSourceExecutor(c *Composite) *SourceExecutor {
	return &SourceExecutor{composite: c}
}

// Composite returns the wrapped composite.
func (s *SourceExecutor) Composite() *Composite { return s.composite }

// Process runs ev through the chain and invokes cb exactly once. It never
// panics for failures raised inside the chain: they arrive as a
// *outcome.Failure. Response parameters are computed by rpp only on request.
func (s *SourceExecutor) Process(ctx context.Context, ev *event.Event, rpp outcome.ResponseParametersProcessor, cb outcome.Callback) {
	result, err := safeRun(ctx, s.composite, ev)
	if err != nil {
		ex := s.composite.exception(ev, err, "")
		cb(outcome.NewFailure(ex, func() (outcome.ResponseParameters, error) {
			if rpp == nil {
				return outcome.ResponseParameters{}, nil
			}
			return rpp.FailureParameters(ex.Event())
		}))
		return
	}
	cb(outcome.NewSuccess(result, func() (outcome.ResponseParameters, error) {
		if rpp == nil {
			return outcome.ResponseParameters{}, nil
		}
		return rpp.SuccessParameters(result)
	}, rpp))
}

// OperationExecutor runs the policies of a single operation invocation. The
// terminal reads its parameters with OperationParameters.
type OperationExecutor struct {
	composite *Composite
}

// NewOperationExecutor wraps c.
func NewOperationExecutor(c *Composite) *OperationExecutor {
	return &OperationExecutor{composite: c}
}

// Process runs the operation with params and reports the outcome to cb.
func (o *OperationExecutor) Process(ctx context.Context, ev *event.Event, params Parameters, cb outcome.Callback) {
	ctx = WithOperationParameters(ctx, params)
	result, err := safeRun(ctx, o.composite, ev)
	if err != nil {
		cb(outcome.NewFailure(o.composite.exception(ev, err, ""), nil))
		return
	}
	cb(outcome.NewSuccess(result, nil, nil))
}

func safeRun(ctx context.Context, c *Composite, ev *event.Event) (out *event.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic in policy chain: %w", e)
			} else {
				err = fmt.Errorf("panic in policy chain: %v", r)
			}
			c.opts.logger.Error("Recovered panic in policy chain", err, logging.LogFields{
				"flow":           ev.Context().FlowName(),
				"correlation_id": ev.CorrelationID(),
			})
			out = nil
		}
	}()
	return c.Run(ctx, ev)
}
