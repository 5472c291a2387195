package handlers

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/policyflow/internal/runtime/logging"
	"github.com/drblury/policyflow/internal/runtime/policies"
	"github.com/drblury/policyflow/internal/runtime/policy"
)

// JSONFunc handles a decoded JSON payload. Returning a nil output keeps the
// incoming message.
type JSONFunc[T any, O any] func(ctx context.Context, in Context[T]) (*Output[O], error)

// JSON builds a flow processor decoding payloads into T and encoding the
// output as JSON. T must be a pointer type.
func JSON[T any, O any](fn JSONFunc[T, O], log loggingpkg.ServiceLogger) (policy.Processor, error) {
	if fn == nil {
		return nil, errspkg.ErrFlowRequired
	}
	factory, err := newInstance[T]()
	if err != nil {
		return nil, err
	}
	log = loggingpkg.OrNop(log)
	inSchema := fmt.Sprintf("%T", *new(T))

	return func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		typed := factory()
		if err := jsoncodec.Unmarshal(ev.Payload(), typed); err != nil {
			return nil, decodeError(inSchema, fmt.Errorf("unmarshal JSON payload: %w", err))
		}

		in := Context[T]{
			Payload:    typed,
			Attributes: ev.Message().Attributes,
			Event:      ev,
			Logger:     log,
		}
		out, err := fn(ctx, in)
		if err != nil || out == nil {
			return nil, err
		}

		payload, err := jsoncodec.Marshal(out.Message)
		if err != nil {
			return nil, fmt.Errorf("marshal %T: %w", out.Message, err)
		}
		attrs := outputAttributes(in.Attributes, out.Attributes).
			With(policies.SchemaAttribute, fmt.Sprintf("%T", out.Message))
		return ev.WithMessage(event.NewMessage(payload, attrs)), nil
	}, nil
}
