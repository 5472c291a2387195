package handlers

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/event"
	loggingpkg "github.com/drblury/policyflow/internal/runtime/logging"
	"github.com/drblury/policyflow/internal/runtime/policies"
	"github.com/drblury/policyflow/internal/runtime/policy"
)

// ProtoFunc handles a decoded protobuf payload. Returning a nil output keeps
// the incoming message.
type ProtoFunc[T proto.Message] func(ctx context.Context, in Context[T]) (*Output[proto.Message], error)

// ProtoOption customises a proto flow.
type ProtoOption func(*protoOptions)

type protoOptions struct {
	validate func(proto.Message) error
}

// WithOutputValidation checks every produced message with validate before
// it replaces the event message.
func WithOutputValidation(validate func(proto.Message) error) ProtoOption {
	return func(o *protoOptions) { o.validate = validate }
}

// Proto builds a flow processor decoding protojson payloads into T. The
// output is encoded with protojson and tagged with its full message name so
// that ProtoValidate policies downstream can resolve it.
func Proto[T proto.Message](fn ProtoFunc[T], log loggingpkg.ServiceLogger, opts ...ProtoOption) (policy.Processor, error) {
	if fn == nil {
		return nil, errspkg.ErrFlowRequired
	}
	factory, err := newInstance[T]()
	if err != nil {
		return nil, err
	}
	var cfg protoOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	log = loggingpkg.OrNop(log)
	inSchema := string(factory().ProtoReflect().Descriptor().FullName())

	return func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		typed := factory()
		if err := protojson.Unmarshal(ev.Payload(), typed); err != nil {
			return nil, decodeError(inSchema, fmt.Errorf("unmarshal %s payload: %w", inSchema, err))
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
		if out.Message == nil {
			return nil, errors.New("proto flow produced a nil message")
		}
		schema := string(out.Message.ProtoReflect().Descriptor().FullName())
		if cfg.validate != nil {
			if err := cfg.validate(out.Message); err != nil {
				return nil, &policies.ValidationError{Schema: schema, Err: err}
			}
		}

		payload, err := protojson.Marshal(out.Message)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", schema, err)
		}
		attrs := outputAttributes(in.Attributes, out.Attributes).With(policies.SchemaAttribute, schema)
		return ev.WithMessage(event.NewMessage(payload, attrs)), nil
	}, nil
}
