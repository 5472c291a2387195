package policies

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/logging"
	"github.com/drblury/policyflow/internal/runtime/policy"
)

// SchemaAttribute names the attribute that carries the full protobuf
// message name of the payload.
const SchemaAttribute = "event_message_schema"

// ProtoValidator validates decoded payloads.
type ProtoValidator interface {
	Validate(msg proto.Message) error
}

// ProtoValidatorFunc adapts a function to ProtoValidator.
type ProtoValidatorFunc func(msg proto.Message) error

func (f ProtoValidatorFunc) Validate(msg proto.Message) error { return f(msg) }

// ValidationError reports a payload that could not be decoded or validated.
type ValidationError struct {
	Schema string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ProtoRegistry resolves schema names to message prototypes. Names not
// registered explicitly fall back to the linked-in protobuf types.
type ProtoRegistry struct {
	mu       sync.RWMutex
	registry map[string]func() proto.Message
	resolver *protoregistry.Types
}

// NewProtoRegistry creates a registry backed by protoregistry.GlobalTypes.
func NewProtoRegistry() *ProtoRegistry {
	return &ProtoRegistry{
		registry: make(map[string]func() proto.Message),
		resolver: protoregistry.GlobalTypes,
	}
}

// Register adds prototypes under their full message names.
func (r *ProtoRegistry) Register(prototypes ...proto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range prototypes {
		prototype := p.ProtoReflect()
		r.registry[string(prototype.Descriptor().FullName())] = func() proto.Message {
			return prototype.New().Interface()
		}
	}
}

// New instantiates an empty message for schema.
func (r *ProtoRegistry) New(schema string) (proto.Message, bool) {
	r.mu.RLock()
	factory, ok := r.registry[schema]
	r.mu.RUnlock()
	if ok {
		return factory(), true
	}
	if r.resolver == nil {
		return nil, false
	}
	mt, err := r.resolver.FindMessageByName(protoreflect.FullName(schema))
	if err != nil {
		return nil, false
	}
	return mt.New().Interface(), true
}

// ProtoValidate decodes JSON payloads tagged with SchemaAttribute and runs
// validator on them. Events without the attribute pass through unchanged.
func ProtoValidate(registry *ProtoRegistry, validator ProtoValidator, log logging.ServiceLogger) policy.Policy {
	if registry == nil {
		registry = NewProtoRegistry()
	}
	log = logging.OrNop(log)
	return policy.Policy{
		ID: ProtoValidateID,
		Chain: func(ctx context.Context, ev *event.Event, next policy.Processor) (*event.Event, error) {
			schema := ev.Message().Attributes.Get(SchemaAttribute)
			if schema == "" {
				log.Debug("Skipping validation, event has no schema", logging.LogFields{"correlation_id": ev.CorrelationID()})
				return next(ctx, ev)
			}

			msg, ok := registry.New(schema)
			if !ok {
				return nil, &ValidationError{Schema: schema, Err: fmt.Errorf("unknown schema %q", schema)}
			}
			if err := protojson.Unmarshal(ev.Payload(), msg); err != nil {
				return nil, &ValidationError{Schema: schema, Err: err}
			}
			if validator != nil {
				if err := validator.Validate(msg); err != nil {
					return nil, &ValidationError{Schema: schema, Err: err}
				}
			}
			return next(ctx, ev)
		},
	}
}
