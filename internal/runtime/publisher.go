package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	idspkg "github.com/drblury/policyflow/internal/runtime/ids"
	"github.com/drblury/policyflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/policyflow/internal/runtime/metadata"
	"github.com/drblury/policyflow/internal/runtime/policies"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// NewMessage builds a Watermill message carrying payload and attributes. A
// correlation id is assigned when attributes do not carry one.
func NewMessage(payload []byte, attributes metadatapkg.Metadata) *message.Message {
	msg := message.NewMessage(idspkg.NewEventID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(attributes)
	if middleware.MessageCorrelationID(msg) == "" {
		middleware.SetCorrelationID(idspkg.NewCorrelationID(), msg)
	}
	return msg
}

// NewProtoMessage encodes ev with protojson and tags it with its schema.
func NewProtoMessage(ev proto.Message, attributes metadatapkg.Metadata) (*message.Message, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil proto message", errspkg.ErrMessageType)
	}
	payload, err := protoJSONMarshalOptions.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", ev, err)
	}
	schema := string(ev.ProtoReflect().Descriptor().FullName())
	return NewMessage(payload, attributes.With(policies.SchemaAttribute, schema)), nil
}

// NewJSONMessage encodes v as JSON.
func NewJSONMessage(v any, attributes metadatapkg.Metadata) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return NewMessage(payload, attributes.With(policies.SchemaAttribute, fmt.Sprintf("%T", v))), nil
}

// Publish sends msg to topic on the service transport.
func (s *Service) Publish(ctx context.Context, topic string, msg *message.Message) error {
	if s.publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return s.publisher.Publish(topic, msg)
}

// PublishProto encodes ev and publishes it to topic.
func (s *Service) PublishProto(ctx context.Context, topic string, ev proto.Message, attributes metadatapkg.Metadata) error {
	msg, err := NewProtoMessage(ev, attributes)
	if err != nil {
		return err
	}
	return s.Publish(ctx, topic, msg)
}

// PublishJSON encodes v and publishes it to topic.
func (s *Service) PublishJSON(ctx context.Context, topic string, v any, attributes metadatapkg.Metadata) error {
	msg, err := NewJSONMessage(v, attributes)
	if err != nil {
		return err
	}
	return s.Publish(ctx, topic, msg)
}
