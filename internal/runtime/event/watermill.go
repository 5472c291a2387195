package event

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/policyflow/internal/runtime/metadata"
)

// FromWatermill starts a new context for flow and returns its first event.
// The correlation id is read from the Watermill correlation metadata.
func FromWatermill(flow string, msg *message.Message) *Event {
	ctx := NewContext(flow, middleware.MessageCorrelationID(msg))
	return New(ctx, Message{
		Payload:    append([]byte(nil), msg.Payload...),
		Attributes: metadata.FromWatermill(msg.Metadata),
	})
}

// MessageFromWatermill converts the payload and metadata of msg.
func MessageFromWatermill(msg *message.Message) Message {
	return Message{
		Payload:    msg.Payload,
		Attributes: metadata.FromWatermill(msg.Metadata),
	}
}

// ToWatermill renders ev as a Watermill message identified by uuid.
func ToWatermill(ev *Event, uuid string) *message.Message {
	msg := message.NewMessage(uuid, ev.Payload())
	msg.Metadata = metadata.ToWatermill(ev.Message().Attributes)
	middleware.SetCorrelationID(ev.CorrelationID(), msg)
	return msg
}
