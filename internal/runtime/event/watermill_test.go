package event

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/drblury/policyflow/internal/runtime/metadata"
)

func TestWatermillRoundTrip(t *testing.T) {
	msg := message.NewMessage("uuid-1", []byte("payload"))
	msg.Metadata.Set("event_message_schema", "orders.Created")
	middleware.SetCorrelationID("corr-7", msg)

	ev := FromWatermill("orders", msg)
	assert.Equal(t, "corr-7", ev.CorrelationID())
	assert.Equal(t, "orders", ev.Context().FlowName())
	assert.Equal(t, "orders.Created", ev.Message().Attributes.Get("event_message_schema"))

	msg.Payload[0] = 'P'
	assert.Equal(t, "payload", string(ev.Payload()), "payload is copied")

	out := ToWatermill(ev.WithMessage(ev.Message().WithAttribute("stage", "done")), "uuid-2")
	assert.Equal(t, "uuid-2", out.UUID)
	assert.Equal(t, "corr-7", middleware.MessageCorrelationID(out))
	assert.Equal(t, "done", out.Metadata.Get("stage"))
	assert.Equal(t, "payload", string(out.Payload))
}

func TestFromWatermillGeneratesCorrelationID(t *testing.T) {
	ev := FromWatermill("orders", message.NewMessage("uuid-1", nil))
	assert.NotEmpty(t, ev.CorrelationID())

	m := MessageFromWatermill(&message.Message{Payload: []byte("x"), Metadata: message.Metadata{"a": "b"}})
	assert.Equal(t, metadata.New("a", "b"), m.Attributes)
}
