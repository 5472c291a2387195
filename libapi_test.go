package policyflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/policyflow/internal/runtime/event"
)

type greeting struct {
	Name string `json:"name"`
}

type reply struct {
	Text string `json:"text"`
}

func TestJSONFlowExport(t *testing.T) {
	proc, err := JSONFlow(func(_ context.Context, in HandlerContext[*greeting]) (*HandlerOutput[*reply], error) {
		return &HandlerOutput[*reply]{Message: &reply{Text: "hi " + in.Payload.Name}}, nil
	}, nil)
	require.NoError(t, err)

	ev, err := proc(context.Background(), newTestEvent(`{"name":"ada"}`))
	require.NoError(t, err)

	var out reply
	require.NoError(t, Unmarshal(ev.Payload(), &out))
	assert.Equal(t, "hi ada", out.Text)
}

func TestProtoFlowExport(t *testing.T) {
	proc, err := ProtoFlow(func(_ context.Context, in HandlerContext[*structpb.Struct]) (*HandlerOutput[proto.Message], error) {
		return &HandlerOutput[proto.Message]{Message: wrapperspb.String(in.Payload.GetFields()["name"].GetStringValue())}, nil
	}, nil)
	require.NoError(t, err)

	ev, err := proc(context.Background(), newTestEvent(`{"name":"ada"}`))
	require.NoError(t, err)
	assert.Equal(t, "google.protobuf.StringValue", ev.Message().Attributes.Get(MetadataKeyEventSchema))
}

func TestErrorTypeExports(t *testing.T) {
	types := NewErrorTypes()
	locator := NewLocator(types)

	acceptor, err := NewOnErrorContinue("timeouts", SingleErrorType(types.MustLookup("TIMEOUT")))
	require.NoError(t, err)
	assert.Equal(t, "timeouts", acceptor.Name())
	assert.Equal(t, "CORE:TIMEOUT", locator.Resolve(context.DeadlineExceeded).String())
}

type quotaError struct{}

func (quotaError) Error() string { return "quota" }

func TestCauseExports(t *testing.T) {
	err := errors.Join(errors.New("outer"), quotaError{})
	assert.True(t, CausedByType[quotaError](err))

	ok, cerr := CauseMatches(err, `quotaError$`)
	require.NoError(t, cerr)
	assert.True(t, ok)
}

func TestMessageExports(t *testing.T) {
	msg, err := NewJSONMessage(greeting{Name: "ada"}, NewMetadata("origin", "test"))
	require.NoError(t, err)
	assert.Equal(t, "test", msg.Metadata.Get("origin"))
	assert.NotEmpty(t, msg.Metadata.Get(MetadataKeyEventSchema))

	names := RegisterTransports(NewTransportRegistry()).Names()
	assert.Equal(t, []string{"aws", "channel", "http", "kafka", "nats", "rabbitmq"}, names)
}

func newTestEvent(payload string) *Event {
	return event.New(event.NewContext("greetings", NewCorrelationID()), event.NewMessage([]byte(payload), nil))
}

func TestOperationExecutorExport(t *testing.T) {
	var order []string
	trace := func(id string) Policy {
		return Policy{ID: id, Chain: func(ctx context.Context, ev *Event, next Processor) (*Event, error) {
			order = append(order, id)
			return next(ctx, ev)
		}}
	}
	terminal := func(ctx context.Context, ev *Event) (*Event, error) {
		order = append(order, "operation")
		return ev.WithVariable("region", OperationParametersFrom(ctx)["region"]), nil
	}

	_, err := NewComposite(nil, terminal)
	require.ErrorIs(t, err, ErrEmptyPolicyChain)

	composite, err := NewComposite([]Policy{trace("outer"), trace("inner")}, terminal)
	require.NoError(t, err)

	var result Outcome
	NewOperationExecutor(composite).Process(context.Background(), newTestEvent(`{}`),
		OperationParameters{"region": "eu-west-1"}, func(o Outcome) { result = o })

	success, ok := result.(*Success)
	require.True(t, ok)
	region, _ := success.Event().Variable("region")
	assert.Equal(t, "eu-west-1", region)
	assert.Equal(t, []string{"outer", "inner", "operation"}, order)
}

func TestNewServiceUnknownTransportExport(t *testing.T) {
	_, err := NewService(context.Background(), &Config{PubSubSystem: "gcp"}, NopLogger(), ServiceDependencies{
		Registry: RegisterTransports(NewTransportRegistry()),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTransport)
}
