package errorhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/errtype"
	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
	"github.com/drblury/policyflow/internal/runtime/ids"
	"github.com/drblury/policyflow/internal/runtime/jsoncodec"
	"github.com/drblury/policyflow/internal/runtime/metadata"
	"github.com/drblury/policyflow/internal/runtime/policy"
)

// Result is what an acceptor decided for an exception.
type Result struct {
	// Event is the event produced by the acceptor's processors.
	Event *event.Event
	// Continue asks the handler to mark the exception handled.
	Continue bool
}

// Acceptor is one entry of an error handler.
type Acceptor interface {
	Name() string
	// Accept reports whether the acceptor applies to the failed event.
	Accept(ev *event.Event) bool
	// AcceptsAll is true when Accept returns true for every recoverable error.
	AcceptsAll() bool
	// Handle runs the acceptor. A returned error replaces the original failure.
	Handle(ctx context.Context, ex *exception.MessagingException) (Result, error)
}

// AcceptorOption configures the built-in acceptors.
type AcceptorOption func(*base)

// When restricts an acceptor to events satisfying cond.
func When(cond func(ev *event.Event) bool) AcceptorOption {
	return func(b *base) { b.when = cond }
}

// WithProcessors sets the processors run against the failed event.
func WithProcessors(processors ...policy.Processor) AcceptorOption {
	return func(b *base) { b.processors = append(b.processors, processors...) }
}

type base struct {
	name       string
	types      errtype.Matcher
	when       func(ev *event.Event) bool
	processors []policy.Processor
}

func newBase(name string, types errtype.Matcher, opts []AcceptorOption) base {
	b := base{name: name, types: types}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) Name() string { return b.name }

func (b *base) Accept(ev *event.Event) bool {
	if b.when != nil && !b.when(ev) {
		return false
	}
	var t *errtype.ErrorType
	if ev != nil && ev.Error() != nil {
		t = ev.Error().Type
	}
	if t == nil {
		return b.types.MatchesAny()
	}
	return b.types.Match(t)
}

func (b *base) AcceptsAll() bool {
	return b.when == nil && b.types.MatchesAny()
}

func (b *base) run(ctx context.Context, ev *event.Event) (*event.Event, error) {
	for _, p := range b.processors {
		out, err := p(ctx, ev)
		if err != nil {
			return ev, err
		}
		if out != nil {
			ev = out
		}
	}
	return ev, nil
}

// OnErrorContinue recovers from matching errors: its processors build the
// event the flow returns instead of the failure.
type OnErrorContinue struct {
	base
}

// NewOnErrorContinue creates an acceptor recovering errors selected by types.
func NewOnErrorContinue(name string, types errtype.Matcher, opts ...AcceptorOption) (*OnErrorContinue, error) {
	if types == nil {
		return nil, fmt.Errorf("%w: %s has no error type matcher", errspkg.ErrAcceptorRequired, name)
	}
	return &OnErrorContinue{base: newBase(name, types, opts)}, nil
}

func (a *OnErrorContinue) Handle(ctx context.Context, ex *exception.MessagingException) (Result, error) {
	ev, err := a.run(ctx, ex.Event())
	if err != nil {
		return Result{Event: ev}, err
	}
	return Result{Event: ev.WithError(nil), Continue: true}, nil
}

// OnErrorPropagate runs its processors and lets the failure continue to the
// caller. It can forward a failure report to a poison queue.
type OnErrorPropagate struct {
	base
	publisher message.Publisher
	topic     string
}

// PropagateOption configures an OnErrorPropagate acceptor.
type PropagateOption func(*OnErrorPropagate)

// WithPoisonQueue publishes a FailureReport for every propagated failure.
func WithPoisonQueue(publisher message.Publisher, topic string) PropagateOption {
	return func(a *OnErrorPropagate) {
		a.publisher = publisher
		a.topic = topic
	}
}

// NewOnErrorPropagate creates an acceptor for errors selected by types.
func NewOnErrorPropagate(name string, types errtype.Matcher, opts []AcceptorOption, propagateOpts ...PropagateOption) (*OnErrorPropagate, error) {
	if types == nil {
		return nil, fmt.Errorf("%w: %s has no error type matcher", errspkg.ErrAcceptorRequired, name)
	}
	a := &OnErrorPropagate{base: newBase(name, types, opts)}
	for _, opt := range propagateOpts {
		opt(a)
	}
	if a.publisher != nil && a.topic == "" {
		return nil, fmt.Errorf("%w: poison queue of %s", errspkg.ErrTopicRequired, name)
	}
	return a, nil
}

func (a *OnErrorPropagate) Handle(ctx context.Context, ex *exception.MessagingException) (Result, error) {
	ev, err := a.run(ctx, ex.Event())
	if err != nil {
		return Result{Event: ev}, err
	}
	if a.publisher != nil {
		if err := a.publish(ex, ev); err != nil {
			return Result{Event: ev}, err
		}
	}
	return Result{Event: ev}, nil
}

// FailureReport is the poison queue payload.
type FailureReport struct {
	Flow          string            `json:"flow"`
	CorrelationID string            `json:"correlation_id"`
	ErrorType     string            `json:"error_type"`
	Component     string            `json:"component,omitempty"`
	Cause         string            `json:"cause"`
	RootCause     string            `json:"root_cause"`
	Info          map[string]string `json:"info,omitempty"`
	Attributes    metadata.Metadata `json:"attributes,omitempty"`
	Payload       []byte            `json:"payload"`
	FailedAt      time.Time         `json:"failed_at"`
}

// NewFailureReport summarises ex for publication.
func NewFailureReport(ex *exception.MessagingException, ev *event.Event) FailureReport {
	report := FailureReport{
		ErrorType: ex.ErrorType().String(),
		Component: ex.FailingComponent(),
		Info:      ex.Info(),
		FailedAt:  time.Now().UTC(),
	}
	if cause := ex.Cause(); cause != nil {
		report.Cause = cause.Error()
	}
	if root := ex.RootCause(); root != nil {
		report.RootCause = root.Error()
	}
	if ev != nil {
		report.Flow = ev.Context().FlowName()
		report.CorrelationID = ev.CorrelationID()
		report.Attributes = ev.Message().Attributes.Clone()
		report.Payload = ev.Payload()
	}
	return report
}

func (a *OnErrorPropagate) publish(ex *exception.MessagingException, ev *event.Event) error {
	body, err := jsoncodec.Marshal(NewFailureReport(ex, ev))
	if err != nil {
		return fmt.Errorf("encode failure report: %w", err)
	}
	msg := message.NewMessage(ids.NewEventID(), body)
	if ev != nil {
		middleware.SetCorrelationID(ev.CorrelationID(), msg)
	}
	msg.Metadata.Set("error_type", ex.ErrorType().String())
	if err := a.publisher.Publish(a.topic, msg); err != nil {
		return fmt.Errorf("publish to poison queue %q: %w", a.topic, err)
	}
	return nil
}
