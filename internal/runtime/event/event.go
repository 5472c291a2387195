// Package event holds the message envelope that travels through policy
// chains. Events are immutable: every With* method returns a copy and leaves
// the receiver untouched, while the shared Context tracks completion.
package event

import (
	"github.com/drblury/policyflow/internal/runtime/errtype"
	"github.com/drblury/policyflow/internal/runtime/metadata"
)

// Message is the payload plus its attributes.
type Message struct {
	Payload    []byte
	Attributes metadata.Metadata
}

// NewMessage builds a message, copying the attributes.
func NewMessage(payload []byte, attributes metadata.Metadata) Message {
	return Message{Payload: payload, Attributes: attributes.Clone()}
}

// WithPayload returns a copy of m carrying payload.
func (m Message) WithPayload(payload []byte) Message {
	return Message{Payload: payload, Attributes: m.Attributes}
}

// WithAttribute returns a copy of m with one attribute set.
func (m Message) WithAttribute(key, value string) Message {
	return Message{Payload: m.Payload, Attributes: m.Attributes.With(key, value)}
}

// Error is the failure attached to an event while it is routed through an
// error handler.
type Error struct {
	Type        *errtype.ErrorType
	Cause       error
	Description string
}

// Event is one immutable snapshot of an in-flight message.
type Event struct {
	ctx     *Context
	message Message
	vars    map[string]any
	err     *Error
}

// New creates the first event of ctx.
func New(ctx *Context, msg Message) *Event {
	return &Event{ctx: ctx, message: msg}
}

func (e *Event) clone() *Event {
	cp := *e
	return &cp
}

// Context returns the processing context shared by all copies.
func (e *Event) Context() *Context { return e.ctx }

// Message returns the message carried by this snapshot.
func (e *Event) Message() Message { return e.message }

// Payload is shorthand for Message().Payload.
func (e *Event) Payload() []byte { return e.message.Payload }

// CorrelationID returns the correlation id of the context.
func (e *Event) CorrelationID() string { return e.ctx.CorrelationID() }

// Error returns the attached failure, if any.
func (e *Event) Error() *Error { return e.err }

// Variable returns a single variable.
func (e *Event) Variable(name string) (any, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Variables returns a copy of the variable set.
func (e *Event) Variables() map[string]any {
	out := make(map[string]any, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

// WithMessage returns a copy carrying msg.
func (e *Event) WithMessage(msg Message) *Event {
	cp := e.clone()
	cp.message = msg
	return cp
}

// WithPayload returns a copy whose message carries payload.
func (e *Event) WithPayload(payload []byte) *Event {
	return e.WithMessage(e.message.WithPayload(payload))
}

// WithVariable returns a copy with name set to value.
func (e *Event) WithVariable(name string, value any) *Event {
	cp := e.clone()
	cp.vars = make(map[string]any, len(e.vars)+1)
	for k, v := range e.vars {
		cp.vars[k] = v
	}
	cp.vars[name] = value
	return cp
}

// WithoutVariable returns a copy without name.
func (e *Event) WithoutVariable(name string) *Event {
	if _, ok := e.vars[name]; !ok {
		return e
	}
	cp := e.clone()
	cp.vars = make(map[string]any, len(e.vars))
	for k, v := range e.vars {
		if k != name {
			cp.vars[k] = v
		}
	}
	return cp
}

// WithVariables returns a copy whose variable set is replaced by vars.
func (e *Event) WithVariables(vars map[string]any) *Event {
	cp := e.clone()
	cp.vars = make(map[string]any, len(vars))
	for k, v := range vars {
		cp.vars[k] = v
	}
	return cp
}

// WithError returns a copy carrying err.
func (e *Event) WithError(err *Error) *Event {
	cp := e.clone()
	cp.err = err
	return cp
}
