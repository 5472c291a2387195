// Package handlers adapts typed functions into flow processors. The incoming
// payload is decoded into the function's input type and the returned output
// replaces the event message.
package handlers

import (
	"reflect"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/event"
	loggingpkg "github.com/drblury/policyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/policyflow/internal/runtime/metadata"
	"github.com/drblury/policyflow/internal/runtime/policies"
)

// Context is the typed view of the event entering a flow.
type Context[T any] struct {
	Payload    T
	Attributes metadatapkg.Metadata
	Event      *event.Event
	Logger     loggingpkg.ServiceLogger
}

// CloneAttributes returns a copy of the incoming attributes that the flow may
// change for its output.
func (c Context[T]) CloneAttributes() metadatapkg.Metadata {
	return c.Attributes.Clone()
}

// Get returns the attribute stored under key.
func (c Context[T]) Get(key string) string {
	return c.Attributes.Get(key)
}

// CorrelationID returns the correlation id of the event.
func (c Context[T]) CorrelationID() string {
	if c.Event == nil {
		return ""
	}
	return c.Event.CorrelationID()
}

// Output is the message produced by a typed flow. Nil Attributes keep the
// incoming ones.
type Output[O any] struct {
	Message    O
	Attributes metadatapkg.Metadata
}

// decodeError reports a payload that does not decode into the input type.
// It is classified as a validation failure.
func decodeError(schema string, err error) error {
	return &policies.ValidationError{Schema: schema, Err: err}
}

func newInstance[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrMessageType
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

func outputAttributes(in, out metadatapkg.Metadata) metadatapkg.Metadata {
	if out == nil {
		return in.Clone()
	}
	return out.Clone()
}
