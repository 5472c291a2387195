// Package exception defines MessagingException, the single failure type that
// crosses policy chain and error handler boundaries.
package exception

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/drblury/policyflow/internal/runtime/errtype"
	"github.com/drblury/policyflow/internal/runtime/event"
)

// Info keys populated by the runtime.
const (
	InfoFlow          = "flow"
	InfoComponent     = "component"
	InfoCorrelationID = "correlation_id"
	InfoErrorType     = "error_type"
)

// MessagingException carries the in-flight event, the originating failure
// and the error type it was classified as.
//
// The handled flag has exactly one writer, the error handler. Every other
// component only reads it.
type MessagingException struct {
	cause     error
	component string
	errorType *errtype.ErrorType
	handled   atomic.Bool

	mu    sync.RWMutex
	event *event.Event
	info  map[string]string
}

// Option customises a new exception.
type Option func(*MessagingException)

// WithComponent records the component that failed.
func WithComponent(name string) Option {
	return func(e *MessagingException) { e.component = name }
}

// WithErrorType sets the error type explicitly.
func WithErrorType(t *errtype.ErrorType) Option {
	return func(e *MessagingException) { e.errorType = t }
}

// WithInfo adds a diagnostic entry.
func WithInfo(key, value string) Option {
	return func(e *MessagingException) { e.info[key] = value }
}

// New creates an exception for ev failing with cause.
func New(ev *event.Event, cause error, opts ...Option) *MessagingException {
	e := &MessagingException{cause: cause, info: make(map[string]string)}
	for _, opt := range opts {
		opt(e)
	}
	if e.component != "" {
		e.info[InfoComponent] = e.component
	}
	if e.errorType != nil {
		e.info[InfoErrorType] = e.errorType.String()
	}
	e.setEvent(ev)
	return e
}

// Wrap normalises err into a MessagingException. An existing exception in
// err's chain is reused and re-pointed at ev; anything else is classified with
// locator.
func Wrap(ev *event.Event, err error, locator *errtype.Locator, component string) *MessagingException {
	var existing *MessagingException
	if errors.As(err, &existing) {
		if ev != nil {
			existing.SetProcessedEvent(ev)
		}
		return existing
	}
	var t *errtype.ErrorType
	if locator != nil {
		t = locator.Resolve(err)
	}
	return New(ev, err, WithComponent(component), WithErrorType(t))
}

func (e *MessagingException) setEvent(ev *event.Event) {
	if ev != nil && ev.Error() == nil && e.errorType != nil {
		ev = ev.WithError(&event.Error{Type: e.errorType, Cause: e.cause, Description: e.description()})
	}
	e.mu.Lock()
	e.event = ev
	if ev != nil && ev.Context() != nil {
		e.info[InfoFlow] = ev.Context().FlowName()
		e.info[InfoCorrelationID] = ev.CorrelationID()
	}
	e.mu.Unlock()
}

// Event returns the event being processed when the failure happened, with
// the failure attached.
func (e *MessagingException) Event() *event.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.event
}

// SetProcessedEvent swaps the event. Cause, component and info survive.
func (e *MessagingException) SetProcessedEvent(ev *event.Event) {
	e.setEvent(ev)
}

// Cause returns the originating failure.
func (e *MessagingException) Cause() error { return e.cause }

// FailingComponent returns the component name, empty when unknown.
func (e *MessagingException) FailingComponent() string { return e.component }

// ErrorType returns the classification of the failure.
func (e *MessagingException) ErrorType() *errtype.ErrorType { return e.errorType }

// Handled reports whether an error handler claimed the exception.
func (e *MessagingException) Handled() bool { return e.handled.Load() }

// SetHandled is reserved for the error handler.
func (e *MessagingException) SetHandled(handled bool) { e.handled.Store(handled) }

// Info returns a copy of the diagnostic entries.
func (e *MessagingException) Info() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.info))
	for k, v := range e.info {
		out[k] = v
	}
	return out
}

// AddInfo records a diagnostic entry.
func (e *MessagingException) AddInfo(key, value string) {
	e.mu.Lock()
	e.info[key] = value
	e.mu.Unlock()
}

func (e *MessagingException) description() string {
	if e.cause == nil {
		return "unknown failure"
	}
	return e.cause.Error()
}

func (e *MessagingException) Error() string {
	var b strings.Builder
	b.WriteString("policyflow: message processing failed")
	if e.errorType != nil {
		fmt.Fprintf(&b, " [%s]", e.errorType)
	}
	if e.component != "" {
		fmt.Fprintf(&b, " in %s", e.component)
	}
	b.WriteString(": ")
	b.WriteString(e.description())
	return b.String()
}

func (e *MessagingException) Unwrap() error { return e.cause }
