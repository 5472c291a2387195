// Package outcome is the result of running a policy chain: either a Success
// carrying the resulting event or a Failure carrying the exception.
//
// Response parameters are never computed eagerly. They are produced on first
// request and any failure while producing them is reported as a
// ResponseError, so it is attributed to the response phase rather than to
// the operation that already finished.
package outcome

import (
	"fmt"
	"sync"

	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
)

// ResponseParameters are the values a message source needs to send a response.
type ResponseParameters map[string]any

// ParametersSupplier lazily computes response parameters.
type ParametersSupplier func() (ResponseParameters, error)

// ResponseParametersProcessor knows how to compute response parameters for a
// finished event.
type ResponseParametersProcessor interface {
	SuccessParameters(ev *event.Event) (ResponseParameters, error)
	FailureParameters(ev *event.Event) (ResponseParameters, error)
}

// ResponseParametersFuncs adapts two functions to ResponseParametersProcessor.
// Nil functions produce empty parameters.
type ResponseParametersFuncs struct {
	Success func(ev *event.Event) (ResponseParameters, error)
	Failure func(ev *event.Event) (ResponseParameters, error)
}

func (f ResponseParametersFuncs) SuccessParameters(ev *event.Event) (ResponseParameters, error) {
	if f.Success == nil {
		return ResponseParameters{}, nil
	}
	return f.Success(ev)
}

func (f ResponseParametersFuncs) FailureParameters(ev *event.Event) (ResponseParameters, error) {
	if f.Failure == nil {
		return ResponseParameters{}, nil
	}
	return f.Failure(ev)
}

// Phase names the response stage a ResponseError belongs to.
type Phase string

const (
	PhaseGenerate Phase = "generate"
	PhaseSend     Phase = "send"
)

// ResponseError reports a failure while generating or sending a response.
type ResponseError struct {
	Phase Phase
	Cause error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("policyflow: response %s failed: %v", e.Phase, e.Cause)
}

func (e *ResponseError) Unwrap() error { return e.Cause }

// Outcome is implemented by *Success and *Failure only.
type Outcome interface {
	Event() *event.Event
	isOutcome()
}

// Callback receives the outcome of processing one event.
type Callback func(Outcome)

func lazy(supplier ParametersSupplier) ParametersSupplier {
	if supplier == nil {
		supplier = func() (ResponseParameters, error) { return ResponseParameters{}, nil }
	}
	once := sync.OnceValues(supplier)
	return func() (ResponseParameters, error) {
		params, err := once()
		if err != nil {
			return nil, &ResponseError{Phase: PhaseGenerate, Cause: err}
		}
		return params, nil
	}
}

// Success is the outcome of a chain that completed normally.
type Success struct {
	event     *event.Event
	params    ParametersSupplier
	processor ResponseParametersProcessor
}

// NewSuccess builds a Success. processor is kept so that a failure while
// sending the success response can be turned into an error response.
func NewSuccess(ev *event.Event, params ParametersSupplier, processor ResponseParametersProcessor) *Success {
	return &Success{event: ev, params: lazy(params), processor: processor}
}

func (*Success) isOutcome() {}

// Event returns the resulting event.
func (s *Success) Event() *event.Event { return s.event }

// ResponseParameters computes the success response parameters on first call.
func (s *Success) ResponseParameters() (ResponseParameters, error) { return s.params() }

// ResponseParametersProcessor returns the processor used to build the failure
// response if sending this success response fails.
func (s *Success) ResponseParametersProcessor() ResponseParametersProcessor { return s.processor }

// SendFailed converts a failure while sending the success response into a
// Failure whose error response parameters come from the processor.
func (s *Success) SendFailed(ex *exception.MessagingException) *Failure {
	ev := s.event
	return NewFailure(ex, func() (ResponseParameters, error) {
		if s.processor == nil {
			return ResponseParameters{}, nil
		}
		return s.processor.FailureParameters(ev)
	})
}

// Failure is the outcome of a chain that raised a MessagingException.
type Failure struct {
	exception *exception.MessagingException
	params    ParametersSupplier
}

// NewFailure builds a Failure. params runs at most once, and only when the
// error response is actually needed.
func NewFailure(ex *exception.MessagingException, params ParametersSupplier) *Failure {
	return &Failure{exception: ex, params: lazy(params)}
}

func (*Failure) isOutcome() {}

// Event returns the event attached to the exception.
func (f *Failure) Event() *event.Event { return f.exception.Event() }

// Exception returns the failure.
func (f *Failure) Exception() *exception.MessagingException { return f.exception }

// ErrorResponseParameters computes the error response parameters on first call.
func (f *Failure) ErrorResponseParameters() (ResponseParameters, error) { return f.params() }
