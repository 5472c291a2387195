// Package errorhandler routes failures to the first matching error acceptor.
//
// The acceptor list is validated and completed once, when the handler is
// built: only the last acceptor may accept every error, and if none does a
// propagating catch-all is appended. Failures whose type is a direct child
// of CORE:CRITICAL never reach the list.
package errorhandler

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/errtype"
	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
	"github.com/drblury/policyflow/internal/runtime/logging"
)

// DefaultAcceptorName names the synthesized catch-all.
const DefaultAcceptorName = "default-propagate"

// Config configures a Handler.
type Config struct {
	// Name labels logs and metrics, usually the flow name.
	Name string
	// Locator classifies failures raised by acceptors. Its repository
	// defines the critical tree.
	Locator *errtype.Locator
	Logger  logging.ServiceLogger
	Metrics *Metrics
	// Default replaces the synthesized catch-all. It must accept all errors.
	Default Acceptor
}

// Handler dispatches exceptions to acceptors.
type Handler struct {
	name      string
	locator   *errtype.Locator
	repo      *errtype.Repository
	acceptors []Acceptor
	log       logging.ServiceLogger
	metrics   *Metrics
}

// New validates acceptors and builds the handler.
func New(cfg Config, acceptors ...Acceptor) (*Handler, error) {
	if cfg.Locator == nil || cfg.Locator.Repository() == nil {
		return nil, errspkg.ErrRepositoryMissing
	}
	for i, a := range acceptors {
		if a == nil {
			return nil, fmt.Errorf("%w: position %d", errspkg.ErrAcceptorRequired, i)
		}
		if i < len(acceptors)-1 && a.AcceptsAll() {
			return nil, fmt.Errorf("%w: acceptor %q at position %d of %d", errspkg.ErrCatchAllNotLast, a.Name(), i, len(acceptors))
		}
	}

	h := &Handler{
		name:      cfg.Name,
		locator:   cfg.Locator,
		repo:      cfg.Locator.Repository(),
		acceptors: append([]Acceptor(nil), acceptors...),
		log:       logging.OrNop(cfg.Logger).With(logging.LogFields{"flow": cfg.Name}),
		metrics:   cfg.Metrics,
	}

	if n := len(h.acceptors); n == 0 || !h.acceptors[n-1].AcceptsAll() {
		def := cfg.Default
		if def == nil {
			var err error
			def, err = NewOnErrorPropagate(DefaultAcceptorName, errtype.Single(h.repo.Any()), nil)
			if err != nil {
				return nil, err
			}
		}
		if !def.AcceptsAll() {
			return nil, fmt.Errorf("%w: default acceptor %q does not accept all errors", errspkg.ErrAcceptorRequired, def.Name())
		}
		h.acceptors = append(h.acceptors, def)
	}
	return h, nil
}

// Acceptors returns the effective acceptor list.
func (h *Handler) Acceptors() []Acceptor {
	return append([]Acceptor(nil), h.acceptors...)
}

// Handle dispatches ex. When an acceptor recovers the failure it returns the
// recovered event and a nil error, and ex is marked handled. Otherwise it
// returns the exception that must be surfaced to the caller: ex itself, or a
// new exception if the acceptor failed.
func (h *Handler) Handle(ctx context.Context, ex *exception.MessagingException) (*event.Event, error) {
	t := ex.ErrorType()
	typeLabel := t.String()
	h.metrics.dispatched(h.name, typeLabel)

	fields := logging.LogFields{"error_type": typeLabel, "component": ex.FailingComponent()}
	if ev := ex.Event(); ev != nil {
		fields["correlation_id"] = ev.CorrelationID()
	}

	if t != nil && h.repo.IsCritical(t) {
		h.metrics.critical(h.name, typeLabel)
		h.log.Error("Critical failure bypasses error handler", ex, fields)
		return nil, ex
	}

	ev := ex.Event()
	for _, a := range h.acceptors {
		if !a.Accept(ev) {
			continue
		}
		fields["acceptor"] = a.Name()
		h.log.Debug("Dispatching failure to acceptor", fields)

		res, err := a.Handle(ctx, ex)
		if err != nil {
			failed := h.acceptorFailure(res.Event, ev, a, err)
			h.metrics.propagated(h.name, failed.ErrorType().String())
			h.log.Error("Error acceptor failed", err, fields)
			return nil, failed
		}
		if res.Event != nil {
			ex.SetProcessedEvent(res.Event)
		}
		if res.Continue {
			recovered := res.Event
			if recovered == nil {
				recovered = ev
			}
			ex.SetHandled(true)
			h.metrics.handled(h.name, typeLabel)
			if recovered != nil {
				recovered = recovered.WithError(nil)
			}
			return recovered, nil
		}
		h.metrics.propagated(h.name, typeLabel)
		return nil, ex
	}

	h.metrics.propagated(h.name, typeLabel)
	h.log.Error("No error acceptor matched", ex, fields)
	return nil, ex
}

func (h *Handler) acceptorFailure(processed, original *event.Event, a Acceptor, err error) *exception.MessagingException {
	ev := processed
	if ev == nil {
		ev = original
	}
	if ev != nil {
		// The new exception attaches its own failure to the event.
		ev = ev.WithError(nil)
	}
	return exception.New(ev, err,
		exception.WithComponent("acceptor:"+a.Name()),
		exception.WithErrorType(h.locator.Resolve(err)),
	)
}
