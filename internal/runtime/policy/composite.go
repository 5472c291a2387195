package policy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/errtype"
	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
	"github.com/drblury/policyflow/internal/runtime/logging"
)

// DefaultTerminalName is the failing component recorded for errors raised by
// the terminal processor.
const DefaultTerminalName = "next"

// Option configures a Composite.
type Option func(*options)

type options struct {
	locator      *errtype.Locator
	propagate    bool
	terminalName string
	logger       logging.ServiceLogger
}

// WithLocator sets the locator used to classify non-exception failures. It
// must share its repository with the error handler that dispatches them.
func WithLocator(locator *errtype.Locator) Option {
	return func(o *options) { o.locator = locator }
}

// WithPropagateTransformations makes message changes done by a policy after
// next returns visible to the caller of that policy.
func WithPropagateTransformations(propagate bool) Option {
	return func(o *options) { o.propagate = propagate }
}

// WithTerminalName names the terminal in exceptions it raises.
func WithTerminalName(name string) Option {
	return func(o *options) { o.terminalName = name }
}

// WithLogger sets the logger used by executors.
func WithLogger(log logging.ServiceLogger) Option {
	return func(o *options) { o.logger = log }
}

func buildOptions(opts []Option) options {
	o := options{terminalName: DefaultTerminalName}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.locator == nil {
		o.locator = errtype.NewLocator(errtype.NewRepository())
	}
	o.logger = logging.OrNop(o.logger)
	return o
}

// Composite is a policy list folded around a terminal processor.
type Composite struct {
	policies  []Policy
	arena     *Arena
	next      Handle
	processor Processor
	opts      options
}

// NewComposite builds a composite owning next. The policy list must not be
// empty.
func NewComposite(policies []Policy, next Processor, opts ...Option) (*Composite, error) {
	if next == nil {
		return nil, errspkg.ErrTerminalRequired
	}
	arena := NewArena()
	handle := arena.Register(next)
	c, err := NewCompositeForHandle(policies, arena, handle, opts...)
	if err != nil {
		arena.Release(handle)
		return nil, err
	}
	return c, nil
}

// NewCompositeForHandle builds a composite that reaches its terminal through
// a handle owned by arena. Releasing the handle makes in-flight and future
// runs fail with ErrNextUnavailable.
func NewCompositeForHandle(policies []Policy, arena *Arena, next Handle, opts ...Option) (*Composite, error) {
	if len(policies) == 0 {
		return nil, errspkg.ErrEmptyPolicyChain
	}
	if arena == nil {
		return nil, errspkg.ErrTerminalRequired
	}
	for i, p := range policies {
		if p.Chain == nil {
			return nil, fmt.Errorf("%w: policy %q at position %d", errspkg.ErrNilPolicyChain, p.ID, i)
		}
	}

	c := &Composite{
		policies: append([]Policy(nil), policies...),
		arena:    arena,
		next:     next,
		opts:     buildOptions(opts),
	}

	var proc Processor = c.terminal
	for i := len(c.policies) - 1; i >= 0; i-- {
		proc = c.apply(c.policies[i], proc)
	}
	c.processor = proc
	return c, nil
}

// Policies returns the policies in execution order.
func (c *Composite) Policies() []Policy {
	return append([]Policy(nil), c.policies...)
}

// Locator returns the locator used to classify failures.
func (c *Composite) Locator() *errtype.Locator { return c.opts.locator }

// Run executes the composite. Failures are returned as
// *exception.MessagingException.
func (c *Composite) Run(ctx context.Context, ev *event.Event) (*event.Event, error) {
	return c.processor(WithPropagation(ctx, c.opts.propagate), ev)
}

// ReleaseNext drops the terminal from the arena.
func (c *Composite) ReleaseNext() bool {
	return c.arena.Release(c.next)
}

func (c *Composite) terminal(ctx context.Context, ev *event.Event) (*event.Event, error) {
	next, ok := c.arena.Resolve(c.next)
	if !ok {
		return nil, c.exception(ev, errspkg.ErrNextUnavailable, c.opts.terminalName)
	}
	out, err := next(ctx, ev)
	if err != nil {
		return nil, c.exception(ev, err, c.opts.terminalName)
	}
	if out == nil {
		out = ev
	}
	return out, nil
}

// apply weaves p around next. The policy sees an event with its own
// variable set; the flow below it keeps the caller's variables and receives
// the message the policy forwarded.
func (c *Composite) apply(p Policy, next Processor) Processor {
	return func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		if !p.Applies(ev) {
			return next(ctx, ev)
		}

		var downstream atomic.Pointer[event.Event]
		scoped := ev.WithVariables(nil)
		out, err := p.Chain(ctx, scoped, func(ctx context.Context, pev *event.Event) (*event.Event, error) {
			res, err := next(ctx, ev.WithMessage(pev.Message()))
			if err != nil {
				return nil, err
			}
			downstream.Store(res)
			return res.WithVariables(pev.Variables()), nil
		})
		if err != nil {
			return nil, c.exception(ev, err, p.ID)
		}

		result := downstream.Load()
		switch {
		case result == nil && out == nil:
			return ev, nil
		case result == nil:
			return ev.WithMessage(out.Message()), nil
		case out != nil && PropagatesTransformations(ctx):
			return result.WithMessage(out.Message()), nil
		default:
			return result, nil
		}
	}
}

func (c *Composite) exception(ev *event.Event, err error, component string) *exception.MessagingException {
	var existing *exception.MessagingException
	if errors.As(err, &existing) {
		return existing
	}
	return exception.New(ev, err,
		exception.WithComponent(component),
		exception.WithErrorType(c.opts.locator.Resolve(err)),
	)
}
