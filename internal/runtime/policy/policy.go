// Package policy composes cross-cutting interceptors around a terminal
// processor.
//
// A composite built from policies P1..Pn and terminal T runs P1(P2(...Pn(T))):
// P1 sees the event first and the result last. Each policy runs against a
// policy-scoped view of the event, so the variables it sets stay private to
// it, and reaches the terminal through a non-owning Handle that may be
// released while the composite is still alive.
package policy

import (
	"context"
	"sort"

	"github.com/drblury/policyflow/internal/runtime/event"
)

// Processor is one executable step.
type Processor func(ctx context.Context, ev *event.Event) (*event.Event, error)

// Chain is the logic of a single policy. It continues processing by calling
// next and may inspect or replace the result.
type Chain func(ctx context.Context, ev *event.Event, next Processor) (*event.Event, error)

// Pointcut decides whether a policy applies to an event. A nil Pointcut
// applies to every event.
type Pointcut func(ev *event.Event) bool

// Policy is a single interceptor.
type Policy struct {
	ID       string
	Order    int
	Pointcut Pointcut
	Chain    Chain
}

// Applies reports whether the policy should run for ev.
func (p Policy) Applies(ev *event.Event) bool {
	return p.Pointcut == nil || p.Pointcut(ev)
}

// Sort orders policies by Order, keeping declaration order for ties.
func Sort(policies []Policy) []Policy {
	out := make([]Policy, len(policies))
	copy(out, policies)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

type propagationKey struct{}

type parametersKey struct{}

// WithPropagation records whether message transformations made by policies
// are visible to their callers.
func WithPropagation(ctx context.Context, propagate bool) context.Context {
	return context.WithValue(ctx, propagationKey{}, propagate)
}

// PropagatesTransformations reads the flag set by WithPropagation. It is
// false when unset.
func PropagatesTransformations(ctx context.Context) bool {
	v, _ := ctx.Value(propagationKey{}).(bool)
	return v
}

// Parameters are the resolved parameters of an operation invocation.
type Parameters map[string]any

// WithOperationParameters returns a context carrying params for the
// operation at the end of the chain. Policies call it before next to
// override parameters.
func WithOperationParameters(ctx context.Context, params Parameters) context.Context {
	cp := make(Parameters, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return context.WithValue(ctx, parametersKey{}, cp)
}

// OperationParameters returns a copy of the parameters carried by ctx.
func OperationParameters(ctx context.Context) Parameters {
	params, _ := ctx.Value(parametersKey{}).(Parameters)
	out := make(Parameters, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
