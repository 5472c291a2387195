// Package tx exposes the transaction bound to a processing context.
//
// The runtime does not coordinate transactions itself. A source that opens a
// transaction binds it to the context; the pipeline pool asks Active to find
// out whether routing must stick to one pipeline.
package tx

import (
	"context"
	"sync"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/ids"
)

// State is the lifecycle state of a transaction.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transaction is a unit of work spanning one or more messages.
type Transaction struct {
	id string

	mu        sync.Mutex
	state     State
	listeners []func(*Transaction)
}

// New starts a transaction with a generated id.
func New() *Transaction {
	return NewWithID(ids.NewTransactionID())
}

// NewWithID starts a transaction with a caller supplied id.
func NewWithID(id string) *Transaction {
	return &Transaction{id: id}
}

func (t *Transaction) ID() string { return t.id }

// State returns the current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsActive reports whether the transaction has not finished.
func (t *Transaction) IsActive() bool { return t.State() == StateActive }

// OnComplete registers fn to run once the transaction commits or rolls back.
// If it already finished, fn runs immediately.
func (t *Transaction) OnComplete(fn func(*Transaction)) {
	t.mu.Lock()
	if t.state == StateActive {
		t.listeners = append(t.listeners, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn(t)
}

// Commit finishes the transaction successfully.
func (t *Transaction) Commit() error { return t.finish(StateCommitted) }

// Rollback finishes the transaction unsuccessfully.
func (t *Transaction) Rollback() error { return t.finish(StateRolledBack) }

func (t *Transaction) finish(state State) error {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return errspkg.ErrTransactionClosed
	}
	t.state = state
	listeners := t.listeners
	t.listeners = nil
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	return nil
}

type contextKey struct{}

// Bind returns a context carrying t.
func Bind(ctx context.Context, t *Transaction) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the transaction bound to ctx, finished or not.
func FromContext(ctx context.Context) (*Transaction, bool) {
	t, ok := ctx.Value(contextKey{}).(*Transaction)
	return t, ok && t != nil
}

// Active returns the transaction bound to ctx if it is still active.
func Active(ctx context.Context) (*Transaction, bool) {
	t, ok := FromContext(ctx)
	if !ok || !t.IsActive() {
		return nil, false
	}
	return t, true
}
