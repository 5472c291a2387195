package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/policyflow/internal/runtime/tx"
)

// Message metadata keys that group messages into a transaction. Messages
// sharing MetadataTransactionID are routed to one pipeline until a message
// carrying MetadataTransactionEnd finishes the transaction, or until the
// transaction stays idle for the configured timeout.
const (
	MetadataTransactionID  = "policyflow_tx_id"
	MetadataTransactionEnd = "policyflow_tx_end"

	TransactionCommit   = "commit"
	TransactionRollback = "rollback"
)

// DefaultTransactionIdleTimeout bounds how long an open transaction may wait
// for its next message.
const DefaultTransactionIdleTimeout = time.Minute

type openTransaction struct {
	tx   *tx.Transaction
	idle *time.Timer
}

// transactions tracks the transactions opened by inbound messages.
type transactions struct {
	mu          sync.Mutex
	open        map[string]*openTransaction
	idleTimeout time.Duration
}

func newTransactions(idleTimeout time.Duration) *transactions {
	if idleTimeout <= 0 {
		idleTimeout = DefaultTransactionIdleTimeout
	}
	return &transactions{open: make(map[string]*openTransaction), idleTimeout: idleTimeout}
}

// bind returns ctx carrying the transaction named by msg, opening it on first
// sight. Messages without a transaction id are returned unchanged. Every
// bound message restarts the idle timer.
func (t *transactions) bind(ctx context.Context, msg *message.Message) (context.Context, *tx.Transaction) {
	id := msg.Metadata.Get(MetadataTransactionID)
	if id == "" {
		return ctx, nil
	}

	t.mu.Lock()
	current, ok := t.open[id]
	if !ok || !current.tx.IsActive() {
		transaction := tx.NewWithID(id)
		current = &openTransaction{tx: transaction}
		current.idle = time.AfterFunc(t.idleTimeout, func() { _ = transaction.Rollback() })
		t.open[id] = current
		t.mu.Unlock()
		transaction.OnComplete(t.forget)
		return tx.Bind(ctx, transaction), transaction
	}
	current.idle.Reset(t.idleTimeout)
	t.mu.Unlock()
	return tx.Bind(ctx, current.tx), current.tx
}

func (t *transactions) forget(done *tx.Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.open[done.ID()]; ok && current.tx == done {
		current.idle.Stop()
		delete(t.open, done.ID())
	}
}

// finish commits or rolls back transaction when msg ends it. A failed
// message rolls back regardless of the requested end.
func (t *transactions) finish(transaction *tx.Transaction, msg *message.Message, failed bool) {
	if transaction == nil {
		return
	}
	end := msg.Metadata.Get(MetadataTransactionEnd)
	switch {
	case failed && end != "":
		_ = transaction.Rollback()
	case end == TransactionCommit:
		_ = transaction.Commit()
	case end == TransactionRollback:
		_ = transaction.Rollback()
	default:
		t.touch(transaction)
	}
}

// touch restarts the idle timer of an open transaction.
func (t *transactions) touch(transaction *tx.Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.open[transaction.ID()]; ok && current.tx == transaction {
		current.idle.Reset(t.idleTimeout)
	}
}

func (t *transactions) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// rollbackAll aborts every open transaction.
func (t *transactions) rollbackAll() {
	t.mu.Lock()
	open := make([]*tx.Transaction, 0, len(t.open))
	for _, current := range t.open {
		open = append(open, current.tx)
	}
	t.mu.Unlock()

	for _, transaction := range open {
		_ = transaction.Rollback()
	}
}
