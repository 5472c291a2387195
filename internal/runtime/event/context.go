package event

import (
	"sync"
	"time"

	idspkg "github.com/drblury/policyflow/internal/runtime/ids"
)

// Context is the processing context shared by every copy of an event. It
// outlives individual events and records completion exactly once.
type Context struct {
	id            string
	correlationID string
	flowName      string
	createdAt     time.Time

	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	result *Event
	err    error
}

// NewContext creates a context for flowName. An empty correlation id is
// replaced with a generated one.
func NewContext(flowName, correlationID string) *Context {
	if correlationID == "" {
		correlationID = idspkg.NewCorrelationID()
	}
	return &Context{
		id:            idspkg.NewEventID(),
		correlationID: correlationID,
		flowName:      flowName,
		createdAt:     time.Now(),
		done:          make(chan struct{}),
	}
}

func (c *Context) ID() string            { return c.id }
func (c *Context) CorrelationID() string { return c.correlationID }
func (c *Context) FlowName() string      { return c.flowName }
func (c *Context) CreatedAt() time.Time  { return c.createdAt }

// Complete marks the context successful. It returns false when the context
// was already completed, in which case nothing changes.
func (c *Context) Complete(result *Event) bool {
	return c.finish(result, nil)
}

// CompleteWithError marks the context failed. It returns false when the
// context was already completed.
func (c *Context) CompleteWithError(err error) bool {
	return c.finish(nil, err)
}

func (c *Context) finish(result *Event, err error) bool {
	completed := false
	c.once.Do(func() {
		c.mu.Lock()
		c.result = result
		c.err = err
		c.mu.Unlock()
		close(c.done)
		completed = true
	})
	return completed
}

// Done is closed once the context completes.
func (c *Context) Done() <-chan struct{} { return c.done }

// IsComplete reports whether Complete or CompleteWithError already ran.
func (c *Context) IsComplete() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Result returns the completion state. Both values are nil before completion.
func (c *Context) Result() (*Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result, c.err
}
