// Package pool keeps a fixed set of long-lived pipeline instances and routes
// events to them.
//
// Routing is round-robin unless the submitting context carries an active
// transaction, in which case every event of that transaction goes to the
// pipeline that received its first event. Each pipeline runs on its own
// goroutine and processes its queue in order.
package pool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/logging"
	"github.com/drblury/policyflow/internal/runtime/outcome"
	"github.com/drblury/policyflow/internal/runtime/tx"
)

// DefaultQueueSize is the per-pipeline buffer used when Config.QueueSize is 0.
const DefaultQueueSize = 64

// Pipeline processes one event at a time and reports through cb.
// *policy.SourceExecutor implements it.
type Pipeline interface {
	Process(ctx context.Context, ev *event.Event, rpp outcome.ResponseParametersProcessor, cb outcome.Callback)
}

// Disposer is implemented by pipelines that hold resources.
type Disposer interface {
	Dispose()
}

// Factory builds the pipeline at position index.
type Factory func(index int) (Pipeline, error)

// Config configures a Pool.
type Config struct {
	// Name labels logs and metrics.
	Name string
	// Size is the number of pipelines. Zero means runtime.NumCPU().
	Size int
	// QueueSize bounds the events waiting for each pipeline.
	QueueSize int
	Logger    logging.ServiceLogger
	Metrics   *Metrics
}

type job struct {
	ctx context.Context
	ev  *event.Event
	rpp outcome.ResponseParametersProcessor
	cb  outcome.Callback
}

type worker struct {
	index     int
	pipeline  Pipeline
	jobs      chan job
	processed atomic.Uint64
}

// Pool routes events to a fixed set of pipelines.
type Pool struct {
	name    string
	log     logging.ServiceLogger
	metrics *Metrics
	workers []*worker
	cursor  atomic.Uint64

	lifecycle sync.RWMutex
	disposed  bool
	closing   chan struct{}
	wg        sync.WaitGroup
	once      sync.Once

	stickyMu sync.Mutex
	sticky   map[string]int
}

// PipelineStats describes one pipeline instance.
type PipelineStats struct {
	Index     int    `json:"index"`
	Processed uint64 `json:"processed"`
	Queued    int    `json:"queued"`
}

// New builds every pipeline eagerly and starts them.
func New(factory Factory, cfg Config) (*Pool, error) {
	if factory == nil {
		return nil, errspkg.ErrPipelineFactory
	}
	if cfg.Size < 0 {
		return nil, fmt.Errorf("%w: %d", errspkg.ErrPoolSize, cfg.Size)
	}
	size := cfg.Size
	if size == 0 {
		size = runtime.NumCPU()
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = DefaultQueueSize
	}

	p := &Pool{
		name:    cfg.Name,
		log:     logging.OrNop(cfg.Logger).With(logging.LogFields{"pool": cfg.Name}),
		metrics: cfg.Metrics,
		closing: make(chan struct{}),
		sticky:  make(map[string]int),
	}

	for i := 0; i < size; i++ {
		pipeline, err := factory(i)
		if err == nil && pipeline == nil {
			err = errspkg.ErrPipelineFactory
		}
		if err != nil {
			for _, w := range p.workers {
				disposePipeline(w.pipeline)
			}
			return nil, fmt.Errorf("build pipeline %d: %w", i, err)
		}
		p.workers = append(p.workers, &worker{index: i, pipeline: pipeline, jobs: make(chan job, queue)})
	}

	for _, w := range p.workers {
		p.wg.Add(1)
		go p.run(w)
	}
	p.metrics.setPipelines(p.name, size)
	p.log.Debug("Pipeline pool started", logging.LogFields{"size": size, "queue_size": queue})
	return p, nil
}

// Size returns the number of pipelines.
func (p *Pool) Size() int { return len(p.workers) }

// Submit routes ev to a pipeline. cb is invoked once the event finishes,
// unless its context was already completed. Submitting to a disposed pool
// returns ErrPoolDisposed.
func (p *Pool) Submit(ctx context.Context, ev *event.Event, rpp outcome.ResponseParametersProcessor, cb outcome.Callback) error {
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()

	if p.disposed {
		p.metrics.rejected(p.name)
		return errspkg.ErrPoolDisposed
	}

	w := p.workers[p.route(ctx)]
	select {
	case w.jobs <- job{ctx: ctx, ev: ev, rpp: rpp, cb: cb}:
		p.metrics.submitted(p.name, w.index)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) route(ctx context.Context) int {
	t, ok := tx.Active(ctx)
	if !ok {
		return p.roundRobin()
	}

	id := t.ID()
	p.stickyMu.Lock()
	idx, pinned := p.sticky[id]
	if !pinned {
		idx = p.roundRobin()
		p.sticky[id] = idx
	}
	count := len(p.sticky)
	p.stickyMu.Unlock()

	if !pinned {
		p.metrics.setSticky(p.name, count)
		t.OnComplete(func(done *tx.Transaction) { p.unpin(done.ID()) })
	}
	return idx
}

func (p *Pool) roundRobin() int {
	return int((p.cursor.Add(1) - 1) % uint64(len(p.workers)))
}

func (p *Pool) unpin(id string) {
	p.stickyMu.Lock()
	delete(p.sticky, id)
	count := len(p.sticky)
	p.stickyMu.Unlock()
	p.metrics.setSticky(p.name, count)
}

// Pinned returns the pipeline a transaction is routed to.
func (p *Pool) Pinned(txID string) (int, bool) {
	p.stickyMu.Lock()
	defer p.stickyMu.Unlock()
	idx, ok := p.sticky[txID]
	return idx, ok
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	for {
		select {
		case j := <-w.jobs:
			p.execute(w, j)
		case <-p.closing:
			for {
				select {
				case j := <-w.jobs:
					p.execute(w, j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) execute(w *worker, j job) {
	w.processed.Add(1)
	w.pipeline.Process(j.ctx, j.ev, j.rpp, func(o outcome.Outcome) {
		if !complete(j.ev.Context(), o) {
			p.log.Debug("Dropping outcome for completed context", logging.LogFields{
				"pipeline":       w.index,
				"correlation_id": j.ev.CorrelationID(),
			})
			return
		}
		if j.cb != nil {
			j.cb(o)
		}
	})
}

func complete(c *event.Context, o outcome.Outcome) bool {
	switch res := o.(type) {
	case *outcome.Success:
		return c.Complete(res.Event())
	case *outcome.Failure:
		return c.CompleteWithError(res.Exception())
	default:
		return false
	}
}

// Stats returns per-pipeline counters.
func (p *Pool) Stats() []PipelineStats {
	out := make([]PipelineStats, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, PipelineStats{Index: w.index, Processed: w.processed.Load(), Queued: len(w.jobs)})
	}
	return out
}

// Dispose stops accepting events, lets queued events finish and disposes
// every pipeline. It blocks until the pipelines are stopped.
func (p *Pool) Dispose() {
	p.once.Do(p.dispose)
}

// DeferredDispose returns a function that disposes the pool when called.
// The pool keeps running until then.
func (p *Pool) DeferredDispose() func() {
	return p.Dispose
}

// Disposed reports whether Dispose has run.
func (p *Pool) Disposed() bool {
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()
	return p.disposed
}

func (p *Pool) dispose() {
	p.lifecycle.Lock()
	p.disposed = true
	close(p.closing)
	p.lifecycle.Unlock()

	p.wg.Wait()
	for _, w := range p.workers {
		disposePipeline(w.pipeline)
	}
	p.metrics.setPipelines(p.name, 0)
	p.log.Debug("Pipeline pool disposed", nil)
}

func disposePipeline(pipeline Pipeline) {
	if d, ok := pipeline.(Disposer); ok {
		d.Dispose()
	}
}
