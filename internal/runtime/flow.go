package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/policyflow/internal/runtime/errorhandler"
	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
	idspkg "github.com/drblury/policyflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/policyflow/internal/runtime/logging"
	"github.com/drblury/policyflow/internal/runtime/outcome"
	"github.com/drblury/policyflow/internal/runtime/policies"
	"github.com/drblury/policyflow/internal/runtime/policy"
	"github.com/drblury/policyflow/internal/runtime/pool"
	"github.com/drblury/policyflow/internal/runtime/tx"
)

// Failing components reported for response failures.
const (
	ComponentResponse      = "response"
	ComponentErrorResponse = "error-response"
)

// FlowRegistration describes a flow hosted by a Service.
type FlowRegistration struct {
	// Name identifies the flow in logs, metrics and the admin API.
	Name string
	// ConsumeQueue is the topic the flow reads from.
	ConsumeQueue string
	// PublishQueue receives the event that completed the flow. Empty
	// discards it.
	PublishQueue string
	// ErrorQueue receives the event of failures the error handler did not
	// recover, with the error response parameters as metadata.
	ErrorQueue string

	// Policies wrap Flow. A correlation policy is added when none is given.
	Policies []policy.Policy
	Flow     policy.Processor

	// Acceptors handle failures in order. A propagating catch-all is added
	// when the last one does not accept every error, unless DefaultAcceptor
	// is set.
	Acceptors       []errorhandler.Acceptor
	DefaultAcceptor errorhandler.Acceptor

	ResponseParameters outcome.ResponseParametersProcessor

	// PoolSize overrides the configured pipeline pool size.
	PoolSize int
	// PropagateTransformations is combined with the config flag: either one
	// enables propagation for this flow.
	PropagateTransformations bool

	// Subscriber and Publisher override the service transport.
	Subscriber message.Subscriber
	Publisher  message.Publisher
}

func (r FlowRegistration) validate() error {
	if r.Name == "" {
		return errspkg.ErrFlowNameRequired
	}
	if r.ConsumeQueue == "" {
		return fmt.Errorf("%w: flow %s", errspkg.ErrConsumeQueue, r.Name)
	}
	if r.Flow == nil {
		return fmt.Errorf("%w: flow %s", errspkg.ErrFlowRequired, r.Name)
	}
	return nil
}

// Flow is a registered flow.
type Flow struct {
	svc       *Service
	name      string
	reg       FlowRegistration
	publisher message.Publisher
	handle    policy.Handle
	policies  []policy.Policy
	pool      *pool.Pool
	handler   *errorhandler.Handler
	stats     *FlowStats
	log       loggingpkg.ServiceLogger
}

// RegisterFlow builds the pipeline pool and error handler of reg and
// subscribes it to its consume queue.
func (s *Service) RegisterFlow(reg FlowRegistration) (*Flow, error) {
	if err := reg.validate(); err != nil {
		return nil, err
	}
	if _, exists := s.Flow(reg.Name); exists {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrFlowExists, reg.Name)
	}

	f := &Flow{
		svc:       s,
		name:      reg.Name,
		reg:       reg,
		publisher: reg.Publisher,
		policies:  policy.Sort(withCorrelation(reg.Policies)),
		stats:     newFlowStats(),
		log:       s.Logger.With(loggingpkg.LogFields{"flow": reg.Name}),
	}
	if f.publisher == nil {
		f.publisher = s.publisher
	}
	subscriber := reg.Subscriber
	if subscriber == nil {
		subscriber = s.subscriber
	}

	var err error
	f.handler, err = errorhandler.New(errorhandler.Config{
		Name:    reg.Name,
		Locator: s.locator,
		Logger:  s.Logger,
		Metrics: s.handlerMx,
		Default: reg.DefaultAcceptor,
	}, reg.Acceptors...)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", reg.Name, err)
	}

	f.handle = s.arena.Register(reg.Flow)
	opts := []policy.Option{
		policy.WithLocator(s.locator),
		policy.WithPropagateTransformations(s.Conf.PropagateTransformations || reg.PropagateTransformations),
		policy.WithTerminalName(reg.Name),
		policy.WithLogger(f.log),
	}
	size := reg.PoolSize
	if size <= 0 {
		size = s.Conf.EffectivePoolSize()
	}
	f.pool, err = pool.New(func(int) (pool.Pipeline, error) {
		c, err := policy.NewCompositeForHandle(f.policies, s.arena, f.handle, opts...)
		if err != nil {
			return nil, err
		}
		return policy.NewSourceExecutor(c), nil
	}, pool.Config{
		Name:      reg.Name,
		Size:      size,
		QueueSize: s.Conf.PipelineQueueSize,
		Logger:    s.Logger,
		Metrics:   s.poolMx,
	})
	if err != nil {
		s.arena.Release(f.handle)
		return nil, fmt.Errorf("flow %s: %w", reg.Name, err)
	}

	s.router.AddNoPublisherHandler(reg.Name, reg.ConsumeQueue, subscriber, f.consume)

	s.flowsMu.Lock()
	s.flows = append(s.flows, f)
	s.flowsMu.Unlock()

	f.log.Info("Registered flow", loggingpkg.LogFields{
		"consume_queue": reg.ConsumeQueue,
		"publish_queue": reg.PublishQueue,
		"pool_size":     f.pool.Size(),
		"policies":      policyIDs(f.policies),
	})
	return f, nil
}

func withCorrelation(in []policy.Policy) []policy.Policy {
	for _, p := range in {
		if p.ID == policies.CorrelationID {
			return in
		}
	}
	corr := policies.Correlation()
	corr.Order = math.MinInt
	return append([]policy.Policy{corr}, in...)
}

func policyIDs(ps []policy.Policy) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}

// Name returns the flow name.
func (f *Flow) Name() string { return f.name }

// Stats returns a snapshot of the flow statistics.
func (f *Flow) Stats() FlowStatsSnapshot { return f.stats.Snapshot() }

// Pipelines returns per-pipeline counters of the flow pool.
func (f *Flow) Pipelines() []pool.PipelineStats { return f.pool.Stats() }

// consume runs one message through the flow. Returning nil acks the message.
func (f *Flow) consume(msg *message.Message) error {
	s := f.svc
	start := time.Now()
	ctx, transaction := s.txs.bind(msg.Context(), msg)
	s.flowMx.transactions(s.Conf.PubSubSystem, s.txs.count())

	ev := event.FromWatermill(f.name, msg)
	fc := FlowContext{
		Flow:          f.name,
		ConsumeQueue:  f.reg.ConsumeQueue,
		MessageUUID:   msg.UUID,
		CorrelationID: ev.CorrelationID(),
		StartedAt:     start,
	}
	if transaction != nil {
		fc.TransactionID = transaction.ID()
	}
	f.stats.onStart()
	s.hooks.start(fc)

	o, err := f.process(ctx, ev)
	if err != nil {
		f.finish(fc, transaction, msg, FlowResultFailed, "", err)
		return err
	}

	switch res := o.(type) {
	case *outcome.Success:
		if sendErr := f.respond(ctx, res); sendErr != nil {
			return f.fail(ctx, fc, transaction, msg, res.SendFailed(sendErr))
		}
		fc.Duration = time.Since(start)
		s.hooks.success(fc, res.Event())
		f.finish(fc, transaction, msg, FlowResultSuccess, "", nil)
		return nil
	case *outcome.Failure:
		return f.fail(ctx, fc, transaction, msg, res)
	default:
		err := fmt.Errorf("flow %s: unexpected outcome %T", f.name, o)
		f.finish(fc, transaction, msg, FlowResultFailed, "", err)
		return err
	}
}

// process submits ev to the pool and waits for its outcome or for ctx.
func (f *Flow) process(ctx context.Context, ev *event.Event) (outcome.Outcome, error) {
	done := make(chan outcome.Outcome, 1)
	if err := f.pool.Submit(ctx, ev, f.reg.ResponseParameters, func(o outcome.Outcome) { done <- o }); err != nil {
		return nil, err
	}
	select {
	case o := <-done:
		return o, nil
	case <-ctx.Done():
		if ev.Context().CompleteWithError(ctx.Err()) {
			return nil, ctx.Err()
		}
		return <-done, nil
	}
}

// respond publishes the event of a successful outcome. A failure to build
// the response parameters or to publish is returned as an exception.
func (f *Flow) respond(ctx context.Context, res *outcome.Success) *exception.MessagingException {
	ev := res.Event()
	params, err := res.ResponseParameters()
	if err != nil {
		return exception.Wrap(ev, err, f.svc.locator, ComponentResponse)
	}
	if err := f.publish(ctx, f.reg.PublishQueue, ev, params); err != nil {
		return exception.Wrap(ev, &outcome.ResponseError{Phase: outcome.PhaseSend, Cause: err}, f.svc.locator, ComponentResponse)
	}
	return nil
}

// fail dispatches failure to the error handler. Recovered failures publish
// the recovered event and ack the message.
func (f *Flow) fail(ctx context.Context, fc FlowContext, transaction *tx.Transaction, msg *message.Message, failure *outcome.Failure) error {
	s := f.svc
	ex := failure.Exception()
	recovered, err := f.handler.Handle(ctx, ex)
	fc.Duration = time.Since(fc.StartedAt)

	if err == nil {
		if pubErr := f.publish(ctx, f.reg.PublishQueue, recovered, nil); pubErr != nil {
			f.log.Error("Failed to publish recovered event", pubErr, loggingpkg.LogFields{"correlation_id": fc.CorrelationID})
		}
		s.hooks.success(fc, recovered)
		f.finish(fc, transaction, msg, FlowResultHandled, typeName(ex), nil)
		return nil
	}

	surfaced := ex
	if !errors.As(err, &surfaced) {
		surfaced = exception.Wrap(ex.Event(), err, s.locator, ex.FailingComponent())
	}
	if f.reg.ErrorQueue != "" {
		f.sendErrorResponse(ctx, failure, surfaced)
	}

	result := FlowResultFailed
	if s.repo.IsCritical(surfaced.ErrorType()) {
		result = FlowResultCritical
	}
	s.hooks.failure(fc, surfaced)
	f.finish(fc, transaction, msg, result, typeName(surfaced), surfaced)
	return surfaced
}

func (f *Flow) sendErrorResponse(ctx context.Context, failure *outcome.Failure, ex *exception.MessagingException) {
	params, err := failure.ErrorResponseParameters()
	if err != nil {
		f.log.Error("Failed to generate error response", err, loggingpkg.LogFields{"correlation_id": ex.Event().CorrelationID()})
		params = nil
	}
	if params == nil {
		params = outcome.ResponseParameters{}
	}
	params["error_type"] = typeName(ex)
	params["error"] = ex.Error()
	if err := f.publish(ctx, f.reg.ErrorQueue, ex.Event(), params); err != nil {
		f.log.Error("Failed to publish error response", err, loggingpkg.LogFields{
			"component":      ComponentErrorResponse,
			"correlation_id": ex.Event().CorrelationID(),
		})
	}
}

// publish renders ev with params as metadata and publishes it to topic.
// An empty topic publishes nothing.
func (f *Flow) publish(ctx context.Context, topic string, ev *event.Event, params outcome.ResponseParameters) error {
	if topic == "" || ev == nil {
		return nil
	}
	if f.publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	out := event.ToWatermill(ev, idspkg.NewEventID())
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Metadata.Set(k, fmt.Sprint(params[k]))
	}
	if active, ok := tx.Active(ctx); ok {
		out.Metadata.Set(MetadataTransactionID, active.ID())
	}
	middleware.SetCorrelationID(ev.CorrelationID(), out)
	out.SetContext(ctx)
	return f.publisher.Publish(topic, out)
}

func (f *Flow) finish(fc FlowContext, transaction *tx.Transaction, msg *message.Message, result FlowResult, errorType string, err error) {
	d := time.Since(fc.StartedAt)
	f.stats.onFinish(result, d, errorType, err)
	f.svc.flowMx.observe(f.name, result, d)
	f.svc.txs.finish(transaction, msg, result == FlowResultFailed || result == FlowResultCritical)
	f.svc.flowMx.transactions(f.svc.Conf.PubSubSystem, f.svc.txs.count())
}

// close returns the disposer of the flow pool. The flow terminal is released
// once the pool is disposed.
func (f *Flow) close() func() {
	dispose := f.pool.DeferredDispose()
	return func() {
		dispose()
		f.svc.arena.Release(f.handle)
	}
}

func typeName(ex *exception.MessagingException) string {
	if ex == nil || ex.ErrorType() == nil {
		return ""
	}
	return ex.ErrorType().String()
}
