// Package policies provides the built-in policies and a bridge that runs any
// Watermill handler middleware as a policy.
package policies

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/sony/gobreaker"

	"github.com/drblury/policyflow/internal/runtime/errtype"
	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
	"github.com/drblury/policyflow/internal/runtime/logging"
	"github.com/drblury/policyflow/internal/runtime/policy"
)

// Policy identifiers used by the built-ins.
const (
	LoggingID        = "logging"
	TracingID        = "tracing"
	CorrelationID    = "correlation"
	RetryID          = "retry"
	TimeoutID        = "timeout"
	CircuitBreakerID = "circuit-breaker"
	ThrottleID       = "throttle"
	ProtoValidateID  = "proto-validate"
)

// FromMiddleware runs mw around the rest of the chain. The event travels as
// a Watermill message whose context is the chain context, so middlewares
// that derive a new context (timeouts, tracing) affect everything below.
func FromMiddleware(id string, mw message.HandlerMiddleware) policy.Policy {
	return policy.Policy{
		ID: id,
		Chain: func(ctx context.Context, ev *event.Event, next policy.Processor) (*event.Event, error) {
			var result *event.Event
			handler := mw(func(msg *message.Message) ([]*message.Message, error) {
				out, err := next(msg.Context(), ev.WithMessage(event.MessageFromWatermill(msg)))
				if err != nil {
					return nil, err
				}
				result = out
				return nil, nil
			})

			msg := event.ToWatermill(ev, ev.Context().ID())
			msg.SetContext(ctx)
			if _, err := handler(msg); err != nil {
				return nil, err
			}
			if result == nil {
				return ev, nil
			}
			return result, nil
		},
	}
}

// Correlation makes sure the message carries the correlation id of its
// context in the Watermill correlation metadata key.
func Correlation() policy.Policy {
	return policy.Policy{
		ID: CorrelationID,
		Chain: func(ctx context.Context, ev *event.Event, next policy.Processor) (*event.Event, error) {
			if ev.Message().Attributes.Get(middleware.CorrelationIDMetadataKey) == "" {
				ev = ev.WithMessage(ev.Message().WithAttribute(middleware.CorrelationIDMetadataKey, ev.CorrelationID()))
			}
			return next(ctx, ev)
		},
	}
}

// Logging logs every event entering and leaving the rest of the chain.
func Logging(log logging.ServiceLogger) policy.Policy {
	log = logging.OrNop(log)
	return policy.Policy{
		ID: LoggingID,
		Chain: func(ctx context.Context, ev *event.Event, next policy.Processor) (*event.Event, error) {
			fields := logging.LogFields{
				"flow":           ev.Context().FlowName(),
				"correlation_id": ev.CorrelationID(),
				"event_id":       ev.Context().ID(),
			}
			log.With(fields).Debug("Processing event", logging.LogFields{
				"payload":    string(ev.Payload()),
				"attributes": ev.Message().Attributes,
			})

			start := time.Now()
			out, err := next(ctx, ev)
			fields["duration"] = time.Since(start).String()
			if err != nil {
				log.Error("Event processing failed", err, fields)
				return nil, err
			}
			log.Debug("Event processed", fields)
			return out, nil
		},
	}
}

// RetryConfig customises the retry policy.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	RetryIf         func(error) bool
	// ExhaustedType, when set, classifies the failure reported after the
	// last attempt, usually CORE:RETRY_EXHAUSTED.
	ExhaustedType *errtype.ErrorType
	Logger        logging.ServiceLogger
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	return cfg
}

// Retry re-runs the rest of the chain with exponential backoff.
func Retry(cfg RetryConfig) policy.Policy {
	cfg = cfg.withDefaults()
	retry := middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
		Logger:          logging.NewWatermillAdapter(logging.OrNop(cfg.Logger)),
		ShouldRetry: func(params middleware.RetryParams) bool {
			if cfg.RetryIf != nil {
				return cfg.RetryIf(params.Err)
			}
			return true
		},
	}
	bridge := FromMiddleware(RetryID, retry.Middleware)
	if cfg.ExhaustedType == nil {
		return bridge
	}

	inner := bridge.Chain
	bridge.Chain = func(ctx context.Context, ev *event.Event, next policy.Processor) (*event.Event, error) {
		attempts := 0
		counted := func(ctx context.Context, ev *event.Event) (*event.Event, error) {
			attempts++
			return next(ctx, ev)
		}
		out, err := inner(ctx, ev, counted)
		if err != nil && attempts > cfg.MaxRetries {
			return nil, exception.New(ev, err,
				exception.WithComponent(RetryID),
				exception.WithErrorType(cfg.ExhaustedType),
				exception.WithInfo("attempts", strconv.Itoa(attempts)),
			)
		}
		return out, err
	}
	return bridge
}

// Timeout bounds the rest of the chain with a deadline.
func Timeout(d time.Duration) policy.Policy {
	return FromMiddleware(TimeoutID, middleware.Timeout(d))
}

// CircuitBreaker stops calling the rest of the chain while it keeps failing.
func CircuitBreaker(settings gobreaker.Settings) policy.Policy {
	if settings.Name == "" {
		settings.Name = CircuitBreakerID
	}
	return FromMiddleware(CircuitBreakerID, middleware.NewCircuitBreaker(settings).Middleware)
}

// Throttle lets at most count events per duration through.
func Throttle(count int64, duration time.Duration) policy.Policy {
	return FromMiddleware(ThrottleID, middleware.NewThrottle(count, duration).Middleware)
}

// RegisterErrorTypes maps the failures raised by the built-in policies to
// CORE error types.
func RegisterErrorTypes(l *errtype.Locator) *errtype.Locator {
	repo := l.Repository()
	l.MapIs(gobreaker.ErrOpenState, repo.MustLookup(errtype.Connectivity))
	l.MapIs(gobreaker.ErrTooManyRequests, repo.MustLookup(errtype.Connectivity))
	errtype.MapAs[*ValidationError](l, repo.MustLookup(errtype.Validation))
	return l
}
