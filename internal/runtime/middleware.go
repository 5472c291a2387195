package runtime

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/exception"
	idspkg "github.com/drblury/policyflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/policyflow/internal/runtime/logging"
)

// MiddlewareBuilder constructs a router middleware from the service.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration describes a router-level middleware. Router
// middlewares wrap every flow handler, outside the policy chain.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the router middlewares installed by NewService.
// Order is outermost first.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		RecovererMiddleware(),
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		MetricsMiddleware(),
		PoisonQueueMiddleware(nil),
	}
}

// CorrelationIDMiddleware assigns a correlation id to messages that lack one
// and copies it to every produced message.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return middleware.CorrelationID(func(msg *message.Message) ([]*message.Message, error) {
				if middleware.MessageCorrelationID(msg) == "" {
					middleware.SetCorrelationID(idspkg.NewCorrelationID(), msg)
				}
				return h(msg)
			})
		},
	}
}

// LogMessagesMiddleware logs each consumed message at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errspkg.ErrLoggerRequired
			}
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					l.Debug("Consuming message", loggingpkg.LogFields{
						"message_uuid": msg.UUID,
						"handler":      message.HandlerNameFromCtx(msg.Context()),
						"payload":      string(msg.Payload),
						"metadata":     msg.Metadata,
					})
					return h(msg)
				}
			}, nil
		},
	}
}

// MetricsMiddleware records Watermill router metrics and serves /metrics on
// the configured port. It is a no-op unless metrics are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			builder := metrics.NewPrometheusMetricsBuilder(s.registerer, "policyflow", s.Conf.PubSubSystem)
			builder.AddPrometheusRouterMetrics(s.router)

			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
			}
			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// PoisonQueueMiddleware moves messages to the poison queue when their
// failure matches filter, acking the original. The default filter selects
// critical failures, which no redelivery can fix.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.Conf.PoisonQueue == "" {
				return nil, nil
			}
			if s.publisher == nil {
				return nil, errspkg.ErrPublisherRequired
			}
			f := filter
			if f == nil {
				f = s.isCriticalFailure
			}
			return middleware.PoisonQueueWithFilter(s.publisher, s.Conf.PoisonQueue, f)
		},
	}
}

// RecovererMiddleware turns handler panics into errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

func (s *Service) isCriticalFailure(err error) bool {
	var ex *exception.MessagingException
	if !errors.As(err, &ex) {
		return false
	}
	return s.repo.IsCritical(ex.ErrorType())
}

// RegisterMiddleware attaches a router middleware. Builders returning a nil
// middleware are skipped.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}
	s.router.AddMiddleware(mw)
	return nil
}
