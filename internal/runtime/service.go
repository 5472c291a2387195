package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/policyflow/internal/runtime/config"
	"github.com/drblury/policyflow/internal/runtime/errorhandler"
	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/errtype"
	loggingpkg "github.com/drblury/policyflow/internal/runtime/logging"
	"github.com/drblury/policyflow/internal/runtime/outcome"
	"github.com/drblury/policyflow/internal/runtime/policies"
	"github.com/drblury/policyflow/internal/runtime/policy"
	"github.com/drblury/policyflow/internal/runtime/pool"
	"github.com/drblury/policyflow/transport"
	"github.com/drblury/policyflow/transport/transports"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds optional collaborators. Zero values select defaults.
type ServiceDependencies struct {
	// Transport replaces the transport built from the config.
	Transport *transport.Transport
	// Registry resolves Conf.PubSubSystem. Defaults to every built-in backend.
	Registry *transport.Registry
	// Locator classifies failures for every flow. Its repository defines the
	// error type tree shared by executors and error handlers.
	Locator *errtype.Locator
	// Registerer receives the runtime collectors. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	Middlewares               []MiddlewareRegistration // Appended after the default router middlewares.
	DisableDefaultMiddlewares bool
	Hooks                     Hooks
}

// Service hosts flows on a Watermill router. Each flow consumes a queue,
// routes messages through a pool of policy pipelines and dispatches failures
// to its error handler.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	wmLogger   watermill.LoggerAdapter
	transport  transport.Transport
	caps       transport.Capabilities
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	repo       *errtype.Repository
	locator    *errtype.Locator
	arena      *policy.Arena
	registerer prometheus.Registerer
	handlerMx  *errorhandler.Metrics
	poolMx     *pool.Metrics
	flowMx     *FlowMetrics
	hooks      Hooks
	txs        *transactions
	resources  *resourceTracker
	startedAt  time.Time

	flows   []*Flow
	flowsMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	servers       []*http.Server

	stopOnce sync.Once
}

// NewService builds the transport and router for conf. Register flows on the
// returned Service before calling Start.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating policyflow service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf,
	})

	s := &Service{
		Conf:       conf,
		Logger:     log,
		wmLogger:   wmLogger,
		arena:      policy.NewArena(),
		registerer: deps.Registerer,
		hooks:      deps.Hooks,
		txs:        newTransactions(conf.TransactionIdleTimeout),
		resources:  newResourceTracker(),
		startedAt:  time.Now(),
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}

	s.locator = deps.Locator
	if s.locator == nil {
		s.locator = NewLocator(errtype.NewRepository())
	}
	s.repo = s.locator.Repository()

	var err error
	if s.handlerMx, err = errorhandler.NewMetrics(s.registerer); err != nil {
		return nil, err
	}
	if s.poolMx, err = pool.NewMetrics(s.registerer); err != nil {
		return nil, err
	}
	if s.flowMx, err = NewFlowMetrics(s.registerer); err != nil {
		return nil, err
	}

	registry := deps.Registry
	if registry == nil {
		registry = transports.RegisterAll(transport.NewRegistry())
	}
	if deps.Transport != nil {
		s.transport = *deps.Transport
	} else if s.transport, err = registry.Build(ctx, conf, wmLogger); err != nil {
		return nil, err
	}
	s.caps = registry.Capabilities(conf.PubSubSystem)
	s.publisher = s.transport.Publisher
	s.subscriber = s.transport.Subscriber
	if !s.caps.SupportsReliableDelivery() {
		log.Info("Transport does not redeliver nacked messages; propagated failures are dropped after the error handler", loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
		})
	}

	s.router, err = message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	return s, nil
}

// NewLocator returns a locator that also classifies the failures raised by
// the built-in policies and by response generation or delivery.
func NewLocator(repo *errtype.Repository) *errtype.Locator {
	l := policies.RegisterErrorTypes(errtype.NewLocator(repo))
	l.MapFunc(responsePhase(outcome.PhaseGenerate), repo.MustLookup(errtype.SourceResponseGenerate))
	l.MapFunc(responsePhase(outcome.PhaseSend), repo.MustLookup(errtype.SourceResponseSend))
	return l
}

func responsePhase(phase outcome.Phase) func(error) bool {
	return func(err error) bool {
		var re *outcome.ResponseError
		return errors.As(err, &re) && re.Phase == phase
	}
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Locator returns the locator shared by every flow.
func (s *Service) Locator() *errtype.Locator { return s.locator }

// Repository returns the error type repository shared by every flow.
func (s *Service) Repository() *errtype.Repository { return s.repo }

// Publisher returns the transport publisher, for poison queues and outputs.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Capabilities reports what the configured transport supports.
func (s *Service) Capabilities() transport.Capabilities { return s.caps }

// RetryConfig returns retry policy settings taken from the config.
func (s *Service) RetryConfig() policies.RetryConfig {
	return policies.RetryConfig{
		MaxRetries:      s.Conf.RetryMaxRetries,
		InitialInterval: s.Conf.RetryInitialInterval,
		MaxInterval:     s.Conf.RetryMaxInterval,
		ExhaustedType:   s.repo.MustLookup(errtype.RetryExhausted),
		Logger:          s.Logger,
	}
}

// Flows returns the registered flows.
func (s *Service) Flows() []*Flow {
	s.flowsMu.RLock()
	defer s.flowsMu.RUnlock()
	return append([]*Flow(nil), s.flows...)
}

// Flow returns the flow registered under name.
func (s *Service) Flow(name string) (*Flow, bool) {
	s.flowsMu.RLock()
	defer s.flowsMu.RUnlock()
	for _, f := range s.flows {
		if f.name == name {
			return f, true
		}
	}
	return nil, false
}

// Start runs the router until ctx is cancelled, then stops every flow.
func (s *Service) Start(ctx context.Context) error {
	s.StartAdminAPI()
	s.startHTTPServers()
	if s.transport.Start != nil {
		go func() {
			<-s.router.Running()
			if err := s.transport.Start(); err != nil {
				s.Logger.Error("Failed to start transport", err, nil)
			}
		}()
	}
	defer s.Stop()
	return routerRun(s.router, ctx)
}

// Running is closed once the router is consuming.
func (s *Service) Running() chan struct{} { return s.router.Running() }

// Stop closes the router, waits for in-flight messages and disposes every
// flow pool. It is safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if err := s.router.Close(); err != nil {
			s.Logger.Error("Failed to close router", err, nil)
		}

		s.txs.rollbackAll()

		var disposers []func()
		for _, f := range s.Flows() {
			disposers = append(disposers, f.close())
		}
		for _, dispose := range disposers {
			dispose()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServersMu.Lock()
		for _, srv := range s.servers {
			_ = srv.Shutdown(shutdownCtx)
		}
		s.httpServersMu.Unlock()

		if err := s.transport.Close(); err != nil {
			s.Logger.Error("Failed to close transport", err, nil)
		}
	})
}

// RegisterHTTPHandler mounts handler on the HTTP server listening on port.
// Servers start with Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}
	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}
	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.servers = append(s.servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}
