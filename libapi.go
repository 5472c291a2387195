package policyflow

import (
	"context"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/policyflow/internal/runtime"
	configpkg "github.com/drblury/policyflow/internal/runtime/config"
	"github.com/drblury/policyflow/internal/runtime/errorhandler"
	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/errtype"
	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
	handlerpkg "github.com/drblury/policyflow/internal/runtime/handlers"
	idspkg "github.com/drblury/policyflow/internal/runtime/ids"
	"github.com/drblury/policyflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/policyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/policyflow/internal/runtime/metadata"
	"github.com/drblury/policyflow/internal/runtime/outcome"
	"github.com/drblury/policyflow/internal/runtime/policies"
	"github.com/drblury/policyflow/internal/runtime/policy"
	"github.com/drblury/policyflow/internal/runtime/pool"
	"github.com/drblury/policyflow/internal/runtime/tx"
	"github.com/drblury/policyflow/transport"
	"github.com/drblury/policyflow/transport/transports"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	FlowRegistration    = runtimepkg.FlowRegistration
	Flow                = runtimepkg.Flow
	FlowInfo            = runtimepkg.FlowInfo
	FlowStatsSnapshot   = runtimepkg.FlowStatsSnapshot
	FlowContext         = runtimepkg.FlowContext
	Hooks               = runtimepkg.Hooks

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Event        = event.Event
	EventContext = event.Context
	Message      = event.Message
	Metadata     = metadatapkg.Metadata

	Policy      = policy.Policy
	Processor   = policy.Processor
	Chain       = policy.Chain
	Pointcut    = policy.Pointcut
	RetryConfig = policies.RetryConfig

	Composite           = policy.Composite
	CompositeOption     = policy.Option
	SourceExecutor      = policy.SourceExecutor
	OperationExecutor   = policy.OperationExecutor
	OperationParameters = policy.Parameters

	PipelinePool       = pool.Pool
	PipelinePoolConfig = pool.Config
	Pipeline           = pool.Pipeline
	PipelineFactory    = pool.Factory

	ErrorHandler       = errorhandler.Handler
	ErrorHandlerConfig = errorhandler.Config

	MessagingException = exception.MessagingException
	ErrorType          = errtype.ErrorType
	ErrorTypes         = errtype.Repository
	ErrorLocator       = errtype.Locator
	ErrorMatcher       = errtype.Matcher

	Acceptor         = errorhandler.Acceptor
	AcceptorOption   = errorhandler.AcceptorOption
	OnErrorContinue  = errorhandler.OnErrorContinue
	OnErrorPropagate = errorhandler.OnErrorPropagate
	FailureReport    = errorhandler.FailureReport

	Outcome                     = outcome.Outcome
	OutcomeCallback             = outcome.Callback
	Success                     = outcome.Success
	Failure                     = outcome.Failure
	ResponseParameters          = outcome.ResponseParameters
	ResponseParametersProcessor = outcome.ResponseParametersProcessor
	ResponseParametersFuncs     = outcome.ResponseParametersFuncs

	Transaction = tx.Transaction

	HandlerContext[T any] = handlerpkg.Context[T]
	HandlerOutput[O any]  = handlerpkg.Output[O]

	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
)

var (
	NewService = runtimepkg.NewService
	LoadConfig = configpkg.Load
	NewLocator = runtimepkg.NewLocator

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	LoggingHooks            = runtimepkg.LoggingHooks

	Correlation      = policies.Correlation
	Logging          = policies.Logging
	Retry            = policies.Retry
	Timeout          = policies.Timeout
	CircuitBreaker   = policies.CircuitBreaker
	Throttle         = policies.Throttle
	Tracing          = policies.Tracing
	ProtoValidate    = policies.ProtoValidate
	NewProtoRegistry = policies.NewProtoRegistry
	FromMiddleware   = policies.FromMiddleware
	SortPolicies     = policy.Sort

	NewComposite                 = policy.NewComposite
	NewSourceExecutor            = policy.NewSourceExecutor
	NewOperationExecutor         = policy.NewOperationExecutor
	WithLocator                  = policy.WithLocator
	WithPropagateTransformations = policy.WithPropagateTransformations
	WithOperationParameters      = policy.WithOperationParameters
	OperationParametersFrom      = policy.OperationParameters
	NewPipelinePool              = pool.New
	NewErrorHandler              = errorhandler.New

	NewErrorTypes       = errtype.NewRepository
	SingleErrorType     = errtype.Single
	OneOfErrorTypes     = errtype.OneOf
	NewOnErrorContinue  = errorhandler.NewOnErrorContinue
	NewOnErrorPropagate = errorhandler.NewOnErrorPropagate
	When                = errorhandler.When
	WithProcessors      = errorhandler.WithProcessors
	WithPoisonQueue     = errorhandler.WithPoisonQueue

	CausedBy        = exception.CausedBy
	CausedExactlyBy = exception.CausedExactlyBy
	CauseMatches    = exception.CauseMatches
	RootCause       = exception.RootCause

	TransactionFrom   = tx.FromContext
	ActiveTransaction = tx.Active

	NewMessage      = runtimepkg.NewMessage
	NewJSONMessage  = runtimepkg.NewJSONMessage
	NewProtoMessage = runtimepkg.NewProtoMessage

	NewTransportRegistry = transport.NewRegistry
	RegisterTransports   = transports.RegisterAll

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	NewMetadata      = metadatapkg.New
	NewEventID       = idspkg.NewEventID
	NewCorrelationID = idspkg.NewCorrelationID

	ErrServiceRequired   = errspkg.ErrServiceRequired
	ErrFlowRequired      = errspkg.ErrFlowRequired
	ErrFlowNameRequired  = errspkg.ErrFlowNameRequired
	ErrFlowExists        = errspkg.ErrFlowExists
	ErrConsumeQueue      = errspkg.ErrConsumeQueue
	ErrCatchAllNotLast   = errspkg.ErrCatchAllNotLast
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrUnknownTransport  = errspkg.ErrUnknownTransport
	ErrMessageType       = errspkg.ErrMessageType
	ErrEmptyPolicyChain  = errspkg.ErrEmptyPolicyChain
	ErrPoolDisposed      = errspkg.ErrPoolDisposed
	ErrNextUnavailable   = errspkg.ErrNextUnavailable
)

// Message metadata that groups messages into a transaction.
const (
	MetadataTransactionID  = runtimepkg.MetadataTransactionID
	MetadataTransactionEnd = runtimepkg.MetadataTransactionEnd
	TransactionCommit      = runtimepkg.TransactionCommit
	TransactionRollback    = runtimepkg.TransactionRollback

	MetadataKeyEventSchema = policies.SchemaAttribute
)

// JSONFlow builds a flow processor for JSON payloads decoded into T.
func JSONFlow[T any, O any](fn func(ctx context.Context, in HandlerContext[T]) (*HandlerOutput[O], error), log ServiceLogger) (Processor, error) {
	return handlerpkg.JSON(handlerpkg.JSONFunc[T, O](fn), log)
}

// ProtoFlow builds a flow processor for protojson payloads decoded into T.
func ProtoFlow[T proto.Message](fn func(ctx context.Context, in HandlerContext[T]) (*HandlerOutput[proto.Message], error), log ServiceLogger) (Processor, error) {
	return handlerpkg.Proto(handlerpkg.ProtoFunc[T](fn), log)
}

// CausedByType reports whether err or one of its causes has type T.
func CausedByType[T any](err error) bool {
	return exception.CausedByType[T](err)
}
