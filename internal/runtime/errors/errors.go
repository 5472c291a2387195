package errors

import sterrors "errors"

// Configuration errors. These are returned while building chains, pools and
// error handlers, never while dispatching a message.
var (
	ErrEmptyPolicyChain  = sterrors.New("policyflow: policy chain requires at least one policy")
	ErrNilPolicyChain    = sterrors.New("policyflow: policy requires a chain")
	ErrTerminalRequired  = sterrors.New("policyflow: terminal processor is required")
	ErrCatchAllNotLast   = sterrors.New("policyflow: only the last error acceptor may accept all errors")
	ErrAcceptorRequired  = sterrors.New("policyflow: error acceptor cannot be nil")
	ErrRepositoryMissing = sterrors.New("policyflow: error type repository is required")
	ErrPoolSize          = sterrors.New("policyflow: pipeline pool size must be positive")
	ErrPipelineFactory   = sterrors.New("policyflow: pipeline factory is required")
	ErrFlowRequired      = sterrors.New("policyflow: flow processor is required")
	ErrFlowNameRequired  = sterrors.New("policyflow: flow name is required")
	ErrConsumeQueue      = sterrors.New("policyflow: consume queue is required")
	ErrServiceRequired   = sterrors.New("policyflow: service is required")
	ErrConfigRequired    = sterrors.New("policyflow: config is required")
	ErrLoggerRequired    = sterrors.New("policyflow: logger is required")
	ErrPublisherRequired = sterrors.New("policyflow: publisher is required")
	ErrTopicRequired     = sterrors.New("policyflow: topic is required")
)

// Argument errors returned by the exception cause-chain predicates.
var (
	ErrNilType    = sterrors.New("policyflow: error type argument cannot be nil")
	ErrNilPattern = sterrors.New("policyflow: pattern argument cannot be empty")
)

// Runtime errors.
var (
	ErrPoolDisposed      = sterrors.New("policyflow: pipeline pool is disposed")
	ErrPipelineDisposed  = sterrors.New("policyflow: pipeline is disposed")
	ErrNextUnavailable   = sterrors.New("policyflow: next processor is no longer available")
	ErrAlreadyCompleted  = sterrors.New("policyflow: event context already completed")
	ErrUnknownErrorType  = sterrors.New("policyflow: unknown error type")
	ErrDuplicateType     = sterrors.New("policyflow: error type already registered")
	ErrUnknownTransport  = sterrors.New("policyflow: unknown transport")
	ErrTransactionClosed = sterrors.New("policyflow: transaction already finished")
	ErrFlowExists        = sterrors.New("policyflow: flow already registered")
	ErrMessageType       = sterrors.New("policyflow: typed flow requires a pointer message type")
)
