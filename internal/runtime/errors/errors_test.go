package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSentinelErrorsArePrefixed(t *testing.T) {
	all := []error{
		ErrEmptyPolicyChain, ErrNilPolicyChain, ErrTerminalRequired, ErrCatchAllNotLast,
		ErrAcceptorRequired, ErrRepositoryMissing, ErrPoolSize, ErrPipelineFactory,
		ErrFlowRequired, ErrFlowNameRequired, ErrConsumeQueue, ErrServiceRequired,
		ErrConfigRequired, ErrLoggerRequired, ErrPublisherRequired, ErrTopicRequired,
		ErrNilType, ErrNilPattern, ErrPoolDisposed, ErrPipelineDisposed, ErrNextUnavailable,
		ErrAlreadyCompleted, ErrUnknownErrorType, ErrDuplicateType, ErrUnknownTransport,
		ErrTransactionClosed, ErrFlowExists, ErrMessageType,
	}
	seen := make(map[string]bool, len(all))
	for _, err := range all {
		msg := err.Error()
		if !strings.HasPrefix(msg, "policyflow: ") {
			t.Errorf("expected policyflow prefix, got %q", msg)
		}
		if seen[msg] {
			t.Errorf("duplicate sentinel message %q", msg)
		}
		seen[msg] = true
	}
}

func TestCatchAllMessageNamesOrderingRule(t *testing.T) {
	if !strings.Contains(ErrCatchAllNotLast.Error(), "last") {
		t.Fatalf("expected ordering rule in message, got %q", ErrCatchAllNotLast.Error())
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("build pool: %w", ErrPoolSize)
	if !errors.Is(wrapped, ErrPoolSize) {
		t.Fatal("expected wrapped error to match sentinel")
	}
}
