// Package errtype models the hierarchical classification of failures.
//
// Every ErrorType is a namespaced identifier with an optional parent. The
// repository holds two disjoint trees: one rooted at ANY, which ordinary error
// acceptors match against, and one rooted at CRITICAL, which they never see.
package errtype

import (
	"fmt"
	"strings"
)

// CoreNamespace is the namespace of the built-in error types.
const CoreNamespace = "CORE"

// Built-in identifiers.
const (
	Any                    = "ANY"
	Critical               = "CRITICAL"
	Fatal                  = "FATAL"
	Overload               = "OVERLOAD"
	Unknown                = "UNKNOWN"
	Connectivity           = "CONNECTIVITY"
	RetryExhausted         = "RETRY_EXHAUSTED"
	RedeliveryExhausted    = "REDELIVERY_EXHAUSTED"
	Timeout                = "TIMEOUT"
	Expression             = "EXPRESSION"
	Transformation         = "TRANSFORMATION"
	Validation             = "VALIDATION"
	Routing                = "ROUTING"
	Security               = "SECURITY"
	SourceResponse         = "SOURCE_RESPONSE"
	SourceResponseGenerate = "SOURCE_RESPONSE_GENERATE"
	SourceResponseSend     = "SOURCE_RESPONSE_SEND"
)

// ErrorType is an immutable node of the error type tree.
type ErrorType struct {
	namespace  string
	identifier string
	parent     *ErrorType
}

// Namespace returns the namespace, for example "CORE".
func (t *ErrorType) Namespace() string { return t.namespace }

// Identifier returns the identifier within the namespace, for example "TIMEOUT".
func (t *ErrorType) Identifier() string { return t.identifier }

// Parent returns the parent type or nil for a root.
func (t *ErrorType) Parent() *ErrorType { return t.parent }

// String renders the type as NAMESPACE:IDENTIFIER.
func (t *ErrorType) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.namespace + ":" + t.identifier
}

// Is reports whether t equals other or descends from it.
func (t *ErrorType) Is(other *ErrorType) bool {
	if other == nil {
		return false
	}
	for cur := t; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

// Identity splits a "NS:ID" string. A missing namespace resolves to CORE.
func Identity(raw string) (namespace, identifier string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("error type identity cannot be empty")
	}
	ns, id, found := strings.Cut(raw, ":")
	if !found {
		return CoreNamespace, strings.ToUpper(ns), nil
	}
	if ns == "" || id == "" {
		return "", "", fmt.Errorf("malformed error type identity %q", raw)
	}
	return strings.ToUpper(ns), strings.ToUpper(id), nil
}
