package errtype

import (
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
)

// Repository owns the error type tree. It is created by the runtime and
// injected wherever error types are resolved; there is no global instance.
type Repository struct {
	mu    sync.RWMutex
	types map[string]*ErrorType

	anyType      *ErrorType
	criticalType *ErrorType
}

// NewRepository builds a repository populated with the CORE types.
func NewRepository() *Repository {
	r := &Repository{types: make(map[string]*ErrorType)}

	r.anyType = r.mustAdd(CoreNamespace, Any, nil)
	r.criticalType = r.mustAdd(CoreNamespace, Critical, nil)

	r.mustAdd(CoreNamespace, Fatal, r.criticalType)
	r.mustAdd(CoreNamespace, Overload, r.criticalType)

	for _, id := range []string{
		Unknown, Connectivity, RetryExhausted, RedeliveryExhausted, Timeout,
		Expression, Transformation, Validation, Routing, Security,
	} {
		r.mustAdd(CoreNamespace, id, r.anyType)
	}

	sourceResponse := r.mustAdd(CoreNamespace, SourceResponse, r.anyType)
	r.mustAdd(CoreNamespace, SourceResponseGenerate, sourceResponse)
	r.mustAdd(CoreNamespace, SourceResponseSend, sourceResponse)

	return r
}

// Any returns the root of the recoverable tree.
func (r *Repository) Any() *ErrorType { return r.anyType }

// Critical returns the root of the non-recoverable tree.
func (r *Repository) Critical() *ErrorType { return r.criticalType }

// Add registers a new type. A nil parent attaches it under ANY.
func (r *Repository) Add(namespace, identifier string, parent *ErrorType) (*ErrorType, error) {
	if parent == nil {
		parent = r.anyType
	}
	return r.add(namespace, identifier, parent)
}

func (r *Repository) add(namespace, identifier string, parent *ErrorType) (*ErrorType, error) {
	ns, id, err := Identity(namespace + ":" + identifier)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := ns + ":" + id
	if _, exists := r.types[key]; exists {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrDuplicateType, key)
	}
	t := &ErrorType{namespace: ns, identifier: id, parent: parent}
	r.types[key] = t
	return t, nil
}

func (r *Repository) mustAdd(namespace, identifier string, parent *ErrorType) *ErrorType {
	t, err := r.add(namespace, identifier, parent)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup resolves "NS:ID" (or "ID" for the CORE namespace).
func (r *Repository) Lookup(identity string) (*ErrorType, error) {
	ns, id, err := Identity(identity)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[ns+":"+id]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", errspkg.ErrUnknownErrorType, ns, id)
	}
	return t, nil
}

// MustLookup is Lookup for identities known at compile time.
func (r *Repository) MustLookup(identity string) *ErrorType {
	t, err := r.Lookup(identity)
	if err != nil {
		panic(err)
	}
	return t
}

// IsCritical reports whether t hangs directly below CRITICAL. This is the
// rule the error handler uses to bypass its acceptors.
func (r *Repository) IsCritical(t *ErrorType) bool {
	return t != nil && t.Parent() == r.criticalType
}

// Types returns every registered identity, sorted.
func (r *Repository) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.types))
	for key := range r.types {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
