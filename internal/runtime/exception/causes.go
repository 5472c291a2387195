package exception

import (
	"errors"
	"reflect"
	"regexp"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
)

const maxCauseDepth = 64

// chain returns err followed by every error reachable through Unwrap, depth
// first. Joined errors contribute all of their branches.
func chain(err error) []error {
	var out []error
	var walk func(error, int)
	walk = func(cur error, depth int) {
		if cur == nil || depth > maxCauseDepth {
			return
		}
		out = append(out, cur)
		switch u := cur.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner, depth+1)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap(), depth+1)
		}
	}
	walk(err, 0)
	return out
}

// CausedBy reports whether any node of err's chain, err included, has type t
// or a type assignable to t. For interface types that means implementing t.
func CausedBy(err error, t reflect.Type) (bool, error) {
	if t == nil {
		return false, errspkg.ErrNilType
	}
	for _, node := range chain(err) {
		if reflect.TypeOf(node).AssignableTo(t) {
			return true, nil
		}
	}
	return false, nil
}

// CausedExactlyBy reports whether some node's dynamic type is exactly t.
func CausedExactlyBy(err error, t reflect.Type) (bool, error) {
	if t == nil {
		return false, errspkg.ErrNilType
	}
	for _, node := range chain(err) {
		if reflect.TypeOf(node) == t {
			return true, nil
		}
	}
	return false, nil
}

// CauseMatches reports whether the type name of some node matches pattern.
// Both the short form ("*net.OpError") and the import-path qualified form
// are tried.
func CauseMatches(err error, pattern string) (bool, error) {
	if pattern == "" {
		return false, errspkg.ErrNilPattern
	}
	re, compileErr := regexp.Compile(pattern)
	if compileErr != nil {
		return false, compileErr
	}
	for _, node := range chain(err) {
		t := reflect.TypeOf(node)
		if re.MatchString(t.String()) || re.MatchString(qualifiedName(t)) {
			return true, nil
		}
	}
	return false, nil
}

func qualifiedName(t reflect.Type) string {
	prefix := ""
	for t.Kind() == reflect.Pointer {
		prefix += "*"
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return prefix + t.String()
	}
	return prefix + t.PkgPath() + "." + t.Name()
}

// RootCause follows single Unwrap links to the innermost error. An error
// without an inner cause is its own root cause.
func RootCause(err error) error {
	root := err
	for depth := 0; depth < maxCauseDepth; depth++ {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	return root
}

// CausedByType is the generic form of CausedBy.
func CausedByType[T any](err error) bool {
	ok, _ := CausedBy(err, reflect.TypeFor[T]())
	return ok
}

// CausedExactlyByType is the generic form of CausedExactlyBy.
func CausedExactlyByType[T any](err error) bool {
	ok, _ := CausedExactlyBy(err, reflect.TypeFor[T]())
	return ok
}

// CausedBy is CausedBy applied to the exception.
func (e *MessagingException) CausedBy(t reflect.Type) (bool, error) {
	return CausedBy(e, t)
}

// CausedExactlyBy is CausedExactlyBy applied to the exception.
func (e *MessagingException) CausedExactlyBy(t reflect.Type) (bool, error) {
	return CausedExactlyBy(e, t)
}

// CauseMatches is CauseMatches applied to the exception.
func (e *MessagingException) CauseMatches(pattern string) (bool, error) {
	return CauseMatches(e, pattern)
}

// RootCause returns the innermost cause, or e itself when it has none.
func (e *MessagingException) RootCause() error {
	return RootCause(e)
}
