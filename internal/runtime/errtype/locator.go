package errtype

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// Typed is implemented by errors that already know their error type.
type Typed interface {
	ErrorType() *ErrorType
}

type mapping struct {
	match func(error) bool
	typ   *ErrorType
}

// Locator maps Go errors to error types. Mappings are consulted in the order
// they were added; the first match wins.
type Locator struct {
	repo *Repository

	mu       sync.RWMutex
	mappings []mapping
	fallback *ErrorType
}

// NewLocator creates a locator with the default mappings:
// context deadlines map to TIMEOUT, runtime.Error panics map to FATAL and
// everything else maps to UNKNOWN.
func NewLocator(repo *Repository) *Locator {
	l := &Locator{repo: repo, fallback: repo.MustLookup(Unknown)}
	l.MapIs(context.DeadlineExceeded, repo.MustLookup(Timeout))
	l.MapFunc(func(err error) bool {
		var rt runtime.Error
		return errors.As(err, &rt)
	}, repo.MustLookup(Fatal))
	return l
}

// Repository returns the backing repository.
func (l *Locator) Repository() *Repository { return l.repo }

// MapIs maps every error matching errors.Is(err, target) to t.
func (l *Locator) MapIs(target error, t *ErrorType) *Locator {
	return l.MapFunc(func(err error) bool { return errors.Is(err, target) }, t)
}

// MapFunc maps every error accepted by match to t.
func (l *Locator) MapFunc(match func(error) bool, t *ErrorType) *Locator {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mappings = append(l.mappings, mapping{match: match, typ: t})
	return l
}

// MapAs maps every error whose chain contains a T to t.
func MapAs[T error](l *Locator, t *ErrorType) *Locator {
	return l.MapFunc(func(err error) bool {
		var target T
		return errors.As(err, &target)
	}, t)
}

// Resolve returns the error type for err. Errors carrying their own type win
// over registered mappings.
func (l *Locator) Resolve(err error) *ErrorType {
	if err == nil {
		return l.fallback
	}
	var typed Typed
	if errors.As(err, &typed) {
		if t := typed.ErrorType(); t != nil {
			return t
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.mappings {
		if m.match(err) {
			return m.typ
		}
	}
	return l.fallback
}
