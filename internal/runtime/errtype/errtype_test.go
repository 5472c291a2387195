package errtype

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
)

type quotaError struct{ limit int }

func (e *quotaError) Error() string { return fmt.Sprintf("quota %d exceeded", e.limit) }

type typedError struct{ t *ErrorType }

func (e typedError) Error() string         { return "typed" }
func (e typedError) ErrorType() *ErrorType { return e.t }

func TestRepositoryBuiltins(t *testing.T) {
	repo := NewRepository()

	assert.Equal(t, "CORE:ANY", repo.Any().String())
	assert.Nil(t, repo.Any().Parent())
	assert.Nil(t, repo.Critical().Parent())

	fatal := repo.MustLookup("CORE:FATAL")
	assert.Same(t, repo.Critical(), fatal.Parent())
	assert.True(t, repo.IsCritical(fatal))
	assert.True(t, repo.IsCritical(repo.MustLookup("OVERLOAD")))
	assert.False(t, repo.IsCritical(repo.Critical()))
	assert.False(t, fatal.Is(repo.Any()))

	send := repo.MustLookup("core:source_response_send")
	assert.True(t, send.Is(repo.MustLookup("SOURCE_RESPONSE")))
	assert.True(t, send.Is(repo.Any()))
	assert.False(t, repo.IsCritical(send))
}

func TestRepositoryAddAndLookup(t *testing.T) {
	repo := NewRepository()

	billing, err := repo.Add("BILLING", "DECLINED", nil)
	require.NoError(t, err)
	assert.Same(t, repo.Any(), billing.Parent())

	child, err := repo.Add("BILLING", "CARD_EXPIRED", billing)
	require.NoError(t, err)
	assert.True(t, child.Is(billing))

	_, err = repo.Add("billing", "declined", nil)
	assert.ErrorIs(t, err, errspkg.ErrDuplicateType)

	_, err = repo.Lookup("BILLING:MISSING")
	assert.ErrorIs(t, err, errspkg.ErrUnknownErrorType)

	_, err = repo.Lookup(":X")
	assert.Error(t, err)
	_, err = repo.Lookup("")
	assert.Error(t, err)

	assert.Contains(t, repo.Types(), "BILLING:CARD_EXPIRED")
}

func TestMatchers(t *testing.T) {
	repo := NewRepository()
	connectivity := repo.MustLookup("CONNECTIVITY")
	timeout := repo.MustLookup("TIMEOUT")

	anyMatcher, err := repo.Parse()
	require.NoError(t, err)
	assert.True(t, anyMatcher.MatchesAny())
	assert.True(t, anyMatcher.Match(timeout))
	assert.False(t, anyMatcher.Match(repo.MustLookup("FATAL")))

	single := Single(connectivity)
	assert.False(t, single.MatchesAny())
	assert.True(t, single.Match(connectivity))
	assert.False(t, single.Match(timeout))
	assert.False(t, single.Match(nil))

	both, err := repo.Parse("CONNECTIVITY", "CORE:TIMEOUT")
	require.NoError(t, err)
	assert.True(t, both.Match(timeout))
	assert.True(t, both.Match(connectivity))
	assert.False(t, both.Match(repo.MustLookup("ROUTING")))
	assert.False(t, both.MatchesAny())

	withAny := OneOf(Single(timeout), Single(repo.Any()))
	assert.True(t, withAny.MatchesAny())

	_, err = repo.Parse("NOPE:NOPE")
	assert.Error(t, err)
}

func TestLocator(t *testing.T) {
	repo := NewRepository()
	quota, err := repo.Add("APP", "QUOTA", nil)
	require.NoError(t, err)

	locator := NewLocator(repo)
	MapAs[*quotaError](locator, quota)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"fallback", errors.New("boom"), "CORE:UNKNOWN"},
		{"nil", nil, "CORE:UNKNOWN"},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), "CORE:TIMEOUT"},
		{"mapped type", fmt.Errorf("wrap: %w", &quotaError{limit: 3}), "APP:QUOTA"},
		{"self typed", typedError{t: repo.MustLookup("ROUTING")}, "CORE:ROUTING"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, locator.Resolve(tt.err).String())
		})
	}
}

func TestLocatorMapsRuntimeErrorsToFatal(t *testing.T) {
	repo := NewRepository()
	locator := NewLocator(repo)

	var recovered error
	func() {
		defer func() {
			if r := recover(); r != nil {
				recovered = r.(error)
			}
		}()
		var m map[string]int
		m["x"] = 1
	}()

	require.Error(t, recovered)
	got := locator.Resolve(recovered)
	assert.True(t, repo.IsCritical(got))
}

func TestIdentity(t *testing.T) {
	ns, id, err := Identity("timeout")
	require.NoError(t, err)
	assert.Equal(t, "CORE", ns)
	assert.Equal(t, "TIMEOUT", id)

	_, _, err = Identity("A:")
	assert.Error(t, err)
}
