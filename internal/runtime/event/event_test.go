package event

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/policyflow/internal/runtime/errtype"
	"github.com/drblury/policyflow/internal/runtime/metadata"
)

func newEvent() *Event {
	return New(NewContext("orders", "corr-1"), NewMessage([]byte("hello"), metadata.New("k", "v")))
}

func TestEventIsCopyOnWrite(t *testing.T) {
	original := newEvent()

	withVar := original.WithVariable("a", 1)
	_, ok := original.Variable("a")
	assert.False(t, ok)
	v, ok := withVar.Variable("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	withPayload := withVar.WithPayload([]byte("bye"))
	assert.Equal(t, "hello", string(withVar.Payload()))
	assert.Equal(t, "bye", string(withPayload.Payload()))
	assert.Equal(t, "v", withPayload.Message().Attributes.Get("k"))

	removed := withPayload.WithoutVariable("a")
	_, ok = removed.Variable("a")
	assert.False(t, ok)
	_, ok = withPayload.Variable("a")
	assert.True(t, ok)
	assert.Same(t, removed, removed.WithoutVariable("missing"))

	assert.Same(t, original.Context(), removed.Context())
	assert.Equal(t, "corr-1", removed.CorrelationID())
}

func TestVariablesReturnsCopy(t *testing.T) {
	ev := newEvent().WithVariables(map[string]any{"x": "y"})
	vars := ev.Variables()
	vars["x"] = "mutated"
	got, _ := ev.Variable("x")
	assert.Equal(t, "y", got)
}

func TestWithError(t *testing.T) {
	repo := errtype.NewRepository()
	ev := newEvent()
	failed := ev.WithError(&Error{Type: repo.MustLookup("TIMEOUT"), Cause: errors.New("slow")})
	assert.Nil(t, ev.Error())
	require.NotNil(t, failed.Error())
	assert.Equal(t, "CORE:TIMEOUT", failed.Error().Type.String())
}

func TestMessageAttributesAreCopied(t *testing.T) {
	attrs := metadata.New("a", "1")
	msg := NewMessage(nil, attrs)
	attrs["a"] = "2"
	assert.Equal(t, "1", msg.Attributes.Get("a"))
	assert.Equal(t, "3", msg.WithAttribute("a", "3").Attributes.Get("a"))
	assert.Equal(t, "1", msg.Attributes.Get("a"))
}

func TestContextCompletesOnce(t *testing.T) {
	ctx := NewContext("flow", "")
	assert.NotEmpty(t, ctx.CorrelationID())
	assert.NotEmpty(t, ctx.ID())
	assert.False(t, ctx.IsComplete())

	ev := New(ctx, Message{})
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok = ctx.Complete(ev)
			} else {
				ok = ctx.CompleteWithError(errors.New("late"))
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, ctx.IsComplete())
	<-ctx.Done()

	result, err := ctx.Result()
	assert.True(t, (result != nil) != (err != nil), "exactly one of result or error is set")
}
