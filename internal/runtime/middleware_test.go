package runtime

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/policyflow/internal/runtime/config"
	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
	"github.com/drblury/policyflow/internal/runtime/errtype"
	"github.com/drblury/policyflow/internal/runtime/event"
	"github.com/drblury/policyflow/internal/runtime/exception"
	idspkg "github.com/drblury/policyflow/internal/runtime/ids"
	"github.com/drblury/policyflow/transport"
)

func newBareService(t *testing.T, conf *configpkg.Config, pub message.Publisher) *Service {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	conf.PubSubSystem = "custom"
	return newChannelService(t, conf, ServiceDependencies{
		Transport:                 &transport.Transport{Publisher: pub, Subscriber: idleSubscriber{}},
		DisableDefaultMiddlewares: true,
	})
}

func TestCorrelationIDMiddleware(t *testing.T) {
	mw := CorrelationIDMiddleware().Middleware

	t.Run("adds missing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		var seen string
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			seen = middleware.MessageCorrelationID(m)
			return nil, nil
		})(msg)
		require.NoError(t, err)
		assert.NotEmpty(t, seen)
	})

	t.Run("keeps existing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		middleware.SetCorrelationID("fixed", msg)
		produced, err := mw(func(m *message.Message) ([]*message.Message, error) {
			assert.Equal(t, "fixed", middleware.MessageCorrelationID(m))
			return []*message.Message{message.NewMessage("out", nil)}, nil
		})(msg)
		require.NoError(t, err)
		require.Len(t, produced, 1)
		assert.Equal(t, "fixed", middleware.MessageCorrelationID(produced[0]))
	})
}

func TestRegisterMiddlewareValidations(t *testing.T) {
	svc := newBareService(t, nil, &recordingPublisher{})

	err := svc.RegisterMiddleware(MiddlewareRegistration{Name: "empty"})
	assert.Error(t, err)

	err = svc.RegisterMiddleware(MiddlewareRegistration{
		Name:    "skipped",
		Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, nil },
	})
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = svc.RegisterMiddleware(MiddlewareRegistration{
		Name:    "failing",
		Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestLogMessagesMiddlewareUsesServiceLogger(t *testing.T) {
	svc := newBareService(t, nil, &recordingPublisher{})
	mw, err := LogMessagesMiddleware(nil).Builder(svc)
	require.NoError(t, err)

	called := false
	_, err = mw(func(*message.Message) ([]*message.Message, error) {
		called = true
		return nil, nil
	})(message.NewMessage("1", []byte("payload")))
	require.NoError(t, err)
	assert.True(t, called)

	svc.Logger = nil
	_, err = LogMessagesMiddleware(nil).Builder(svc)
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestPoisonQueueMiddlewareSkippedWithoutTopic(t *testing.T) {
	svc := newBareService(t, nil, &recordingPublisher{})
	mw, err := PoisonQueueMiddleware(nil).Builder(svc)
	require.NoError(t, err)
	assert.Nil(t, mw)
}

func TestPoisonQueueMiddlewareRequiresPublisher(t *testing.T) {
	svc := newBareService(t, &configpkg.Config{PoisonQueue: "poison"}, &recordingPublisher{})
	svc.publisher = nil
	_, err := PoisonQueueMiddleware(nil).Builder(svc)
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
}

func TestPoisonQueueMiddlewareDefaultFilterSelectsCriticalFailures(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newBareService(t, &configpkg.Config{PoisonQueue: "poison"}, pub)
	repo := svc.Repository()

	mw, err := PoisonQueueMiddleware(nil).Builder(svc)
	require.NoError(t, err)

	ev := event.New(event.NewContext("flow", "corr"), event.NewMessage(nil, nil))
	critical := exception.New(ev, errors.New("disk corrupt"), exception.WithErrorType(repo.MustLookup(errtype.Fatal)))
	ordinary := exception.New(ev, errors.New("timeout"), exception.WithErrorType(repo.MustLookup(errtype.Timeout)))

	cases := []struct {
		name     string
		err      error
		poisoned bool
	}{
		{"critical exception", critical, true},
		{"ordinary exception", ordinary, false},
		{"plain error", errors.New("plain"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := len(pub.Messages("poison"))
			_, err := mw(func(*message.Message) ([]*message.Message, error) {
				return nil, tc.err
			})(message.NewMessage(idspkg.CreateULID(), []byte("payload")))

			if tc.poisoned {
				assert.NoError(t, err)
				assert.Len(t, pub.Messages("poison"), before+1)
			} else {
				assert.Error(t, err)
				assert.Len(t, pub.Messages("poison"), before)
			}
		})
	}
}

func TestPoisonQueueMiddlewareCustomFilter(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newBareService(t, &configpkg.Config{PoisonQueue: "poison"}, pub)

	mw, err := PoisonQueueMiddleware(func(error) bool { return true }).Builder(svc)
	require.NoError(t, err)
	_, err = mw(func(*message.Message) ([]*message.Message, error) {
		return nil, errors.New("anything")
	})(message.NewMessage("1", nil))
	assert.NoError(t, err)
	assert.Len(t, pub.Messages("poison"), 1)
}

func TestMetricsMiddleware(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		svc := newBareService(t, nil, &recordingPublisher{})
		mw, err := MetricsMiddleware().Builder(svc)
		require.NoError(t, err)
		assert.Nil(t, mw)
	})

	t.Run("enabled", func(t *testing.T) {
		svc := newBareService(t, &configpkg.Config{MetricsEnabled: true, MetricsPort: 9464}, &recordingPublisher{})
		svc.registerer = prometheus.NewRegistry()
		mw, err := MetricsMiddleware().Builder(svc)
		require.NoError(t, err)
		assert.NotNil(t, mw)
		assert.Contains(t, svc.httpServers, 9464)
	})
}
