package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/policyflow/internal/runtime/config"
	loggingpkg "github.com/drblury/policyflow/internal/runtime/logging"
	"github.com/drblury/policyflow/transport"
	"github.com/drblury/policyflow/transport/channel"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][]*message.Message
	err      error
}

func (p *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.messages == nil {
		p.messages = make(map[string][]*message.Message)
	}
	p.messages[topic] = append(p.messages[topic], messages...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Messages(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages[topic]...)
}

type idleSubscriber struct{}

func (idleSubscriber) Subscribe(ctx context.Context, _ string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (idleSubscriber) Close() error { return nil }

// newChannelService builds a service on the in-memory transport with its
// own metrics registry.
func newChannelService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	if conf.PubSubSystem == "" {
		conf.PubSubSystem = channel.TransportName
	}
	if conf.PipelinePoolSize == 0 {
		conf.PipelinePoolSize = 2
	}
	if deps.Registry == nil {
		deps.Registry = transport.NewRegistry()
		channel.Register(deps.Registry)
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	svc, err := NewService(context.Background(), conf, newTestLogger(), deps)
	require.NoError(t, err)
	return svc
}

// runService starts svc and stops it when the test ends.
func runService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("router did not start")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("service did not stop")
		}
	})
}

// subscribe returns the messages published to topic on the service transport.
func subscribe(t *testing.T, svc *Service, topic string) <-chan *message.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := svc.subscriber.Subscribe(ctx, topic)
	require.NoError(t, err)
	return ch
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}
