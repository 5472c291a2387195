package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/policyflow/transport"
	"github.com/drblury/policyflow/transport/transporttest"
)

func stubFactories(t *testing.T, pub func(kafka.PublisherConfig) (message.Publisher, error), sub func(kafka.SubscriberConfig) (message.Subscriber, error)) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory, SubscriberFactory = originalPub, originalSub
	})
	PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		return pub(cfg)
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		return sub(cfg)
	}
}

func TestRegister(t *testing.T) {
	r := transport.NewRegistry()
	Register(r)

	caps := r.Capabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsPartitioning)
}

func TestBuild(t *testing.T) {
	mockPub := &transporttest.Publisher{}
	mockSub := &transporttest.Subscriber{}
	stubFactories(t,
		func(cfg kafka.PublisherConfig) (message.Publisher, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			require.NotNil(t, cfg.OverwriteSaramaConfig)
			assert.Equal(t, "orders-svc", cfg.OverwriteSaramaConfig.ClientID)
			return mockPub, nil
		},
		func(cfg kafka.SubscriberConfig) (message.Subscriber, error) {
			assert.Equal(t, "test-group", cfg.ConsumerGroup)
			assert.Equal(t, "orders-svc", cfg.OverwriteSaramaConfig.ClientID)
			return mockSub, nil
		},
	)

	tr, err := Build(context.Background(), &transporttest.Config{
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaClientID:      "orders-svc",
		KafkaConsumerGroup: "test-group",
	}, watermill.NopLogger{})

	require.NoError(t, err)
	assert.Same(t, mockPub, tr.Publisher)
	assert.Same(t, mockSub, tr.Subscriber)
}

func TestBuild_DefaultGroup(t *testing.T) {
	stubFactories(t,
		func(kafka.PublisherConfig) (message.Publisher, error) { return &transporttest.Publisher{}, nil },
		func(cfg kafka.SubscriberConfig) (message.Subscriber, error) {
			assert.Equal(t, DefaultConsumerGroup, cfg.ConsumerGroup)
			return &transporttest.Subscriber{}, nil
		},
	)

	_, err := Build(context.Background(), &transporttest.Config{KafkaBrokers: []string{"b:9092"}}, watermill.NopLogger{})
	require.NoError(t, err)
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorIs(t, err, ErrNoBrokers)

	pubErr := errors.New("publisher error")
	stubFactories(t,
		func(kafka.PublisherConfig) (message.Publisher, error) { return nil, pubErr },
		func(kafka.SubscriberConfig) (message.Subscriber, error) { return &transporttest.Subscriber{}, nil },
	)
	_, err = Build(context.Background(), &transporttest.Config{KafkaBrokers: []string{"b:9092"}}, watermill.NopLogger{})
	assert.ErrorIs(t, err, pubErr)

	subErr := errors.New("subscriber error")
	pub := &transporttest.Publisher{}
	stubFactories(t,
		func(kafka.PublisherConfig) (message.Publisher, error) { return pub, nil },
		func(kafka.SubscriberConfig) (message.Subscriber, error) { return nil, subErr },
	)
	_, err = Build(context.Background(), &transporttest.Config{KafkaBrokers: []string{"b:9092"}}, watermill.NopLogger{})
	assert.ErrorIs(t, err, subErr)
	assert.True(t, pub.Closed)
}
