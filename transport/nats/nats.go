// Package nats provides the NATS Core transport.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/policyflow/transport"
)

// TransportName is the pubsub_system value selecting this backend.
const TransportName = "nats"

// ConnectionName identifies policyflow clients on the NATS server.
const ConnectionName = "policyflow"

// ErrURLRequired is returned when no server URL is configured.
var ErrURLRequired = errors.New("nats: url is required")

// PublisherFactory creates the publisher; tests override it.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory creates the subscriber; tests override it.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register adds the NATS backend to r, or to the default registry when r is nil.
func Register(r *transport.Registry) {
	if r == nil {
		r = transport.DefaultRegistry
	}
	r.Register(TransportName, Build, transport.NATSCapabilities)
}

// Options returns the connection options both ends dial with.
func Options() []nc.Option {
	return []nc.Option{
		nc.Name(ConnectionName),
		nc.RetryOnFailedConnect(true),
		nc.MaxReconnects(-1),
	}
}

// Build creates a core NATS transport. JetStream is disabled.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, ErrURLRequired
	}
	marshaler := &nats.NATSMarshaler{}
	js := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: Options(),
			Marshaler:   marshaler,
			JetStream:   js,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: ConnectionName,
			NatsOptions:      Options(),
			Unmarshaler:      marshaler,
			JetStream:        js,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
