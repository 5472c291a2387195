// Package transport defines the broker abstraction policy flows consume from
// and publish to. Each backend lives in its own sub-package and registers a
// Builder with a Registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/policyflow/internal/runtime/errors"
)

var (
	// ErrUnknownTransport is returned when no builder is registered for the configured name.
	ErrUnknownTransport = errspkg.ErrUnknownTransport
	// ErrConfigRequired is returned when Build is called without a config.
	ErrConfigRequired = errors.New("transport config is required")
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Start, when set, runs once every flow has subscribed. Backends that
	// serve inbound traffic themselves (http) begin listening here.
	Start func() error
}

// Close closes both ends. Backends sharing one pub/sub value must tolerate a
// second Close.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the settings transports read. It is satisfied by the
// runtime config so backends don't depend on it directly.
type Config interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}
