package transport

// Capabilities describes the delivery guarantees of a transport backend.
type Capabilities struct {
	Name string `json:"name"`

	// SupportsOrdering is true when messages on one topic or partition arrive in order.
	SupportsOrdering bool `json:"supports_ordering"`
	// SupportsAck is true when consumed messages must be acknowledged explicitly.
	SupportsAck bool `json:"supports_ack"`
	// SupportsNack is true when a nacked message is redelivered.
	SupportsNack bool `json:"supports_nack"`
	// SupportsTracing is true when metadata headers travel with the message.
	SupportsTracing bool `json:"supports_tracing"`
	// SupportsPartitioning is true when the broker shards topics.
	SupportsPartitioning bool `json:"supports_partitioning"`

	// MaxMessageSize in bytes, 0 when unbounded or unknown.
	MaxMessageSize int64 `json:"max_message_size"`
}

// SupportsReliableDelivery reports whether a failed message returned to the
// broker will be seen again.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsAck:          true,
		SupportsNack:         true,
		SupportsTracing:      true,
		SupportsPartitioning: true,
		MaxMessageSize:       1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		MaxMessageSize:   128 << 20,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1 << 20,
	}

	AWSCapabilities = Capabilities{
		Name:            "aws",
		SupportsAck:     true,
		SupportsNack:    true,
		SupportsTracing: true,
		MaxMessageSize:  256 << 10,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsAck:     true,
		SupportsTracing: true,
	}
)
