// Package channel provides the in-memory gochannel transport. Flows wired to
// it run inside one process, which is what tests and local runs want.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/policyflow/transport"
)

// TransportName is the pubsub_system value selecting this backend.
const TransportName = "channel"

// OutputBuffer is the per-subscriber buffer of the in-memory pub/sub.
const OutputBuffer = 256

// Factory creates the pub/sub pair; tests override it.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

// Register adds the channel backend to r, or to the default registry when r is nil.
func Register(r *transport.Registry) {
	if r == nil {
		r = transport.DefaultRegistry
	}
	r.Register(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a gochannel transport. The config carries nothing it needs.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}
