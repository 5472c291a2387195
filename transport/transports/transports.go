// Package transports registers every built-in backend.
package transports

import (
	"github.com/drblury/policyflow/transport"
	"github.com/drblury/policyflow/transport/aws"
	"github.com/drblury/policyflow/transport/channel"
	"github.com/drblury/policyflow/transport/http"
	"github.com/drblury/policyflow/transport/kafka"
	"github.com/drblury/policyflow/transport/nats"
	"github.com/drblury/policyflow/transport/rabbitmq"
)

// RegisterAll adds every built-in backend to r, or to the default registry when r is nil.
func RegisterAll(r *transport.Registry) *transport.Registry {
	if r == nil {
		r = transport.DefaultRegistry
	}
	channel.Register(r)
	kafka.Register(r)
	rabbitmq.Register(r)
	nats.Register(r)
	http.Register(r)
	aws.Register(r)
	return r
}
