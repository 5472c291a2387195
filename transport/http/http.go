// Package http provides the HTTP transport: messages are POSTed to
// publisher_url + topic and received on an embedded server.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/policyflow/transport"
)

// TransportName is the pubsub_system value selecting this backend.
const TransportName = "http"

// ClientTimeout bounds each outbound publish request.
const ClientTimeout = 10 * time.Second

// ErrAddressRequired is returned when the config lacks a server address.
var ErrAddressRequired = errors.New("http: server address is required")

// PublisherFactory creates the publisher; tests override it.
var PublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(cfg, logger)
}

// SubscriberFactory creates the subscriber; tests override it.
var SubscriberFactory = func(addr string, cfg http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, cfg, logger)
}

// Register adds the HTTP backend to r, or to the default registry when r is nil.
func Register(r *transport.Registry) {
	if r == nil {
		r = transport.DefaultRegistry
	}
	r.Register(TransportName, Build, transport.HTTPCapabilities)
}

// TopicURL joins the publisher base URL and a topic.
func TopicURL(base, topic string) string {
	if base == "" || strings.HasSuffix(base, "/") {
		return base + topic
	}
	return base + "/" + topic
}

// Build creates an HTTP transport. The embedded server starts from
// Transport.Start, after flows have registered their routes.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	if serverAddr == "" {
		return transport.Transport{}, ErrAddressRequired
	}
	publisherURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(TopicURL(publisherURL, topic), msg)
			},
			Client: &nethttp.Client{Timeout: ClientTimeout},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	tr := transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}
	if s, ok := subscriber.(*http.Subscriber); ok {
		tr.Start = func() error {
			go func() {
				if err := s.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					logger.Error("HTTP subscriber server stopped", err, watermill.LogFields{"addr": serverAddr})
				}
			}()
			return nil
		}
	}
	return tr, nil
}
