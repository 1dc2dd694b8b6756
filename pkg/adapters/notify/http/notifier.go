// Package http pushes envelopes to the hub's broadcast endpoint using the
// watermill-http publisher.
package http

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// ErrHubRejected is returned when the hub could not be reached or refused
// the envelope.
var ErrHubRejected = errors.New("hub did not accept the envelope")

// topic is unused by the endpoint; watermill requires one.
const topic = "broadcast"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// Notifier implements HubNotifier over HTTP
type Notifier struct {
	publisher message.Publisher
	url       string
}

// NewNotifier creates a notifier posting to url with the given request timeout
func NewNotifier(url string, timeout time.Duration, logger watermill.LoggerAdapter) (*Notifier, error) {
	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(_ string, msg *message.Message) (*nethttp.Request, error) {
				req, err := http.DefaultMarshalMessageFunc(url, msg)
				if err != nil {
					return nil, err
				}
				req.Header.Set("Content-Type", "application/json")
				return req.WithContext(msg.Context()), nil
			},
			Client: &nethttp.Client{Timeout: timeout},
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create hub publisher: %w", err)
	}

	return &Notifier{publisher: publisher, url: url}, nil
}

// Notify posts envelope to the hub (ports.HubNotifier interface)
func (n *Notifier) Notify(ctx context.Context, envelope []byte) error {
	msg := message.NewMessage(uuid.NewString(), envelope)
	msg.SetContext(ctx)

	if err := n.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrHubRejected, n.url, err)
	}
	return nil
}

// Close releases the publisher
func (n *Notifier) Close() error {
	return n.publisher.Close()
}
