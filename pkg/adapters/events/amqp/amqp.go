// Package amqp wires watermill-amqp to the kanban_events topology: a durable
// fanout exchange bound to one durable work queue consumed one message at a
// time with manual acknowledgement.
package amqp

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Settings names the broker and the topology.
type Settings struct {
	URI         string
	Exchange    string
	Queue       string
	ConsumerTag string
}

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// Initializer is implemented by subscribers that can declare their topology
// without consuming.
type Initializer interface {
	SubscribeInitialize(topic string) error
}

// NewConfig builds the watermill-amqp configuration. The topic passed to
// Publish and Subscribe is the exchange name; every topic maps onto the
// single configured queue.
func NewConfig(s Settings) amqp.Config {
	queue := s.Queue
	cfg := amqp.NewDurablePubSubConfig(s.URI, func(string) string { return queue })

	cfg.Exchange.Type = "fanout"
	cfg.Exchange.Durable = true
	cfg.Queue.Durable = true

	cfg.Consume.Qos.PrefetchCount = 1
	cfg.Consume.NoRequeueOnNack = false
	cfg.Consume.Consumer = s.ConsumerTag

	cfg.Marshaler = Marshaler{}

	return cfg
}

// Connect opens a reconnecting connection shared by publishers and subscribers.
func Connect(s Settings, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   s.URI,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// NewPublisher creates a publisher on conn.
func NewPublisher(s Settings, conn *amqp.ConnectionWrapper, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := PublisherFactory(NewConfig(s), logger, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}
	return pub, nil
}

// NewSubscriber creates a subscriber on conn.
func NewSubscriber(s Settings, conn *amqp.ConnectionWrapper, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := SubscriberFactory(NewConfig(s), logger, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}
	return sub, nil
}

// DeclareTopology declares the exchange, the queue and their binding when
// sub supports it. Other subscribers are left alone.
func DeclareTopology(sub message.Subscriber, exchange string) error {
	initializer, ok := sub.(Initializer)
	if !ok {
		return nil
	}
	if err := initializer.SubscribeInitialize(exchange); err != nil {
		return fmt.Errorf("failed to declare topology for %s: %w", exchange, err)
	}
	return nil
}
