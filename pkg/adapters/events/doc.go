// Package events provides broker adapters for board events.
//
// Implementations:
//   - amqp: RabbitMQ fanout exchange and durable work queue via watermill-amqp
//   - zapwatermill: zap logging for watermill clients
//
// Tests use watermill's gochannel pub/sub in place of a broker.
package events
