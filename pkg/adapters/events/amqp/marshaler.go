package amqp

import (
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Marshaler carries the message UUID in the AMQP message_id property as well
// as in watermill's header. Producers that only set message_id still get
// their deliveries deduplicated.
type Marshaler struct {
	amqp.DefaultMarshaler
}

// Marshal publishes persistent JSON with message_id set to the UUID.
func (m Marshaler) Marshal(msg *message.Message) (amqp091.Publishing, error) {
	publishing, err := m.DefaultMarshaler.Marshal(msg)
	if err != nil {
		return publishing, err
	}
	publishing.MessageId = msg.UUID
	publishing.ContentType = "application/json"
	return publishing, nil
}

// Unmarshal falls back to message_id when the UUID header is missing.
func (m Marshaler) Unmarshal(delivery amqp091.Delivery) (*message.Message, error) {
	msg, err := m.DefaultMarshaler.Unmarshal(delivery)
	if err != nil {
		return nil, err
	}
	if msg.UUID == "" {
		msg.UUID = delivery.MessageId
	}
	return msg, nil
}
