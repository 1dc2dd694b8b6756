package amqp

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshaler_SetsMessageID(t *testing.T) {
	msg := message.NewMessage("abc-123", []byte(`{"action":"task_created"}`))
	msg.Metadata.Set("action", "task_created")

	publishing, err := Marshaler{}.Marshal(msg)
	require.NoError(t, err)

	assert.Equal(t, "abc-123", publishing.MessageId)
	assert.Equal(t, "application/json", publishing.ContentType)
	assert.Equal(t, amqp091.Persistent, publishing.DeliveryMode)
	assert.Equal(t, "task_created", publishing.Headers["action"])
}

func TestMarshaler_Unmarshal(t *testing.T) {
	tests := []struct {
		name     string
		delivery amqp091.Delivery
		wantUUID string
	}{
		{
			name: "uuid header wins",
			delivery: amqp091.Delivery{
				MessageId: "from-property",
				Headers:   amqp091.Table{"_watermill_message_uuid": "from-header"},
			},
			wantUUID: "from-header",
		},
		{
			name:     "message_id without header",
			delivery: amqp091.Delivery{MessageId: "from-property"},
			wantUUID: "from-property",
		},
		{
			name:     "no id at all",
			delivery: amqp091.Delivery{},
			wantUUID: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.delivery.Body = []byte(`{}`)
			msg, err := Marshaler{}.Unmarshal(tt.delivery)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUUID, msg.UUID)
			assert.Equal(t, []byte(`{}`), []byte(msg.Payload))
		})
	}
}
