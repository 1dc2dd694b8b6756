package emitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	promcollector "github.com/aescanero/kanban-live/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/kanban-live/pkg/domain"
)

const topic = "kanban_events"

func newEmitter(t *testing.T, pub message.Publisher) *Emitter {
	t.Helper()
	e := New(pub, topic, promcollector.NewCollector(prometheus.NewRegistry()), zap.NewNop())
	e.now = func() time.Time { return time.Date(2024, 11, 28, 9, 30, 0, 0, time.UTC) }
	return e
}

func receive(t *testing.T, messages <-chan *message.Message) (*message.Message, domain.QueueEvent) {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		ev, err := domain.DecodeQueueEvent(msg.Payload)
		require.NoError(t, err)
		return msg, ev
	case <-time.After(time.Second):
		t.Fatal("no message published")
		return nil, domain.QueueEvent{}
	}
}

func TestEmitter_Helpers(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	messages, err := pubSub.Subscribe(context.Background(), topic)
	require.NoError(t, err)

	e := newEmitter(t, pubSub)
	ctx := context.Background()

	require.True(t, e.TaskCreated(ctx, 9, "Write docs", "backlog"))
	msg, ev := receive(t, messages)
	assert.NotEmpty(t, msg.UUID)
	assert.Equal(t, "task_created", msg.Metadata.Get("action"))
	assert.Equal(t, domain.ActionTaskCreated, ev.Action)
	assert.Equal(t, int64(9), *ev.TaskID)
	assert.Equal(t, "Write docs", *ev.TaskTitle)
	assert.Nil(t, ev.FromStatus)
	assert.Equal(t, "backlog", *ev.ToStatus)
	assert.Equal(t, "2024-11-28 09:30:00", ev.Timestamp)

	require.True(t, e.TaskMoved(ctx, 9, "Write docs", "backlog", "in_progress"))
	_, ev = receive(t, messages)
	assert.Equal(t, domain.ActionTaskMoved, ev.Action)
	assert.Equal(t, "backlog", *ev.FromStatus)
	assert.Equal(t, "in_progress", *ev.ToStatus)

	require.True(t, e.TaskUpdated(ctx, 9, "Write better docs"))
	_, ev = receive(t, messages)
	assert.Equal(t, domain.ActionTaskUpdated, ev.Action)

	require.True(t, e.TaskDeleted(ctx, 9, "Write better docs"))
	_, ev = receive(t, messages)
	assert.Equal(t, domain.ActionTaskDeleted, ev.Action)
	assert.Nil(t, ev.ToStatus)
}

func TestEmitter_UniqueMessageIDs(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	messages, err := pubSub.Subscribe(context.Background(), topic)
	require.NoError(t, err)

	e := newEmitter(t, pubSub)
	require.True(t, e.TaskDeleted(context.Background(), 1, "a"))
	require.True(t, e.TaskDeleted(context.Background(), 1, "a"))

	first, _ := receive(t, messages)
	second, _ := receive(t, messages)
	assert.NotEqual(t, first.UUID, second.UUID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(topic string, messages ...*message.Message) error {
	return errors.New("broker unavailable")
}
func (failingPublisher) Close() error { return nil }

func TestEmitter_BrokerFailureDoesNotPropagate(t *testing.T) {
	e := newEmitter(t, failingPublisher{})

	assert.NotPanics(t, func() {
		ok := e.TaskMoved(context.Background(), 42, "Ship", "todo", "done")
		assert.False(t, ok)
	})
}
