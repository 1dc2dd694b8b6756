package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/kanban-live/internal/application/emitter"
	"github.com/aescanero/kanban-live/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/kanban-live/pkg/domain"
)

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	ev, err := parseFlags([]string{"-action", "task_moved", "-id", "42", "-title", "Ship", "-from", "todo", "-to", "done"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, event{action: domain.ActionTaskMoved, taskID: 42, title: "Ship", from: "todo", to: "done"}, ev)

	_, err = parseFlags([]string{"-action", "bogus", "-id", "1"}, &stderr)
	assert.Error(t, err)

	_, err = parseFlags([]string{"-action", "task_deleted"}, &stderr)
	assert.Error(t, err)
}

func TestRunRejectsBadArgumentsBeforeConnecting(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"-action", "nope"}, &stderr))
	assert.Contains(t, stderr.String(), "-action")
}

func TestPublish(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	messages, err := pubSub.Subscribe(context.Background(), "kanban_events")
	require.NoError(t, err)

	e := emitter.New(pubSub, "kanban_events", prometheus.NewCollector(promclient.NewRegistry()), zap.NewNop())
	ok := publish(context.Background(), e, event{action: domain.ActionTaskMoved, taskID: 42, title: "Ship", from: "todo", to: "done"})
	require.True(t, ok)

	select {
	case msg := <-messages:
		msg.Ack()
		ev, err := domain.DecodeQueueEvent(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, domain.ActionTaskMoved, ev.Action)
		assert.Equal(t, "done", *ev.ToStatus)
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(topic string, messages ...*message.Message) error {
	return errors.New("broker down")
}
func (failingPublisher) Close() error { return nil }

func TestPublishFailure(t *testing.T) {
	e := emitter.New(failingPublisher{}, "kanban_events", prometheus.NewCollector(promclient.NewRegistry()), zap.NewNop())
	assert.False(t, publish(context.Background(), e, event{action: domain.ActionTaskDeleted, taskID: 1, title: "x"}))
}
