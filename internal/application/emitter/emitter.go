// Package emitter is the producer side of the event pipeline. Record
// mutation code calls it after a committed change; publishing never fails
// the caller.
package emitter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aescanero/kanban-live/pkg/domain"
	"github.com/aescanero/kanban-live/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Emitter publishes queue events to the board exchange
type Emitter struct {
	publisher message.Publisher
	topic     string
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an emitter publishing to topic
func New(publisher message.Publisher, topic string, metrics ports.MetricsCollector, logger *zap.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		topic:     topic,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Emit publishes ev and reports whether the broker accepted it. Failures are
// logged and swallowed.
func (e *Emitter) Emit(ctx context.Context, ev domain.QueueEvent) bool {
	if ev.Timestamp == "" {
		ev.Timestamp = e.now().Format(domain.TimestampLayout)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("failed to encode queue event",
			zap.String("action", string(ev.Action)),
			zap.Error(err))
		e.metrics.IncEventsPublished(string(ev.Action), false)
		return false
	}

	msg := message.NewMessage(uuid.NewString(), body)
	msg.Metadata.Set("action", string(ev.Action))
	msg.SetContext(ctx)

	if err := e.publisher.Publish(e.topic, msg); err != nil {
		e.logger.Error("failed to publish queue event",
			zap.String("action", string(ev.Action)),
			zap.String("message_uuid", msg.UUID),
			zap.Error(err))
		e.metrics.IncEventsPublished(string(ev.Action), false)
		return false
	}

	e.logger.Debug("queue event published",
		zap.String("action", string(ev.Action)),
		zap.String("message_uuid", msg.UUID))
	e.metrics.IncEventsPublished(string(ev.Action), true)
	return true
}

// TaskCreated publishes a task_created event
func (e *Emitter) TaskCreated(ctx context.Context, taskID int64, title, status string) bool {
	return e.Emit(ctx, domain.NewQueueEvent(domain.ActionTaskCreated, taskID, title, e.now()).WithStatuses("", status))
}

// TaskMoved publishes a task_moved event
func (e *Emitter) TaskMoved(ctx context.Context, taskID int64, title, from, to string) bool {
	return e.Emit(ctx, domain.NewQueueEvent(domain.ActionTaskMoved, taskID, title, e.now()).WithStatuses(from, to))
}

// TaskDeleted publishes a task_deleted event
func (e *Emitter) TaskDeleted(ctx context.Context, taskID int64, title string) bool {
	return e.Emit(ctx, domain.NewQueueEvent(domain.ActionTaskDeleted, taskID, title, e.now()))
}

// TaskUpdated publishes a task_updated event
func (e *Emitter) TaskUpdated(ctx context.Context, taskID int64, title string) bool {
	return e.Emit(ctx, domain.NewQueueEvent(domain.ActionTaskUpdated, taskID, title, e.now()))
}

// Close closes the underlying publisher
func (e *Emitter) Close() error {
	return e.publisher.Close()
}
