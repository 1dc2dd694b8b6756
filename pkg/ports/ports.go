// Package ports declares the interfaces between application code and adapters.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/kanban-live/pkg/domain"
)

// ErrDuplicate is returned by ActivityStore.Append when an entry with the
// same dedup key already exists. The existing entry is returned with it.
var ErrDuplicate = errors.New("duplicate activity entry")

// ActivityStore is the durable activity log.
type ActivityStore interface {
	// Append persists entry and fills its ID and CreatedAt.
	Append(ctx context.Context, entry *domain.ActivityEntry) (*domain.ActivityEntry, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.ActivityEntry, error)
	Close() error
}

// RecentActivity is a capped cache of the latest activity views.
type RecentActivity interface {
	Push(ctx context.Context, view domain.ActivityView) error
	List(ctx context.Context, limit int) ([]domain.ActivityView, error)
}

// HubNotifier pushes an encoded envelope to the live hub. Delivery is best effort.
type HubNotifier interface {
	Notify(ctx context.Context, envelope []byte) error
}

// MetricsCollector records hub and relay metrics.
type MetricsCollector interface {
	SetConnectedClients(count int)
	IncMessagesRelayed(eventType string)
	IncInvalidMessages(reason string)
	IncDeliveryFailures(reason string)

	IncRelayMessages(outcome string)
	IncHubPushFailures()
	ObservePersistDuration(duration time.Duration)

	IncEventsPublished(action string, ok bool)
}
