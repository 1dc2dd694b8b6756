package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueEvent is the JSON body a producer publishes after a committed mutation.
type QueueEvent struct {
	Action     Action          `json:"action"`
	TaskID     *int64          `json:"task_id,omitempty"`
	TaskTitle  *string         `json:"task_title,omitempty"`
	FromStatus *string         `json:"from_status"`
	ToStatus   *string         `json:"to_status"`
	Details    json.RawMessage `json:"details,omitempty"`
	Timestamp  string          `json:"timestamp"`
}

// DecodeQueueEvent parses a queue message body. Bodies that are not JSON
// objects or lack a recognized action return an error wrapping
// ErrUnknownAction or the JSON error.
func DecodeQueueEvent(body []byte) (QueueEvent, error) {
	var ev QueueEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return QueueEvent{}, fmt.Errorf("failed to decode queue event: %w", err)
	}
	if !ev.Action.Valid() {
		return QueueEvent{}, fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action)
	}
	return ev, nil
}

// NewQueueEvent builds an event stamped with now.
func NewQueueEvent(action Action, taskID int64, title string, now time.Time) QueueEvent {
	return QueueEvent{
		Action:    action,
		TaskID:    &taskID,
		TaskTitle: &title,
		Timestamp: now.Format(TimestampLayout),
	}
}

// WithStatuses sets the optional status keys. Empty strings are left unset.
func (ev QueueEvent) WithStatuses(from, to string) QueueEvent {
	if from != "" {
		ev.FromStatus = &from
	}
	if to != "" {
		ev.ToStatus = &to
	}
	return ev
}

// DedupKey derives the idempotency key of a delivery from the message id the
// producer supplied. Deliveries without one get no key and are never
// deduplicated: bodies carry a one-second timestamp, so two distinct events
// can be byte-identical.
func DedupKey(messageID string) string {
	if messageID == "" {
		return ""
	}
	return "msg:" + messageID
}
