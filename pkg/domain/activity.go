package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Action is the kind of an activity log entry.
type Action string

const (
	ActionTaskCreated Action = "task_created"
	ActionTaskMoved   Action = "task_moved"
	ActionTaskDeleted Action = "task_deleted"
	ActionTaskUpdated Action = "task_updated"
)

// ErrUnknownAction is returned for queue events without a recognized action.
var ErrUnknownAction = errors.New("unknown action")

// Valid reports whether a is one of the four known kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionTaskCreated, ActionTaskMoved, ActionTaskDeleted, ActionTaskUpdated:
		return true
	}
	return false
}

// TimestampLayout is the layout used for queue timestamps and created_at.
const TimestampLayout = "2006-01-02 15:04:05"

var statusLabels = map[string]string{
	"backlog":     "Backlog",
	"todo":        "To Do",
	"in_progress": "In Progress",
	"done":        "Done",
}

// StatusLabel maps a status key to its board label. Unknown keys are returned as is.
func StatusLabel(key string) string {
	if label, ok := statusLabels[key]; ok {
		return label
	}
	return key
}

// ActivityEntry is one row of the activity log.
type ActivityEntry struct {
	ID         int64
	Action     Action
	TaskID     *int64
	TaskTitle  *string
	FromStatus *string
	ToStatus   *string
	Details    *string
	DedupKey   string
	CreatedAt  time.Time
}

// NewActivityEntry projects a queue event onto an unsaved entry.
func NewActivityEntry(ev QueueEvent, dedupKey string) (*ActivityEntry, error) {
	if !ev.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action)
	}
	entry := &ActivityEntry{
		Action:     ev.Action,
		TaskID:     ev.TaskID,
		TaskTitle:  ev.TaskTitle,
		FromStatus: ev.FromStatus,
		ToStatus:   ev.ToStatus,
		DedupKey:   dedupKey,
	}
	if len(ev.Details) > 0 && string(ev.Details) != "null" {
		details := string(ev.Details)
		entry.Details = &details
	}
	return entry, nil
}

// Description renders a human readable sentence for the entry.
func (e *ActivityEntry) Description() string {
	title := deref(e.TaskTitle)
	switch e.Action {
	case ActionTaskCreated:
		return fmt.Sprintf("Task \"%s\" was created in %s", title, StatusLabel(deref(e.ToStatus)))
	case ActionTaskMoved:
		return fmt.Sprintf("Task \"%s\" was moved from %s to %s", title,
			StatusLabel(deref(e.FromStatus)), StatusLabel(deref(e.ToStatus)))
	case ActionTaskDeleted:
		return fmt.Sprintf("Task \"%s\" was deleted", title)
	case ActionTaskUpdated:
		return fmt.Sprintf("Task \"%s\" was updated", title)
	default:
		return string(e.Action)
	}
}

// ActivityView is the activity:new payload and the /api/v1/activity item.
type ActivityView struct {
	ID          int64   `json:"id"`
	Action      Action  `json:"action"`
	TaskID      *int64  `json:"task_id"`
	TaskTitle   *string `json:"task_title"`
	FromStatus  *string `json:"from_status"`
	ToStatus    *string `json:"to_status"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"created_at"`
}

// View returns the wire projection of the entry.
func (e *ActivityEntry) View() ActivityView {
	return ActivityView{
		ID:          e.ID,
		Action:      e.Action,
		TaskID:      e.TaskID,
		TaskTitle:   e.TaskTitle,
		FromStatus:  e.FromStatus,
		ToStatus:    e.ToStatus,
		Description: e.Description(),
		CreatedAt:   e.CreatedAt.Format(TimestampLayout),
	}
}

// ActivityEnvelope builds the activity:new envelope for a persisted entry.
func (e *ActivityEntry) ActivityEnvelope() ([]byte, error) {
	env, err := NewEnvelope(EventActivityNew, e.View())
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
