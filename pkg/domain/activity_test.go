package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestDecodeQueueEvent(t *testing.T) {
	ev, err := DecodeQueueEvent([]byte(`{"action":"task_moved","task_id":3,"task_title":"Ship","from_status":"todo","to_status":"done","timestamp":"2024-11-28 10:00:00"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionTaskMoved, ev.Action)
	require.NotNil(t, ev.TaskID)
	assert.Equal(t, int64(3), *ev.TaskID)
	assert.Equal(t, "todo", *ev.FromStatus)

	_, err = DecodeQueueEvent([]byte(`{"task_id":3}`))
	assert.True(t, errors.Is(err, ErrUnknownAction))

	_, err = DecodeQueueEvent([]byte(`{"action":"task_archived"}`))
	assert.True(t, errors.Is(err, ErrUnknownAction))

	_, err = DecodeQueueEvent([]byte(`garbage`))
	assert.Error(t, err)
}

func TestActivityDescription(t *testing.T) {
	tests := []struct {
		name  string
		entry ActivityEntry
		want  string
	}{
		{"created", ActivityEntry{Action: ActionTaskCreated, TaskTitle: strPtr("A"), ToStatus: strPtr("in_progress")}, `Task "A" was created in In Progress`},
		{"moved", ActivityEntry{Action: ActionTaskMoved, TaskTitle: strPtr("B"), FromStatus: strPtr("todo"), ToStatus: strPtr("review")}, `Task "B" was moved from To Do to review`},
		{"deleted", ActivityEntry{Action: ActionTaskDeleted, TaskTitle: strPtr("C")}, `Task "C" was deleted`},
		{"updated", ActivityEntry{Action: ActionTaskUpdated, TaskTitle: strPtr("D")}, `Task "D" was updated`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Description())
		})
	}
}

func TestActivityEnvelope(t *testing.T) {
	ev := NewQueueEvent(ActionTaskCreated, 9, "Write docs", time.Now()).WithStatuses("", "backlog")
	entry, err := NewActivityEntry(ev, "k")
	require.NoError(t, err)
	entry.ID = 12
	entry.CreatedAt = time.Date(2024, 11, 28, 10, 0, 0, 0, time.UTC)

	out, err := entry.ActivityEnvelope()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"activity:new","payload":{
		"id":12,"action":"task_created","task_id":9,"task_title":"Write docs",
		"from_status":null,"to_status":"backlog",
		"description":"Task \"Write docs\" was created in Backlog",
		"created_at":"2024-11-28 10:00:00"}}`, string(out))
}

func TestNewActivityEntryRejectsUnknownAction(t *testing.T) {
	_, err := NewActivityEntry(QueueEvent{Action: "nope"}, "k")
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "msg:abc", DedupKey("abc"))
	assert.Equal(t, "", DedupKey(""))
}
