package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies the kind of an envelope.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventClientJoined EventType = "client:joined"
	EventClientLeft   EventType = "client:left"
	EventTaskMoved    EventType = "task:moved"
	EventTaskCreated  EventType = "task:created"
	EventTaskDeleted  EventType = "task:deleted"
	EventTaskUpdated  EventType = "task:updated"
	EventActivityNew  EventType = "activity:new"
	EventError        EventType = "error"
)

// Known reports whether t belongs to the fixed taxonomy.
func (t EventType) Known() bool {
	switch t {
	case EventConnected, EventClientJoined, EventClientLeft,
		EventTaskMoved, EventTaskCreated, EventTaskDeleted, EventTaskUpdated,
		EventActivityNew, EventError:
		return true
	}
	return false
}

// SenderIDField is the payload key the hub stamps on peer-originated envelopes.
const SenderIDField = "senderId"

// ErrInvalidEnvelope is returned when raw bytes are not a usable envelope.
var ErrInvalidEnvelope = errors.New("invalid message format")

// Envelope is the unit of communication over the live connection.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it with the given type.
func NewEnvelope(t EventType, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: data}, nil
}

// Encode returns the JSON wire form of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// MustEncode is Encode for payloads built from this package's own types,
// which cannot fail to marshal.
func MustEncode(t EventType, payload interface{}) []byte {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		panic(err)
	}
	data, err := env.Encode()
	if err != nil {
		panic(err)
	}
	return data
}

// DecodeEnvelope parses raw into an Envelope. A missing, null or empty
// "type" yields ErrInvalidEnvelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	return env, nil
}

// StampSender returns raw re-encoded with payload.senderId set to senderID.
// Fields other than type and payload are kept as they were. A missing or
// null payload becomes an object holding only senderId; a payload that is
// not a JSON object is rejected.
func StampSender(raw []byte, senderID uint64) (EventType, []byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var t EventType
	typeRaw, ok := fields["type"]
	if !ok {
		return "", nil, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	if err := json.Unmarshal(typeRaw, &t); err != nil || t == "" {
		return "", nil, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}

	payload := map[string]json.RawMessage{}
	if p, ok := fields["payload"]; ok && string(p) != "null" {
		if err := json.Unmarshal(p, &payload); err != nil {
			return "", nil, fmt.Errorf("%w: payload must be an object", ErrInvalidEnvelope)
		}
		if payload == nil {
			payload = map[string]json.RawMessage{}
		}
	}

	sender, _ := json.Marshal(senderID)
	payload[SenderIDField] = sender

	stamped, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	fields["payload"] = stamped

	out, err := json.Marshal(fields)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return t, out, nil
}

// ConnectedPayload is sent to a connection right after it is accepted.
type ConnectedPayload struct {
	ClientID     uint64 `json:"clientId"`
	TotalClients int    `json:"totalClients"`
}

// ClientCountPayload carries the live connection count for client:joined and client:left.
type ClientCountPayload struct {
	TotalClients int `json:"totalClients"`
}

// ErrorPayload is returned to a sender whose message could not be relayed.
type ErrorPayload struct {
	Message string `json:"message"`
}

// TaskMovedPayload is the payload of task:moved.
type TaskMovedPayload struct {
	TaskID     int64   `json:"taskId"`
	FromStatus string  `json:"fromStatus"`
	ToStatus   string  `json:"toStatus"`
	Timestamp  int64   `json:"timestamp"`
	SenderID   *uint64 `json:"senderId,omitempty"`
}

// TaskPayload is the payload of task:created and task:updated.
type TaskPayload struct {
	Task      json.RawMessage `json:"task"`
	Timestamp int64           `json:"timestamp"`
	SenderID  *uint64         `json:"senderId,omitempty"`
}

// TaskDeletedPayload is the payload of task:deleted.
type TaskDeletedPayload struct {
	TaskID    int64   `json:"taskId"`
	Timestamp int64   `json:"timestamp"`
	SenderID  *uint64 `json:"senderId,omitempty"`
}
