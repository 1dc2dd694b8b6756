package client

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/kanban-live/pkg/domain"
)

const (
	testURL   = "ws://localhost:8081/ws"
	baseDelay = 100 * time.Millisecond
	waitFor   = 2 * time.Second
	tick      = 5 * time.Millisecond
)

type harness struct {
	socket *Socket
	clock  *fakeClock
	dialer *fakeDialer

	mu       sync.Mutex
	statuses []State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), dialer: newFakeDialer()}
	h.socket = New(testURL, Options{
		BaseDelay: baseDelay,
		Clock:     h.clock,
		Dialer:    h.dialer,
		Logger:    zap.NewNop(),
	})
	h.socket.OnStatus(func(s State) {
		h.mu.Lock()
		h.statuses = append(h.statuses, s)
		h.mu.Unlock()
	})
	t.Cleanup(h.socket.Disconnect)
	return h
}

func (h *harness) seen() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.statuses...)
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.socket.State() == want }, waitFor, tick,
		"state never became %s", want)
}

func (h *harness) waitTimers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.clock.delays()) == n }, waitFor, tick,
		"expected %d scheduled timers", n)
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	conn := h.dialer.accept()
	h.waitState(t, StateConnected)
	return conn
}

func TestSocket_InitialState(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateConnecting, h.socket.State())
	assert.Equal(t, 0, h.dialer.count())
}

func TestSocket_OpenResetsAttempts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.socket.Start())

	conn := h.connect(t)
	assert.Equal(t, 0, h.socket.Attempts())

	conn.Close()
	h.waitState(t, StateReconnecting)
	assert.Equal(t, 1, h.socket.Attempts())
	require.Eventually(t, func() bool { return len(h.seen()) == 3 }, waitFor, tick)
	assert.Equal(t, []State{StateConnected, StateDisconnected, StateReconnecting}, h.seen())

	require.True(t, h.clock.fireLast())
	h.connect(t)
	assert.Equal(t, 0, h.socket.Attempts())
}

func TestSocket_LinearBackoffUntilFailed(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.socket.Start())

	conn := h.connect(t)
	conn.Close()
	h.waitTimers(t, 1)
	assert.Equal(t, []time.Duration{baseDelay}, h.clock.delays())

	h.dialer.refuse()
	require.True(t, h.clock.fireLast())
	h.waitTimers(t, 2)
	assert.Equal(t, []time.Duration{baseDelay, 2 * baseDelay}, h.clock.delays())

	for n := 3; n <= DefaultMaxAttempts; n++ {
		h.dialer.refuse()
		require.True(t, h.clock.fireLast())
		h.waitTimers(t, n)
		assert.Equal(t, time.Duration(n)*baseDelay, h.clock.delays()[n-1])
		assert.Equal(t, StateReconnecting, h.socket.State())
	}

	// The tenth attempt fails too
	h.dialer.refuse()
	require.True(t, h.clock.fireLast())
	h.waitState(t, StateFailed)

	assert.Len(t, h.clock.delays(), DefaultMaxAttempts)
	assert.False(t, h.clock.fireLast(), "no timer may be pending once failed")
	assert.Equal(t, 1+DefaultMaxAttempts, h.dialer.count())

	require.Eventually(t, func() bool {
		seen := h.seen()
		return seen[len(seen)-1] == StateFailed
	}, waitFor, tick)
}

func TestSocket_DisconnectSuppressesReconnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.socket.Start())

	conn := h.connect(t)
	conn.Close()
	h.waitState(t, StateReconnecting)

	pending := h.clock.last()
	h.socket.Disconnect()

	assert.Equal(t, StateDisconnected, h.socket.State())
	assert.True(t, pending.isStopped())

	// A callback that raced the cancellation is ignored
	pending.fn()
	assert.Equal(t, StateDisconnected, h.socket.State())
	assert.Equal(t, 1, h.dialer.count())
	assert.ErrorIs(t, h.socket.Start(), ErrClosed)
}

func TestSocket_DisconnectWhileConnected(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.socket.Start())
	conn := h.connect(t)

	h.socket.Disconnect()

	select {
	case <-conn.closed:
	case <-time.After(waitFor):
		t.Fatal("connection was not closed")
	}
	assert.Equal(t, StateDisconnected, h.socket.State())
	assert.Empty(t, h.clock.delays())
	assert.ErrorIs(t, h.socket.TaskDeleted(1), ErrClosed)
}

func TestSocket_Dispatch(t *testing.T) {
	h := newHarness(t)

	events := make(chan string, 16)
	record := func(name string) func(json.RawMessage) {
		return func(json.RawMessage) { events <- name }
	}
	var connected domain.ConnectedPayload
	h.socket.On(EventConnected, func(p json.RawMessage) {
		_ = json.Unmarshal(p, &connected)
		events <- EventConnected
	})
	h.socket.On(EventClientsChanged, record(EventClientsChanged))
	h.socket.On(string(domain.EventTaskMoved), record("task:moved"))
	h.socket.On(EventError, record(EventError))

	require.NoError(t, h.socket.Start())
	conn := h.connect(t)

	conn.in <- []byte(`{"type":"connected","payload":{"clientId":7,"totalClients":2}}`)
	conn.in <- []byte(`not json`)
	conn.in <- []byte(`{"type":"board:renamed","payload":{}}`)
	conn.in <- []byte(`{"type":"client:joined","payload":{"totalClients":3}}`)
	conn.in <- []byte(`{"type":"client:left","payload":{"totalClients":2}}`)
	conn.in <- []byte(`{"type":"task:moved","payload":{"taskId":42,"senderId":3}}`)
	conn.in <- []byte(`{"type":"error","payload":{"message":"Invalid message format"}}`)

	var got []string
	for len(got) < 5 {
		select {
		case name := <-events:
			got = append(got, name)
		case <-time.After(waitFor):
			t.Fatalf("only received %v", got)
		}
	}

	assert.Equal(t, []string{EventConnected, EventClientsChanged, EventClientsChanged, "task:moved", EventError}, got)
	assert.Equal(t, uint64(7), connected.ClientID)
	assert.Equal(t, uint64(7), h.socket.ClientID())
	assert.Equal(t, StateConnected, h.socket.State())
}

func TestSocket_SendHelpers(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.socket.TaskMoved(42, "todo", "done"), ErrNotConnected)

	require.NoError(t, h.socket.Start())
	conn := h.connect(t)

	require.NoError(t, h.socket.TaskMoved(42, "todo", "done"))
	require.NoError(t, h.socket.TaskCreated(map[string]interface{}{"id": 5, "title": "New"}))
	require.NoError(t, h.socket.TaskDeleted(5))

	sent := conn.sent()
	require.Len(t, sent, 3)

	env, err := domain.DecodeEnvelope(sent[0])
	require.NoError(t, err)
	assert.Equal(t, domain.EventTaskMoved, env.Type)
	var moved domain.TaskMovedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &moved))
	assert.Equal(t, int64(42), moved.TaskID)
	assert.Equal(t, "done", moved.ToStatus)
	assert.Equal(t, h.clock.Now().UnixMilli(), moved.Timestamp)

	env, err = domain.DecodeEnvelope(sent[1])
	require.NoError(t, err)
	assert.Equal(t, domain.EventTaskCreated, env.Type)
	var created domain.TaskPayload
	require.NoError(t, json.Unmarshal(env.Payload, &created))
	assert.JSONEq(t, `{"id":5,"title":"New"}`, string(created.Task))
	assert.NotZero(t, created.Timestamp)

	env, err = domain.DecodeEnvelope(sent[2])
	require.NoError(t, err)
	assert.Equal(t, domain.EventTaskDeleted, env.Type)
}

func TestSocket_DialErrorCountsAsClose(t *testing.T) {
	h := newHarness(t)
	h.dialer.refuse()
	require.NoError(t, h.socket.Start())

	h.waitState(t, StateReconnecting)
	assert.Equal(t, []time.Duration{baseDelay}, h.clock.delays())
	assert.True(t, errors.Is(h.socket.TaskDeleted(1), ErrNotConnected))
}
