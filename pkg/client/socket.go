package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/kanban-live/pkg/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Send while no session is open
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned after Disconnect
	ErrClosed = errors.New("socket closed")
)

// State is the state of the logical connection
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Listener event names. Task events use their envelope type.
const (
	EventConnected      = "connected"
	EventClientsChanged = "clients:changed"
	EventError          = "error"
	EventActivity       = "activity:new"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 10
	DefaultDialTimeout = 10 * time.Second
)

// Options configures a Socket. Zero values select the defaults.
type Options struct {
	BaseDelay   time.Duration
	MaxAttempts int
	DialTimeout time.Duration
	Clock       Clock
	Dialer      Dialer
	Logger      *zap.Logger
}

// Socket is a reconnecting hub connection
type Socket struct {
	url    string
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	attempts int
	conn     Conn
	timer    Timer
	closed   bool
	started  bool
	clientID uint64
	// gen identifies the current physical session; callbacks carrying an
	// older generation are ignored
	gen uint64

	writeMu sync.Mutex

	listeners *registry[json.RawMessage]
	statuses  *registry[State]
}

// New creates a socket for url in the connecting state. Call Start to dial.
func New(url string, opts Options) *Socket {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{HandshakeTimeout: opts.DialTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Socket{
		url:       url,
		opts:      opts,
		logger:    opts.Logger,
		state:     StateConnecting,
		listeners: newRegistry[json.RawMessage](opts.Logger),
		statuses:  newRegistry[State](opts.Logger),
	}
}

// Start makes the first connection attempt
func (s *Socket) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	gen := s.gen
	s.mu.Unlock()

	go s.dial(gen)
	return nil
}

// On registers fn for event and returns a handle for Off
func (s *Socket) On(event string, fn func(payload json.RawMessage)) ListenerID {
	return s.listeners.add(event, fn)
}

// Off removes a listener registered with On
func (s *Socket) Off(event string, id ListenerID) bool {
	return s.listeners.remove(event, id)
}

// OnStatus registers fn for every state transition
func (s *Socket) OnStatus(fn func(State)) ListenerID {
	return s.statuses.add("status", fn)
}

// OffStatus removes a listener registered with OnStatus
func (s *Socket) OffStatus(id ListenerID) bool {
	return s.statuses.remove("status", id)
}

// State returns the current state
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of reconnect attempts since the last open
func (s *Socket) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// ClientID returns the identifier assigned by the hub, or 0 before connected
func (s *Socket) ClientID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// Disconnect closes the session and suppresses further reconnects
func (s *Socket) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		_ = conn.Close()
	}

	s.logger.Info("disconnected", zap.String("url", s.url))
	s.statuses.emit("status", StateDisconnected)
}

// Send writes an envelope of type eventType
func (s *Socket) Send(eventType domain.EventType, payload interface{}) error {
	env, err := domain.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	conn := s.conn
	if s.state != StateConnected || conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to send %s: %w", eventType, err)
	}
	return nil
}

// TaskMoved sends task:moved stamped with the current time
func (s *Socket) TaskMoved(taskID int64, fromStatus, toStatus string) error {
	return s.Send(domain.EventTaskMoved, domain.TaskMovedPayload{
		TaskID:     taskID,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Timestamp:  s.opts.Clock.Now().UnixMilli(),
	})
}

// TaskCreated sends task:created with task encoded as JSON
func (s *Socket) TaskCreated(task interface{}) error {
	return s.sendTask(domain.EventTaskCreated, task)
}

// TaskUpdated sends task:updated with task encoded as JSON
func (s *Socket) TaskUpdated(task interface{}) error {
	return s.sendTask(domain.EventTaskUpdated, task)
}

// TaskDeleted sends task:deleted
func (s *Socket) TaskDeleted(taskID int64) error {
	return s.Send(domain.EventTaskDeleted, domain.TaskDeletedPayload{
		TaskID:    taskID,
		Timestamp: s.opts.Clock.Now().UnixMilli(),
	})
}

func (s *Socket) sendTask(eventType domain.EventType, task interface{}) error {
	encoded, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	return s.Send(eventType, domain.TaskPayload{
		Task:      encoded,
		Timestamp: s.opts.Clock.Now().UnixMilli(),
	})
}

// dial makes one physical connection attempt for generation gen
func (s *Socket) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	defer cancel()

	conn, err := s.opts.Dialer.Dial(ctx, s.url)

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("connection attempt failed",
			zap.String("url", s.url),
			zap.Error(err))
		s.lost(gen)
		return
	}
	s.conn = conn
	s.state = StateConnected
	s.attempts = 0
	s.mu.Unlock()

	s.logger.Info("connected", zap.String("url", s.url))
	s.statuses.emit("status", StateConnected)

	go s.read(gen, conn)
}

func (s *Socket) read(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("session closed", zap.Error(err))
			_ = conn.Close()
			s.lost(gen)
			return
		}
		s.dispatch(data)
	}
}

// lost handles the end of session gen and schedules the next attempt
func (s *Socket) lost(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.conn = nil
	s.clientID = 0

	transitions := []State{StateDisconnected}
	if s.attempts >= s.opts.MaxAttempts {
		s.state = StateFailed
		transitions = append(transitions, StateFailed)
		s.mu.Unlock()

		s.logger.Error("giving up reconnecting",
			zap.String("url", s.url),
			zap.Int("attempts", s.opts.MaxAttempts))
		s.emitStatuses(transitions)
		return
	}

	s.attempts++
	delay := s.opts.BaseDelay * time.Duration(s.attempts)
	next := s.gen
	s.state = StateReconnecting
	transitions = append(transitions, StateReconnecting)
	s.timer = s.opts.Clock.AfterFunc(delay, func() { s.reconnect(next) })
	attempt := s.attempts
	s.mu.Unlock()

	s.logger.Info("reconnecting",
		zap.String("url", s.url),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
	s.emitStatuses(transitions)
}

func (s *Socket) reconnect(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state = StateConnecting
	s.mu.Unlock()

	s.statuses.emit("status", StateConnecting)
	go s.dial(gen)
}

func (s *Socket) emitStatuses(states []State) {
	for _, st := range states {
		s.statuses.emit("status", st)
	}
}

// dispatch routes one inbound frame. Undecodable frames are logged and dropped.
func (s *Socket) dispatch(data []byte) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		s.logger.Warn("failed to parse message", zap.Error(err))
		return
	}

	switch env.Type {
	case domain.EventConnected:
		var payload domain.ConnectedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			s.logger.Warn("failed to parse connected payload", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.clientID = payload.ClientID
		s.mu.Unlock()
		s.listeners.emit(EventConnected, env.Payload)
	case domain.EventClientJoined, domain.EventClientLeft:
		s.listeners.emit(EventClientsChanged, env.Payload)
	case domain.EventTaskMoved, domain.EventTaskCreated, domain.EventTaskDeleted,
		domain.EventTaskUpdated, domain.EventError, domain.EventActivityNew:
		s.listeners.emit(string(env.Type), env.Payload)
	default:
		s.logger.Debug("unhandled message type", zap.String("type", string(env.Type)))
	}
}
