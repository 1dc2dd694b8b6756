package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/kanban-live/pkg/domain"
	"github.com/aescanero/kanban-live/pkg/ports"
	"go.uber.org/zap"
)

// ErrUnknownConnection is returned when a connection is not in the live set.
var ErrUnknownConnection = errors.New("unknown connection")

const invalidMessageText = "Invalid message format"

// Stats is a point-in-time view of the hub.
type Stats struct {
	ConnectedClients int       `json:"connected_clients"`
	MessagesRelayed  int64     `json:"messages_relayed"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
}

// Hub owns the live connection set and broadcasts envelopes to it.
type Hub struct {
	sendBuffer int
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	now        func() time.Time
	startedAt  time.Time

	// mu guards conns and nextID. Broadcasts enqueue while holding it so
	// every recipient sees envelopes in the same order; enqueueing never
	// blocks on the network.
	mu     sync.Mutex
	conns  map[uint64]*Connection
	nextID uint64

	relayed atomic.Int64
}

// New creates a hub whose connections buffer up to sendBuffer outbound
// envelopes before they are considered too slow and dropped.
func New(sendBuffer int, metrics ports.MetricsCollector, logger *zap.Logger) *Hub {
	if sendBuffer < 1 {
		sendBuffer = 1
	}
	return &Hub{
		sendBuffer: sendBuffer,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		startedAt:  time.Now(),
		conns:      make(map[uint64]*Connection),
	}
}

// Open registers a newly accepted connection and announces it in one step.
// The connection's own connected envelope is queued before client:joined is
// queued for anyone else.
func (h *Hub) Open() *Connection {
	h.mu.Lock()
	c, total := h.registerLocked()
	dropped := h.announceLocked(c)
	h.mu.Unlock()

	h.logOpened(c, total)
	h.dropSlow(dropped)
	return c
}

// Register adds a newly accepted connection to the live set and queues its
// connected envelope. The others are not told until Announce, so a transport
// can put connected on the wire first.
func (h *Hub) Register() *Connection {
	h.mu.Lock()
	c, total := h.registerLocked()
	h.mu.Unlock()

	h.logOpened(c, total)
	return c
}

// Announce broadcasts client:joined for c to every other connection.
// Announcing a connection twice, or one that is no longer live, is a no-op.
func (h *Hub) Announce(c *Connection) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok || c.announced {
		h.mu.Unlock()
		return
	}
	dropped := h.announceLocked(c)
	h.mu.Unlock()

	h.dropSlow(dropped)
}

func (h *Hub) registerLocked() (*Connection, int) {
	h.nextID++
	c := newConnection(h.nextID, h.now(), h.sendBuffer)
	h.conns[c.id] = c
	total := len(h.conns)

	c.enqueue(domain.MustEncode(domain.EventConnected, domain.ConnectedPayload{
		ClientID:     c.id,
		TotalClients: total,
	}))
	h.metrics.SetConnectedClients(total)
	return c, total
}

func (h *Hub) announceLocked(c *Connection) []*Connection {
	c.announced = true
	return h.broadcastLocked(
		domain.MustEncode(domain.EventClientJoined, domain.ClientCountPayload{TotalClients: len(h.conns)}),
		c,
	)
}

func (h *Hub) logOpened(c *Connection, total int) {
	h.logger.Info("connection opened",
		zap.Uint64("client_id", c.id),
		zap.Int("total_clients", total))
}

// Receive handles one inbound frame from c. Malformed frames are answered
// with an error envelope to c alone; anything else is stamped with c's
// identifier and broadcast to every other connection. Types outside the
// known taxonomy are relayed as they are.
func (h *Hub) Receive(c *Connection, raw []byte) {
	eventType, stamped, err := domain.StampSender(raw, c.id)
	if err != nil {
		h.logger.Warn("invalid message",
			zap.Uint64("client_id", c.id),
			zap.Error(err))
		h.metrics.IncInvalidMessages("malformed")
		h.Reject(c, invalidMessageText)
		return
	}

	h.logger.Debug("message received",
		zap.Uint64("client_id", c.id),
		zap.String("type", string(eventType)),
		zap.Bool("known_type", eventType.Known()))

	h.broadcast(stamped, c, string(eventType))
}

// Broadcast sends an encoded envelope to every live connection except exclude,
// which may be nil. It returns the number of connections it was queued for.
func (h *Hub) Broadcast(msg []byte, exclude *Connection) int {
	eventType := "unknown"
	if env, err := domain.DecodeEnvelope(msg); err == nil {
		eventType = string(env.Type)
	}
	return h.broadcast(msg, exclude, eventType)
}

func (h *Hub) broadcast(msg []byte, exclude *Connection, eventType string) int {
	h.mu.Lock()
	recipients := len(h.conns)
	if exclude != nil {
		if _, ok := h.conns[exclude.id]; ok {
			recipients--
		}
	}
	dropped := h.broadcastLocked(msg, exclude)
	h.mu.Unlock()

	h.relayed.Add(1)
	h.metrics.IncMessagesRelayed(eventType)
	h.dropSlow(dropped)
	return recipients - len(dropped)
}

// Reject sends an error envelope to c only.
func (h *Hub) Reject(c *Connection, message string) {
	h.mu.Lock()
	_, live := h.conns[c.id]
	ok := live && c.enqueue(domain.MustEncode(domain.EventError, domain.ErrorPayload{Message: message}))
	h.mu.Unlock()

	if live && !ok {
		h.dropSlow([]*Connection{c})
	}
}

// Close removes c from the live set and, if c was announced, tells the
// remaining connections.
// Closing a connection that is no longer live is a no-op.
func (h *Hub) Close(c *Connection) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	c.close()
	total := len(h.conns)
	// Peers never told about c are not told it left either.
	var dropped []*Connection
	if c.announced {
		dropped = h.broadcastLocked(
			domain.MustEncode(domain.EventClientLeft, domain.ClientCountPayload{TotalClients: total}),
			nil,
		)
	}
	h.metrics.SetConnectedClients(total)
	h.mu.Unlock()

	h.logger.Info("connection closed",
		zap.Uint64("client_id", c.id),
		zap.Duration("connected_for", h.now().Sub(c.connectedAt)),
		zap.Int("total_clients", total))

	h.dropSlow(dropped)
}

// Fail logs a transport error on c and closes it.
func (h *Hub) Fail(c *Connection, err error) {
	h.logger.Warn("connection error",
		zap.Uint64("client_id", c.id),
		zap.Error(err))
	h.metrics.IncDeliveryFailures("transport")
	h.Close(c)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Lookup returns the live connection with the given identifier.
func (h *Hub) Lookup(id uint64) (*Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return nil, ErrUnknownConnection
	}
	return c, nil
}

// Stats returns current hub statistics.
func (h *Hub) Stats() Stats {
	return Stats{
		ConnectedClients: h.Count(),
		MessagesRelayed:  h.relayed.Load(),
		StartedAt:        h.startedAt,
		UptimeSeconds:    h.now().Sub(h.startedAt).Seconds(),
	}
}

// Shutdown drops every connection without notifying the others.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.conns {
		c.close()
		delete(h.conns, id)
	}
	h.metrics.SetConnectedClients(0)
	h.logger.Info("hub shut down")
}

// broadcastLocked queues msg for every connection except exclude and
// returns the connections whose buffers were full. Callers hold h.mu.
func (h *Hub) broadcastLocked(msg []byte, exclude *Connection) []*Connection {
	var dropped []*Connection
	for id, c := range h.conns {
		if exclude != nil && id == exclude.id {
			continue
		}
		if !c.enqueue(msg) {
			dropped = append(dropped, c)
		}
	}
	return dropped
}

// dropSlow closes connections that could not keep up.
func (h *Hub) dropSlow(conns []*Connection) {
	for _, c := range conns {
		h.logger.Warn("dropping slow connection",
			zap.Uint64("client_id", c.id),
			zap.Int("send_buffer", h.sendBuffer))
		h.metrics.IncDeliveryFailures("slow_consumer")
		h.Close(c)
	}
}
