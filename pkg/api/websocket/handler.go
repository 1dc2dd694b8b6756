package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/kanban-live/internal/application/hub"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errConnectionDropped = errors.New("connection dropped before it was announced")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Peers are not authenticated
	},
}

// Config holds per-connection transport settings
type Config struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64

	// MessageRate is the sustained inbound frames per second; 0 disables limiting
	MessageRate  float64
	MessageBurst int
}

// Handler handles WebSocket connections
type Handler struct {
	hub    *hub.Hub
	cfg    Config
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(h *hub.Hub, cfg Config, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    h,
		cfg:    cfg,
		logger: logger,
	}
}

// HandleConnect upgrades the request and serves the connection until it closes
func (h *Handler) HandleConnect(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	conn := h.hub.Register()
	h.logger.Debug("WebSocket connection established",
		zap.Uint64("client_id", conn.ID()),
		zap.String("client", c.ClientIP()))

	// connected must be on the wire before anyone hears client:joined
	if err := h.writeConnected(ws, conn); err != nil {
		h.hub.Fail(conn, err)
		_ = ws.Close()
		return
	}
	h.hub.Announce(conn)

	go h.writePump(ws, conn)
	h.readPump(ws, conn)
}

// writeConnected writes the first queued frame, the connection's own
// connected envelope, synchronously.
func (h *Handler) writeConnected(ws *websocket.Conn, conn *hub.Connection) error {
	select {
	case msg := <-conn.Outbound():
		h.setWriteDeadline(ws)
		return ws.WriteMessage(websocket.TextMessage, msg)
	case <-conn.Done():
		return errConnectionDropped
	}
}

// readPump feeds inbound frames to the hub until the peer goes away
func (h *Handler) readPump(ws *websocket.Conn, conn *hub.Connection) {
	defer func() { _ = ws.Close() }()

	if h.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	if h.cfg.PingInterval > 0 {
		pongWait := h.cfg.PingInterval * 2
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	var limiter *rate.Limiter
	if h.cfg.MessageRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.MessageRate), h.cfg.MessageBurst)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				h.hub.Fail(conn, err)
			} else {
				h.hub.Close(conn)
			}
			return
		}

		if limiter != nil && !limiter.Allow() {
			h.logger.Warn("inbound rate limit exceeded", zap.Uint64("client_id", conn.ID()))
			h.hub.Reject(conn, "Rate limit exceeded")
			continue
		}

		h.hub.Receive(conn, data)
	}
}

// writePump writes queued envelopes and keepalive pings to the peer
func (h *Handler) writePump(ws *websocket.Conn, conn *hub.Connection) {
	defer func() { _ = ws.Close() }()

	var ping <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return

		case msg := <-conn.Outbound():
			h.setWriteDeadline(ws)
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.hub.Fail(conn, err)
				return
			}

		case <-ping:
			h.setWriteDeadline(ws)
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Fail(conn, err)
				return
			}
		}
	}
}

func (h *Handler) setWriteDeadline(ws *websocket.Conn) {
	if h.cfg.WriteTimeout > 0 {
		_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	}
}
