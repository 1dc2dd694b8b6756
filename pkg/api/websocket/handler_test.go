package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/kanban-live/internal/application/hub"
	promcollector "github.com/aescanero/kanban-live/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/kanban-live/pkg/domain"
)

func newServer(t *testing.T, cfg Config) (*hub.Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New(16, promcollector.NewCollector(prometheus.NewRegistry()), zap.NewNop())
	router := gin.New()
	router.GET("/ws", NewHandler(h, cfg, zap.NewNop()).HandleConnect)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func read(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := domain.DecodeEnvelope(data)
	require.NoError(t, err)
	return env
}

func TestHandler_RateLimit(t *testing.T) {
	_, url := newServer(t, Config{WriteTimeout: time.Second, MessageRate: 0.001, MessageBurst: 1})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, domain.EventConnected, read(t, conn).Type)

	msg := []byte(`{"type":"task:deleted","payload":{"taskId":1}}`)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

	env := read(t, conn)
	assert.Equal(t, domain.EventError, env.Type)

	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "Rate limit exceeded", payload.Message)
}

func TestHandler_OversizedFrameClosesConnection(t *testing.T) {
	h, url := newServer(t, Config{WriteTimeout: time.Second, MaxMessageBytes: 64})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	read(t, conn)

	big := `{"type":"task:updated","payload":{"task":"` + strings.Repeat("x", 256) + `"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	assert.Eventually(t, func() bool { return h.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ServerShutdownClosesPeers(t *testing.T) {
	h, url := newServer(t, Config{WriteTimeout: time.Second})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	read(t, conn)

	h.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestHandler_ConnectedIsWrittenBeforeJoinIsAnnounced(t *testing.T) {
	_, url := newServer(t, Config{WriteTimeout: time.Second})

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	require.Equal(t, domain.EventConnected, read(t, first).Type)

	for i := 0; i < 5; i++ {
		next, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer next.Close()

		require.Equal(t, domain.EventClientJoined, read(t, first).Type)

		// By the time the join is seen elsewhere the newcomer's first frame
		// has already been written, so it is readable straight away.
		require.NoError(t, next.SetReadDeadline(time.Now().Add(250*time.Millisecond)))
		_, data, err := next.ReadMessage()
		require.NoError(t, err)
		env, err := domain.DecodeEnvelope(data)
		require.NoError(t, err)
		assert.Equal(t, domain.EventConnected, env.Type)
	}
}
