package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/BragerSync/internal/session"
	"github.com/KevinKickass/BragerSync/internal/state"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type tenths struct{}

func (tenths) Display(symbol string, raw any) any {
	if n, ok := raw.(int64); ok && symbol == "Temperature" {
		return float64(n) / 10
	}
	return raw
}

type received struct {
	Type MessageType    `json:"type"`
	Data map[string]any `json:"data"`
}

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(tenths{}, zap.NewNop())
	hub.SetSnapshotProvider(func() any { return map[string]any{"known": 0} })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first received
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, MessageTypeSnapshot, first.Type)
	return hub, conn
}

func TestHubBroadcastsDisplayValues(t *testing.T) {
	hub, conn := startHub(t)
	assert.Equal(t, 1, hub.GetClientCount())

	hub.OnUpdate(state.Update{Symbol: "Temperature", Raw: int64(215), Revision: 3})

	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeParameterUpdate, msg.Type)
	assert.Equal(t, "Temperature", msg.Data["symbol"])
	assert.Equal(t, 21.5, msg.Data["value"])
	assert.Equal(t, 215.0, msg.Data["raw"])
	assert.Equal(t, 3.0, msg.Data["revision"])
}

func TestHubBroadcastsSessionState(t *testing.T) {
	hub, conn := startHub(t)

	hub.OnStateChange(session.StateLive, session.StateDisconnected, errors.New("socket closed"))

	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeSessionState, msg.Type)
	assert.Equal(t, "DISCONNECTED", msg.Data["state"])
	assert.Equal(t, "LIVE", msg.Data["previous_state"])
	assert.Equal(t, "socket closed", msg.Data["error"])
}

func TestClientPing(t *testing.T) {
	_, conn := startHub(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypePong, msg.Type)
}
