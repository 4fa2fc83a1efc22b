package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/livefeed/internal/events"
	"github.com/syntrixbase/livefeed/internal/realtime/dispatcher"
	"github.com/syntrixbase/livefeed/internal/realtime/registry"
)

func dialWS(t *testing.T, srv *httptest.Server, query, user string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	header := http.Header{}
	if user != "" {
		header.Set("X-User", user)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

func TestServeWS_Stream(t *testing.T) {
	reg := registry.New()
	g := newTestGateway(Config{}, reg)
	srv := httptest.NewServer(http.HandlerFunc(g.ServeWS))
	defer srv.Close()

	ws, _, err := dialWS(t, srv, "?collections=notifications", "U1")
	require.NoError(t, err)
	defer ws.Close()

	hello := readFrame(t, ws)
	assert.Equal(t, FrameConnection, hello["type"])
	assert.Equal(t, []any{"notifications"}, hello["collections"])

	d := dispatcher.New(reg, nil)
	// Another user's notification is not delivered.
	assert.Equal(t, 0, d.OnEvent(events.ChangeEvent{Operation: events.OperationInsert, Topic: "notifications", OwnerUserID: "U2"}))
	assert.Equal(t, 1, d.OnEvent(events.ChangeEvent{
		Operation:   events.OperationUpdate,
		Topic:       "notifications",
		OwnerUserID: "U1",
		DocumentID:  "n1",
		Payload:     map[string]any{"read": true},
	}))

	change := readFrame(t, ws)
	assert.Equal(t, FrameChange, change["type"])
	assert.Equal(t, "update", change["operation"])
	assert.Equal(t, "n1", change["documentId"])
	assert.Equal(t, map[string]any{"read": true}, change["data"])
}

func TestServeWS_Heartbeat(t *testing.T) {
	g := newTestGateway(Config{HeartbeatInterval: 20 * time.Millisecond}, registry.New())
	srv := httptest.NewServer(http.HandlerFunc(g.ServeWS))
	defer srv.Close()

	ws, _, err := dialWS(t, srv, "", "U1")
	require.NoError(t, err)
	defer ws.Close()

	readFrame(t, ws)
	assert.Equal(t, FrameHeartbeat, readFrame(t, ws)["type"])
}

func TestServeWS_CloseDeregisters(t *testing.T) {
	reg := registry.New()
	g := newTestGateway(Config{}, reg)
	srv := httptest.NewServer(http.HandlerFunc(g.ServeWS))
	defer srv.Close()

	ws, _, err := dialWS(t, srv, "", "U1")
	require.NoError(t, err)
	readFrame(t, ws)
	require.Equal(t, 1, reg.CountForUser("U1"))

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	ws.Close()

	waitFor(t, func() bool { return reg.CountForUser("U1") == 0 })
}

func TestServeWS_RejectedBeforeUpgrade(t *testing.T) {
	reg := registry.New()
	g := newTestGateway(Config{}, reg)
	srv := httptest.NewServer(http.HandlerFunc(g.ServeWS))
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "", "")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, reg.Stats().Clients)
}

func TestCheckOrigin(t *testing.T) {
	g := newTestGateway(Config{AllowedOrigins: []string{"https://app.example.com/"}}, registry.New())

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://livefeed.local:3000", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://livefeed.local:8080/realtime/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, g.checkOrigin(req))
		})
	}
}

func TestGateway_PongWaitFollowsHeartbeat(t *testing.T) {
	for _, interval := range []time.Duration{20 * time.Millisecond, 30 * time.Second, 90 * time.Second} {
		g := newTestGateway(Config{HeartbeatInterval: interval}, registry.New())
		assert.Greater(t, g.pongWait(), interval, "interval %s", interval)
	}
}

func TestServeWS_StaysOpenAcrossHeartbeats(t *testing.T) {
	reg := registry.New()
	g := newTestGateway(Config{HeartbeatInterval: 25 * time.Millisecond}, reg)
	srv := httptest.NewServer(http.HandlerFunc(g.ServeWS))
	defer srv.Close()

	ws, _, err := dialWS(t, srv, "", "U1")
	require.NoError(t, err)
	defer ws.Close()

	readFrame(t, ws)
	// Ten heartbeats span several pong windows; the client's default ping
	// handler answers each one.
	for i := 0; i < 10; i++ {
		assert.Equal(t, FrameHeartbeat, readFrame(t, ws)["type"])
	}
	assert.Equal(t, 1, reg.Stats().Clients)
}

func TestServeWS_SilentPeerTimesOut(t *testing.T) {
	reg := registry.New()
	g := newTestGateway(Config{HeartbeatInterval: 25 * time.Millisecond}, reg)
	srv := httptest.NewServer(http.HandlerFunc(g.ServeWS))
	defer srv.Close()

	ws, _, err := dialWS(t, srv, "", "U1")
	require.NoError(t, err)
	defer ws.Close()
	ws.SetPingHandler(func(string) error { return nil })

	readFrame(t, ws)
	waitFor(t, func() bool { return reg.Stats().Clients == 0 })
}
