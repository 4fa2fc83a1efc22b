package gateway

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syntrixbase/livefeed/internal/server"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Clients only send control frames.
	maxMessageSize = 4 * 1024
)

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) writeFrame(payload []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// keepAlive sends the heartbeat frame followed by a ping control message.
func (t *wsTransport) keepAlive(payload []byte) error {
	if err := t.writeFrame(payload); err != nil {
		return err
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

// checkOrigin allows requests without an Origin header, origins on the
// request host and the server's CORS allow-list.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	originHost := strings.Split(u.Host, ":")[0]
	requestHost := strings.Split(r.Host, ":")[0]
	if strings.EqualFold(originHost, requestHost) {
		return true
	}

	return server.OriginAllowed(g.cfg.AllowedOrigins, origin)
}

// ServeWS streams change events over a WebSocket. Admission failures are
// answered with a plain HTTP error before the upgrade.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !g.checkOrigin(r) {
		writeError(w, http.StatusForbidden, CodeForbidden, "Origin not allowed")
		return
	}

	conn, rej := g.admit(r)
	if rej != nil {
		g.rejectRequest(w, r, rej)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		conn.Close(err)
		return
	}
	defer ws.Close()

	go g.readPump(conn, ws, g.pongWait())

	err = g.stream(conn, &wsTransport{conn: ws})
	finish(conn, err)

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// pongWait is how long the peer may stay silent. Every heartbeat carries a
// ping, so a live peer answers well within two intervals.
func (g *Gateway) pongWait() time.Duration {
	return 2 * g.cfg.HeartbeatInterval
}

// readPump consumes control frames so pongs and the peer's close are seen.
// Any read error ends the connection.
func (g *Gateway) readPump(conn *Connection, ws *websocket.Conn, pongWait time.Duration) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.Close(err)
				return
			}
			conn.Close(nil)
			return
		}
	}
}
