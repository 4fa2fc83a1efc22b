package gateway

import (
	"fmt"
	"net/http"
	"time"
)

type sseTransport struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (t *sseTransport) writeFrame(payload []byte) error {
	if _, err := fmt.Fprintf(t.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *sseTransport) keepAlive(payload []byte) error {
	return t.writeFrame(payload)
}

// ServeSSE streams change events as Server-Sent Events.
func (g *Gateway) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeNotImplemented, "Streaming unsupported")
		return
	}

	conn, rej := g.admit(r)
	if rej != nil {
		g.rejectRequest(w, r, rej)
		return
	}

	// The server write timeout must not cut a long-lived stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	err := g.stream(conn, &sseTransport{w: w, flusher: flusher})
	finish(conn, err)
}
