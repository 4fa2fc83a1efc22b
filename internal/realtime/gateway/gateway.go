// Package gateway admits streaming clients and runs their connections.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/schema"

	"github.com/syntrixbase/livefeed/internal/ctxkeys"
	"github.com/syntrixbase/livefeed/internal/identity"
	"github.com/syntrixbase/livefeed/internal/metrics"
	"github.com/syntrixbase/livefeed/internal/realtime/registry"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxConnectionsPerUser = 5
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultSendBuffer            = 64
)

// Authenticator resolves the user behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Config controls admission and streaming.
type Config struct {
	// AllowedTopics is the allow-list clients may subscribe to, in the
	// order used when a request names no topics.
	AllowedTopics []string

	MaxConnectionsPerUser int
	HeartbeatInterval     time.Duration

	// SendBuffer bounds the events queued for one client. A client that
	// falls this far behind is disconnected.
	SendBuffer int

	// AllowedOrigins lists extra WebSocket origins beyond the request host.
	AllowedOrigins []string
}

func (c *Config) applyDefaults() {
	if c.MaxConnectionsPerUser <= 0 {
		c.MaxConnectionsPerUser = DefaultMaxConnectionsPerUser
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
}

// Gateway serves the streaming endpoints.
type Gateway struct {
	cfg      Config
	auth     Authenticator
	registry *registry.Registry
	allowed  map[string]struct{}
	decoder  *schema.Decoder
	logger   *slog.Logger

	now         func() time.Time
	newClientID func() string
}

// New creates a gateway registering connections in reg.
func New(cfg Config, auth Authenticator, reg *registry.Registry, logger *slog.Logger) *Gateway {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedTopics))
	for _, t := range cfg.AllowedTopics {
		allowed[t] = struct{}{}
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	return &Gateway{
		cfg:         cfg,
		auth:        auth,
		registry:    reg,
		allowed:     allowed,
		decoder:     decoder,
		logger:      logger.With("component", "gateway"),
		now:         time.Now,
		newClientID: uuid.NewString,
	}
}

// streamQuery is the query string of a streaming request.
type streamQuery struct {
	Collections []string `schema:"collections"`
}

// rejection is an admission failure rendered before any stream starts.
type rejection struct {
	status  int
	code    string
	message string
	result  string
}

func (r *rejection) Error() string { return r.message }

// admit authenticates the request, applies the per-user quota, resolves the
// topics and registers the subscription. On failure nothing is registered.
func (g *Gateway) admit(r *http.Request) (*Connection, *rejection) {
	conn := newConnection(r.Context(), g.registry, g.cfg.SendBuffer, nil)

	userID, err := g.auth.Authenticate(r)
	if err != nil {
		conn.reject()
		return nil, authRejection(err)
	}
	conn.UserID = userID

	if g.registry.CountForUser(userID) >= g.cfg.MaxConnectionsPerUser {
		conn.reject()
		return nil, quotaRejection(g.cfg.MaxConnectionsPerUser)
	}

	topics, err := g.resolveTopics(r)
	if err != nil {
		conn.reject()
		return nil, &rejection{status: http.StatusBadRequest, code: CodeBadRequest, message: err.Error(), result: metrics.ResultInvalid}
	}
	conn.Topics = topics
	conn.transition(StateAuthenticating, StateAdmitted)

	conn.ID = g.newClientID()
	conn.logger = g.logger.With("client_id", conn.ID, "user_id", userID, "request_id", ctxkeys.RequestID(r.Context()))
	sub := registry.NewSubscription(conn.ID, userID, topics, conn.deliver)
	sub.OnEvict = conn.Close
	if err := g.registry.Register(sub); err != nil {
		id := conn.ID
		conn.ID = ""
		conn.logger = nil
		conn.reject()
		if errors.Is(err, registry.ErrQuotaExceeded) {
			return nil, quotaRejection(g.cfg.MaxConnectionsPerUser)
		}
		if errors.Is(err, registry.ErrClosed) {
			return nil, &rejection{status: http.StatusServiceUnavailable, code: CodeUnavailable, message: "Service is shutting down", result: metrics.ResultUnavailable}
		}
		g.logger.Error("Failed to register subscription", "client_id", id, "error", err)
		return nil, &rejection{status: http.StatusInternalServerError, code: CodeInternalError, message: "Internal server error", result: metrics.ResultError}
	}

	metrics.ActiveConnections.Inc()
	metrics.ConnectionAttempts.WithLabelValues(metrics.ResultAccepted).Inc()
	return conn, nil
}

func authRejection(err error) *rejection {
	switch {
	case errors.Is(err, identity.ErrInvalidIdentifier):
		return &rejection{status: http.StatusBadRequest, code: CodeBadRequest, message: "Malformed user identifier", result: metrics.ResultInvalid}
	case errors.Is(err, identity.ErrUnauthenticated):
		return &rejection{status: http.StatusUnauthorized, code: CodeUnauthorized, message: "Authentication required", result: metrics.ResultUnauthenticated}
	default:
		return &rejection{status: http.StatusInternalServerError, code: CodeInternalError, message: "Internal server error", result: metrics.ResultError}
	}
}

func quotaRejection(limit int) *rejection {
	return &rejection{
		status:  http.StatusTooManyRequests,
		code:    CodeQuotaExceeded,
		message: fmt.Sprintf("Connection limit of %d per user reached", limit),
		result:  metrics.ResultQuotaExceeded,
	}
}

// resolveTopics parses the comma separated collections parameter. Repeated
// parameters are merged. Without the parameter every allowed topic is
// subscribed; a parameter that names no allowed topic is an error.
func (g *Gateway) resolveTopics(r *http.Request) ([]string, error) {
	query := r.URL.Query()
	if !query.Has("collections") {
		return append([]string(nil), g.cfg.AllowedTopics...), nil
	}

	var q streamQuery
	if err := g.decoder.Decode(&q, query); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	seen := make(map[string]struct{})
	var topics []string
	for _, value := range q.Collections {
		for _, part := range strings.Split(value, ",") {
			t := strings.TrimSpace(part)
			if t == "" {
				continue
			}
			if _, ok := g.allowed[t]; !ok {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return nil, ErrNoValidTopics
	}
	return topics, nil
}

func (g *Gateway) rejectRequest(w http.ResponseWriter, r *http.Request, rej *rejection) {
	metrics.ConnectionAttempts.WithLabelValues(rej.result).Inc()
	g.logger.Info("Rejected stream",
		"path", r.URL.Path,
		"request_id", ctxkeys.RequestID(r.Context()),
		"status", rej.status,
		"reason", rej.message,
	)
	writeError(w, rej.status, rej.code, rej.message)
}

// transport writes encoded frames to one client.
type transport interface {
	writeFrame(payload []byte) error
	keepAlive(payload []byte) error
}

// stream runs the single writer loop of conn: the handshake, then queued
// change events and heartbeats until the connection ends.
func (g *Gateway) stream(conn *Connection, t transport) error {
	if !conn.transition(StateAdmitted, StateStreaming) {
		return ErrConnectionClosed
	}

	hello, err := encodeFrame(connectionFrame(g.now(), conn.ID, conn.Topics))
	if err != nil {
		return err
	}
	if err := t.writeFrame(hello); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	conn.logger.Info("Stream established", "collections", conn.Topics)

	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			if err := conn.Err(); err != nil {
				return err
			}
			return conn.ctx.Err()

		case <-ticker.C:
			payload, err := encodeFrame(heartbeatFrame(g.now()))
			if err != nil {
				return err
			}
			if err := t.keepAlive(payload); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}

		case evt := <-conn.send:
			payload, err := encodeFrame(changeFrame(evt))
			if err != nil {
				conn.logger.Error("Failed to encode change", "topic", evt.Topic, "error", err)
				continue
			}
			if err := t.writeFrame(payload); err != nil {
				return fmt.Errorf("write change: %w", err)
			}
		}
	}
}

// finish cleans up after the writer loop exits.
func finish(conn *Connection, err error) {
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	conn.Close(err)
}
