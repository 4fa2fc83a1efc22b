// Package health reports aggregate state of the realtime service.
package health

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/syntrixbase/livefeed/internal/identity"
	"github.com/syntrixbase/livefeed/internal/realtime/registry"
)

// Feed states reported per topic.
const (
	FeedOK       = "ok"
	FeedDegraded = "degraded"
)

// StatsSource provides aggregate subscription counts.
type StatsSource interface {
	Stats() registry.Stats
}

// FeedStatus reports, per topic, whether its change feed is open.
type FeedStatus interface {
	FeedHealth() map[string]bool
}

// Authenticator resolves the user behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Report is the health response. It carries counts only.
type Report struct {
	ActiveConnections int               `json:"activeConnections"`
	Subscriptions     int               `json:"subscriptions"`
	UserCount         int               `json:"userCount"`
	Timestamp         time.Time         `json:"timestamp"`
	Topics            map[string]int    `json:"topics"`
	Feeds             map[string]string `json:"feeds"`
}

// Reporter serves the health endpoint.
type Reporter struct {
	stats  StatsSource
	feeds  FeedStatus
	auth   Authenticator
	logger *slog.Logger
	now    func() time.Time
}

// NewReporter creates a reporter. feeds may be nil.
func NewReporter(stats StatsSource, feeds FeedStatus, auth Authenticator, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		stats:  stats,
		feeds:  feeds,
		auth:   auth,
		logger: logger.With("component", "health"),
		now:    time.Now,
	}
}

// Snapshot builds the current report.
func (h *Reporter) Snapshot() Report {
	st := h.stats.Stats()
	rep := Report{
		ActiveConnections: st.Clients,
		Subscriptions:     st.Subscriptions,
		UserCount:         st.Users,
		Timestamp:         h.now().UTC(),
		Topics:            st.Topics,
		Feeds:             map[string]string{},
	}
	if rep.Topics == nil {
		rep.Topics = map[string]int{}
	}
	if h.feeds != nil {
		for topic, ok := range h.feeds.FeedHealth() {
			if ok {
				rep.Feeds[topic] = FeedOK
			} else {
				rep.Feeds[topic] = FeedDegraded
			}
		}
	}
	return rep
}

func (h *Reporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		return
	}

	if _, err := h.auth.Authenticate(r); err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidIdentifier):
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed user identifier")
		case errors.Is(err, identity.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		default:
			h.logger.Error("Health authentication failed", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(h.Snapshot()); err != nil {
		h.logger.Warn("Failed to encode health report", "error", err)
	}
}

// APIError represents a structured error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Code: code, Message: message}); err != nil {
		slog.Warn("Failed to encode error response", "error", err)
	}
}
