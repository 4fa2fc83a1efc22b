package server

import (
	"bufio"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/syntrixbase/livefeed/internal/ctxkeys"
	"github.com/syntrixbase/livefeed/internal/metrics"
	"github.com/syntrixbase/livefeed/internal/server/ratelimit"
)

// maxRequestIDLen caps caller supplied request ids.
const maxRequestIDLen = 128

// APIError is the JSON body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Code: code, Message: message}); err != nil {
		slog.Warn("Failed to encode error response", "error", err)
	}
}

// baseMiddleware wraps every route: panics are recovered, requests get an
// id and responses carry the security headers and CORS policy.
func (s *httpGRPCServer) baseMiddleware(h http.Handler) http.Handler {
	if s.cfg.EnableCORS {
		h = s.cors(h)
	}
	h = securityHeaders(h)
	h = withRequestID(h)
	return s.recoverPanics(h)
}

func (s *httpGRPCServer) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("Panic in HTTP handler",
				"path", r.URL.Path,
				"error", rec,
				"stack", string(debug.Stack()),
				"request_id", ctxkeys.RequestID(r.Context()),
			)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// cors answers for the origins in AllowedOrigins, the same list the
// WebSocket handshake trusts. Other origins get no CORS headers.
func (s *httpGRPCServer) cors(next http.Handler) http.Handler {
	methods := strings.Join(s.cfg.AllowedMethods, ", ")
	headers := strings.Join(s.cfg.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(s.cfg.CORSMaxAge)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && OriginAllowed(s.cfg.AllowedOrigins, origin)
		if allowed {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if s.cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog logs one line per request. Health and metrics routes are polled,
// so successful calls log at debug.
func (s *httpGRPCServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		switch {
		case rec.status >= 500 && r.Context().Err() == nil:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelInfo
		}
		s.logger.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", ctxkeys.RequestID(r.Context()),
		)
	})
}

// streamLog logs a stream once it ends, with how long it stayed open.
// Refused openings are logged by the handler that refused them.
func (s *httpGRPCServer) streamLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if !rec.hijacked && rec.status != http.StatusOK {
			return
		}
		s.logger.Info("Stream closed",
			"path", r.URL.Path,
			"websocket", rec.hijacked,
			"duration", time.Since(start).Round(time.Millisecond).String(),
			"request_id", ctxkeys.RequestID(r.Context()),
		)
	})
}

// admitStream spends one token of the client's bucket before the stream
// handler runs.
func (s *httpGRPCServer) admitStream(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ratelimit.ClientKey(r, s.cfg.StreamLimit.TrustProxyHeaders)
		if ok, wait := s.streams.Admit(client); !ok {
			metrics.ConnectionAttempts.WithLabelValues(metrics.ResultRateLimited).Inc()
			s.logger.Info("Stream opening rate limited",
				"client", client,
				"retry_after", wait.String(),
				"request_id", ctxkeys.RequestID(r.Context()),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many stream openings")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

// statusRecorder captures the response status. It passes Hijack and Flush
// through so WebSocket upgrades and SSE keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		r.hijacked = true
	}
	return conn, rw, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the connection, which the SSE
// handler needs to lift the write deadline.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
