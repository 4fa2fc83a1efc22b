// Package identity resolves the user behind a streaming request.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"
)

var (
	ErrUnauthenticated   = errors.New("authentication required")
	ErrInvalidIdentifier = errors.New("malformed user identifier")
)

// userIDPattern is the shape of a store-issued user id: 24 hex characters.
var userIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// ValidUserID reports whether id is shaped like a store-issued user id.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// SessionResolver extracts the authenticated user of a request.
type SessionResolver interface {
	ResolveSession(r *http.Request) (userID string, ok bool)
}

// UserLookup confirms that a user exists.
type UserLookup interface {
	UserExists(ctx context.Context, id string) (bool, error)
}

// Authenticator resolves a request to a user id: first from the session,
// then from the fallback query parameter confirmed against the user store.
type Authenticator struct {
	sessions SessionResolver
	users    UserLookup
	param    string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAuthenticator creates an authenticator. A nil sessions resolver
// disables sessions; a nil users lookup disables the fallback parameter.
func NewAuthenticator(cfg Config, sessions SessionResolver, users UserLookup, logger *slog.Logger) *Authenticator {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.AllowFallback {
		users = nil
	}
	return &Authenticator{
		sessions: sessions,
		users:    users,
		param:    cfg.FallbackParam,
		timeout:  cfg.LookupTimeout,
		logger:   logger.With("component", "identity"),
	}
}

// Authenticate returns the user id of r. It fails with ErrUnauthenticated
// when no identity is presented or the fallback id is unknown, with
// ErrInvalidIdentifier when the fallback id is malformed, and with any other
// error when the user store cannot be consulted.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if a.sessions != nil {
		if userID, ok := a.sessions.ResolveSession(r); ok && userID != "" {
			return userID, nil
		}
	}

	if a.users == nil {
		return "", ErrUnauthenticated
	}
	candidate := r.URL.Query().Get(a.param)
	if candidate == "" {
		return "", ErrUnauthenticated
	}
	if !ValidUserID(candidate) {
		return "", ErrInvalidIdentifier
	}

	ctx := r.Context()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	exists, err := a.users.UserExists(ctx, candidate)
	if err != nil {
		a.logger.Error("User lookup failed", "error", err)
		return "", fmt.Errorf("user lookup: %w", err)
	}
	if !exists {
		return "", ErrUnauthenticated
	}
	return candidate, nil
}
