package identity

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the session token claims this service reads.
type Claims struct {
	UserID   string   `json:"uid,omitempty"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Principal returns the user id carried by the claims.
func (c *Claims) Principal() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// TokenResolver resolves the session token of a request to a user id. Tokens
// are read from a Bearer Authorization header, then from the session cookie.
type TokenResolver struct {
	key        any
	method     jwt.SigningMethod
	issuer     string
	cookieName string
	logger     *slog.Logger
}

// NewTokenResolver builds a resolver from cfg. cfg must have sessions
// enabled.
func NewTokenResolver(cfg Config, logger *slog.Logger) (*TokenResolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &TokenResolver{
		issuer:     cfg.Issuer,
		cookieName: cfg.CookieName,
		logger:     logger.With("component", "identity"),
	}

	switch {
	case cfg.PublicKeyFile != "":
		key, err := LoadPublicKey(cfg.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		r.key = key
		r.method = jwt.SigningMethodRS256
	case cfg.Secret != "":
		r.key = []byte(cfg.Secret)
		r.method = jwt.SigningMethodHS256
	default:
		return nil, errors.New("no session token key configured")
	}
	return r, nil
}

// LoadPublicKey reads a PEM encoded RSA public key.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key %s: %w", path, err)
	}
	return key, nil
}

// ResolveSession implements SessionResolver.
func (t *TokenResolver) ResolveSession(r *http.Request) (string, bool) {
	raw := t.tokenFromRequest(r)
	if raw == "" {
		return "", false
	}
	claims, err := t.ValidateToken(raw)
	if err != nil {
		t.logger.Debug("Rejected session token", "error", err)
		return "", false
	}
	return claims.Principal(), true
}

// ValidateToken verifies the signature and time claims of a token.
func (t *TokenResolver) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{t.method.Alg()})}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Principal() == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func (t *TokenResolver) tokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return ""
		}
		return parts[1]
	}
	if t.cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(t.cookieName); err == nil {
		return c.Value
	}
	return ""
}
