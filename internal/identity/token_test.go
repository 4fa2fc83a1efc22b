package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signHS256(t *testing.T, claims Claims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims(subject string) Claims {
	now := time.Now()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func hsResolver(t *testing.T) *TokenResolver {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	r, err := NewTokenResolver(cfg, nil)
	require.NoError(t, err)
	return r
}

func TestTokenResolver_BearerHeader(t *testing.T) {
	r := hsResolver(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, validClaims("U1"), testSecret))

	userID, ok := r.ResolveSession(req)
	assert.True(t, ok)
	assert.Equal(t, "U1", userID)
}

func TestTokenResolver_Cookie(t *testing.T) {
	r := hsResolver(t)
	claims := validClaims("ignored")
	claims.UserID = "U2"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: signHS256(t, claims, testSecret)})

	userID, ok := r.ResolveSession(req)
	assert.True(t, ok)
	assert.Equal(t, "U2", userID)
}

func TestTokenResolver_Rejects(t *testing.T) {
	r := hsResolver(t)

	expired := validClaims("U1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage", "Bearer not.a.token"},
		{"wrong secret", "Bearer " + signHS256(t, validClaims("U1"), "ffffffffffffffffffffffffffffffff")},
		{"expired", "Bearer " + signHS256(t, expired, testSecret)},
		{"no subject", "Bearer " + signHS256(t, validClaims(""), testSecret)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			_, ok := r.ResolveSession(req)
			assert.False(t, ok)
		})
	}
}

func TestTokenResolver_Issuer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.Issuer = "auth.example"
	r, err := NewTokenResolver(cfg, nil)
	require.NoError(t, err)

	claims := validClaims("U1")
	_, err = r.ValidateToken(signHS256(t, claims, testSecret))
	assert.Error(t, err)

	claims.Issuer = "auth.example"
	got, err := r.ValidateToken(signHS256(t, claims, testSecret))
	require.NoError(t, err)
	assert.Equal(t, "U1", got.Principal())
}

func TestTokenResolver_RS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "session_public.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0600))

	cfg := DefaultConfig()
	cfg.PublicKeyFile = path
	r, err := NewTokenResolver(cfg, nil)
	require.NoError(t, err)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("U3")).SignedString(key)
	require.NoError(t, err)
	claims, err := r.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "U3", claims.Principal())

	// An HS256 token must not be accepted by an RS256 resolver.
	_, err = r.ValidateToken(signHS256(t, validClaims("U3"), testSecret))
	assert.Error(t, err)
}

func TestNewTokenResolver_Errors(t *testing.T) {
	_, err := NewTokenResolver(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.PublicKeyFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = NewTokenResolver(cfg, nil)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a key"), 0600))
	cfg.PublicKeyFile = bad
	_, err = NewTokenResolver(cfg, nil)
	assert.Error(t, err)
}
