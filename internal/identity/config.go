package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config controls how streaming requests are authenticated.
type Config struct {
	// PublicKeyFile verifies RS256 session tokens. Mutually exclusive with
	// Secret. When neither is set, session tokens are not accepted.
	PublicKeyFile string `yaml:"public_key_file"`
	Secret        string `yaml:"secret"`
	Issuer        string `yaml:"issuer"`

	// CookieName is checked for a session token when no Authorization
	// header is present.
	CookieName string `yaml:"cookie_name"`

	// AllowFallback enables the user id query parameter, confirmed against
	// the user store.
	AllowFallback bool          `yaml:"allow_fallback"`
	FallbackParam string        `yaml:"fallback_param"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

func DefaultConfig() Config {
	return Config{
		CookieName:    "session",
		AllowFallback: true,
		FallbackParam: "userId",
		LookupTimeout: 5 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.CookieName == "" {
		c.CookieName = defaults.CookieName
	}
	if c.FallbackParam == "" {
		c.FallbackParam = defaults.FallbackParam
	}
	if c.LookupTimeout == 0 {
		c.LookupTimeout = defaults.LookupTimeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVEFEED_JWT_PUBLIC_KEY_FILE"); val != "" {
		c.PublicKeyFile = val
	}
	if val := os.Getenv("LIVEFEED_JWT_SECRET"); val != "" {
		c.Secret = val
	}
}

// ResolvePaths resolves the key file relative to configDir.
func (c *Config) ResolvePaths(configDir, _ string) {
	if c.PublicKeyFile != "" && !filepath.IsAbs(c.PublicKeyFile) {
		c.PublicKeyFile = filepath.Join(configDir, c.PublicKeyFile)
	}
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.PublicKeyFile != "" && c.Secret != "" {
		return fmt.Errorf("identity: set either public_key_file or secret, not both")
	}
	if c.Secret != "" && len(c.Secret) < 32 {
		return fmt.Errorf("identity: secret must be at least 32 bytes")
	}
	if c.LookupTimeout < 0 {
		return fmt.Errorf("identity: lookup_timeout must not be negative")
	}
	return nil
}

// SessionsEnabled reports whether a token verification key is configured.
func (c *Config) SessionsEnabled() bool {
	return c.PublicKeyFile != "" || c.Secret != ""
}
