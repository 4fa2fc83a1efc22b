// Package storage configures the MongoDB deployment used for change streams
// and user lookups.
package storage

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Mongo MongoConfig `yaml:"mongo"`

	// UsersCollection holds the accounts the fallback user id is checked
	// against.
	UsersCollection string `yaml:"users_collection"`
}

type MongoConfig struct {
	URI            string        `yaml:"uri"`
	DatabaseName   string        `yaml:"database_name"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			DatabaseName:   "livefeed",
			ConnectTimeout: 10 * time.Second,
		},
		UsersCollection: "users",
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Mongo.URI == "" {
		c.Mongo.URI = defaults.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = defaults.Mongo.DatabaseName
	}
	if c.Mongo.ConnectTimeout == 0 {
		c.Mongo.ConnectTimeout = defaults.Mongo.ConnectTimeout
	}
	if c.UsersCollection == "" {
		c.UsersCollection = defaults.UsersCollection
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVEFEED_MONGO_URI"); val != "" {
		c.Mongo.URI = val
	}
	if val := os.Getenv("LIVEFEED_DB_NAME"); val != "" {
		c.Mongo.DatabaseName = val
	}
}

// ResolvePaths resolves relative paths using the given base directory.
// No paths to resolve in storage config.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri is required")
	}
	if c.Mongo.DatabaseName == "" {
		return fmt.Errorf("storage.mongo.database_name is required")
	}
	return nil
}
