package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "livefeed", cfg.Mongo.DatabaseName)
	assert.Equal(t, 10*time.Second, cfg.Mongo.ConnectTimeout)
	assert.Equal(t, "users", cfg.UsersCollection)
}

func TestConfig_ApplyDefaults_CustomValuesPreserved(t *testing.T) {
	cfg := &Config{Mongo: MongoConfig{URI: "mongodb://db:27017", DatabaseName: "app"}, UsersCollection: "accounts"}
	cfg.ApplyDefaults()
	assert.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
	assert.Equal(t, "app", cfg.Mongo.DatabaseName)
	assert.Equal(t, "accounts", cfg.UsersCollection)
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("LIVEFEED_MONGO_URI", "mongodb://env:27017")
	t.Setenv("LIVEFEED_DB_NAME", "envdb")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "mongodb://env:27017", cfg.Mongo.URI)
	assert.Equal(t, "envdb", cfg.Mongo.DatabaseName)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Mongo.URI = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Mongo.DatabaseName = ""
	assert.Error(t, cfg.Validate())
}
