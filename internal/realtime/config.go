package realtime

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/syntrixbase/livefeed/internal/realtime/gateway"
	"github.com/syntrixbase/livefeed/internal/realtime/health"
	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
)

// Feed drivers.
const (
	DriverMongo = "mongo"
	DriverNATS  = "nats"
	DriverKafka = "kafka"
)

// TopicConfig maps a collection onto a streamable topic.
type TopicConfig struct {
	Name       string `yaml:"name"`
	Collection string `yaml:"collection"`

	// OwnerField is the document field holding the owning user id. Topics
	// without one are delivered to every subscriber.
	OwnerField string `yaml:"owner_field"`

	// Filter is an optional CEL expression over doc and operation.
	Filter string `yaml:"filter"`
}

// NATSConfig configures the NATS feed driver.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// KafkaConfig configures the Kafka feed driver.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
	// InstanceID makes the consumer group of this process stable across
	// restarts. Each replica needs its own value.
	InstanceID  string `yaml:"instance_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// FeedConfig selects where change events come from.
type FeedConfig struct {
	Driver string      `yaml:"driver"`
	NATS   NATSConfig  `yaml:"nats"`
	Kafka  KafkaConfig `yaml:"kafka"`
}

// Config holds the realtime service configuration.
type Config struct {
	Topics                []TopicConfig `yaml:"topics"`
	MaxConnectionsPerUser int           `yaml:"max_connections_per_user"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	RetryBackoff          time.Duration `yaml:"retry_backoff"`
	SendBuffer            int           `yaml:"send_buffer"`
	HealthPollInterval    time.Duration `yaml:"health_poll_interval"`
	Feed                  FeedConfig    `yaml:"feed"`

	// AllowedOrigins is the WebSocket origin allow-list. It is taken from
	// the server's CORS settings rather than configured here.
	AllowedOrigins []string `yaml:"-"`
}

// DefaultConfig returns the default realtime configuration.
func DefaultConfig() Config {
	return Config{
		Topics: []TopicConfig{
			{Name: "notifications", Collection: "notifications", OwnerField: "userId"},
			{Name: "features", Collection: "features"},
		},
		MaxConnectionsPerUser: gateway.DefaultMaxConnectionsPerUser,
		HeartbeatInterval:     gateway.DefaultHeartbeatInterval,
		RetryBackoff:          watcher.DefaultRetryBackoff,
		SendBuffer:            gateway.DefaultSendBuffer,
		HealthPollInterval:    health.DefaultPollInterval,
		Feed:                  FeedConfig{Driver: DriverMongo},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if len(c.Topics) == 0 {
		c.Topics = defaults.Topics
	}
	for i := range c.Topics {
		if c.Topics[i].Collection == "" {
			c.Topics[i].Collection = c.Topics[i].Name
		}
	}
	if c.MaxConnectionsPerUser == 0 {
		c.MaxConnectionsPerUser = defaults.MaxConnectionsPerUser
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = defaults.SendBuffer
	}
	if c.HealthPollInterval == 0 {
		c.HealthPollInterval = defaults.HealthPollInterval
	}
	if c.Feed.Driver == "" {
		c.Feed.Driver = defaults.Feed.Driver
	}
	if c.Feed.Driver == DriverKafka && c.Feed.Kafka.ConsumerGroup == "" {
		c.Feed.Kafka.ConsumerGroup = "livefeed"
	}
}

// ApplyEnvOverrides applies LIVEFEED_* environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVEFEED_FEED_DRIVER"); val != "" {
		c.Feed.Driver = val
	}
	if val := os.Getenv("LIVEFEED_NATS_URL"); val != "" {
		c.Feed.NATS.URL = val
	}
	if val := os.Getenv("LIVEFEED_KAFKA_BROKERS"); val != "" {
		c.Feed.Kafka.Brokers = strings.Split(val, ",")
	}
	if val := os.Getenv("LIVEFEED_INSTANCE_ID"); val != "" {
		c.Feed.Kafka.InstanceID = val
	}
	if val := os.Getenv("LIVEFEED_MAX_CONNECTIONS_PER_USER"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.MaxConnectionsPerUser = n
		}
	}
	if val := os.Getenv("LIVEFEED_HEARTBEAT_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.HeartbeatInterval = d
		}
	}
}

// ResolvePaths resolves relative paths using the given base directory.
// No paths to resolve in realtime config.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if len(c.Topics) == 0 {
		return fmt.Errorf("realtime.topics: at least one topic is required")
	}
	seen := make(map[string]struct{}, len(c.Topics))
	for i, t := range c.Topics {
		if t.Name == "" {
			return fmt.Errorf("realtime.topics[%d].name is required", i)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("realtime.topics: duplicate topic %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	if c.MaxConnectionsPerUser < 1 {
		return fmt.Errorf("realtime.max_connections_per_user must be positive")
	}
	if c.HeartbeatInterval < 0 || c.RetryBackoff < 0 || c.HealthPollInterval < 0 {
		return fmt.Errorf("realtime intervals must not be negative")
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}

	switch c.Feed.Driver {
	case DriverMongo, DriverNATS:
	case DriverKafka:
		if len(c.Feed.Kafka.Brokers) == 0 {
			return fmt.Errorf("realtime.feed.kafka.brokers is required for the kafka driver")
		}
	default:
		return fmt.Errorf("realtime.feed.driver: unknown driver %q", c.Feed.Driver)
	}
	return nil
}

// TopicNames returns the configured topic names in order.
func (c *Config) TopicNames() []string {
	names := make([]string, len(c.Topics))
	for i, t := range c.Topics {
		names[i] = t.Name
	}
	return names
}
