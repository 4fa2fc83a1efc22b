// Package kafka reads change messages from Kafka topics. Every process
// joins its own consumer group so each replica sees every message.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/syntrixbase/livefeed/internal/realtime/feed"
	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
)

// Config selects the brokers and consumer group.
type Config struct {
	Brokers []string

	// ConsumerGroup prefixes the group id of this process.
	ConsumerGroup string

	// InstanceID completes the group id. When empty the hostname plus a
	// random suffix is used, so restarts start from the newest offset.
	InstanceID string

	TopicPrefix string
}

// groupID is the consumer group of one process. Replicas must not share a
// group or Kafka would split the partitions between them.
func groupID(prefix, instance string) string {
	return prefix + "-" + instance
}

func defaultInstanceID() string {
	suffix := uuid.NewString()[:8]
	host, err := os.Hostname()
	if err != nil || host == "" {
		return suffix
	}
	return host + "-" + suffix
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Source opens one group reader per collection topic.
type Source struct {
	cfg       Config
	groupID   string
	newReader func(topic string) messageReader
	logger    *slog.Logger
}

// NewSource validates cfg and creates a source.
func NewSource(cfg Config, logger *slog.Logger) (*Source, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "livefeed"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		cfg:     cfg,
		groupID: groupID(cfg.ConsumerGroup, cfg.InstanceID),
	}
	s.logger = logger.With("component", "feed.kafka", "group_id", s.groupID)
	s.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: s.cfg.Brokers,
			Topic:   topic,
			GroupID: s.groupID,
			// A fresh group only sees changes made after it joined.
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6, // 10MB
			MaxWait:     500 * time.Millisecond,
		})
	}
	return s, nil
}

// Open starts reading the topic of collection. Connection problems surface
// from Next.
func (s *Source) Open(_ context.Context, collection string) (watcher.Stream, error) {
	topic := feed.ChannelName(s.cfg.TopicPrefix, collection)
	return &stream{
		reader: s.newReader(topic),
		logger: s.logger.With("topic", topic),
	}, nil
}

type stream struct {
	reader messageReader
	logger *slog.Logger
}

func (s *stream) Next(ctx context.Context) (watcher.RawChange, error) {
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return watcher.RawChange{}, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return watcher.RawChange{}, watcher.ErrFeedClosed
			}
			return watcher.RawChange{}, fmt.Errorf("read kafka message: %w", err)
		}

		raw, err := feed.Decode(msg.Value)
		if err != nil {
			s.logger.Warn("Dropping malformed change message", "offset", msg.Offset, "error", err)
			continue
		}
		return raw, nil
	}
}

func (s *stream) Close(context.Context) error {
	return s.reader.Close()
}
