package realtime

import (
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo"

	kafkafeed "github.com/syntrixbase/livefeed/internal/realtime/feed/kafka"
	mongofeed "github.com/syntrixbase/livefeed/internal/realtime/feed/mongo"
	natsfeed "github.com/syntrixbase/livefeed/internal/realtime/feed/nats"
	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
)

// NewSource builds the change feed source selected by cfg.Driver. db is
// only used by the mongo driver. The returned release func frees driver
// resources and must be called after the service is closed.
func NewSource(cfg FeedConfig, db *mongo.Database, logger *slog.Logger) (watcher.Source, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case DriverMongo, "":
		if db == nil {
			return nil, nil, fmt.Errorf("mongo feed driver requires a database")
		}
		return mongofeed.NewSource(db, logger), func() {}, nil

	case DriverNATS:
		conn, err := natsfeed.Connect(cfg.NATS.URL, "livefeed")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		return natsfeed.NewSource(conn, cfg.NATS.SubjectPrefix, logger), conn.Close, nil

	case DriverKafka:
		src, err := kafkafeed.NewSource(kafkafeed.Config{
			Brokers:       cfg.Kafka.Brokers,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
			InstanceID:    cfg.Kafka.InstanceID,
			TopicPrefix:   cfg.Kafka.TopicPrefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown feed driver %q", cfg.Driver)
	}
}
