// Package services wires the configured components into one process and
// owns their lifecycle.
package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/syntrixbase/livefeed/internal/config"
	"github.com/syntrixbase/livefeed/internal/realtime"
	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
	"github.com/syntrixbase/livefeed/internal/server"
	mongostore "github.com/syntrixbase/livefeed/internal/storage/mongo"
)

// database is the part of the MongoDB provider the manager needs.
type database interface {
	Database() *mongo.Database
	Close(ctx context.Context) error
}

// Factories replaced in tests.
var (
	serverFactory = server.New

	databaseFactory = func(ctx context.Context, cfg *config.Config) (database, error) {
		provider, err := mongostore.NewProvider(ctx, cfg.Storage.Mongo)
		if err != nil {
			return nil, err
		}
		return provider, nil
	}

	sourceFactory = func(cfg realtime.FeedConfig, db *mongo.Database, logger *slog.Logger) (watcher.Source, func(), error) {
		return realtime.NewSource(cfg, db, logger)
	}
)

type Manager struct {
	cfg    *config.Config
	logger *slog.Logger

	server   server.Service
	db       database
	realtime *realtime.Service
	release  func()

	wg       conc.WaitGroup
	cancel   context.CancelFunc
	fatal    chan error
	stopOnce sync.Once
}

func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "services"),
		fatal:  make(chan error, 1),
	}
}

// Fatal reports a listener that stopped unexpectedly after Start.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Realtime returns the fan-out service, or nil before Init.
func (m *Manager) Realtime() *realtime.Service {
	return m.realtime
}
