// Package realtime wires the change feed watchers, the subscription
// registry, the fan-out dispatcher and the streaming gateway into one
// service.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/sourcegraph/conc"
	grpchealth "google.golang.org/grpc/health"

	"github.com/syntrixbase/livefeed/internal/events"
	"github.com/syntrixbase/livefeed/internal/metrics"
	"github.com/syntrixbase/livefeed/internal/realtime/dispatcher"
	"github.com/syntrixbase/livefeed/internal/realtime/gateway"
	"github.com/syntrixbase/livefeed/internal/realtime/health"
	"github.com/syntrixbase/livefeed/internal/realtime/registry"
	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
)

var (
	ErrAlreadyStarted = errors.New("realtime service already started")
	ErrClosed         = errors.New("realtime service closed")
)

// Service is the process-wide realtime fan-out service. One instance owns
// the registry; there is no package-level state.
type Service struct {
	cfg    Config
	logger *slog.Logger

	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	gateway    *gateway.Gateway
	reporter   *health.Reporter
	grpcHealth *health.GRPCUpdater
	watchers   []*watcher.Watcher

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      conc.WaitGroup
}

// NewService builds the service. Nothing runs until Start.
func NewService(cfg Config, source watcher.Source, auth gateway.Authenticator, logger *slog.Logger) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("realtime: change feed source is required")
	}
	if auth == nil {
		return nil, fmt.Errorf("realtime: authenticator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:    cfg,
		logger: logger.With("component", "realtime"),
	}

	s.registry = registry.New(
		registry.WithMaxPerUser(cfg.MaxConnectionsPerUser),
		registry.WithLogger(logger),
		registry.WithRemovalHook(func(*registry.Subscription) {
			metrics.ActiveConnections.Dec()
		}),
	)
	s.dispatcher = dispatcher.New(s.registry, logger)

	for _, t := range cfg.Topics {
		rule, err := watcher.NewRule(t.Name, t.Collection, t.OwnerField, t.Filter)
		if err != nil {
			return nil, fmt.Errorf("realtime: %w", err)
		}
		s.watchers = append(s.watchers, watcher.New(rule, source, watcher.Options{
			RetryBackoff: cfg.RetryBackoff,
			Logger:       logger,
		}))
	}

	s.gateway = gateway.New(gateway.Config{
		AllowedTopics:         cfg.TopicNames(),
		MaxConnectionsPerUser: cfg.MaxConnectionsPerUser,
		HeartbeatInterval:     cfg.HeartbeatInterval,
		SendBuffer:            cfg.SendBuffer,
		AllowedOrigins:        cfg.AllowedOrigins,
	}, auth, s.registry, logger)
	s.reporter = health.NewReporter(s.registry, s, auth, logger)
	s.grpcHealth = health.NewGRPCUpdater(s, logger)

	return s, nil
}

// Start opens every change feed. Feed failures never fail Start; the
// watchers keep retrying in the background.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, w := range s.watchers {
		if err := w.Start(ctx, func(evt events.ChangeEvent) { s.dispatcher.OnEvent(evt) }, s.dispatcher.OnFeedError); err != nil {
			return fmt.Errorf("start watcher %q: %w", w.Topic(), err)
		}
	}
	s.wg.Go(func() {
		s.grpcHealth.Run(ctx, s.cfg.HealthPollInterval)
	})

	s.logger.Info("Realtime service started", "topics", s.cfg.TopicNames(), "driver", s.cfg.Feed.Driver)
	return nil
}

// Close stops the watchers and ends every open stream. It is safe to call
// more than once.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, w := range s.watchers {
		w.Stop()
	}
	s.registry.Close()
	s.wg.Wait()
	s.logger.Info("Realtime service stopped")
}

// Mux is where RegisterRoutes mounts endpoints. *http.ServeMux satisfies it.
type Mux interface {
	Handle(pattern string, h http.Handler)
}

// StreamMux is a Mux that treats long-lived routes apart.
type StreamMux interface {
	Mux
	HandleStream(pattern string, h http.Handler)
}

// RegisterRoutes mounts the streaming and health endpoints on mux.
func (s *Service) RegisterRoutes(mux Mux) {
	stream := mux.Handle
	if sm, ok := mux.(StreamMux); ok {
		stream = sm.HandleStream
	}
	stream("GET /realtime/stream", http.HandlerFunc(s.gateway.ServeSSE))
	stream("GET /realtime/ws", http.HandlerFunc(s.gateway.ServeWS))
	mux.Handle("/realtime/health", s.reporter)
}

// FeedHealth reports, per topic, whether its change feed is open.
func (s *Service) FeedHealth() map[string]bool {
	out := make(map[string]bool, len(s.watchers))
	for _, w := range s.watchers {
		out[w.Topic()] = w.Healthy()
	}
	return out
}

// Stats returns aggregate subscription counts.
func (s *Service) Stats() registry.Stats {
	return s.registry.Stats()
}

// GRPCHealth returns the gRPC health service to register on the gRPC server.
func (s *Service) GRPCHealth() *grpchealth.Server {
	return s.grpcHealth.Server()
}
