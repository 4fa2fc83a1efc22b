package services

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/syntrixbase/livefeed/internal/identity"
	"github.com/syntrixbase/livefeed/internal/metrics"
	"github.com/syntrixbase/livefeed/internal/realtime"
	mongostore "github.com/syntrixbase/livefeed/internal/storage/mongo"
)

// Init builds every component. On error the resources opened so far are
// released.
func (m *Manager) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			m.releaseResources(context.Background())
		}
	}()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	m.server = serverFactory(m.cfg.Server, m.logger)

	if m.needsDatabase() {
		db, err := databaseFactory(ctx, m.cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		m.db = db
		m.logger.Info("Connected to MongoDB", "database", m.cfg.Storage.Mongo.DatabaseName)
	}

	auth, err := m.initAuthenticator()
	if err != nil {
		return err
	}

	var mdb *mongo.Database
	if m.db != nil {
		mdb = m.db.Database()
	}
	source, release, err := sourceFactory(m.cfg.Realtime.Feed, mdb, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create change feed source: %w", err)
	}
	m.release = release

	rtCfg := m.cfg.Realtime
	rtCfg.AllowedOrigins = m.cfg.Server.AllowedOrigins
	svc, err := realtime.NewService(rtCfg, source, auth, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create realtime service: %w", err)
	}
	m.realtime = svc

	svc.RegisterRoutes(m.server)
	m.server.RegisterGRPCService(&healthpb.Health_ServiceDesc, svc.GRPCHealth())

	m.logger.Info("Services initialized",
		"feed_driver", m.cfg.Realtime.Feed.Driver,
		"topics", m.cfg.Realtime.TopicNames(),
	)
	return nil
}

// needsDatabase reports whether MongoDB backs the change feed or the
// fallback user lookup.
func (m *Manager) needsDatabase() bool {
	driver := m.cfg.Realtime.Feed.Driver
	return driver == realtime.DriverMongo || driver == "" || m.cfg.Identity.AllowFallback
}

func (m *Manager) initAuthenticator() (*identity.Authenticator, error) {
	var sessions identity.SessionResolver
	if m.cfg.Identity.SessionsEnabled() {
		resolver, err := identity.NewTokenResolver(m.cfg.Identity, m.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create token resolver: %w", err)
		}
		sessions = resolver
	}

	var users identity.UserLookup
	if m.cfg.Identity.AllowFallback && m.db != nil {
		users = mongostore.NewUserStore(m.db.Database(), m.cfg.Storage.UsersCollection)
	}

	if sessions == nil && users == nil {
		m.logger.Warn("No authentication method configured; every stream will be rejected")
	}
	return identity.NewAuthenticator(m.cfg.Identity, sessions, users, m.logger), nil
}
