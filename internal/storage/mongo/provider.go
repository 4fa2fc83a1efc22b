// Package mongo holds the MongoDB connection and the user store.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/livefeed/internal/storage"
)

// Provider owns the MongoDB client.
type Provider struct {
	client *mongo.Client
	dbName string
}

// NewProvider connects and pings the deployment.
func NewProvider(ctx context.Context, cfg storage.MongoConfig) (*Provider, error) {
	clientOpts := options.Client().ApplyURI(cfg.URI)

	// Set some reasonable defaults if not provided in URI
	if clientOpts.ConnectTimeout == nil {
		timeout := cfg.ConnectTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		clientOpts.SetConnectTimeout(timeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	return &Provider{
		client: client,
		dbName: cfg.DatabaseName,
	}, nil
}

// Client returns the underlying MongoDB client
func (p *Provider) Client() *mongo.Client {
	return p.client
}

// Database returns the configured database.
func (p *Provider) Database() *mongo.Database {
	return p.client.Database(p.dbName)
}

// Ping checks that the deployment is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}
