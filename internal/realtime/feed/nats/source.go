// Package nats reads change messages published on NATS subjects.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/syntrixbase/livefeed/internal/realtime/feed"
	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
)

// connectFunc allows test injection
var connectFunc = nats.Connect

// Connect dials the NATS server at url.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	return connectFunc(url, nats.Name(name), nats.MaxReconnects(-1))
}

type subscription interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
}

// Source subscribes to "<prefix>.<collection>" for each opened feed.
type Source struct {
	subscribe func(subject string) (subscription, error)
	prefix    string
	logger    *slog.Logger
}

// NewSource creates a source on an established connection.
func NewSource(conn *nats.Conn, prefix string, logger *slog.Logger) *Source {
	s := newSource(prefix, logger)
	s.subscribe = func(subject string) (subscription, error) {
		if conn.IsClosed() {
			return nil, nats.ErrConnectionClosed
		}
		return conn.SubscribeSync(subject)
	}
	return s
}

func newSource(prefix string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{prefix: prefix, logger: logger.With("component", "feed.nats")}
}

// Open subscribes to the subject of collection.
func (s *Source) Open(_ context.Context, collection string) (watcher.Stream, error) {
	subject := feed.ChannelName(s.prefix, collection)
	sub, err := s.subscribe(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return &stream{sub: sub, logger: s.logger.With("subject", subject)}, nil
}

type stream struct {
	sub    subscription
	logger *slog.Logger
}

func (s *stream) Next(ctx context.Context) (watcher.RawChange, error) {
	for {
		msg, err := s.sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return watcher.RawChange{}, ctx.Err()
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return watcher.RawChange{}, watcher.ErrFeedClosed
			}
			return watcher.RawChange{}, err
		}

		raw, err := feed.Decode(msg.Data)
		if err != nil {
			s.logger.Warn("Dropping malformed change message", "error", err)
			continue
		}
		return raw, nil
	}
}

func (s *stream) Close(context.Context) error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}
