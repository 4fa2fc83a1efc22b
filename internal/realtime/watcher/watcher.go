// Package watcher bridges an external change feed into normalized change
// events for one topic, restarting the feed whenever it fails.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/syntrixbase/livefeed/internal/events"
	"github.com/syntrixbase/livefeed/internal/metrics"
)

// DefaultRetryBackoff is the delay between a feed failure and the next
// attempt to open it.
const DefaultRetryBackoff = 5 * time.Second

var ErrAlreadyStarted = errors.New("watcher already started")

// FeedUnavailableError reports that the change feed of a topic failed to
// open or broke mid-stream. Delivery for the topic pauses until the watcher
// reconnects.
type FeedUnavailableError struct {
	Topic string
	Err   error
}

func (e *FeedUnavailableError) Error() string {
	return fmt.Sprintf("change feed for %q unavailable: %v", e.Topic, e.Err)
}

func (e *FeedUnavailableError) Unwrap() error { return e.Err }

// EventHandler receives every normalized event, in feed order.
type EventHandler func(evt events.ChangeEvent)

// ErrorHandler receives feed failures. It is called from the watch goroutine.
type ErrorHandler func(err error)

// Options configures a Watcher.
type Options struct {
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

// Watcher owns the feed handle of one topic.
type Watcher struct {
	rule   Rule
	source Source
	retry  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	stopOnce sync.Once
	healthy  atomic.Bool
}

// New creates a watcher for rule reading from source.
func New(rule Rule, source Source, opts Options) *Watcher {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		rule:   rule,
		source: source,
		retry:  opts.RetryBackoff,
		logger: opts.Logger.With("component", "watcher", "topic", rule.Topic),
	}
}

// Topic returns the topic this watcher feeds.
func (w *Watcher) Topic() string {
	return w.rule.Topic
}

// Healthy reports whether the feed is currently open.
func (w *Watcher) Healthy() bool {
	return w.healthy.Load()
}

// Start begins watching in a background goroutine. It returns immediately;
// a feed that cannot be opened is reported through onError and retried.
func (w *Watcher) Start(ctx context.Context, onEvent EventHandler, onError ErrorHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	if onError == nil {
		onError = func(error) {}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx, onEvent, onError)
	return nil
}

// Stop closes the feed and waits for the watch goroutine to exit. It is safe
// to call more than once and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		cancel, done := w.cancel, w.done
		w.started = true
		w.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		<-done
	})
}

func (w *Watcher) run(ctx context.Context, onEvent EventHandler, onError ErrorHandler) {
	defer close(w.done)
	defer w.setHealthy(false)

	b := backoff.NewConstantBackOff(w.retry)
	for {
		err := w.watchOnce(ctx, onEvent)
		if ctx.Err() != nil {
			w.logger.Info("Watcher stopped")
			return
		}
		w.setHealthy(false)

		ferr := &FeedUnavailableError{Topic: w.rule.Topic, Err: err}
		metrics.FeedRestarts.WithLabelValues(w.rule.Topic).Inc()
		onError(ferr)

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = w.retry
		}
		w.logger.Warn("Change feed failed, retrying", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			w.logger.Info("Watcher stopped")
			return
		case <-time.After(wait):
		}
	}
}

func (w *Watcher) watchOnce(ctx context.Context, onEvent EventHandler) error {
	stream, err := w.source.Open(ctx, w.rule.Collection)
	if err != nil {
		return fmt.Errorf("open change feed: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stream.Close(closeCtx); err != nil {
			w.logger.Debug("Failed to close change feed", "error", err)
		}
	}()

	w.setHealthy(true)
	w.logger.Info("Change feed opened", "collection", w.rule.Collection)

	for {
		raw, err := stream.Next(ctx)
		if err != nil {
			return err
		}

		evt, reason := w.rule.Normalize(raw)
		if reason != skipNone {
			w.logger.Debug("Skipping change", "operation", raw.OperationType, "reason", string(reason))
			continue
		}
		metrics.EventsReceived.WithLabelValues(w.rule.Topic).Inc()
		onEvent(evt)
	}
}

func (w *Watcher) setHealthy(v bool) {
	w.healthy.Store(v)
	gauge := 0.0
	if v {
		gauge = 1
	}
	metrics.FeedUp.WithLabelValues(w.rule.Topic).Set(gauge)
}
