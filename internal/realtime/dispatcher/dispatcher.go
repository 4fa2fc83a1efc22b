// Package dispatcher fans watcher output out to matching subscriptions.
package dispatcher

import (
	"errors"
	"log/slog"
	"time"

	"github.com/syntrixbase/livefeed/internal/events"
	"github.com/syntrixbase/livefeed/internal/metrics"
	"github.com/syntrixbase/livefeed/internal/realtime/registry"
	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
)

// Dispatcher delivers each event to every subscription that should see it.
// It keeps no buffer: an event reaches the subscriptions registered at the
// moment it arrives, at most once.
type Dispatcher struct {
	registry *registry.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a dispatcher over reg.
func New(reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: reg,
		logger:   logger.With("component", "dispatcher"),
		now:      time.Now,
	}
}

// OnEvent stamps evt with the dispatch time and delivers it. Global events
// go to every subscriber of the topic, owner-scoped events only to the
// owner's subscriptions. It returns the number of successful deliveries.
func (d *Dispatcher) OnEvent(evt events.ChangeEvent) int {
	evt.Timestamp = d.now()
	evt.Payload = events.Sanitize(evt.Payload)

	attempted := 0
	delivered := d.registry.ForEachMatching(evt.Topic, evt.OwnerUserID, func(sub *registry.Subscription) error {
		attempted++
		return sub.Deliver(evt)
	})

	metrics.Deliveries.WithLabelValues(evt.Topic).Add(float64(delivered))
	if failed := attempted - delivered; failed > 0 {
		metrics.DeliveryFailures.WithLabelValues(evt.Topic).Add(float64(failed))
	}

	d.logger.Debug("Dispatched change",
		"topic", evt.Topic,
		"operation", evt.Operation,
		"global", evt.IsGlobal(),
		"delivered", delivered,
	)
	return delivered
}

// OnFeedError records a feed failure. Clients never see it; delivery for
// the topic resumes once the watcher reconnects.
func (d *Dispatcher) OnFeedError(err error) {
	topic := ""
	var ferr *watcher.FeedUnavailableError
	if errors.As(err, &ferr) {
		topic = ferr.Topic
	}
	d.logger.Warn("Change feed unavailable", "topic", topic, "error", err)
}
