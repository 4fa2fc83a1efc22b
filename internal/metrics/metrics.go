// Package metrics holds the Prometheus collectors of the fan-out service.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Connections
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livefeed_active_connections",
		Help: "The number of currently streaming clients",
	})

	ConnectionAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_connection_attempts_total",
		Help: "Streaming connection attempts by admission result",
	}, []string{"result"})

	// Fan-out
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_events_received_total",
		Help: "Change events received from the feeds",
	}, []string{"topic"})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_deliveries_total",
		Help: "Change events handed to subscribers",
	}, []string{"topic"})

	DeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_delivery_failures_total",
		Help: "Deliveries that failed and dropped the subscriber",
	}, []string{"topic"})

	// Feeds
	FeedUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livefeed_feed_up",
		Help: "1 while the change feed for a topic is open",
	}, []string{"topic"})

	FeedRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_feed_restarts_total",
		Help: "Change feed failures followed by a scheduled restart",
	}, []string{"topic"})
)

// Admission results used as the ConnectionAttempts label.
const (
	ResultAccepted        = "accepted"
	ResultUnauthenticated = "unauthenticated"
	ResultInvalid         = "invalid"
	ResultQuotaExceeded   = "quota_exceeded"
	ResultError           = "error"
	ResultUnavailable     = "unavailable"
	ResultRateLimited     = "rate_limited"
)

var registerOnce sync.Once

// Register adds all collectors to reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) error {
	var err error
	registerOnce.Do(func() {
		for _, c := range collectors() {
			if rerr := reg.Register(c); rerr != nil {
				var already prometheus.AlreadyRegisteredError
				if errors.As(rerr, &already) {
					continue
				}
				err = rerr
				return
			}
		}
	})
	return err
}

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ActiveConnections,
		ConnectionAttempts,
		EventsReceived,
		Deliveries,
		DeliveryFailures,
		FeedUp,
		FeedRestarts,
	}
}
