// Package ratelimit throttles how often one client may open a stream.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config bounds stream admissions per client address.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Burst is how many streams a client may open back to back.
	Burst int `yaml:"burst"`

	// Window is the time in which a spent burst is fully refilled.
	Window time.Duration `yaml:"window"`

	// TrustProxyHeaders keys clients by X-Forwarded-For or X-Real-IP.
	// Enable it only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// DefaultConfig allows 20 stream openings per client per minute.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Burst:   20,
		Window:  time.Minute,
	}
}

// Limiter keeps one token bucket per client in memory. Buckets idle for two
// windows are swept in the background until Stop.
type Limiter struct {
	cfg   Config
	limit rate.Limit
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter. cfg must have a positive Burst and Window.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		limit:   rate.Limit(float64(cfg.Burst) / cfg.Window.Seconds()),
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweepLoop(2 * cfg.Window)
	return l
}

// Admit takes a token for key. When none is left it reports how long the
// client should wait before trying again.
func (l *Limiter) Admit(key string) (bool, time.Duration) {
	l.mu.Lock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.limit, l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := b.tokens.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep(every)
		case <-l.stop:
			return
		}
	}
}

// sweep forgets clients not seen for idle. A forgotten client starts again
// with a full bucket, which is what an idle bucket holds anyway.
func (l *Limiter) sweep(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the background sweep. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
