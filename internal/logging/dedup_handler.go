package logging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DedupHandler passes the first occurrence of a record through and
// suppresses identical ones for the rest of the window. When the window
// ends, a single copy carrying repeated_count is written for the suppressed
// occurrences. Records are identical when their level, message and
// attributes match; the timestamp is ignored.
type DedupHandler struct {
	handler slog.Handler
	scope   uint64
	state   *dedupState
}

type dedupState struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[uint64]*dedupEntry
	now    func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type dedupEntry struct {
	handler    slog.Handler
	record     slog.Record
	first      time.Time
	suppressed int
}

// NewDedupHandler wraps handler. Close must be called to write the summaries
// still pending.
func NewDedupHandler(handler slog.Handler, window time.Duration) *DedupHandler {
	if window <= 0 {
		window = time.Second
	}
	state := &dedupState{
		window: window,
		seen:   make(map[uint64]*dedupEntry),
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go state.sweepLoop()
	return &DedupHandler{handler: handler, state: state}
}

func (h *DedupHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *DedupHandler) Handle(ctx context.Context, r slog.Record) error {
	key := h.key(r)
	s := h.state

	s.mu.Lock()
	now := s.now()
	prev, ok := s.seen[key]
	if ok && now.Sub(prev.first) < s.window {
		prev.suppressed++
		s.mu.Unlock()
		return nil
	}
	s.seen[key] = &dedupEntry{handler: h.handler, record: r.Clone(), first: now}
	s.mu.Unlock()

	if ok {
		prev.flush(ctx, now)
	}
	return h.handler.Handle(ctx, r)
}

// key hashes the record content together with the attributes bound through
// WithAttrs, so the same message from two components is kept apart.
func (h *DedupHandler) key(r slog.Record) uint64 {
	d := xxhash.New()
	var scope [8]byte
	for i := range scope {
		scope[i] = byte(h.scope >> (8 * i))
	}
	_, _ = d.Write(scope[:])
	_, _ = d.WriteString(r.Level.String())
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		_, _ = d.WriteString("|")
		_, _ = d.WriteString(a.Key)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(a.Value.String())
		return true
	})
	return d.Sum64()
}

func (h *DedupHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(h.scope, 16))
	for _, a := range attrs {
		_, _ = d.WriteString("|")
		_, _ = d.WriteString(a.Key)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(a.Value.String())
	}
	return &DedupHandler{handler: h.handler.WithAttrs(attrs), scope: d.Sum64(), state: h.state}
}

func (h *DedupHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	scope := xxhash.Sum64String(strconv.FormatUint(h.scope, 16) + "#" + name)
	return &DedupHandler{handler: h.handler.WithGroup(name), scope: scope, state: h.state}
}

// Close stops the sweeper and writes every pending summary. Handlers derived
// through WithAttrs share the same state; closing any of them closes all.
func (h *DedupHandler) Close() error {
	s := h.state
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		for _, e := range s.take(func(*dedupEntry) bool { return true }) {
			e.flush(context.Background(), s.now())
		}
	})
	return nil
}

func (s *dedupState) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.window)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := s.now()
			expired := s.take(func(e *dedupEntry) bool { return now.Sub(e.first) >= s.window })
			for _, e := range expired {
				e.flush(context.Background(), now)
			}
		}
	}
}

// take removes and returns the entries matching fn.
func (s *dedupState) take(fn func(*dedupEntry) bool) []*dedupEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*dedupEntry
	for key, e := range s.seen {
		if fn(e) {
			out = append(out, e)
			delete(s.seen, key)
		}
	}
	return out
}

// flush writes the summary of suppressed occurrences, if any.
func (e *dedupEntry) flush(ctx context.Context, now time.Time) {
	if e.suppressed == 0 {
		return
	}
	r := e.record.Clone()
	r.Time = now
	r.AddAttrs(slog.Int("repeated_count", e.suppressed))
	_ = e.handler.Handle(ctx, r)
}
