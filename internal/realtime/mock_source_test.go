package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
)

// chanSource serves one channel of raw changes per collection. While down
// is set, opening a feed fails.
type chanSource struct {
	mu    sync.Mutex
	feeds map[string]chan watcher.RawChange
	down  bool
}

func newChanSource() *chanSource {
	return &chanSource{feeds: make(map[string]chan watcher.RawChange)}
}

func (s *chanSource) feed(collection string) chan watcher.RawChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.feeds[collection]
	if !ok {
		ch = make(chan watcher.RawChange, 16)
		s.feeds[collection] = ch
	}
	return ch
}

func (s *chanSource) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

var errFeedDown = errors.New("feed down")

func (s *chanSource) Open(_ context.Context, collection string) (watcher.Stream, error) {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()
	if down {
		return nil, errFeedDown
	}
	return &chanStream{ch: s.feed(collection), closed: make(chan struct{})}, nil
}

type chanStream struct {
	ch     chan watcher.RawChange
	closed chan struct{}
	once   sync.Once
}

func (s *chanStream) Next(ctx context.Context) (watcher.RawChange, error) {
	select {
	case <-ctx.Done():
		return watcher.RawChange{}, ctx.Err()
	case <-s.closed:
		return watcher.RawChange{}, watcher.ErrFeedClosed
	case c := <-s.ch:
		return c, nil
	}
}

func (s *chanStream) Close(context.Context) error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
