package watcher

import (
	"context"
	"errors"
	"sync"
)

type streamItem struct {
	change RawChange
	err    error
}

type fakeStream struct {
	items  chan streamItem
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		items:  make(chan streamItem, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Next(ctx context.Context) (RawChange, error) {
	select {
	case <-ctx.Done():
		return RawChange{}, ctx.Err()
	case <-s.closed:
		return RawChange{}, ErrFeedClosed
	case it := <-s.items:
		return it.change, it.err
	}
}

func (s *fakeStream) Close(context.Context) error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) push(c RawChange) { s.items <- streamItem{change: c} }

func (s *fakeStream) fail(err error) { s.items <- streamItem{err: err} }

// fakeSource hands out queued streams in order. Opening with an empty queue
// fails.
type fakeSource struct {
	mu      sync.Mutex
	streams []*fakeStream
	opens   int
	opened  chan *fakeStream
}

func newFakeSource(streams ...*fakeStream) *fakeSource {
	return &fakeSource{streams: streams, opened: make(chan *fakeStream, 16)}
}

var errNoStream = errors.New("feed unavailable")

func (s *fakeSource) Open(_ context.Context, _ string) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if len(s.streams) == 0 {
		return nil, errNoStream
	}
	st := s.streams[0]
	s.streams = s.streams[1:]
	s.opened <- st
	return st, nil
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}
