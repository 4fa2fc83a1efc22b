package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/syntrixbase/livefeed/internal/events"
	"github.com/syntrixbase/livefeed/internal/realtime/registry"
)

var (
	ErrSlowConsumer     = errors.New("client send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

// State is the lifecycle stage of one streaming connection.
type State int32

const (
	StateAuthenticating State = iota
	StateAdmitted
	StateStreaming
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAdmitted:
		return "admitted"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Connection tracks one streaming client from the first request byte to
// cleanup. Deliveries are queued on a bounded buffer drained by the single
// writer loop of the transport.
type Connection struct {
	ID     string
	UserID string
	Topics []string

	state atomic.Int32
	send  chan events.ChangeEvent

	ctx    context.Context
	cancel context.CancelFunc

	registry  *registry.Registry
	closeOnce sync.Once
	mu        sync.Mutex
	closeErr  error
	logger    *slog.Logger
}

func newConnection(parent context.Context, reg *registry.Registry, buffer int, logger *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		send:     make(chan events.ChangeEvent, buffer),
		ctx:      ctx,
		cancel:   cancel,
		registry: reg,
		logger:   logger,
	}
}

// State returns the current lifecycle stage.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// reject moves a connection that never started streaming to Rejected.
func (c *Connection) reject() {
	if !c.transition(StateAuthenticating, StateRejected) {
		c.transition(StateAdmitted, StateRejected)
	}
	c.cancel()
}

// Done is closed once the connection is cleaned up or its request ends.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the reason the connection was closed, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// deliver queues evt without blocking.
func (c *Connection) deliver(evt events.ChangeEvent) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- evt:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close deregisters the subscription and releases the connection. Only the
// first call has an effect; later calls, from any exit path, are no-ops.
func (c *Connection) Close(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = reason
		c.mu.Unlock()
		if c.State() != StateRejected {
			c.state.Store(int32(StateClosed))
		}
		if c.ID != "" {
			c.registry.Deregister(c.ID)
		}
		c.cancel()

		if c.logger != nil {
			if reason != nil && !errors.Is(reason, context.Canceled) {
				c.logger.Info("Stream closed", "reason", reason)
			} else {
				c.logger.Info("Stream closed")
			}
		}
	})
}
