package dispatcher

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/livefeed/internal/events"
	"github.com/syntrixbase/livefeed/internal/realtime/registry"
	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
)

type inbox struct {
	mu     sync.Mutex
	events []events.ChangeEvent
}

func (b *inbox) deliver(evt events.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func (b *inbox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func register(t *testing.T, reg *registry.Registry, clientID, userID string, topics ...string) *inbox {
	t.Helper()
	b := &inbox{}
	require.NoError(t, reg.Register(registry.NewSubscription(clientID, userID, topics, b.deliver)))
	return b
}

// An owner-scoped notification reaches only the owner's connections, even
// when other users subscribe to the same topic.
func TestDispatcher_OwnerScoped(t *testing.T) {
	reg := registry.New()
	d := New(reg, nil)

	u1a := register(t, reg, "c1", "U1", "notifications")
	u1b := register(t, reg, "c2", "U1", "notifications")
	u2 := register(t, reg, "c3", "U2", "notifications")

	n := d.OnEvent(events.ChangeEvent{
		Operation:   events.OperationInsert,
		Topic:       "notifications",
		OwnerUserID: "U1",
		Payload:     map[string]any{"title": "hello"},
	})

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, u1a.count())
	assert.Equal(t, 1, u1b.count())
	assert.Equal(t, 0, u2.count())
}

func TestDispatcher_Global(t *testing.T) {
	reg := registry.New()
	d := New(reg, nil)

	a := register(t, reg, "c1", "U1", "features")
	b := register(t, reg, "c2", "U2", "features", "notifications")
	c := register(t, reg, "c3", "U3", "notifications")

	n := d.OnEvent(events.ChangeEvent{Operation: events.OperationUpdate, Topic: "features"})
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, c.count())
}

func TestDispatcher_StampsAndSanitizes(t *testing.T) {
	reg := registry.New()
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d := New(reg, nil)
	d.now = func() time.Time { return fixed }
	b := register(t, reg, "c1", "U1", "features")

	payload := map[string]any{"name": "dark-mode", "SecretValue": "s", "nested": map[string]any{"apiKey": "k", "ok": 1}}
	d.OnEvent(events.ChangeEvent{Operation: events.OperationInsert, Topic: "features", Payload: payload})

	require.Equal(t, 1, b.count())
	got := b.events[0]
	assert.Equal(t, fixed, got.Timestamp)
	assert.Equal(t, "dark-mode", got.Payload["name"])
	assert.NotContains(t, got.Payload, "SecretValue")
	assert.Equal(t, map[string]any{"ok": 1}, got.Payload["nested"])
	assert.Contains(t, payload, "SecretValue", "input payload left untouched")

	// A time set upstream is replaced by the dispatch time.
	stale := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.OnEvent(events.ChangeEvent{Operation: events.OperationDelete, Topic: "features", Timestamp: stale})
	assert.Equal(t, fixed, b.events[1].Timestamp)
}

func TestDispatcher_FailedDeliveryDropsSubscriber(t *testing.T) {
	reg := registry.New()
	d := New(reg, nil)

	good := register(t, reg, "good", "U1", "features")
	var evicted error
	bad := registry.NewSubscription("bad", "U2", []string{"features"}, func(events.ChangeEvent) error {
		return errors.New("broken pipe")
	})
	bad.OnEvict = func(err error) { evicted = err }
	require.NoError(t, reg.Register(bad))

	assert.Equal(t, 1, d.OnEvent(events.ChangeEvent{Operation: events.OperationInsert, Topic: "features"}))
	assert.Equal(t, 1, good.count())
	assert.Equal(t, 0, reg.CountForUser("U2"))
	assert.Error(t, evicted)

	assert.Equal(t, 1, d.OnEvent(events.ChangeEvent{Operation: events.OperationInsert, Topic: "features"}))
	assert.Equal(t, 2, good.count())
}

func TestDispatcher_NoSubscribers(t *testing.T) {
	d := New(registry.New(), nil)
	assert.Equal(t, 0, d.OnEvent(events.ChangeEvent{Operation: events.OperationInsert, Topic: "features"}))
}

func TestDispatcher_OnFeedError(t *testing.T) {
	d := New(registry.New(), nil)
	assert.NotPanics(t, func() {
		d.OnFeedError(&watcher.FeedUnavailableError{Topic: "features", Err: errors.New("down")})
		d.OnFeedError(fmt.Errorf("plain"))
	})
}

// Per-topic order is the order in which OnEvent is called.
func TestDispatcher_PreservesOrder(t *testing.T) {
	reg := registry.New()
	d := New(reg, nil)
	b := register(t, reg, "c1", "U1", "features")

	for i := 0; i < 50; i++ {
		d.OnEvent(events.ChangeEvent{Operation: events.OperationUpdate, Topic: "features", DocumentID: fmt.Sprint(i)})
	}
	require.Equal(t, 50, b.count())
	for i, evt := range b.events {
		assert.Equal(t, fmt.Sprint(i), evt.DocumentID)
	}
}
