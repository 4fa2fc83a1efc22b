// Package registry keeps the process-wide set of live streaming
// subscriptions, indexed by client id and by owning user.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/syntrixbase/livefeed/internal/events"
)

var (
	ErrDuplicateClient = errors.New("client already registered")
	ErrEmptyTopics     = errors.New("subscription requires at least one topic")
	ErrQuotaExceeded   = errors.New("per-user connection limit reached")
	ErrClosed          = errors.New("registry closed")
)

// DeliveryError is reported when a subscription's delivery callback fails.
// The subscription is deregistered when this happens.
type DeliveryError struct {
	ClientID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to client %s failed: %v", e.ClientID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// DeliverFunc writes one event onto a client's transport.
type DeliverFunc func(evt events.ChangeEvent) error

// Subscription is one live streaming client.
type Subscription struct {
	ClientID string
	UserID   string
	Topics   map[string]struct{}
	Deliver  DeliverFunc

	// OnEvict, when set, runs after the registry dropped the subscription
	// because delivery failed.
	OnEvict func(err error)
}

// NewSubscription builds a subscription with the given topic list.
func NewSubscription(clientID, userID string, topics []string, deliver DeliverFunc) *Subscription {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return &Subscription{
		ClientID: clientID,
		UserID:   userID,
		Topics:   set,
		Deliver:  deliver,
	}
}

// Wants reports whether the subscription listed topic.
func (s *Subscription) Wants(topic string) bool {
	_, ok := s.Topics[topic]
	return ok
}

// TopicList returns the subscribed topics in sorted order.
func (s *Subscription) TopicList() []string {
	out := make([]string, 0, len(s.Topics))
	for t := range s.Topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Stats is an aggregate view of the registry.
type Stats struct {
	Clients       int
	Users         int
	Subscriptions int
	Topics        map[string]int
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Subscription
	byUser  map[string]map[string]struct{}

	// maxPerUser is re-checked inside Register when positive.
	maxPerUser int

	// closed is set by Close; Register refuses new subscriptions after it.
	closed bool

	logger    *slog.Logger
	onRemoved func(sub *Subscription)
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxPerUser makes Register refuse a subscription once the user already
// owns limit subscriptions.
func WithMaxPerUser(limit int) Option {
	return func(r *Registry) { r.maxPerUser = limit }
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithRemovalHook registers a callback invoked after a subscription is
// removed, outside the registry lock.
func WithRemovalHook(fn func(sub *Subscription)) Option {
	return func(r *Registry) { r.onRemoved = fn }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		clients: make(map[string]*Subscription),
		byUser:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Register inserts a subscription and indexes it under its user.
func (r *Registry) Register(sub *Subscription) error {
	if sub == nil || len(sub.Topics) == 0 {
		return ErrEmptyTopics
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, exists := r.clients[sub.ClientID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClient, sub.ClientID)
	}
	set := r.byUser[sub.UserID]
	if r.maxPerUser > 0 && len(set) >= r.maxPerUser {
		return ErrQuotaExceeded
	}

	r.clients[sub.ClientID] = sub
	if set == nil {
		set = make(map[string]struct{})
		r.byUser[sub.UserID] = set
	}
	set[sub.ClientID] = struct{}{}
	return nil
}

// Deregister removes a subscription. Unknown ids are ignored. It reports
// whether a subscription was removed.
func (r *Registry) Deregister(clientID string) bool {
	r.mu.Lock()
	sub, ok := r.removeLocked(clientID)
	r.mu.Unlock()

	if ok && r.onRemoved != nil {
		r.onRemoved(sub)
	}
	return ok
}

func (r *Registry) removeLocked(clientID string) (*Subscription, bool) {
	sub, ok := r.clients[clientID]
	if !ok {
		return nil, false
	}
	delete(r.clients, clientID)

	if set, ok := r.byUser[sub.UserID]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(r.byUser, sub.UserID)
		}
	}
	return sub, true
}

// CountForUser returns the number of live subscriptions owned by userID.
func (r *Registry) CountForUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Get returns the subscription registered under clientID.
func (r *Registry) Get(clientID string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.clients[clientID]
	return sub, ok
}

// ForEachMatching calls fn for every subscription that listed topic and, when
// ownerUserID is set, belongs to that user. fn runs outside the lock on a
// snapshot. A subscription whose fn returns an error or panics is
// deregistered; the remaining subscriptions are still visited. It returns the
// number of successful calls.
func (r *Registry) ForEachMatching(topic, ownerUserID string, fn func(sub *Subscription) error) int {
	matches := r.snapshot(topic, ownerUserID)

	delivered := 0
	for _, sub := range matches {
		if err := invoke(fn, sub); err != nil {
			derr := &DeliveryError{ClientID: sub.ClientID, Err: err}
			r.logger.Warn("Dropping subscriber after failed delivery",
				"client_id", sub.ClientID,
				"topic", topic,
				"error", derr,
			)
			if r.Deregister(sub.ClientID) && sub.OnEvict != nil {
				sub.OnEvict(derr)
			}
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) snapshot(topic, ownerUserID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Subscription
	if ownerUserID != "" {
		for clientID := range r.byUser[ownerUserID] {
			if sub := r.clients[clientID]; sub != nil && sub.Wants(topic) {
				matches = append(matches, sub)
			}
		}
		return matches
	}

	for _, sub := range r.clients {
		if sub.Wants(topic) {
			matches = append(matches, sub)
		}
	}
	return matches
}

func invoke(fn func(*Subscription) error, sub *Subscription) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in delivery callback: %v", rec)
		}
	}()
	return fn(sub)
}

// Stats returns aggregate counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		Clients: len(r.clients),
		Users:   len(r.byUser),
		Topics:  make(map[string]int),
	}
	for _, sub := range r.clients {
		for t := range sub.Topics {
			st.Topics[t]++
			st.Subscriptions++
		}
	}
	return st
}

// Close removes every subscription and evicts each one with ErrClosed.
// Later Register calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	removed := make([]*Subscription, 0, len(r.clients))
	for id := range r.clients {
		if sub, ok := r.removeLocked(id); ok {
			removed = append(removed, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range removed {
		if r.onRemoved != nil {
			r.onRemoved(sub)
		}
		if sub.OnEvict != nil {
			sub.OnEvict(ErrClosed)
		}
	}
}
