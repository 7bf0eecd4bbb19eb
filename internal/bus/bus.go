// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package bus implements the in-process pub/sub primitive underneath every
// sandbox and channel in the mesh.
//
// Pattern matching uses gobwas/glob with ':' as the segment separator:
//   - "*" subscribes to every event type (root wildcard)
//   - "channel:chat:*" matches one further segment ("channel:chat:message")
//   - "channel:chat:**" matches any descendant type
//   - patterns without glob metacharacters match exactly
package bus

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/plugmesh/plugmesh/internal/event"
)

// Handler receives a dispatched event. Handlers run synchronously on the
// dispatching goroutine and must not block.
type Handler func(event.Event)

// DefaultMaxPending bounds both the dispatch queue and the number of
// events one drain may deliver. Handlers re-enter Emit synchronously, so
// a cyclic wiring mistake feeds the queue instead of the stack; events
// past the bound are dropped with a warning.
const DefaultMaxPending = 1024

type subscriber struct {
	id      uint64
	pattern string
	matcher glob.Glob // nil for exact or root-wildcard patterns
	all     bool
	handler Handler
}

func (s *subscriber) matches(eventType string) bool {
	if s.all {
		return true
	}
	if s.matcher != nil {
		return s.matcher.Match(eventType)
	}
	return s.pattern == eventType
}

// Bus is a mutex-serialized event bus with synchronous dispatch.
//
// Within one emission, subscribers are invoked in subscription order.
// Handlers that emit re-enter the dispatcher: the nested event is queued
// and delivered breadth-first before the root Emit call returns, so one
// logical tick always completes synchronously.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	nextID uint64

	queueMu    sync.Mutex
	queue      []event.Event
	draining   bool
	maxPending int

	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for dropped-event warnings.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithMaxPending overrides the dispatch queue bound.
func WithMaxPending(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxPending = n
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		maxPending: DefaultMaxPending,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// On subscribes a handler to a type or pattern and returns an unsubscribe
// function. Unsubscribing twice is safe.
func (b *Bus) On(pattern string, h Handler) (func(), error) {
	if pattern == "" {
		return nil, oops.In("bus").New("subscription pattern cannot be empty")
	}
	if h == nil {
		return nil, oops.In("bus").With("pattern", pattern).New("handler cannot be nil")
	}

	sub := &subscriber{pattern: pattern, handler: h}
	switch {
	case pattern == "*":
		sub.all = true
	case hasGlobMeta(pattern):
		g, err := glob.Compile(pattern, ':')
		if err != nil {
			return nil, oops.In("bus").With("pattern", pattern).Wrap(err)
		}
		sub.matcher = g
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	id := sub.id
	return func() { b.off(id) }, nil
}

func (b *Bus) off(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Clear removes every subscriber.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit publishes an event to all matching subscribers. The call returns
// after every delivery it transitively triggered has completed, unless a
// drain is already in progress on another goroutine, in which case that
// goroutine delivers the event.
func (b *Bus) Emit(eventType string, payload any, opts ...EmitOption) {
	ev := event.Event{
		ID:        event.NewID(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&ev)
	}

	b.queueMu.Lock()
	if len(b.queue) >= b.maxPending {
		b.queueMu.Unlock()
		b.logger.Warn("event dropped: dispatch queue full",
			"event_type", eventType,
			"max_pending", b.maxPending)
		return
	}
	b.queue = append(b.queue, ev)
	if b.draining {
		b.queueMu.Unlock()
		return
	}
	b.draining = true
	b.queueMu.Unlock()

	// A self-sustaining cycle keeps the queue short while feeding it
	// forever, so the drain itself is budgeted too.
	processed := 0
	for {
		b.queueMu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.queueMu.Unlock()
			return
		}
		if processed >= b.maxPending {
			dropped := len(b.queue)
			b.queue = nil
			b.draining = false
			b.queueMu.Unlock()
			b.logger.Warn("events dropped: dispatch budget exhausted",
				"dropped", dropped,
				"max_pending", b.maxPending)
			return
		}
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		b.dispatch(next)
		processed++
	}
}

func (b *Bus) dispatch(ev event.Event) {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(ev.Type) {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		h(ev)
	}
}
