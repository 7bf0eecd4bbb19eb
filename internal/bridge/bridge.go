// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package bridge wires named channels between plugin sandboxes, using the
// shared bus as the relay medium.
//
// Each channel owns its own bus. For every participant two forwarding
// rules are installed: rule A relays the participant's own
// "channel:<id>:*" traffic from the shared bus into the channel bus, and
// rule B relays channel-bus events addressed to the participant into its
// private bus. Rule B refuses anything whose immediate source is already a
// plugin, so traffic rule A just relayed is never reflected straight back
// into a sandbox.
package bridge

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/plugmesh/plugmesh/internal/bus"
	"github.com/plugmesh/plugmesh/internal/event"
	"github.com/plugmesh/plugmesh/internal/isolation"
)

// ChannelTypePrefix builds the type prefix channel traffic must carry.
func ChannelTypePrefix(channelID string) string {
	return "channel:" + channelID + ":"
}

// Typed registry errors.
var (
	ErrChannelExists   = errors.New("channel already exists")
	ErrChannelNotFound = errors.New("channel not found")
)

// channel tracks one named channel and its teardown handles.
type channel struct {
	id  string
	bus *bus.Bus
	// unsubs holds both forwarding rules per participant, keyed by
	// plugin id, so DestroyChannel can detach exactly this channel.
	unsubs map[string][]func()
}

// Bridge creates channels and installs their forwarding rules. Safe for
// concurrent use.
type Bridge struct {
	mu        sync.RWMutex
	forwarder *isolation.Forwarder
	channels  map[string]*channel
	logger    *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// New creates a bridge over the forwarder's shared bus.
func New(f *isolation.Forwarder, opts ...Option) *Bridge {
	b := &Bridge{
		forwarder: f,
		channels:  make(map[string]*channel),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreateChannel allocates a channel bus and wires forwarding for every
// participant that currently has a sandbox. Participants without one are
// skipped silently; they are simply not wired into the channel.
func (b *Bridge) CreateChannel(channelID string, pluginIDs []string) (*bus.Bus, error) {
	if channelID == "" {
		return nil, oops.In("bridge").New("channel id cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[channelID]; ok {
		return nil, oops.In("bridge").With("channel", channelID).Wrap(ErrChannelExists)
	}

	ch := &channel{
		id:     channelID,
		bus:    bus.New(bus.WithLogger(b.logger)),
		unsubs: make(map[string][]func()),
	}

	shared := b.forwarder.BaseBus()
	prefix := ChannelTypePrefix(channelID)

	for _, pluginID := range pluginIDs {
		sb, ok := b.forwarder.Sandbox(pluginID)
		if !ok {
			b.logger.Debug("channel participant has no sandbox, skipping",
				"channel", channelID,
				"plugin", pluginID)
			continue
		}

		unsubA, err := shared.On("*", b.ruleA(ch, pluginID, prefix))
		if err != nil {
			return nil, oops.In("bridge").With("channel", channelID).With("plugin", pluginID).Wrap(err)
		}
		unsubB, err := ch.bus.On("*", b.ruleB(pluginID, sb))
		if err != nil {
			unsubA()
			return nil, oops.In("bridge").With("channel", channelID).With("plugin", pluginID).Wrap(err)
		}
		ch.unsubs[pluginID] = []func(){unsubA, unsubB}
	}

	b.channels[channelID] = ch
	b.logger.Info("channel created",
		"channel", channelID,
		"participants", len(ch.unsubs))
	return ch.bus, nil
}

// ruleA relays the participant's own channel-scoped traffic from the
// shared bus into the channel bus, stamping the target for rule B.
func (b *Bridge) ruleA(ch *channel, pluginID, prefix string) bus.Handler {
	return func(ev event.Event) {
		if md, ok := ev.Metadata[event.MetaPluginID]; !ok || md != pluginID {
			return
		}
		if !strings.HasPrefix(ev.Type, prefix) {
			return
		}

		md := ev.CloneMetadata()
		md[event.MetaTargetPlugin] = pluginID

		ch.bus.Emit(ev.Type, ev.Payload,
			bus.WithSource(ev.Source),
			bus.WithMetadata(md),
			bus.WithTimestamp(ev.Timestamp),
			bus.WithPriority(ev.Priority))
	}
}

// ruleB delivers channel-bus events addressed to the participant into its
// private bus. Anything already plugin-sourced is dropped first: that is
// the anti-loop rule.
func (b *Bridge) ruleB(pluginID string, sb *isolation.Sandbox) bus.Handler {
	return func(ev event.Event) {
		if ev.PluginSourced() {
			return
		}
		if target, ok := ev.Metadata[event.MetaTargetPlugin]; !ok || target != pluginID {
			return
		}

		sb.Bus().Emit(ev.Type, ev.Payload,
			bus.WithSource(ev.Source),
			bus.WithMetadata(ev.CloneMetadata()),
			bus.WithTimestamp(ev.Timestamp),
			bus.WithPriority(ev.Priority))
	}
}

// DestroyChannel detaches every forwarding rule the channel installed and
// removes it from the registry. Returns ErrChannelNotFound for unknown
// channels.
func (b *Bridge) DestroyChannel(channelID string) error {
	b.mu.Lock()
	ch, ok := b.channels[channelID]
	if ok {
		delete(b.channels, channelID)
	}
	b.mu.Unlock()

	if !ok {
		return oops.In("bridge").With("channel", channelID).Wrap(ErrChannelNotFound)
	}

	for _, unsubs := range ch.unsubs {
		for _, unsub := range unsubs {
			unsub()
		}
	}
	ch.bus.Clear()

	b.logger.Info("channel destroyed", "channel", channelID)
	return nil
}

// ChannelBus returns a channel's bus.
func (b *Bridge) ChannelBus(channelID string) (*bus.Bus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[channelID]
	if !ok {
		return nil, false
	}
	return ch.bus, true
}

// Channels returns the live channel ids, sorted.
func (b *Bridge) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.channels))
	for id := range b.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DestroyAll tears down every channel. Used at host shutdown.
func (b *Bridge) DestroyAll() {
	b.mu.Lock()
	channels := b.channels
	b.channels = make(map[string]*channel)
	b.mu.Unlock()

	for _, ch := range channels {
		for _, unsubs := range ch.unsubs {
			for _, unsub := range unsubs {
				unsub()
			}
		}
		ch.bus.Clear()
	}
}
