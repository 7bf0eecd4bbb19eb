// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugmesh/plugmesh/internal/bus"
	"github.com/plugmesh/plugmesh/internal/event"
	"github.com/plugmesh/plugmesh/internal/isolation"
)

func newTestMesh(t *testing.T, pluginIDs ...string) (*isolation.Forwarder, map[string]*bus.Bus) {
	t.Helper()
	f := isolation.NewForwarder(bus.New())
	private := make(map[string]*bus.Bus, len(pluginIDs))
	for _, id := range pluginIDs {
		pb, err := f.CreateSandbox(id, []isolation.Grant{{Kind: isolation.GrantWildcard}})
		require.NoError(t, err)
		private[id] = pb
	}
	return f, private
}

func TestBridge_RelaysChannelTrafficOntoChannelBus(t *testing.T) {
	f, private := newTestMesh(t, "alpha", "beta")
	b := New(f)

	chBus, err := b.CreateChannel("chat", []string{"alpha", "beta"})
	require.NoError(t, err)

	var got []event.Event
	_, err = chBus.On("channel:chat:message", func(ev event.Event) { got = append(got, ev) })
	require.NoError(t, err)

	private["alpha"].Emit("channel:chat:message", map[string]any{"text": "hi"})

	require.Len(t, got, 1, "exactly one relay, not one per participant rule")
	assert.Equal(t, "channel:chat:message", got[0].Type)
	assert.Equal(t, "plugin:alpha", got[0].Source)
	assert.Equal(t, "alpha", got[0].Metadata[event.MetaPluginID])
	assert.Equal(t, "alpha", got[0].Metadata[event.MetaTargetPlugin])
}

func TestBridge_IgnoresNonChannelTraffic(t *testing.T) {
	f, private := newTestMesh(t, "alpha")
	b := New(f)

	chBus, err := b.CreateChannel("chat", []string{"alpha"})
	require.NoError(t, err)

	var count int
	_, err = chBus.On("*", func(event.Event) { count++ })
	require.NoError(t, err)

	private["alpha"].Emit("chat:message", nil)          // wrong prefix
	private["alpha"].Emit("channel:other:message", nil) // different channel

	assert.Equal(t, 0, count)
}

func TestBridge_IgnoresOtherPluginsTraffic(t *testing.T) {
	f, private := newTestMesh(t, "alpha", "beta")
	b := New(f)

	chBus, err := b.CreateChannel("chat", []string{"alpha"})
	require.NoError(t, err)

	var count int
	_, err = chBus.On("*", func(event.Event) { count++ })
	require.NoError(t, err)

	// beta is not a participant; its traffic never enters the channel.
	private["beta"].Emit("channel:chat:message", nil)
	assert.Equal(t, 0, count)
}

func TestBridge_PluginSourcedTrafficNotReflectedIntoSandboxes(t *testing.T) {
	f, private := newTestMesh(t, "alpha", "beta")
	b := New(f)

	_, err := b.CreateChannel("chat", []string{"alpha", "beta"})
	require.NoError(t, err)

	var alphaGot, betaGot int
	_, err = private["alpha"].On("channel:chat:*", func(event.Event) { alphaGot++ })
	require.NoError(t, err)
	_, err = private["beta"].On("channel:chat:*", func(event.Event) { betaGot++ })
	require.NoError(t, err)

	private["alpha"].Emit("channel:chat:message", nil)

	// The emitter sees its own local dispatch; the relay must not bounce
	// plugin-sourced traffic back into any sandbox.
	assert.Equal(t, 1, alphaGot)
	assert.Equal(t, 0, betaGot)
}

func TestBridge_TargetedHostDeliveryReachesSandbox(t *testing.T) {
	f, private := newTestMesh(t, "alpha", "beta")
	b := New(f)

	chBus, err := b.CreateChannel("chat", []string{"alpha", "beta"})
	require.NoError(t, err)

	var alphaGot, betaGot []event.Event
	_, err = private["alpha"].On("channel:chat:*", func(ev event.Event) { alphaGot = append(alphaGot, ev) })
	require.NoError(t, err)
	_, err = private["beta"].On("channel:chat:*", func(ev event.Event) { betaGot = append(betaGot, ev) })
	require.NoError(t, err)

	// Host-sourced, addressed to beta only.
	chBus.Emit("channel:chat:notice", "hello",
		bus.WithSource("host"),
		bus.WithMetadata(map[string]any{event.MetaTargetPlugin: "beta"}))

	assert.Empty(t, alphaGot)
	require.Len(t, betaGot, 1)
	assert.Equal(t, "channel:chat:notice", betaGot[0].Type)
	assert.Equal(t, "hello", betaGot[0].Payload)
	assert.Equal(t, "host", betaGot[0].Source)
}

func TestBridge_UntargetedChannelEventsNotDelivered(t *testing.T) {
	f, private := newTestMesh(t, "alpha")
	b := New(f)

	chBus, err := b.CreateChannel("chat", []string{"alpha"})
	require.NoError(t, err)

	var count int
	_, err = private["alpha"].On("*", func(event.Event) { count++ })
	require.NoError(t, err)

	chBus.Emit("channel:chat:notice", nil, bus.WithSource("host"))
	assert.Equal(t, 0, count)
}

func TestBridge_MissingSandboxParticipantSkipped(t *testing.T) {
	f, private := newTestMesh(t, "alpha")
	b := New(f)

	chBus, err := b.CreateChannel("chat", []string{"alpha", "ghost"})
	require.NoError(t, err)

	var got []event.Event
	_, err = chBus.On("*", func(ev event.Event) { got = append(got, ev) })
	require.NoError(t, err)

	private["alpha"].Emit("channel:chat:message", nil)
	assert.Len(t, got, 1)
}

func TestBridge_CreateChannelValidation(t *testing.T) {
	f, _ := newTestMesh(t)
	b := New(f)

	_, err := b.CreateChannel("", nil)
	assert.Error(t, err)

	_, err = b.CreateChannel("chat", nil)
	require.NoError(t, err)

	_, err = b.CreateChannel("chat", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChannelExists))
}

func TestBridge_DestroyChannel(t *testing.T) {
	f, private := newTestMesh(t, "alpha")
	b := New(f)

	chBus, err := b.CreateChannel("chat", []string{"alpha"})
	require.NoError(t, err)

	var count int
	_, err = chBus.On("*", func(event.Event) { count++ })
	require.NoError(t, err)

	require.NoError(t, b.DestroyChannel("chat"))

	private["alpha"].Emit("channel:chat:message", nil)
	assert.Equal(t, 0, count, "destroyed channel relays nothing")

	err = b.DestroyChannel("chat")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChannelNotFound))

	// The id is free again.
	_, err = b.CreateChannel("chat", []string{"alpha"})
	assert.NoError(t, err)
}

func TestBridge_ChannelsSortedAndLookup(t *testing.T) {
	f, _ := newTestMesh(t)
	b := New(f)

	_, ok := b.ChannelBus("chat")
	assert.False(t, ok)

	for _, id := range []string{"zeta", "alpha"} {
		_, err := b.CreateChannel(id, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alpha", "zeta"}, b.Channels())
	_, ok = b.ChannelBus("alpha")
	assert.True(t, ok)
}

func TestBridge_DestroyAll(t *testing.T) {
	f, private := newTestMesh(t, "alpha")
	b := New(f)

	chBus, err := b.CreateChannel("chat", []string{"alpha"})
	require.NoError(t, err)

	var count int
	_, err = chBus.On("*", func(event.Event) { count++ })
	require.NoError(t, err)

	b.DestroyAll()
	private["alpha"].Emit("channel:chat:message", nil)

	assert.Equal(t, 0, count)
	assert.Empty(t, b.Channels())
}
