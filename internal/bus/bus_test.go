// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugmesh/plugmesh/internal/event"
)

func TestBus_WildcardMatchesEveryType(t *testing.T) {
	b := New()

	var got []string
	_, err := b.On("*", func(ev event.Event) {
		got = append(got, ev.Type)
	})
	require.NoError(t, err)

	b.Emit("chat:message", nil)
	b.Emit("channel:chat:message", nil)
	b.Emit("x", nil)

	assert.Equal(t, []string{"chat:message", "channel:chat:message", "x"}, got)
}

func TestBus_ExactMatch(t *testing.T) {
	b := New()

	var count int
	_, err := b.On("chat:message", func(event.Event) { count++ })
	require.NoError(t, err)

	b.Emit("chat:message", nil)
	b.Emit("chat:other", nil)

	assert.Equal(t, 1, count)
}

func TestBus_GlobPatterns(t *testing.T) {
	tests := []struct {
		pattern string
		emit    string
		want    bool
	}{
		{"channel:chat:*", "channel:chat:message", true},
		{"channel:chat:*", "channel:chat:a:b", false},
		{"channel:chat:**", "channel:chat:a:b", true},
		{"channel:*:message", "channel:chat:message", true},
		{"channel:chat:*", "channel:other:message", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.emit, func(t *testing.T) {
			b := New()
			var matched bool
			_, err := b.On(tt.pattern, func(event.Event) { matched = true })
			require.NoError(t, err)

			b.Emit(tt.emit, nil)
			assert.Equal(t, tt.want, matched)
		})
	}
}

func TestBus_SubscriptionOrder(t *testing.T) {
	b := New()

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		_, err := b.On("*", func(event.Event) { order = append(order, i) })
		require.NoError(t, err)
	}

	b.Emit("t", nil)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()

	var count int
	unsub, err := b.On("*", func(event.Event) { count++ })
	require.NoError(t, err)

	b.Emit("t", nil)
	unsub()
	b.Emit("t", nil)
	unsub() // second call is a no-op

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBus_Clear(t *testing.T) {
	b := New()

	var count int
	_, err := b.On("*", func(event.Event) { count++ })
	require.NoError(t, err)

	b.Clear()
	b.Emit("t", nil)

	assert.Equal(t, 0, count)
}

func TestBus_OnRejectsBadArguments(t *testing.T) {
	b := New()

	_, err := b.On("", func(event.Event) {})
	assert.Error(t, err)

	_, err = b.On("t", nil)
	assert.Error(t, err)

	_, err = b.On("bad[glob", func(event.Event) {})
	assert.Error(t, err)
}

func TestBus_EmitOptions(t *testing.T) {
	b := New()

	var got event.Event
	_, err := b.On("*", func(ev event.Event) { got = ev })
	require.NoError(t, err)

	ts := time.Now().Add(-time.Minute)
	b.Emit("t", "payload",
		WithSource("plugin:echo"),
		WithMetadata(map[string]any{"pluginId": "echo"}),
		WithPriority(5),
		WithTimestamp(ts))

	assert.Equal(t, "t", got.Type)
	assert.Equal(t, "payload", got.Payload)
	assert.Equal(t, "plugin:echo", got.Source)
	assert.Equal(t, "echo", got.Metadata["pluginId"])
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, ts, got.Timestamp)
	assert.NotZero(t, got.ID)
}

func TestBus_ReentrantEmitCompletesBeforeRootReturns(t *testing.T) {
	b := New()

	var got []string
	_, err := b.On("first", func(event.Event) {
		got = append(got, "first")
		b.Emit("second", nil)
	})
	require.NoError(t, err)
	_, err = b.On("second", func(event.Event) {
		got = append(got, "second")
	})
	require.NoError(t, err)

	b.Emit("first", nil)

	// The nested emission is delivered by the root Emit's drain loop.
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBus_CyclicEmissionIsBounded(t *testing.T) {
	b := New(WithMaxPending(16))

	var count int
	_, err := b.On("loop", func(event.Event) {
		count++
		b.Emit("loop", nil) // wiring mistake: unbounded cycle
	})
	require.NoError(t, err)

	b.Emit("loop", nil)

	// The dispatch budget turns an infinite cycle into a finite drain.
	assert.Greater(t, count, 0)
	assert.LessOrEqual(t, count, 16)
}
