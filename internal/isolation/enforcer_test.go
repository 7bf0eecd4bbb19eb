// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package isolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforcer_Allows(t *testing.T) {
	e := NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"chat:*", "channel:chat:**", "ping"}))

	tests := []struct {
		eventType string
		want      bool
	}{
		{"chat:message", true},
		{"chat:a:b", false}, // single '*' does not cross segments
		{"channel:chat:message", true},
		{"channel:chat:a:b", true},
		{"channel:other:message", false},
		{"ping", true},
		{"pong", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Allows("p", tt.eventType))
		})
	}
}

func TestEnforcer_DenyByDefault(t *testing.T) {
	e := NewEnforcer()
	assert.False(t, e.Allows("unknown", "chat:message"))

	var zero Enforcer
	assert.False(t, zero.Allows("p", "t"), "zero value denies without panicking")
}

func TestEnforcer_SetGrantsValidation(t *testing.T) {
	e := NewEnforcer()

	assert.Error(t, e.SetGrants("", []string{"a"}))
	assert.Error(t, e.SetGrants("p", []string{""}))
	assert.Error(t, e.SetGrants("p", []string{"bad[glob"}))

	// A failed update leaves prior grants intact.
	require.NoError(t, e.SetGrants("p", []string{"a:*"}))
	assert.Error(t, e.SetGrants("p", []string{"a:*", "bad[glob"}))
	assert.True(t, e.Allows("p", "a:b"))
}

func TestEnforcer_RemoveGrants(t *testing.T) {
	e := NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"**"}))
	require.True(t, e.Allows("p", "anything"))

	e.RemoveGrants("p")
	assert.False(t, e.Allows("p", "anything"))

	e.RemoveGrants("never-registered") // no panic
}

func TestEnforcer_SetGrantsReplaces(t *testing.T) {
	e := NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"a"}))
	require.NoError(t, e.SetGrants("p", []string{"b"}))

	assert.False(t, e.Allows("p", "a"))
	assert.True(t, e.Allows("p", "b"))
}
