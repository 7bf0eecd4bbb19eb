// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"time"

	"github.com/plugmesh/plugmesh/internal/event"
)

// EmitOption customizes a single emission.
type EmitOption func(*event.Event)

// WithSource tags the event's immediate source, e.g. "plugin:echo".
func WithSource(source string) EmitOption {
	return func(e *event.Event) { e.Source = source }
}

// WithMetadata attaches routing metadata. The map is stored as-is; callers
// that reuse maps across emissions must pass a copy.
func WithMetadata(md map[string]any) EmitOption {
	return func(e *event.Event) { e.Metadata = md }
}

// WithPriority sets the event priority hint. The dispatcher itself does
// not reorder by priority; the value travels with the event for consumers.
func WithPriority(p int) EmitOption {
	return func(e *event.Event) { e.Priority = p }
}

// WithTimestamp overrides the emission timestamp, preserving the original
// time when an event is relayed between buses.
func WithTimestamp(t time.Time) EmitOption {
	return func(e *event.Event) { e.Timestamp = t }
}
