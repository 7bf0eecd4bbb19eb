// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package event defines the in-memory event shape shared by every bus in
// the mesh, plus structural validation and payload sanitization.
package event

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Metadata keys stamped by the routing layers.
const (
	MetaPluginID     = "pluginId"
	MetaTargetPlugin = "targetPlugin"
)

// SourcePluginPrefix tags events whose immediate source is a plugin sandbox.
const SourcePluginPrefix = "plugin:"

// Event is a single in-memory event. Events are passed by value through
// handlers; Payload and Metadata are shared references, so routing code
// that needs to alter them must copy first.
type Event struct {
	ID        ulid.ULID
	Type      string
	Payload   any
	Timestamp time.Time
	Source    string
	Priority  int
	Metadata  map[string]any
}

// PluginSourced reports whether the event's immediate source is a plugin.
func (e Event) PluginSourced() bool {
	return len(e.Source) >= len(SourcePluginPrefix) &&
		e.Source[:len(SourcePluginPrefix)] == SourcePluginPrefix
}

// CloneMetadata returns a shallow copy of the event's metadata, never nil.
func (e Event) CloneMetadata() map[string]any {
	md := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		md[k] = v
	}
	return md
}

// ApproxSize returns a best-effort byte size for the event payload, used
// for resource accounting. Unmarshalable payloads count as zero bytes.
func ApproxSize(payload any) int {
	if payload == nil {
		return 0
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return len(b)
}
