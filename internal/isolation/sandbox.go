// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package isolation

import (
	"log/slog"
	"sync/atomic"

	"github.com/plugmesh/plugmesh/internal/bus"
	"github.com/plugmesh/plugmesh/internal/event"
)

// Recorder receives resource accounting signals from sandboxes. Satisfied
// by *monitor.Monitor.
type Recorder interface {
	RecordEventEmission(pluginID string, sizeBytes int)
}

// Sandbox is one plugin's isolation boundary: a private bus the plugin
// owns exclusively, plus the permission-gated forwarding rule onto the
// shared bus.
//
// Local delivery on the private bus is never permission-checked; isolation
// only governs what leaves the sandbox. Permitted emissions are re-emitted
// on the shared bus tagged with the plugin's identity.
type Sandbox struct {
	pluginID string
	shared   *bus.Bus
	private  *bus.Bus
	perms    PermissionChecker
	recorder Recorder
	logger   *slog.Logger
	active   atomic.Bool
	unsub    func()
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithRecorder attaches resource accounting.
func WithRecorder(r Recorder) SandboxOption {
	return func(s *Sandbox) { s.recorder = r }
}

// WithSandboxLogger sets the sandbox logger.
func WithSandboxLogger(l *slog.Logger) SandboxOption {
	return func(s *Sandbox) { s.logger = l }
}

// NewSandbox creates a sandbox forwarding permitted emissions from its
// private bus onto shared.
func NewSandbox(pluginID string, shared *bus.Bus, perms PermissionChecker, opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		pluginID: pluginID,
		shared:   shared,
		perms:    perms,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.private = bus.New(bus.WithLogger(s.logger))
	s.active.Store(true)

	// Local subscribers see every emission via normal bus dispatch; this
	// subscription only implements the outbound forwarding rule.
	unsub, err := s.private.On("*", s.forward)
	if err != nil {
		// Unreachable: pattern and handler are fixed here.
		panic(err)
	}
	s.unsub = unsub
	return s
}

// PluginID returns the owning plugin's id.
func (s *Sandbox) PluginID() string { return s.pluginID }

// Bus returns the private bus. Plugin code interacts only with this
// object; it never sees the shared bus.
func (s *Sandbox) Bus() *bus.Bus { return s.private }

// Active reports whether the sandbox still forwards to the shared bus.
func (s *Sandbox) Active() bool { return s.active.Load() }

// Destroy detaches the forwarding rule. Emitting on the still-referenced
// private bus afterwards must not panic: local delivery continues, but
// nothing reaches the shared bus. Events already mid-dispatch are still
// delivered to subscribers they had reached.
func (s *Sandbox) Destroy() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.unsub()
}

// forward relays one private-bus emission onto the shared bus when the
// permission set allows its type.
func (s *Sandbox) forward(ev event.Event) {
	if !s.active.Load() {
		return
	}

	if s.recorder != nil {
		s.recorder.RecordEventEmission(s.pluginID, event.ApproxSize(ev.Payload))
	}

	if !s.perms.Allows(s.pluginID, ev.Type) {
		s.logger.Debug("emission stayed local: type not permitted",
			"plugin", s.pluginID,
			"event_type", ev.Type)
		return
	}

	md := ev.CloneMetadata()
	md[event.MetaPluginID] = s.pluginID

	s.shared.Emit(ev.Type, ev.Payload,
		bus.WithSource(event.SourcePluginPrefix+s.pluginID),
		bus.WithMetadata(md),
		bus.WithTimestamp(ev.Timestamp),
		bus.WithPriority(ev.Priority))
}
