// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package isolation

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/plugmesh/plugmesh/internal/bus"
)

// Typed registry errors. Duplicate registration is rejected explicitly
// rather than silently replacing or shadowing a live sandbox.
var (
	ErrSandboxExists   = errors.New("sandbox already registered for plugin")
	ErrSandboxNotFound = errors.New("no sandbox registered for plugin")
)

// Forwarder is the registry of sandboxes keyed by plugin id and the sole
// creator and destroyer of sandboxes. A plugin id maps to at most one live
// sandbox at a time.
type Forwarder struct {
	mu        sync.RWMutex
	base      *bus.Bus
	sandboxes map[string]*Sandbox

	checker  PermissionChecker // optional override of per-plugin grant sets
	recorder Recorder
	logger   *slog.Logger
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithPermissionChecker makes every sandbox consult the given checker
// instead of its own manifest grant set. Used by hosts with a central
// permission-decision service.
func WithPermissionChecker(pc PermissionChecker) ForwarderOption {
	return func(f *Forwarder) { f.checker = pc }
}

// WithForwarderRecorder attaches resource accounting to every sandbox.
func WithForwarderRecorder(r Recorder) ForwarderOption {
	return func(f *Forwarder) { f.recorder = r }
}

// WithForwarderLogger sets the logger passed to sandboxes.
func WithForwarderLogger(l *slog.Logger) ForwarderOption {
	return func(f *Forwarder) { f.logger = l }
}

// NewForwarder creates a forwarder relaying onto the given shared bus.
// The shared bus is injected, never global state.
func NewForwarder(base *bus.Bus, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		base:      base,
		sandboxes: make(map[string]*Sandbox),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateSandbox registers a sandbox for the plugin and returns its private
// bus, so callers never touch the Sandbox object directly. Returns
// ErrSandboxExists if the plugin already has a live sandbox.
func (f *Forwarder) CreateSandbox(pluginID string, grants []Grant) (*bus.Bus, error) {
	if pluginID == "" {
		return nil, oops.In("isolation").New("plugin id cannot be empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sandboxes[pluginID]; ok {
		return nil, oops.In("isolation").With("plugin", pluginID).Wrap(ErrSandboxExists)
	}

	perms := f.checker
	if perms == nil {
		perms = NewGrantSet(grants...)
	}

	sb := NewSandbox(pluginID, f.base, perms,
		WithRecorder(f.recorder),
		WithSandboxLogger(f.logger))
	f.sandboxes[pluginID] = sb

	f.logger.Info("sandbox created",
		"plugin", pluginID,
		"grants", len(grants))
	return sb.Bus(), nil
}

// DestroySandbox detaches the plugin's forwarding and removes it from the
// registry. Returns ErrSandboxNotFound for unknown plugins.
func (f *Forwarder) DestroySandbox(pluginID string) error {
	f.mu.Lock()
	sb, ok := f.sandboxes[pluginID]
	if ok {
		delete(f.sandboxes, pluginID)
	}
	f.mu.Unlock()

	if !ok {
		return oops.In("isolation").With("plugin", pluginID).Wrap(ErrSandboxNotFound)
	}
	sb.Destroy()
	f.logger.Info("sandbox destroyed", "plugin", pluginID)
	return nil
}

// SandboxBus returns the plugin's private bus.
func (f *Forwarder) SandboxBus(pluginID string) (*bus.Bus, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	sb, ok := f.sandboxes[pluginID]
	if !ok {
		return nil, false
	}
	return sb.Bus(), true
}

// Sandbox returns the sandbox instance itself. Used by the bridge, which
// needs the private bus for targeted channel delivery.
func (f *Forwarder) Sandbox(pluginID string) (*Sandbox, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	sb, ok := f.sandboxes[pluginID]
	return sb, ok
}

// BaseBus returns the shared bus all sandboxes forward onto.
func (f *Forwarder) BaseBus() *bus.Bus { return f.base }

// PluginIDs returns the registered plugin ids, sorted.
func (f *Forwarder) PluginIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.sandboxes))
	for id := range f.sandboxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DestroyAll tears down every registered sandbox. Used at host shutdown.
func (f *Forwarder) DestroyAll() {
	f.mu.Lock()
	sandboxes := f.sandboxes
	f.sandboxes = make(map[string]*Sandbox)
	f.mu.Unlock()

	for _, sb := range sandboxes {
		sb.Destroy()
	}
}
