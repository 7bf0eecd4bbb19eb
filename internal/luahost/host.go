// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package luahost

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/plugmesh/plugmesh/internal/boundary"
	"github.com/plugmesh/plugmesh/internal/bus"
	"github.com/plugmesh/plugmesh/internal/event"
	"github.com/plugmesh/plugmesh/internal/logging"
	"github.com/plugmesh/plugmesh/internal/manifest"
)

// TimeRecorder receives handler execution timings. Satisfied by
// *monitor.Monitor.
type TimeRecorder interface {
	RecordHandlerExecution(pluginID string, d time.Duration)
}

// luaPlugin holds a loaded plugin's code and its bus wiring.
type luaPlugin struct {
	manifest *manifest.Manifest
	code     string
	bus      *bus.Bus
	boundary *boundary.Boundary
	unsubs   []func()
}

// Host manages Lua plugins. Each plugin's on_event handler runs in a
// fresh sandboxed state per event, guarded by that plugin's error
// boundary, so no handler failure can escape into the dispatch loop.
type Host struct {
	factory  *StateFactory
	recorder TimeRecorder
	onError  boundary.OnError
	logger   *slog.Logger

	mu      sync.RWMutex
	plugins map[string]*luaPlugin
	closed  bool
}

// Option configures a Host.
type Option func(*Host)

// WithRecorder attaches handler timing accounting.
func WithRecorder(r TimeRecorder) Option {
	return func(h *Host) { h.recorder = r }
}

// WithOnError sets the central error callback passed to every plugin's
// boundary.
func WithOnError(fn boundary.OnError) Option {
	return func(h *Host) { h.onError = fn }
}

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// NewHost creates an empty Lua plugin host.
func NewHost(opts ...Option) *Host {
	h := &Host{
		factory: NewStateFactory(),
		plugins: make(map[string]*luaPlugin),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load reads, syntax-checks, and wires a plugin onto its sandbox bus.
// The plugin's manifest subscriptions become bus subscriptions; a plugin
// with none listens to everything on its private bus.
func (h *Host) Load(ctx context.Context, m *manifest.Manifest, dir string, sandbox *bus.Bus) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return oops.In("luahost").With("plugin", m.Name).With("operation", "load").New("host is closed")
	}
	if _, ok := h.plugins[m.Name]; ok {
		return oops.In("luahost").With("plugin", m.Name).With("operation", "load").New("plugin already loaded")
	}

	entryPath := filepath.Join(dir, m.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return oops.In("luahost").With("plugin", m.Name).With("operation", "load").With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	// Validate syntax by running in a throwaway state.
	L, err := h.factory.NewState(ctx)
	if err != nil {
		return oops.In("luahost").With("plugin", m.Name).With("operation", "load").Hint("failed to create validation state").Wrap(err)
	}
	defer L.Close()
	if err := L.DoString(string(code)); err != nil {
		return oops.In("luahost").With("plugin", m.Name).With("operation", "load").With("entry", m.Entry).Hint("syntax error").Wrap(err)
	}

	p := &luaPlugin{
		manifest: m,
		code:     string(code),
		bus:      sandbox,
		boundary: boundary.New(m.Name,
			boundary.WithOnError(h.onError),
			boundary.WithLogger(h.logger)),
	}

	patterns := m.Subscriptions
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	selfSource := event.SourcePluginPrefix + m.Name
	for _, pattern := range patterns {
		handler := p.boundary.WrapFunc(func(ev event.Event) error {
			// A plugin never re-handles its own emissions; without
			// this a handler that emits would feed itself forever.
			if ev.Source == selfSource {
				return nil
			}
			return h.deliver(p, ev)
		}, "on_event")

		unsub, err := sandbox.On(pattern, handler)
		if err != nil {
			for _, u := range p.unsubs {
				u()
			}
			return oops.In("luahost").With("plugin", m.Name).With("pattern", pattern).Wrap(err)
		}
		p.unsubs = append(p.unsubs, unsub)
	}

	h.plugins[m.Name] = p
	h.logger.Info("plugin loaded",
		"plugin", m.Name,
		"version", m.Version,
		"subscriptions", len(patterns))
	return nil
}

// Unload detaches a plugin from its bus and removes it.
func (h *Host) Unload(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.plugins[name]
	if !ok {
		return oops.In("luahost").With("plugin", name).With("operation", "unload").New("plugin not loaded")
	}
	for _, unsub := range p.unsubs {
		unsub()
	}
	delete(h.plugins, name)
	return nil
}

// Plugins returns names of loaded plugins.
func (h *Host) Plugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	return names
}

// Close unloads every plugin and shuts down the host.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range h.plugins {
		for _, unsub := range p.unsubs {
			unsub()
		}
	}
	h.plugins = nil
	h.closed = true
	return nil
}

// deliver executes the plugin's on_event handler in a fresh state and
// emits any returned events back onto the plugin's private bus. Returned
// events with validation problems are skipped and logged; valid ones are
// still emitted.
func (h *Host) deliver(p *luaPlugin, ev event.Event) error {
	name := p.manifest.Name
	start := time.Now()
	defer func() {
		if h.recorder != nil {
			h.recorder.RecordHandlerExecution(name, time.Since(start))
		}
	}()

	L, err := h.factory.NewState(context.Background())
	if err != nil {
		return oops.In("luahost").With("plugin", name).With("operation", "deliver").Hint("failed to create state").Wrap(err)
	}
	defer L.Close()

	h.registerMeshFuncs(L, name)

	if err := L.DoString(p.code); err != nil {
		return oops.In("luahost").With("plugin", name).With("operation", "deliver").Hint("failed to load code").Wrap(err)
	}

	onEvent := L.GetGlobal("on_event")
	if onEvent.Type() == lua.LTNil {
		h.logger.Debug("plugin has no on_event handler",
			"plugin", name,
			"event_type", ev.Type)
		return nil
	}

	if err := L.CallByParam(lua.P{
		Fn:      onEvent,
		NRet:    1,
		Protect: true,
	}, h.buildEventTable(L, ev)); err != nil {
		return oops.In("luahost").With("plugin", name).With("operation", "on_event").Wrap(err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	h.emitReturned(p, ret)
	return nil
}

// buildEventTable converts an event into the Lua table handed to
// on_event.
func (h *Host) buildEventTable(L *lua.LState, ev event.Event) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(ev.ID.String()))
	L.SetField(t, "type", lua.LString(ev.Type))
	L.SetField(t, "source", lua.LString(ev.Source))
	L.SetField(t, "timestamp", lua.LNumber(ev.Timestamp.UnixMilli()))
	L.SetField(t, "payload", goToLua(L, ev.Payload))
	L.SetField(t, "metadata", goToLua(L, mapToAny(ev.Metadata)))
	return t
}

func mapToAny(md map[string]any) any {
	if md == nil {
		return nil
	}
	return md
}

// emitReturned validates, sanitizes, and emits the events a handler
// returned. The expected shape is a list of {type=..., payload=...,
// metadata=...} tables.
func (h *Host) emitReturned(p *luaPlugin, ret lua.LValue) {
	if ret.Type() == lua.LTNil {
		return
	}

	name := p.manifest.Name
	table, ok := ret.(*lua.LTable)
	if !ok {
		h.logger.Warn("plugin returned non-table value",
			"plugin", name,
			"got", ret.Type().String())
		return
	}

	index := 0
	table.ForEach(func(_, v lua.LValue) {
		index++

		entry, ok := luaToGo(v).(map[string]any)
		if !ok {
			h.logger.Warn("plugin emit entry is not a table",
				"plugin", name,
				"entry", index)
			return
		}

		if res := event.ValidateRaw(entry); !res.Valid {
			h.logger.Warn("plugin emit entry rejected",
				"plugin", name,
				"entry", index,
				"reason", res.Message)
			return
		}

		eventType, _ := entry["type"].(string)
		payload := event.SanitizeValue(entry["payload"])

		opts := []bus.EmitOption{bus.WithSource(event.SourcePluginPrefix + name)}
		if md, ok := entry["metadata"].(map[string]any); ok {
			cleaned, _ := event.SanitizeValue(md).(map[string]any)
			opts = append(opts, bus.WithMetadata(cleaned))
		}

		p.bus.Emit(eventType, payload, opts...)
	})
}

// registerMeshFuncs installs the mesh.* host functions available to
// plugin code.
func (h *Host) registerMeshFuncs(L *lua.LState, pluginID string) {
	t := L.NewTable()
	L.SetField(t, "log", L.NewFunction(func(L *lua.LState) int {
		level := L.CheckString(1)
		msg := L.CheckString(2)
		h.logger.Log(context.Background(), logging.ParseLevel(level), msg, "plugin", pluginID)
		return 0
	}))
	L.SetGlobal("mesh", t)
}
