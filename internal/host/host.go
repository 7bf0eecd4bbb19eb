// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package host assembles the mesh: it discovers plugins, creates their
// sandboxes, wires channels, and runs the resource monitor.
package host

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/plugmesh/plugmesh/internal/bridge"
	"github.com/plugmesh/plugmesh/internal/bus"
	"github.com/plugmesh/plugmesh/internal/config"
	"github.com/plugmesh/plugmesh/internal/isolation"
	"github.com/plugmesh/plugmesh/internal/luahost"
	"github.com/plugmesh/plugmesh/internal/manifest"
	"github.com/plugmesh/plugmesh/internal/monitor"
	"github.com/plugmesh/plugmesh/pkg/errutil"
)

// Host owns the shared bus and every component built on it. The shared
// bus is constructed here and injected downward; there is no process-wide
// bus singleton.
type Host struct {
	cfg       *config.Config
	logger    *slog.Logger
	shared    *bus.Bus
	forwarder *isolation.Forwarder
	bridge    *bridge.Bridge
	monitor   *monitor.Monitor
	lua       *luahost.Host
	ready     atomic.Bool
}

// Option configures a Host.
type Option func(*Host)

// WithMonitorMetrics attaches Prometheus metrics to the resource monitor.
func WithMonitorMetrics(m *monitor.Metrics) Option {
	return func(h *Host) {
		h.monitor = monitor.New(monitor.Config{
			MaxEventsPerWindow:      h.cfg.Monitor.MaxEvents,
			MaxHandlerTimePerWindow: h.cfg.Monitor.MaxHandlerTime,
		}, monitor.WithLogger(h.logger), monitor.WithMetrics(m))
	}
}

// New assembles a host from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Host {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Host{
		cfg:    cfg,
		logger: logger,
		shared: bus.New(bus.WithLogger(logger)),
	}
	h.monitor = monitor.New(monitor.Config{
		MaxEventsPerWindow:      cfg.Monitor.MaxEvents,
		MaxHandlerTimePerWindow: cfg.Monitor.MaxHandlerTime,
	}, monitor.WithLogger(logger))

	for _, opt := range opts {
		opt(h)
	}

	h.forwarder = isolation.NewForwarder(h.shared,
		isolation.WithForwarderRecorder(h.monitor),
		isolation.WithForwarderLogger(logger))
	h.bridge = bridge.New(h.forwarder, bridge.WithLogger(logger))
	h.lua = luahost.NewHost(
		luahost.WithRecorder(h.monitor),
		luahost.WithLogger(logger))

	return h
}

// Forwarder returns the sandbox registry.
func (h *Host) Forwarder() *isolation.Forwarder { return h.forwarder }

// Bridge returns the channel bridge.
func (h *Host) Bridge() *bridge.Bridge { return h.bridge }

// Monitor returns the resource monitor.
func (h *Host) Monitor() *monitor.Monitor { return h.monitor }

// SharedBus returns the shared bus. Exposed for the embedding process
// only; plugin code never sees it.
func (h *Host) SharedBus() *bus.Bus { return h.shared }

// Ready reports whether startup completed.
func (h *Host) Ready() bool { return h.ready.Load() }

// Start loads plugins, wires channels, and begins monitoring. Individual
// plugin failures are logged and skipped so one bad plugin cannot keep
// the mesh down.
func (h *Host) Start(ctx context.Context) error {
	h.monitor.StartMonitoring(h.cfg.Monitor.Interval)

	channelMembers := make(map[string][]string)
	for _, ch := range h.cfg.Channels {
		channelMembers[ch.ID] = append(channelMembers[ch.ID], ch.Plugins...)
	}

	plugins, err := h.discover()
	if err != nil {
		return err
	}

	for _, dp := range plugins {
		if err := h.loadPlugin(ctx, dp); err != nil {
			errutil.LogWarn(h.logger, "skipping plugin", err)
			continue
		}
		for _, ch := range dp.Manifest.Channels {
			channelMembers[ch] = append(channelMembers[ch], dp.Manifest.Name)
		}
	}

	ids := make([]string, 0, len(channelMembers))
	for id := range channelMembers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := h.bridge.CreateChannel(id, channelMembers[id]); err != nil {
			errutil.LogWarn(h.logger, "skipping channel", err)
		}
	}

	h.ready.Store(true)
	h.logger.Info("mesh started",
		"plugins", len(h.forwarder.PluginIDs()),
		"channels", len(h.bridge.Channels()))
	return nil
}

// Stop tears the mesh down in reverse dependency order.
func (h *Host) Stop(ctx context.Context) error {
	h.ready.Store(false)

	err := h.lua.Close(ctx)
	h.bridge.DestroyAll()
	h.forwarder.DestroyAll()
	h.monitor.StopMonitoring()
	h.shared.Clear()

	if err != nil {
		return oops.In("host").Wrapf(err, "closing plugin host")
	}
	return nil
}

// discoveredPlugin pairs a parsed manifest with its directory.
type discoveredPlugin struct {
	Manifest *manifest.Manifest
	Dir      string
}

// discover finds valid plugins under the plugins directory. A missing
// directory is not an error; invalid plugins are logged and skipped.
func (h *Host) discover() ([]*discoveredPlugin, error) {
	entries, err := os.ReadDir(h.cfg.PluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("host").With("dir", h.cfg.PluginsDir).Wrapf(err, "reading plugins directory")
	}

	var plugins []*discoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(h.cfg.PluginsDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(dir, "plugin.yaml")) //nolint:gosec // path built from ReadDir entries
		if err != nil {
			h.logger.Warn("skipping plugin without manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		if err := manifest.ValidateSchema(data); err != nil {
			h.logger.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", manifest.FormatSchemaError(err))
			continue
		}
		m, err := manifest.Parse(data)
		if err != nil {
			h.logger.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		plugins = append(plugins, &discoveredPlugin{Manifest: m, Dir: dir})
	}

	return plugins, nil
}

// loadPlugin creates the plugin's sandbox and loads its Lua entry.
func (h *Host) loadPlugin(ctx context.Context, dp *discoveredPlugin) error {
	grants, err := dp.Manifest.Grants()
	if err != nil {
		return err
	}

	sandboxBus, err := h.forwarder.CreateSandbox(dp.Manifest.Name, grants)
	if err != nil {
		return err
	}

	if err := h.lua.Load(ctx, dp.Manifest, dp.Dir, sandboxBus); err != nil {
		// The sandbox must not outlive a plugin that failed to load.
		if derr := h.forwarder.DestroySandbox(dp.Manifest.Name); derr != nil {
			errutil.LogError(h.logger, "cleaning up sandbox for failed plugin", derr)
		}
		return err
	}
	return nil
}
