// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package monitor tracks per-plugin resource usage over fixed windows.
//
// The monitor is pure observability: it never blocks an emission, never
// suspends a plugin, and never touches a bus. Enforcement is a separate
// policy decision left to the host, which consults IsExceedingLimits.
package monitor

import (
	"log/slog"
	"sync"
	"time"
)

// Default per-window limits.
const (
	DefaultMaxEventsPerWindow      = 1000
	DefaultMaxHandlerTimePerWindow = 500 * time.Millisecond
	DefaultInterval                = time.Second
)

// Usage holds one plugin's counters for the current window. Counters are
// monotonically non-decreasing until the window resets.
type Usage struct {
	EventsEmitted     int64
	EventBytesEmitted int64
	HandlerTime       time.Duration
	HandlerExecutions int64
	WindowStart       time.Time
}

// Config sets the per-window limits. Zero values fall back to defaults.
type Config struct {
	MaxEventsPerWindow      int64
	MaxHandlerTimePerWindow time.Duration
}

// Monitor accumulates per-plugin usage and periodically resets it.
// Safe for concurrent use.
type Monitor struct {
	mu    sync.Mutex
	usage map[string]*Usage

	maxEvents      int64
	maxHandlerTime time.Duration

	logger  *slog.Logger
	metrics *Metrics

	runMu    sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger used for violation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(mm *Metrics) Option {
	return func(m *Monitor) { m.metrics = mm }
}

// New creates a monitor with the given limits.
func New(cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		usage:          make(map[string]*Usage),
		maxEvents:      cfg.MaxEventsPerWindow,
		maxHandlerTime: cfg.MaxHandlerTimePerWindow,
		logger:         slog.Default(),
	}
	if m.maxEvents <= 0 {
		m.maxEvents = DefaultMaxEventsPerWindow
	}
	if m.maxHandlerTime <= 0 {
		m.maxHandlerTime = DefaultMaxHandlerTimePerWindow
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// usageLocked returns the plugin's usage record, creating it lazily.
func (m *Monitor) usageLocked(pluginID string) *Usage {
	u, ok := m.usage[pluginID]
	if !ok {
		u = &Usage{WindowStart: time.Now()}
		m.usage[pluginID] = u
	}
	return u
}

// RecordEventEmission counts one emitted event of the given payload size.
func (m *Monitor) RecordEventEmission(pluginID string, sizeBytes int) {
	m.mu.Lock()
	u := m.usageLocked(pluginID)
	u.EventsEmitted++
	u.EventBytesEmitted += int64(sizeBytes)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.EventsEmitted.WithLabelValues(pluginID).Inc()
		m.metrics.EventBytes.WithLabelValues(pluginID).Add(float64(sizeBytes))
	}
}

// RecordHandlerExecution counts one handler run of the given duration.
func (m *Monitor) RecordHandlerExecution(pluginID string, d time.Duration) {
	m.mu.Lock()
	u := m.usageLocked(pluginID)
	u.HandlerExecutions++
	u.HandlerTime += d
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.HandlerSeconds.WithLabelValues(pluginID).Add(d.Seconds())
	}
}

// Usage returns a defensive copy of the plugin's counters for the current
// window. Unknown plugins report a zero Usage.
func (m *Monitor) Usage(pluginID string) Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.usage[pluginID]; ok {
		return *u
	}
	return Usage{}
}

// IsExceedingLimits reports whether the plugin tripped either per-window
// limit. Each limit trips independently.
func (m *Monitor) IsExceedingLimits(pluginID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usage[pluginID]
	if !ok {
		return false
	}
	return u.EventsEmitted > m.maxEvents || u.HandlerTime > m.maxHandlerTime
}

// StartMonitoring begins the periodic tick. Each tick logs a warning for
// every plugin exceeding its limits, then resets all per-window counters
// and stamps a new window start. A non-positive interval uses the default.
// Calling StartMonitoring while already running is a no-op.
func (m *Monitor) StartMonitoring(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopChan != nil {
		return
	}
	m.stopChan = make(chan struct{})
	stop := m.stopChan

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

// StopMonitoring cancels the periodic tick and waits for it to finish.
// Safe to call when not running.
func (m *Monitor) StopMonitoring() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopChan == nil {
		return
	}
	close(m.stopChan)
	m.stopChan = nil
	m.wg.Wait()
}

// tick evaluates limits for every tracked plugin, then resets the window.
func (m *Monitor) tick() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for pluginID, u := range m.usage {
		if u.EventsEmitted > m.maxEvents || u.HandlerTime > m.maxHandlerTime {
			m.logger.Warn("plugin exceeding resource limits",
				"plugin", pluginID,
				"events_emitted", u.EventsEmitted,
				"event_bytes", u.EventBytesEmitted,
				"handler_time", u.HandlerTime,
				"window_start", u.WindowStart)
			if m.metrics != nil {
				m.metrics.LimitViolations.WithLabelValues(pluginID).Inc()
			}
		}
		*u = Usage{WindowStart: now}
	}
}
