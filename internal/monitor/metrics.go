// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics contains the Prometheus series fed by a Monitor. Unlike the
// per-window counters, these accumulate for the life of the process.
type Metrics struct {
	EventsEmitted   *prometheus.CounterVec
	EventBytes      *prometheus.CounterVec
	HandlerSeconds  *prometheus.CounterVec
	LimitViolations *prometheus.CounterVec
}

// NewMetrics creates and registers the monitor metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugmesh_plugin_events_emitted_total",
				Help: "Total number of events emitted per plugin",
			},
			[]string{"plugin"},
		),
		EventBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugmesh_plugin_event_bytes_total",
				Help: "Total payload bytes emitted per plugin",
			},
			[]string{"plugin"},
		),
		HandlerSeconds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugmesh_plugin_handler_seconds_total",
				Help: "Cumulative handler execution time per plugin",
			},
			[]string{"plugin"},
		),
		LimitViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugmesh_plugin_limit_violations_total",
				Help: "Resource window limit violations per plugin",
			},
			[]string{"plugin"},
		),
	}

	reg.MustRegister(m.EventsEmitted)
	reg.MustRegister(m.EventBytes)
	reg.MustRegister(m.HandlerSeconds)
	reg.MustRegister(m.LimitViolations)

	return m
}
