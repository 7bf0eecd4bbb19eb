// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package boundary contains plugin failures so they cannot escape into the
// dispatch loop.
//
// The sync/async asymmetry is deliberate: synchronous handler code runs
// inside the dispatch loop and must never crash it, so panics and returned
// errors from wrapped handlers are swallowed after being reported. Work
// started with Go runs outside the dispatch loop, so its failure is also
// the caller's concern: it is reported once, then delivered to the caller.
package boundary

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plugmesh/plugmesh/internal/bus"
	"github.com/plugmesh/plugmesh/internal/event"
)

// errorsTotal counts trapped plugin failures. Registered by the host via
// MustRegisterMetrics so library use without a registry stays silent.
var errorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plugmesh_plugin_errors_total",
		Help: "Total number of trapped plugin failures by plugin and context",
	},
	[]string{"plugin", "context"},
)

// MustRegisterMetrics registers the boundary's metrics on a registry.
func MustRegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(errorsTotal)
}

// OnError is invoked for every trapped failure. A panic inside the
// callback is itself trapped and logged, never propagated.
type OnError func(err error, pluginID string)

// Boundary wraps plugin-supplied functions for one plugin. It keeps no
// per-call history; each trapped failure is independent.
type Boundary struct {
	pluginID string
	onError  OnError
	logger   *slog.Logger
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithOnError sets the central error callback.
func WithOnError(fn OnError) Option {
	return func(b *Boundary) { b.onError = fn }
}

// WithLogger sets the logger for trapped failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Boundary) { b.logger = l }
}

// New creates a boundary for the given plugin.
func New(pluginID string, opts ...Option) *Boundary {
	b := &Boundary{
		pluginID: pluginID,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Wrap guards a bus handler. Panics inside the handler are trapped,
// reported, and swallowed; the dispatching emit completes normally.
func (b *Boundary) Wrap(h bus.Handler, label string) bus.Handler {
	return func(ev event.Event) {
		defer b.recoverInto(label)
		h(ev)
	}
}

// WrapFunc guards a fallible handler. Returned errors and panics are both
// trapped, reported, and swallowed.
func (b *Boundary) WrapFunc(fn func(event.Event) error, label string) bus.Handler {
	return func(ev event.Event) {
		defer b.recoverInto(label)
		if err := fn(ev); err != nil {
			b.handleError(err, label)
		}
	}
}

// Go runs fn on its own goroutine. On failure the error is reported
// exactly once through the boundary, then delivered on the returned
// channel so the caller still observes it. The channel is closed after
// at most one send.
func (b *Boundary) Go(ctx context.Context, fn func(context.Context) error, label string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		err := b.run(ctx, fn, label)
		if err != nil {
			b.handleError(err, label)
			errCh <- err
		}
	}()
	return errCh
}

// run executes fn, converting a panic into an error so Go's caller sees
// the same failure that was reported.
func (b *Boundary) run(ctx context.Context, fn func(context.Context) error, label string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return fn(ctx)
}

func (b *Boundary) recoverInto(label string) {
	if r := recover(); r != nil {
		b.handleError(panicError(r), label)
	}
}

// handleError reports a trapped failure. A panic raised inside the
// onError callback must not escape; it is trapped and logged separately.
func (b *Boundary) handleError(err error, label string) {
	b.logger.Error("plugin error",
		"plugin", b.pluginID,
		"context", label,
		"error", err)
	errorsTotal.WithLabelValues(b.pluginID, label).Inc()

	if b.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("plugin error callback panicked",
				"plugin", b.pluginID,
				"context", label,
				"panic", r)
		}
	}()
	b.onError(err, b.pluginID)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
