// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package boundary

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugmesh/plugmesh/internal/event"
)

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func TestBoundary_WrapSwallowsPanic(t *testing.T) {
	logger, buf := testLogger()

	var captured error
	var capturedPlugin string
	b := New("plugin-1",
		WithLogger(logger),
		WithOnError(func(err error, pluginID string) {
			captured = err
			capturedPlugin = pluginID
		}))

	wrapped := b.Wrap(func(event.Event) {
		panic(errors.New("x"))
	}, "handler")

	assert.NotPanics(t, func() {
		wrapped(event.Event{Type: "t"})
	})

	require.Error(t, captured)
	assert.Equal(t, "x", captured.Error())
	assert.Equal(t, "plugin-1", capturedPlugin)
	assert.Contains(t, buf.String(), "plugin error")
	assert.Contains(t, buf.String(), "handler")
}

func TestBoundary_WrapNonErrorPanic(t *testing.T) {
	logger, _ := testLogger()

	var captured error
	b := New("p", WithLogger(logger), WithOnError(func(err error, _ string) { captured = err }))

	b.Wrap(func(event.Event) { panic("boom") }, "h")(event.Event{})

	require.Error(t, captured)
	assert.Contains(t, captured.Error(), "boom")
}

func TestBoundary_WrapFuncTrapsReturnedError(t *testing.T) {
	logger, _ := testLogger()

	var captured error
	b := New("p", WithLogger(logger), WithOnError(func(err error, _ string) { captured = err }))

	handler := b.WrapFunc(func(event.Event) error {
		return errors.New("handler failed")
	}, "on_event")

	assert.NotPanics(t, func() { handler(event.Event{Type: "t"}) })
	require.Error(t, captured)
	assert.Equal(t, "handler failed", captured.Error())
}

func TestBoundary_GoReportsAndDeliversError(t *testing.T) {
	logger, _ := testLogger()

	var calls int
	b := New("p", WithLogger(logger), WithOnError(func(error, string) { calls++ }))

	errCh := b.Go(context.Background(), func(context.Context) error {
		return errors.New("y")
	}, "async")

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Equal(t, "y", err.Error())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for async error")
	}

	assert.Equal(t, 1, calls)
}

func TestBoundary_GoSuccessClosesChannel(t *testing.T) {
	logger, _ := testLogger()
	b := New("p", WithLogger(logger))

	errCh := b.Go(context.Background(), func(context.Context) error { return nil }, "async")

	select {
	case err, ok := <-errCh:
		assert.False(t, ok)
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestBoundary_GoTrapsPanic(t *testing.T) {
	logger, _ := testLogger()
	b := New("p", WithLogger(logger))

	errCh := b.Go(context.Background(), func(context.Context) error {
		panic("async boom")
	}, "async")

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "async boom")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for async panic")
	}
}

func TestBoundary_OnErrorPanicIsContained(t *testing.T) {
	logger, buf := testLogger()

	b := New("p",
		WithLogger(logger),
		WithOnError(func(error, string) {
			panic("callback broke")
		}))

	wrapped := b.Wrap(func(event.Event) { panic("original") }, "h")

	assert.NotPanics(t, func() { wrapped(event.Event{}) })
	assert.Contains(t, buf.String(), "plugin error callback panicked")
}

func TestBoundary_NoOnErrorCallback(t *testing.T) {
	logger, buf := testLogger()
	b := New("p", WithLogger(logger))

	assert.NotPanics(t, func() {
		b.Wrap(func(event.Event) { panic("x") }, "h")(event.Event{})
	})
	assert.Contains(t, buf.String(), "plugin error")
}
