// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

//go:build integration

package integration

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/plugmesh/plugmesh/internal/bus"
	"github.com/plugmesh/plugmesh/internal/config"
	"github.com/plugmesh/plugmesh/internal/event"
	"github.com/plugmesh/plugmesh/internal/host"
	"github.com/plugmesh/plugmesh/internal/observability"
)

const echoManifest = `
name: echo
version: 1.0.0
entry: echo.lua
permissions:
  - emit:channel:chat:echo
subscriptions:
  - channel:chat:*
channels:
  - chat
`

const echoScript = `
function on_event(ev)
	if ev.type == "channel:chat:notice" then
		return { { type = "channel:chat:echo", payload = { text = "echo: " .. ev.payload.text } } }
	end
end
`

const faultyManifest = `
name: faulty
version: 1.0.0
entry: faulty.lua
subscriptions:
  - channel:chat:*
channels:
  - chat
`

const faultyScript = `
function on_event(ev)
	error("faulty plugin always fails")
end
`

func writePlugin(root, name, manifestFile, entry, script string) {
	dir := filepath.Join(root, name)
	Expect(os.MkdirAll(dir, 0o750)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(manifestFile), 0o600)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, entry), []byte(script), 0o600)).To(Succeed())
}

var _ = Describe("Mesh", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		h      *host.Host
		obs    *observability.Server
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), time.Minute)

		root, err := os.MkdirTemp("", "plugmesh-test-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = os.RemoveAll(root) })

		writePlugin(root, "echo", echoManifest, "echo.lua", echoScript)
		writePlugin(root, "faulty", faultyManifest, "faulty.lua", faultyScript)

		cfg := config.Default()
		cfg.PluginsDir = root
		cfg.Monitor.Interval = 50 * time.Millisecond

		h = host.New(cfg, nil)
		obs = observability.NewServer("127.0.0.1:0", h.Ready)

		_, err = obs.Start(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		Expect(h.Stop(ctx)).To(Succeed())
		Expect(obs.Stop(ctx)).To(Succeed())
		cancel()
	})

	It("loads plugins and wires the configured channel", func() {
		Expect(h.Forwarder().PluginIDs()).To(Equal([]string{"echo", "faulty"}))
		Expect(h.Bridge().Channels()).To(Equal([]string{"chat"}))
	})

	It("serves health probes and metrics", func() {
		for path, want := range map[string]string{
			"/healthz/liveness":  "ok",
			"/healthz/readiness": "ready",
		} {
			resp, err := http.Get("http://" + obs.Addr() + path)
			Expect(err).NotTo(HaveOccurred())
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(Equal(want))
		}

		resp, err := http.Get("http://" + obs.Addr() + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("go_goroutines"))
	})

	It("relays a targeted channel notice through the plugin and back onto the channel", func() {
		chBus, ok := h.Bridge().ChannelBus("chat")
		Expect(ok).To(BeTrue())

		var echoes []event.Event
		_, err := chBus.On("channel:chat:echo", func(ev event.Event) {
			echoes = append(echoes, ev)
		})
		Expect(err).NotTo(HaveOccurred())

		chBus.Emit("channel:chat:notice", map[string]any{"text": "hi"},
			bus.WithSource("host"),
			bus.WithMetadata(map[string]any{event.MetaTargetPlugin: "echo"}))

		Expect(echoes).To(HaveLen(1))
		Expect(echoes[0].Source).To(Equal("plugin:echo"))
		payload, ok := echoes[0].Payload.(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(payload["text"]).To(Equal("echo: hi"))
	})

	It("contains a crashing plugin without disturbing the mesh", func() {
		chBus, ok := h.Bridge().ChannelBus("chat")
		Expect(ok).To(BeTrue())

		Expect(func() {
			chBus.Emit("channel:chat:notice", map[string]any{"text": "boom"},
				bus.WithSource("host"),
				bus.WithMetadata(map[string]any{event.MetaTargetPlugin: "faulty"}))
		}).NotTo(Panic())

		// The echo plugin still works afterwards.
		var echoes int
		_, err := chBus.On("channel:chat:echo", func(event.Event) { echoes++ })
		Expect(err).NotTo(HaveOccurred())

		chBus.Emit("channel:chat:notice", map[string]any{"text": "still up"},
			bus.WithSource("host"),
			bus.WithMetadata(map[string]any{event.MetaTargetPlugin: "echo"}))
		Expect(echoes).To(Equal(1))
	})

	It("enforces manifest permissions at the sandbox boundary", func() {
		var leaked int
		_, err := h.SharedBus().On("not:granted", func(event.Event) { leaked++ })
		Expect(err).NotTo(HaveOccurred())

		private, ok := h.Forwarder().SandboxBus("echo")
		Expect(ok).To(BeTrue())
		private.Emit("not:granted", nil)

		Expect(leaked).To(BeZero())
	})
})
