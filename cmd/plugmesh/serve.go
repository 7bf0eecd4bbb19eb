// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plugmesh/plugmesh/internal/boundary"
	"github.com/plugmesh/plugmesh/internal/config"
	"github.com/plugmesh/plugmesh/internal/host"
	"github.com/plugmesh/plugmesh/internal/logging"
	"github.com/plugmesh/plugmesh/internal/monitor"
	"github.com/plugmesh/plugmesh/internal/observability"
	"github.com/plugmesh/plugmesh/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin mesh host",
		Long: `Load plugins from the plugins directory, create their sandboxes
and channels, and serve metrics until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("plugins_dir", "plugins", "directory containing plugin subdirectories")
	flags.String("log_format", "json", "log format: json or text")
	flags.String("log_level", "info", "log level: debug, info, warn, error")

	return cmd
}

func runServe(cfg *config.Config) error {
	logging.SetDefault("plugmesh", version, cfg.LogFormat, cfg.LogLevel)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The readiness probe closes over the host, which is constructed
	// after the server because it registers metrics on its registry.
	var h *host.Host
	obs := observability.NewServer(cfg.Observability.Addr, func() bool {
		return h != nil && h.Ready()
	})
	boundary.MustRegisterMetrics(obs.Registry())
	monitorMetrics := monitor.NewMetrics(obs.Registry())

	h = host.New(cfg, logger, host.WithMonitorMetrics(monitorMetrics))

	serveErrCh, err := obs.Start(ctx)
	if err != nil {
		return err
	}

	if err := h.Start(ctx); err != nil {
		errutil.LogError(logger, "mesh start failed", err)
		_ = obs.Stop(context.Background())
		return err
	}

	obs.Metrics().SandboxesActive.Set(float64(len(h.Forwarder().PluginIDs())))
	obs.Metrics().ChannelsActive.Set(float64(len(h.Bridge().Channels())))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-serveErrCh:
		if ok && err != nil {
			errutil.LogError(logger, "observability server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := h.Stop(shutdownCtx); err != nil {
		errutil.LogError(logger, "mesh stop failed", err)
	}
	return obs.Stop(shutdownCtx)
}
