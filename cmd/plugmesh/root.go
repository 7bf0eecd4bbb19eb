// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the PlugMesh CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugmesh",
		Short: "PlugMesh - isolated event routing between plugins",
		Long: `PlugMesh runs independently-authored plugins behind per-plugin
sandboxes and routes their events through permission-gated channels.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewValidateCmd())

	return cmd
}
