// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plugmesh/plugmesh/internal/manifest"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plugin.yaml>",
		Short: "Validate a plugin manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0]) //nolint:gosec // user-supplied path is the point
			if err != nil {
				return fmt.Errorf("reading manifest: %w", err)
			}

			if err := manifest.ValidateSchema(data); err != nil {
				return fmt.Errorf("schema: %s", manifest.FormatSchemaError(err))
			}
			m, err := manifest.Parse(data)
			if err != nil {
				return err
			}

			cmd.Printf("%s %s: ok\n", m.Name, m.Version)
			return nil
		},
	}
}
