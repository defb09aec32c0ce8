// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/keepsake-dev/keepsake/internal/config"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		Long: `Write the default keepsake.yaml to ~/.config/keepsake/ (or --path).
Edit it to set the shared secret and provider API keys before starting.
Secret values may use keyring://service/key URIs; store them with your
OS keyring tooling so no secret sits in the file itself.`,
		RunE: runInit,
	}

	cmd.Flags().String("path", "", "where to write the config (default ~/.config/keepsake/keepsake.yaml)")
	cmd.Flags().Bool("force", false, "overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")

	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return err
		}
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return keeperr.Errorf(keeperr.CodeCLISetupFailure,
				"config file already exists at %s; use --force to overwrite", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return keeperr.Errorf(keeperr.CodeConfigLoadReadFailure, "creating config directory: %w", err)
	}
	if err := os.WriteFile(path, config.DefaultConfigYAML, 0o600); err != nil {
		return keeperr.Errorf(keeperr.CodeConfigLoadReadFailure, "writing config to %s: %w", path, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Set server.shared_secret and the provider API keys, then run: keepsake start")
	return nil
}
