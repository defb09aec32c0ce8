// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keepsake-dev/keepsake/internal/retention"
	"github.com/keepsake-dev/keepsake/internal/server"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the keepsake server",
		Long:  "Load configuration, open the archive store, and serve the HTTP API with the background retention sweep.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	srv, err := server.New(server.Config{
		ListenAddr:   cfg.Server.Listen,
		SharedSecret: cfg.Server.SharedSecret,
		AllowedCIDRs: cfg.Server.AllowedCIDRs,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}, buildServices(cfg, st, gw))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runRetentionLoop(ctx, buildRetention(cfg, st), cfg.Retention.Interval)

	slog.Info("starting keepsake",
		"listen", cfg.Server.Listen,
		"db", cfg.Storage.Path,
		"retention_interval", cfg.Retention.Interval,
	)

	return srv.Start(ctx)
}

// runRetentionLoop runs a sweep at every interval tick until the context
// is cancelled. A failed sweep is logged and retried at the next tick.
func runRetentionLoop(ctx context.Context, manager *retention.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			report, err := manager.Sweep(ctx, now)
			if err != nil {
				slog.Error("retention sweep failed", "error", err)
				continue
			}
			if report.Failed > 0 {
				slog.Warn("retention sweep finished with failures",
					"failed", report.Failed,
					"swept", report.SweptTenants,
				)
			}
		}
	}
}
