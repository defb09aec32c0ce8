// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep and exit",
		Long:  "Delete archived messages older than each tenant's retention horizon, then print a per-tenant report.",
		RunE:  runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	report, err := buildRetention(cfg, st).Sweep(cmd.Context(), time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(report.Tenants) == 0 {
		_, _ = fmt.Fprintln(out, "No tenants have retention configured.")
		return nil
	}

	for _, tenant := range report.Tenants {
		if tenant.Err != nil {
			_, _ = fmt.Fprintf(out, "%-24s FAILED: %v\n", tenant.TenantID, tenant.Err)
			continue
		}
		_, _ = fmt.Fprintf(out, "%-24s removed %d (cutoff %s)\n",
			tenant.TenantID, tenant.Removed, tenant.Cutoff.Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(out, "Swept %d tenants, removed %d messages, %d failed.\n",
		report.SweptTenants, report.Removed, report.Failed)

	if report.Failed > 0 {
		return keeperr.Errorf(keeperr.CodeRetentionSweepFailure, "%d tenant sweeps failed", report.Failed)
	}
	return nil
}
