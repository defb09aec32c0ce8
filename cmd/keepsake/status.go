// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

// statusHTTPClient is the client used to probe a running server.
// Exposed as a variable so tests can replace it.
var statusHTTPClient = &http.Client{Timeout: 5 * time.Second}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running keepsake server",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:8642", "server address to check")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	resp, err := statusHTTPClient.Get("http://" + addr + "/healthz")
	if err != nil {
		_, _ = fmt.Fprintf(out, "Keepsake at %s is not reachable: %v\n", addr, err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status    string `json:"status"`
		Store     string `json:"store"`
		Embedding struct {
			State string `json:"state"`
		} `json:"embedding"`
		Generation struct {
			State string `json:"state"`
		} `json:"generation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return keeperr.Errorf(keeperr.CodeCLIRequestFailure, "decoding health response: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Keepsake at %s: %s\n", addr, body.Status)
	_, _ = fmt.Fprintf(out, "  store:      %s\n", body.Store)
	_, _ = fmt.Fprintf(out, "  embedding:  breaker %s\n", body.Embedding.State)
	_, _ = fmt.Fprintf(out, "  generation: breaker %s\n", body.Generation.State)
	return nil
}
