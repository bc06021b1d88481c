// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianClimate/services/reasoner"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/telemetry"
)

// telemetryShutdownTimeout bounds the final flush of traces and metrics.
const telemetryShutdownTimeout = 5 * time.Second

func newServeCmd(app *cliApp) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reasoner HTTP API",
		Long: `Start the reasoner HTTP server.

Routes:
  GET  /health
  GET  /metrics
  POST /v1/search
  POST /v1/tenants/:tenantId/similar
  POST /v1/tenants/:tenantId/strategies
  GET  /v1/world/...

The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				app.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, app)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, app *cliApp) error {
	logger := app.logger.Slog()

	shutdown, err := telemetry.Init(ctx, app.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	svc, err := reasoner.New(ctx, app.cfg, reasoner.WithServiceLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Service close failed", "error", err)
		}
	}()

	logger.Info("Reasoner ready",
		"port", app.cfg.Server.Port,
		"semantic_enabled", app.cfg.SemanticEnabled(),
		"trace_exporter", app.cfg.Telemetry.TraceExporter,
		"metric_exporter", app.cfg.Telemetry.MetricExporter)
	return svc.Run(ctx)
}
