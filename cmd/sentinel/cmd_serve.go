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
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sentinel/services/sentinel/config"
	"github.com/AleutianAI/sentinel/services/sentinel/report"
	"github.com/AleutianAI/sentinel/services/sentinel/server"
)

// runServeCommand serves the integrity HTTP API with scheduled checks.
//
// # Description
//
// Wires the pipeline, starts the scheduler, and serves the /v1 API plus
// /metrics until SIGINT or SIGTERM, then shuts down gracefully.
//
// # Limitations
//
//   - Exits 2 on config, storage, or listen failures.
func runServeCommand(cmd *cobra.Command, args []string) {
	var handlers *server.Handlers
	onAlert := func(rep report.Report) {
		if handlers != nil {
			handlers.ObserveReport(rep)
		}
	}

	p, err := buildPipeline("scheduled", onAlert, func(cfg *config.Config) {
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(exitError)
	}
	defer p.close()

	logger := p.logger.Slog()
	handlers = server.NewHandlers(p.ledger, p.tagger, p.scheduler, logger)
	router := server.NewRouter(handlers)

	if err := p.scheduler.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start scheduler: %v\n", err)
		os.Exit(exitError)
	}
	defer p.scheduler.Stop()

	srv := &http.Server{
		Addr:              p.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sentinel API listening", "addr", p.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
			os.Exit(exitError)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}
}
