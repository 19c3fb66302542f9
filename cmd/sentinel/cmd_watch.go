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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/sentinel/services/sentinel/config"
	"github.com/AleutianAI/sentinel/services/sentinel/report"
)

// runWatchCommand runs scheduled integrity checks until interrupted.
//
// # Description
//
// Starts the scheduler with the configured (or overridden) interval and
// threshold, runs an immediate upfront check, then ticks until SIGINT or
// SIGTERM. Breaching ticks print an alert line to stderr.
//
// # Limitations
//
//   - Exits 1 when the final check on shutdown breaches the threshold.
//   - Exits 2 on config or storage failures.
func runWatchCommand(cmd *cobra.Command, args []string) {
	onAlert := func(rep report.Report) {
		fmt.Fprintf(os.Stderr, "ALERT: integrity score %d below threshold (report %s, %d compromised)\n",
			rep.Score, rep.ID, rep.Compromised)
	}

	p, err := buildPipeline("scheduled", onAlert, applyWatchOverrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(exitError)
	}
	defer p.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	first, err := p.scheduler.RunImmediate(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Initial check failed: %v\n", err)
		os.Exit(exitError)
	}
	fmt.Printf("Initial integrity score: %d/100 (%d records)\n", first.Score, first.Checked)

	if err := p.scheduler.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start scheduler: %v\n", err)
		os.Exit(exitError)
	}
	if watchMetricsAddr != "" {
		go serveWatchMetrics(watchMetricsAddr)
	}
	fmt.Printf("Watching every %v (threshold %d). Ctrl-C to stop.\n",
		p.cfg.Check.Interval.Std(), p.cfg.Check.AlertThreshold)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nStopping...")
	p.scheduler.Stop()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	final, err := p.scheduler.RunImmediate(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Final check failed: %v\n", err)
		os.Exit(exitError)
	}
	fmt.Printf("Final integrity score: %d/100\n", final.Score)

	if !final.Healthy(p.cfg.Check.AlertThreshold) {
		os.Exit(exitBreach)
	}
}

// serveWatchMetrics exposes Prometheus metrics for the lifetime of the
// watch. The listener dies with the process; there is no shutdown path.
func serveWatchMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Metrics listener failed: %v\n", err)
	}
}

// applyWatchOverrides folds the watch flags into the loaded config
// before the pipeline is wired.
func applyWatchOverrides(cfg *config.Config) {
	if watchInterval != "" {
		d, err := time.ParseDuration(watchInterval)
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid interval %q\n", watchInterval)
			os.Exit(exitError)
		}
		cfg.Check.Interval = config.Duration(d)
	}
	if watchThreshold != 0 {
		if watchThreshold < 1 || watchThreshold > 100 {
			fmt.Fprintf(os.Stderr, "Invalid threshold %d (must be 1-100)\n", watchThreshold)
			os.Exit(exitError)
		}
		cfg.Check.AlertThreshold = watchThreshold
	}
}
