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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath   string
	dataDirFlag  string
	logLevelFlag string

	// check flags
	checkJSONOutput bool

	// watch flags
	watchInterval    string
	watchThreshold   int
	watchMetricsAddr string

	// serve flags
	serveAddr string

	// record flags
	recordKind    string
	recordPayload string

	rootCmd = &cobra.Command{
		Use:   "sentinel",
		Short: "A cli to run and manage the sentinel integrity engine",
		Long: `Sentinel protects registered components and payloads with
integrity tags and watermarks, verifies them on a schedule, and
repairs what it can.`,
	}

	// --- Checks ---
	checkCmd = &cobra.Command{
		Use:   "health-check",
		Short: "Run one integrity check over the whole ledger and report",
		Run:   runCheckCommand, // Defined in cmd_check.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Run scheduled integrity checks until interrupted",
		Run:   runWatchCommand, // Defined in cmd_watch.go
	}

	// --- Daemon ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the integrity HTTP API with scheduled checks",
		Run:   runServeCommand, // Defined in cmd_serve.go
	}

	// --- Records ---
	registerCmd = &cobra.Command{
		Use:   "register [id]",
		Short: "Place a subject under integrity protection",
		Args:  cobra.ExactArgs(1),
		Run:   runRegisterCommand, // Defined in cmd_records.go
	}

	unregisterCmd = &cobra.Command{
		Use:   "unregister [id]",
		Short: "Remove a subject from integrity protection",
		Args:  cobra.ExactArgs(1),
		Run:   runUnregisterCommand, // Defined in cmd_records.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the sentinel YAML config (defaults apply when absent)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "",
		"Ledger directory override")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level override (debug, info, warn, error)")

	checkCmd.Flags().BoolVar(&checkJSONOutput, "json", false,
		"Output the report as JSON for scripting")

	watchCmd.Flags().StringVarP(&watchInterval, "interval", "i", "",
		"Check interval override (e.g. 30s, 5m)")
	watchCmd.Flags().IntVarP(&watchThreshold, "threshold", "t", 0,
		"Alert threshold override (1-100)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while watching (e.g. :9631)")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"Listen address override (e.g. :8089)")

	registerCmd.Flags().StringVarP(&recordKind, "kind", "k", "component",
		"Subject kind (component, payload, device, ...)")
	registerCmd.Flags().StringVarP(&recordPayload, "payload", "p", "",
		"Protected JSON payload, inline or @file")
	unregisterCmd.Flags().StringVarP(&recordKind, "kind", "k", "component",
		"Subject kind")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(unregisterCmd)
}
