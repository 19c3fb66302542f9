// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exposes the Prometheus metrics for the integrity
// pipeline. Metrics register on the default registry at init via promauto;
// import the package and record.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChecksTotal counts per-record verification outcomes.
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_checks_total",
		Help: "Total record verifications by resulting status",
	}, []string{"status"})

	// IssuesTotal counts findings by kind.
	IssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_issues_total",
		Help: "Total verification findings by issue kind",
	}, []string{"kind"})

	// RepairsTotal counts repair attempts by issue kind and outcome.
	RepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_repairs_total",
		Help: "Total repair attempts by issue kind and outcome",
	}, []string{"kind", "outcome"})

	// QuarantinesTotal counts records removed from the ledger because
	// their payload was corrupt.
	QuarantinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_quarantines_total",
		Help: "Total records quarantined for payload corruption",
	})

	// IntegrityScore is the score of the most recent batch run (0-100).
	IntegrityScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_integrity_score",
		Help: "Integrity score of the most recent batch run (0-100)",
	})

	// RunDurationHistogram times whole batch runs.
	RunDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_run_duration_seconds",
		Help:    "Time to run one batch integrity check",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"trigger"})

	// AlertsTotal counts scheduler alerts for sub-threshold scores.
	AlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_alerts_total",
		Help: "Total scheduler alerts for sub-threshold integrity scores",
	})

	// RecordsGauge is the number of records in the ledger after the most
	// recent batch run.
	RecordsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_ledger_records",
		Help: "Records in the ledger after the most recent batch run",
	})
)
