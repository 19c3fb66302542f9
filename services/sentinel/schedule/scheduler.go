// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schedule drives recurring integrity runs.
//
// The scheduler ticks at a fixed interval, pulls the current batch from
// its Source, runs it through the reporter, and raises an alert for every
// tick whose score falls below the threshold. Alerts are deliberately not
// deduplicated: a persistently sick system alerts on every tick.
//
// Stop waits for an in-flight tick to finish. A tick already past its
// score computation when Stop is called may still deliver one final
// alert; after Stop returns and that tick drains, no further alerts fire.
//
// # Thread Safety
//
// Scheduler is safe for concurrent use.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/sentinel/services/sentinel/ledger"
	"github.com/AleutianAI/sentinel/services/sentinel/report"
	"github.com/AleutianAI/sentinel/services/sentinel/telemetry"
)

// Default configuration values.
const (
	// DefaultInterval is the tick interval when none is configured.
	DefaultInterval = 5 * time.Minute

	// DefaultAlertThreshold is the minimum healthy integrity score.
	DefaultAlertThreshold = 100
)

// ErrAlreadyRunning is returned by Start when the scheduler is running.
var ErrAlreadyRunning = errors.New("schedule: scheduler already running")

// Source supplies the batch for each tick. Pulling fresh records per tick
// means registrations and quarantines between ticks are honored.
type Source interface {
	// Records returns the batch to check.
	Records(ctx context.Context) ([]ledger.Record, error)
}

// StaticSource is a fixed batch, mainly for tests and one-shot runs.
type StaticSource []ledger.Record

// Records returns the fixed batch.
func (s StaticSource) Records(_ context.Context) ([]ledger.Record, error) {
	return s, nil
}

// LedgerSource pulls the full ledger contents each tick.
type LedgerSource struct {
	l ledger.Ledger
}

// NewLedgerSource wraps a ledger as a Source.
func NewLedgerSource(l ledger.Ledger) *LedgerSource {
	return &LedgerSource{l: l}
}

// Records lists the ledger.
func (s *LedgerSource) Records(ctx context.Context) ([]ledger.Record, error) {
	return s.l.List(ctx)
}

// AlertFunc receives the report of a sub-threshold tick.
// Called synchronously from the scheduler loop; keep it fast.
type AlertFunc func(rep report.Report)

// Config holds scheduler configuration.
type Config struct {
	// Interval is the tick interval. Default: 5 minutes.
	Interval time.Duration

	// AlertThreshold is the minimum healthy score (0-100).
	// Every tick scoring below it raises an alert. Default: 100.
	AlertThreshold int

	// OnAlert receives sub-threshold reports. Optional.
	OnAlert AlertFunc

	// Logger is the scheduler's logger. Optional.
	Logger *slog.Logger
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = DefaultAlertThreshold
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler runs recurring integrity checks.
//
// Thread Safety: safe for concurrent use.
type Scheduler struct {
	reporter *report.Reporter
	source   Source
	cfg      Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a scheduler over the given reporter and source.
//
// Outputs:
//
//	*Scheduler - Not ticking until Start() is called. Never nil.
func NewScheduler(reporter *report.Reporter, source Source, cfg Config) *Scheduler {
	cfg.ApplyDefaults()
	return &Scheduler{
		reporter: reporter,
		source:   source,
		cfg:      cfg,
	}
}

// Start begins ticking.
//
// Description:
//
//	Starts the tick loop in a goroutine. The first check runs after one
//	full interval; use RunImmediate for an upfront check. A stopped
//	scheduler can be started again.
//
// Outputs:
//
//	error - ErrAlreadyRunning if the loop is active.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	go s.run(s.stopCh, s.doneCh)
	return nil
}

// Stop halts ticking and waits for an in-flight tick to finish.
// Safe to call when not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunImmediate triggers one check outside the schedule.
//
// Description:
//
//	Pulls the current batch and runs it through the reporter, raising
//	an alert if the score breaches the threshold. Works whether or not
//	the tick loop is running.
//
// Outputs:
//
//	report.Report - The run's outcome.
//	error - Source or cancellation failure.
func (s *Scheduler) RunImmediate(ctx context.Context) (report.Report, error) {
	records, err := s.source.Records(ctx)
	if err != nil {
		return report.Report{}, err
	}
	rep, err := s.reporter.RunOnce(ctx, records)
	if err != nil {
		return report.Report{}, err
	}
	s.maybeAlert(rep, nil)
	return rep, nil
}

func (s *Scheduler) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(stopCh)
		}
	}
}

// tick runs one scheduled check. Source and run failures are logged and
// skipped; the loop keeps ticking.
func (s *Scheduler) tick(stopCh chan struct{}) {
	ctx := context.Background()

	records, err := s.source.Records(ctx)
	if err != nil {
		s.cfg.Logger.Error("scheduled check: source failed",
			slog.String("error", err.Error()))
		return
	}
	rep, err := s.reporter.RunOnce(ctx, records)
	if err != nil {
		s.cfg.Logger.Error("scheduled check: run failed",
			slog.String("error", err.Error()))
		return
	}
	s.maybeAlert(rep, stopCh)
}

// maybeAlert raises an alert for a sub-threshold report. When stopCh is
// non-nil and already closed, the alert is suppressed so a stopped
// scheduler delivers at most the one alert already in flight.
func (s *Scheduler) maybeAlert(rep report.Report, stopCh chan struct{}) {
	if rep.Healthy(s.cfg.AlertThreshold) {
		return
	}
	if stopCh != nil {
		select {
		case <-stopCh:
			return
		default:
		}
	}

	telemetry.AlertsTotal.Inc()
	s.cfg.Logger.Warn("integrity score below threshold",
		slog.Int("score", rep.Score),
		slog.Int("threshold", s.cfg.AlertThreshold),
		slog.Int("compromised", rep.Compromised),
		slog.String("report_id", rep.ID))

	if s.cfg.OnAlert != nil {
		s.cfg.OnAlert(rep)
	}
}
