// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report runs batch integrity checks and aggregates the outcome.
//
// A run verifies every record in the batch with bounded parallelism,
// hands compromised records to the repair engine, and folds the results
// into a Report with an integrity score. Infrastructure faults on one
// record never abort the batch: the record is reported as compromised
// with an unknown finding and the run moves on.
//
// # Thread Safety
//
// Reporter is safe for concurrent use; concurrent RunOnce calls produce
// independent reports.
package report

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sentinel/services/sentinel/ledger"
	"github.com/AleutianAI/sentinel/services/sentinel/repair"
	"github.com/AleutianAI/sentinel/services/sentinel/telemetry"
	"github.com/AleutianAI/sentinel/services/sentinel/verify"
)

// DefaultParallelLimit is the maximum concurrent record checks per run.
const DefaultParallelLimit = 10

var reportTracer = otel.Tracer("sentinel.report")

// Report is the aggregate outcome of one batch run.
type Report struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// StartedAt is when the run began (Unix milliseconds UTC).
	StartedAt int64 `json:"started_at"`

	// Duration is how long the run took.
	Duration time.Duration `json:"duration"`

	// Trigger records what started the run ("manual", "scheduled", "api").
	Trigger string `json:"trigger"`

	// Checked is the number of records examined.
	Checked int `json:"checked"`

	// Verified is the number of records that passed every check.
	Verified int `json:"verified"`

	// Repaired is the number of records fully restored by the repair
	// engine.
	Repaired int `json:"repaired"`

	// Compromised is the number of records with unrepaired findings.
	Compromised int `json:"compromised"`

	// Score is the integrity score, 0-100. An empty batch scores 100:
	// no evidence of compromise is a healthy system.
	Score int `json:"score"`

	// Details holds the final per-record verifications, one per checked
	// record, in batch order.
	Details []verify.Verification `json:"details,omitempty"`
}

// Healthy reports whether the score meets the threshold.
func (r *Report) Healthy(threshold int) bool {
	return r.Score >= threshold
}

// Reporter runs batch checks over ledger records.
//
// Thread Safety: safe for concurrent use.
type Reporter struct {
	verifier *verify.Engine
	repairer *repair.Engine
	ledger   ledger.Ledger
	logger   *slog.Logger
	limit    int
	trigger  string
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithParallelLimit bounds concurrent record checks.
func WithParallelLimit(n int) ReporterOption {
	return func(r *Reporter) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTrigger labels this reporter's runs for metrics and reports.
func WithTrigger(trigger string) ReporterOption {
	return func(r *Reporter) {
		if trigger != "" {
			r.trigger = trigger
		}
	}
}

// NewReporter creates a batch reporter.
//
// Inputs:
//
//	verifier - Classifies records. Must not be nil.
//	repairer - Restores compromised records. Must not be nil.
//	l - The ledger, used to advance LastVerifiedAt and gauge size.
//
// Outputs:
//
//	*Reporter - Ready for concurrent use. Never nil.
func NewReporter(verifier *verify.Engine, repairer *repair.Engine, l ledger.Ledger, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		verifier: verifier,
		repairer: repairer,
		ledger:   l,
		logger:   slog.Default(),
		limit:    DefaultParallelLimit,
		trigger:  "manual",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce checks every record in the batch and aggregates the outcome.
//
// Description:
//
//	Records are checked concurrently up to the parallel limit. A
//	compromised record goes to the repair engine; a clean one gets its
//	LastVerifiedAt advanced. A ledger fault on one record downgrades
//	that record to compromised with an unknown finding and the batch
//	continues. The integrity score is
//
//	    round(100 * (verified + repaired) / checked)
//
//	and an empty batch scores 100.
//
// Inputs:
//
//	ctx - Cancels in-flight checks; a canceled run returns ctx.Err().
//	records - The batch. May be empty.
//
// Outputs:
//
//	Report - Aggregate outcome with per-record details.
//	error - Non-nil only when ctx is canceled mid-run.
func (r *Reporter) RunOnce(ctx context.Context, records []ledger.Record) (Report, error) {
	start := time.Now()
	ctx, span := reportTracer.Start(ctx, "sentinel.RunOnce",
		trace.WithAttributes(
			attribute.Int("batch_size", len(records)),
			attribute.String("trigger", r.trigger),
		))
	defer span.End()

	rep := Report{
		ID:        uuid.NewString(),
		StartedAt: start.UnixMilli(),
		Trigger:   r.trigger,
		Checked:   len(records),
		Details:   make([]verify.Verification, len(records)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)

	var mu sync.Mutex
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v := r.checkOne(gctx, rec)
			mu.Lock()
			rep.Details[i] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	for _, v := range rep.Details {
		telemetry.ChecksTotal.WithLabelValues(v.Status.String()).Inc()
		for _, is := range v.Issues {
			telemetry.IssuesTotal.WithLabelValues(is.Kind.String()).Inc()
		}
		switch v.Status {
		case verify.StatusVerified:
			rep.Verified++
		case verify.StatusRepaired:
			rep.Repaired++
		default:
			rep.Compromised++
		}
	}
	rep.Score = score(rep.Checked, rep.Verified+rep.Repaired)
	rep.Duration = time.Since(start)

	telemetry.IntegrityScore.Set(float64(rep.Score))
	telemetry.RunDurationHistogram.WithLabelValues(r.trigger).Observe(rep.Duration.Seconds())
	if n, err := r.ledger.Len(ctx); err == nil {
		telemetry.RecordsGauge.Set(float64(n))
	}

	r.logger.Info("integrity run complete",
		slog.String("report_id", rep.ID),
		slog.Int("checked", rep.Checked),
		slog.Int("verified", rep.Verified),
		slog.Int("repaired", rep.Repaired),
		slog.Int("compromised", rep.Compromised),
		slog.Int("score", rep.Score),
		slog.Duration("duration", rep.Duration))

	span.SetAttributes(attribute.Int("score", rep.Score))
	return rep, nil
}

// checkOne verifies a single record, repairing or touching it as needed.
// Ledger faults downgrade the record, never abort the batch.
func (r *Reporter) checkOne(ctx context.Context, rec ledger.Record) verify.Verification {
	v := r.verifier.Check(rec)

	if v.Clean() {
		touched := rec.Clone()
		touched.LastVerifiedAt = v.CheckedAt
		if err := r.ledger.Put(ctx, touched); err != nil {
			r.logger.Warn("failed to advance last-verified timestamp",
				slog.String("subject", rec.Subject.String()),
				slog.String("error", err.Error()))
			return downgrade(v, err)
		}
		return v
	}

	repaired, err := r.repairer.Repair(ctx, rec, v)
	if err != nil {
		r.logger.Warn("repair hit ledger fault",
			slog.String("subject", rec.Subject.String()),
			slog.String("error", err.Error()))
		return downgrade(repaired, err)
	}
	return repaired
}

// downgrade marks a verification compromised with an unknown finding for
// a ledger fault.
func downgrade(v verify.Verification, err error) verify.Verification {
	v.Status = verify.StatusCompromised
	v.Issues = append(v.Issues, verify.Issue{
		Kind:     verify.IssueUnknown,
		Severity: verify.SeverityHigh,
		Detail:   "ledger fault: " + err.Error(),
	})
	return v
}

// score computes round(100 * healthy / checked), with an empty batch
// scoring 100.
func score(checked, healthy int) int {
	if checked == 0 {
		return 100
	}
	return int(math.Round(100 * float64(healthy) / float64(checked)))
}
