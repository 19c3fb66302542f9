// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package repair restores the integrity markers of compromised records.
//
// The repair engine maps each issue kind to one policy:
//
//   - invalid tag: regenerate the tag and write back
//   - invalid watermark: re-stamp the watermark and write back
//   - corrupted payload: quarantine (remove the record from the ledger);
//     the finding itself stays unrepaired because the payload is gone
//   - unknown: never auto-repaired
//
// Write-backs go through the ledger's CompareAndSwap keyed on the tag the
// verification saw, so two repairers racing on one record cannot interleave
// marker writes. A lost CAS is re-read and retried a bounded number of
// times; an exhausted retry leaves the issue unrepaired, which the next
// scheduled run picks up again.
//
// # Thread Safety
//
// Engine is safe for concurrent use.
package repair

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/sentinel/services/sentinel/ledger"
	"github.com/AleutianAI/sentinel/services/sentinel/tag"
	"github.com/AleutianAI/sentinel/services/sentinel/telemetry"
	"github.com/AleutianAI/sentinel/services/sentinel/verify"
)

// DefaultCASRetries is how many times a lost CompareAndSwap is re-read and
// retried before the issue is left for the next run.
const DefaultCASRetries = 3

// purposeProtect is the tag purpose used for ledger records.
const purposeProtect = "protect"

var repairTracer = otel.Tracer("sentinel.repair")

// TransitionFunc observes a record's status transitions during repair.
// Called synchronously; keep it fast.
type TransitionFunc func(s tag.Subject, to verify.Status)

// Engine applies repair policies to compromised records.
//
// Thread Safety: safe for concurrent use.
type Engine struct {
	ledger       ledger.Ledger
	tagger       tag.Tagger
	logger       *slog.Logger
	casRetries   int
	onTransition TransitionFunc
}

// Option configures a repair Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCASRetries bounds the re-read-and-retry loop after a lost CAS.
func WithCASRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.casRetries = n
		}
	}
}

// WithTransitionFunc registers a status transition observer.
func WithTransitionFunc(fn TransitionFunc) Option {
	return func(e *Engine) {
		e.onTransition = fn
	}
}

// NewEngine creates a repair engine over the given ledger and tagger.
//
// Outputs:
//
//	*Engine - Ready for concurrent use. Never nil.
func NewEngine(l ledger.Ledger, tagger tag.Tagger, opts ...Option) *Engine {
	e := &Engine{
		ledger:     l,
		tagger:     tagger,
		logger:     slog.Default(),
		casRetries: DefaultCASRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// transition notifies the observer, if any.
func (e *Engine) transition(s tag.Subject, to verify.Status) {
	if e.onTransition != nil {
		e.onTransition(s, to)
	}
}

// Repair applies the per-kind policy to every issue in the verification.
//
// Description:
//
//	A clean verification is returned unchanged. Otherwise the record
//	transitions to repairing, each issue is handled by its policy, and
//	the returned verification carries the final status: Repaired when
//	every issue was fixed, Compromised when any remains. Repair failures
//	are not errors; only infrastructure faults (StorageError) propagate,
//	and the verification returned alongside still reflects what was
//	attempted.
//
// Inputs:
//
//	ctx - Cancels in-flight ledger writes.
//	rec - The record as the verification engine saw it.
//	v - The verification to act on. Not mutated.
//
// Outputs:
//
//	verify.Verification - Copy of v with Repaired flags and final status.
//	error - Non-nil only for ledger infrastructure faults.
func (e *Engine) Repair(ctx context.Context, rec ledger.Record, v verify.Verification) (verify.Verification, error) {
	if v.Clean() {
		return v, nil
	}

	ctx, span := repairTracer.Start(ctx, "sentinel.Repair",
		trace.WithAttributes(
			attribute.String("subject", rec.Subject.String()),
			attribute.Int("issues", len(v.Issues)),
		))
	defer span.End()

	out := v
	out.Issues = make([]verify.Issue, len(v.Issues))
	copy(out.Issues, v.Issues)

	e.transition(rec.Subject, verify.StatusRepairing)

	var storageErr error
	needTag, needWM := false, false
	for i := range out.Issues {
		switch out.Issues[i].Kind {
		case verify.IssueCorrupted:
			if err := e.quarantine(ctx, rec.Subject); err != nil {
				storageErr = err
			}
			// The payload is gone; the finding stays unrepaired.
			telemetry.RepairsTotal.WithLabelValues(out.Issues[i].Kind.String(), "quarantined").Inc()
		case verify.IssueInvalidTag:
			needTag = true
		case verify.IssueInvalidWatermark:
			needWM = true
		case verify.IssueUnknown:
			telemetry.RepairsTotal.WithLabelValues(out.Issues[i].Kind.String(), "skipped").Inc()
		}
	}

	if (needTag || needWM) && storageErr == nil {
		repaired, err := e.restamp(ctx, rec, needTag, needWM)
		if err != nil {
			storageErr = err
		}
		for i := range out.Issues {
			k := out.Issues[i].Kind
			if (k == verify.IssueInvalidTag && needTag) || (k == verify.IssueInvalidWatermark && needWM) {
				out.Issues[i].Repaired = repaired
				outcome := "failed"
				if repaired {
					outcome = "repaired"
				}
				telemetry.RepairsTotal.WithLabelValues(k.String(), outcome).Inc()
			}
		}
	}

	out.Status = verify.StatusRepaired
	for _, is := range out.Issues {
		if !is.Repaired {
			out.Status = verify.StatusCompromised
			break
		}
	}
	e.transition(rec.Subject, out.Status)

	if storageErr != nil {
		span.RecordError(storageErr)
		span.SetStatus(codes.Error, "ledger write failed")
		return out, storageErr
	}
	span.SetAttributes(attribute.String("final_status", out.Status.String()))
	return out, nil
}

// quarantine removes a corrupt record from the ledger.
func (e *Engine) quarantine(ctx context.Context, s tag.Subject) error {
	e.logger.Warn("quarantining corrupt record", slog.String("subject", s.String()))
	if err := e.ledger.Delete(ctx, s); err != nil {
		return err
	}
	telemetry.QuarantinesTotal.Inc()
	return nil
}

// restamp regenerates the requested markers and writes them back through
// CompareAndSwap keyed on the tag the verification saw.
//
// Outputs:
//
//	bool - True when the markers were written (or a racing repairer
//	already wrote valid ones).
//	error - Non-nil only for ledger infrastructure faults.
func (e *Engine) restamp(ctx context.Context, rec ledger.Record, needTag, needWM bool) (bool, error) {
	cur := rec
	for attempt := 0; attempt <= e.casRetries; attempt++ {
		next := cur.Clone()
		if needTag {
			tg, err := e.tagger.Generate(cur.Subject, purposeProtect)
			if err != nil {
				// Empty subject is a caller bug; nothing to write.
				e.logger.Error("tag regeneration failed",
					slog.String("subject", cur.Subject.String()),
					slog.String("error", err.Error()))
				return false, nil
			}
			next.Tag = tg
		}
		if needWM {
			next.Watermark = e.tagger.Watermark(cur.Subject)
		}

		err := e.ledger.CompareAndSwap(ctx, cur.Subject, cur.Tag, next)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ledger.ErrCASConflict):
			fresh, gerr := e.ledger.Get(ctx, cur.Subject)
			if errors.Is(gerr, ledger.ErrNotFound) {
				// Record was quarantined or unregistered underneath us.
				return false, nil
			}
			if gerr != nil {
				return false, gerr
			}
			// A racing repairer may already have fixed the markers.
			tagOK := !needTag || e.tagger.Validate(fresh.Tag, fresh.Subject, purposeProtect)
			wmOK := !needWM || e.tagger.CheckWatermark(fresh.Watermark, fresh.Subject)
			if tagOK && wmOK {
				return true, nil
			}
			cur = fresh
		case errors.Is(err, ledger.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}

	e.logger.Warn("marker write-back lost CAS repeatedly, leaving for next run",
		slog.String("subject", rec.Subject.String()),
		slog.Int("attempts", e.casRetries+1))
	return false, nil
}
