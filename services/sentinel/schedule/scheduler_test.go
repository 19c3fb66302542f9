// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schedule

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sentinel/services/sentinel/ledger"
	"github.com/AleutianAI/sentinel/services/sentinel/repair"
	"github.com/AleutianAI/sentinel/services/sentinel/report"
	"github.com/AleutianAI/sentinel/services/sentinel/tag"
	"github.com/AleutianAI/sentinel/services/sentinel/verify"
)

type fixture struct {
	ledger   *ledger.MemoryLedger
	tagger   *tag.RollingTagger
	reporter *report.Reporter

	mu     sync.Mutex
	alerts []report.Report
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ledger: ledger.NewMemoryLedger(),
		tagger: tag.NewRollingTagger(),
	}
	t.Cleanup(func() { _ = f.ledger.Close() })

	verifier := verify.NewEngine(f.tagger)
	repairer := repair.NewEngine(f.ledger, f.tagger)
	f.reporter = report.NewReporter(verifier, repairer, f.ledger,
		report.WithTrigger("scheduled"))
	return f
}

func (f *fixture) onAlert(rep report.Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, rep)
}

func (f *fixture) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *fixture) putRecord(t *testing.T, id string, mutate func(*ledger.Record)) ledger.Record {
	t.Helper()

	s := tag.Subject{ID: id, Kind: "component"}
	tg, err := f.tagger.Generate(s, "protect")
	require.NoError(t, err)

	rec := ledger.Record{
		Subject:   s,
		Tag:       tg,
		Watermark: f.tagger.Watermark(s),
		Payload:   json.RawMessage(`{"id":"` + id + `"}`),
	}
	if mutate != nil {
		mutate(&rec)
	}
	require.NoError(t, f.ledger.Put(context.Background(), rec))
	return rec
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

// TestScheduler_StartStop verifies lifecycle idempotence.
func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.reporter, NewLedgerSource(f.ledger), Config{
		Interval: time.Hour,
	})

	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)

	s.Stop()
	assert.False(t, s.Running())
	s.Stop() // second stop is a no-op

	// restart works
	require.NoError(t, s.Start())
	s.Stop()
}

// TestScheduler_AlertsEveryBreachingTick verifies a persistently sick
// ledger alerts on every tick, not just the first.
func TestScheduler_AlertsEveryBreachingTick(t *testing.T) {
	f := newFixture(t)

	// Corrupt payload: quarantine leaves it compromised, but it is
	// re-added before each tick so every tick breaches.
	rec := f.putRecord(t, "sick", func(r *ledger.Record) {
		r.Payload = json.RawMessage(`{"broken`)
	})

	src := sourceFunc(func(ctx context.Context) ([]ledger.Record, error) {
		// Re-register the corrupt record so each tick sees it.
		if err := f.ledger.Put(ctx, rec); err != nil {
			return nil, err
		}
		return []ledger.Record{rec}, nil
	})

	s := NewScheduler(f.reporter, src, Config{
		Interval:       10 * time.Millisecond,
		AlertThreshold: 100,
		OnAlert:        f.onAlert,
	})
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.True(t, waitFor(t, 2*time.Second, func() bool {
		return f.alertCount() >= 3
	}), "expected repeated alerts, got %d", f.alertCount())
}

// sourceFunc adapts a function to the Source interface.
type sourceFunc func(ctx context.Context) ([]ledger.Record, error)

func (fn sourceFunc) Records(ctx context.Context) ([]ledger.Record, error) {
	return fn(ctx)
}

// TestScheduler_HealthyTicksStaySilent verifies no alerts for healthy
// batches.
func TestScheduler_HealthyTicksStaySilent(t *testing.T) {
	f := newFixture(t)
	f.putRecord(t, "fine", nil)

	s := NewScheduler(f.reporter, NewLedgerSource(f.ledger), Config{
		Interval:       5 * time.Millisecond,
		AlertThreshold: 100,
		OnAlert:        f.onAlert,
	})
	require.NoError(t, s.Start())

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Zero(t, f.alertCount())
}

// TestScheduler_NoAlertsAfterStop verifies the loop stops alerting once
// Stop returns.
func TestScheduler_NoAlertsAfterStop(t *testing.T) {
	f := newFixture(t)
	rec := f.putRecord(t, "sick", func(r *ledger.Record) {
		r.Payload = json.RawMessage(`{"broken`)
	})

	src := sourceFunc(func(ctx context.Context) ([]ledger.Record, error) {
		if err := f.ledger.Put(ctx, rec); err != nil {
			return nil, err
		}
		return []ledger.Record{rec}, nil
	})

	s := NewScheduler(f.reporter, src, Config{
		Interval:       5 * time.Millisecond,
		AlertThreshold: 100,
		OnAlert:        f.onAlert,
	})
	require.NoError(t, s.Start())

	waitFor(t, 2*time.Second, func() bool { return f.alertCount() >= 1 })
	s.Stop()

	settled := f.alertCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, f.alertCount(), "no alerts after Stop returned")
}

// TestScheduler_RunImmediate verifies on-demand runs work with and
// without the loop running and raise alerts on breach.
func TestScheduler_RunImmediate(t *testing.T) {
	f := newFixture(t)
	f.putRecord(t, "sick", func(r *ledger.Record) {
		r.Payload = json.RawMessage(`{"broken`)
	})

	s := NewScheduler(f.reporter, NewLedgerSource(f.ledger), Config{
		Interval:       time.Hour,
		AlertThreshold: 100,
		OnAlert:        f.onAlert,
	})

	rep, err := s.RunImmediate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Score)
	assert.Equal(t, 1, f.alertCount())

	// Quarantine removed the record; the next immediate run is clean.
	rep, err = s.RunImmediate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, rep.Score)
	assert.Equal(t, 1, f.alertCount())
}

// TestStaticSource verifies the fixed batch source.
func TestStaticSource(t *testing.T) {
	f := newFixture(t)
	rec := f.putRecord(t, "one", nil)

	src := StaticSource{rec}
	got, err := src.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, rec.Subject, got[0].Subject)
}
