// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sentinel/services/sentinel/ledger"
	"github.com/AleutianAI/sentinel/services/sentinel/repair"
	"github.com/AleutianAI/sentinel/services/sentinel/tag"
	"github.com/AleutianAI/sentinel/services/sentinel/verify"
)

type fixture struct {
	ledger   *ledger.MemoryLedger
	tagger   *tag.RollingTagger
	reporter *Reporter
}

func newFixture(t *testing.T, opts ...ReporterOption) *fixture {
	t.Helper()

	f := &fixture{
		ledger: ledger.NewMemoryLedger(),
		tagger: tag.NewRollingTagger(),
	}
	t.Cleanup(func() { _ = f.ledger.Close() })

	verifier := verify.NewEngine(f.tagger)
	repairer := repair.NewEngine(f.ledger, f.tagger)
	f.reporter = NewReporter(verifier, repairer, f.ledger, opts...)
	return f
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

// TestRunOnce_AllHealthy verifies a fully healthy batch scores 100 and
// advances LastVerifiedAt.
func TestRunOnce_AllHealthy(t *testing.T) {
	f := newFixture(t)

	var records []ledger.Record
	for i := 0; i < 10; i++ {
		records = append(records, f.putRecord(t, fmt.Sprintf("svc-%d", i), nil))
	}

	rep, err := f.reporter.RunOnce(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 10, rep.Checked)
	assert.Equal(t, 10, rep.Verified)
	assert.Equal(t, 0, rep.Repaired)
	assert.Equal(t, 0, rep.Compromised)
	assert.Equal(t, 100, rep.Score)
	assert.Len(t, rep.Details, 10)
	assert.NotEmpty(t, rep.ID)

	stored, err := f.ledger.Get(context.Background(), records[0].Subject)
	require.NoError(t, err)
	assert.NotZero(t, stored.LastVerifiedAt)
}

// TestRunOnce_RepairsBadTags verifies tampered tags are repaired in-run
// and still count toward a perfect score.
func TestRunOnce_RepairsBadTags(t *testing.T) {
	f := newFixture(t)

	var records []ledger.Record
	for i := 0; i < 7; i++ {
		records = append(records, f.putRecord(t, fmt.Sprintf("svc-%d", i), nil))
	}
	for i := 7; i < 10; i++ {
		records = append(records, f.putRecord(t, fmt.Sprintf("svc-%d", i), func(r *ledger.Record) {
			r.Tag = "tampered"
		}))
	}

	rep, err := f.reporter.RunOnce(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 10, rep.Checked)
	assert.Equal(t, 7, rep.Verified)
	assert.Equal(t, 3, rep.Repaired)
	assert.Equal(t, 0, rep.Compromised)
	assert.Equal(t, 100, rep.Score)

	for i := 7; i < 10; i++ {
		stored, err := f.ledger.Get(context.Background(), records[i].Subject)
		require.NoError(t, err)
		assert.True(t, f.tagger.Validate(stored.Tag, stored.Subject, "protect"))
	}
}

// TestRunOnce_CorruptedLowersScore verifies quarantined records count as
// compromised and the score drops accordingly.
func TestRunOnce_CorruptedLowersScore(t *testing.T) {
	f := newFixture(t)

	var records []ledger.Record
	for i := 0; i < 8; i++ {
		records = append(records, f.putRecord(t, fmt.Sprintf("svc-%d", i), nil))
	}
	for i := 8; i < 10; i++ {
		records = append(records, f.putRecord(t, fmt.Sprintf("svc-%d", i), func(r *ledger.Record) {
			r.Payload = json.RawMessage(`{"broken`)
		}))
	}

	rep, err := f.reporter.RunOnce(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 8, rep.Verified)
	assert.Equal(t, 2, rep.Compromised)
	assert.Equal(t, 80, rep.Score)

	// Quarantined records are gone from the ledger.
	n, err := f.ledger.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

// TestRunOnce_EmptyBatch verifies an empty batch scores 100.
func TestRunOnce_EmptyBatch(t *testing.T) {
	f := newFixture(t)

	rep, err := f.reporter.RunOnce(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Checked)
	assert.Equal(t, 100, rep.Score)
	assert.Empty(t, rep.Details)
}

// TestRunOnce_VanishedRecordStaysCompromised verifies a record that
// disappears between listing and repair stays compromised while the rest
// of the batch completes.
func TestRunOnce_VanishedRecordStaysCompromised(t *testing.T) {
	f := newFixture(t)

	good := f.putRecord(t, "good", nil)
	bad := f.putRecord(t, "bad", func(r *ledger.Record) {
		r.Tag = "tampered"
	})
	require.NoError(t, f.ledger.Delete(context.Background(), bad.Subject))

	rep, err := f.reporter.RunOnce(context.Background(), []ledger.Record{good, bad})
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 1, rep.Verified)
	assert.Equal(t, 1, rep.Compromised)
	assert.Equal(t, 50, rep.Score)
}

// TestRunOnce_DetailsKeepBatchOrder verifies Details[i] matches
// records[i] even with parallel checking.
func TestRunOnce_DetailsKeepBatchOrder(t *testing.T) {
	f := newFixture(t, WithParallelLimit(4))

	var records []ledger.Record
	for i := 0; i < 20; i++ {
		records = append(records, f.putRecord(t, fmt.Sprintf("svc-%02d", i), nil))
	}

	rep, err := f.reporter.RunOnce(context.Background(), records)
	require.NoError(t, err)

	require.Len(t, rep.Details, 20)
	for i, d := range rep.Details {
		assert.Equal(t, records[i].Subject, d.Subject)
	}
}

// TestRunOnce_CanceledContext verifies cancellation aborts the run.
func TestRunOnce_CanceledContext(t *testing.T) {
	f := newFixture(t)
	rec := f.putRecord(t, "any", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.reporter.RunOnce(ctx, []ledger.Record{rec})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestReport_Healthy verifies threshold comparison.
func TestReport_Healthy(t *testing.T) {
	rep := Report{Score: 90}
	assert.True(t, rep.Healthy(90))
	assert.False(t, rep.Healthy(91))
}

// TestScore pins the rounding behavior.
func TestScore(t *testing.T) {
	assert.Equal(t, 100, score(0, 0))
	assert.Equal(t, 100, score(10, 10))
	assert.Equal(t, 0, score(10, 0))
	assert.Equal(t, 33, score(3, 1))
	assert.Equal(t, 67, score(3, 2))
	assert.Equal(t, 50, score(2, 1))
}
