// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sentinel/services/sentinel/tag"
)

// openLedgers returns one instance of every Ledger implementation, each
// registered for cleanup. Tests run against all of them.
func openLedgers(t *testing.T) map[string]Ledger {
	t.Helper()

	bl, err := OpenBadgerLedger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bl.Close() })

	ml := NewMemoryLedger()
	t.Cleanup(func() { _ = ml.Close() })

	return map[string]Ledger{
		"memory": ml,
		"badger": bl,
	}
}

func testRecord(id string) Record {
	return Record{
		Subject:      tag.Subject{ID: id, Kind: "component"},
		Tag:          tag.Tag("st1.0000aaaa.0000bbbb.18b5a1e2f00.0000cccc"),
		Watermark:    "wm1.616c65757469616e.0000dddd",
		Payload:      json.RawMessage(`{"name":"` + id + `"}`),
		RegisteredAt: time.Now().UnixMilli(),
	}
}

// TestLedger_PutGetDelete exercises the basic keyed operations.
func TestLedger_PutGetDelete(t *testing.T) {
	for name, l := range openLedgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := testRecord("sync-engine")

			require.NoError(t, l.Put(ctx, rec))

			got, err := l.Get(ctx, rec.Subject)
			require.NoError(t, err)
			assert.Equal(t, rec.Tag, got.Tag)
			assert.Equal(t, rec.Watermark, got.Watermark)
			assert.JSONEq(t, string(rec.Payload), string(got.Payload))

			require.NoError(t, l.Delete(ctx, rec.Subject))
			_, err = l.Get(ctx, rec.Subject)
			assert.ErrorIs(t, err, ErrNotFound)

			// deleting again is not an error
			assert.NoError(t, l.Delete(ctx, rec.Subject))
		})
	}
}

// TestLedger_GetMissing verifies ErrNotFound for unknown subjects.
func TestLedger_GetMissing(t *testing.T) {
	for name, l := range openLedgers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := l.Get(context.Background(), tag.Subject{ID: "ghost", Kind: "component"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// TestLedger_CompareAndSwap verifies the success, conflict, and missing
// cases of CAS.
func TestLedger_CompareAndSwap(t *testing.T) {
	for name, l := range openLedgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := testRecord("cas-target")
			require.NoError(t, l.Put(ctx, rec))

			next := rec
			next.Tag = tag.Tag("st1.11111111.22222222.18b5a1e2f01.33333333")
			require.NoError(t, l.CompareAndSwap(ctx, rec.Subject, rec.Tag, next))

			got, err := l.Get(ctx, rec.Subject)
			require.NoError(t, err)
			assert.Equal(t, next.Tag, got.Tag)

			// stale expected tag loses
			err = l.CompareAndSwap(ctx, rec.Subject, rec.Tag, rec)
			assert.ErrorIs(t, err, ErrCASConflict)

			// missing record
			err = l.CompareAndSwap(ctx, tag.Subject{ID: "ghost", Kind: "component"}, rec.Tag, rec)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// TestLedger_ListAndLen verifies enumeration.
func TestLedger_ListAndLen(t *testing.T) {
	for name, l := range openLedgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, l.Put(ctx, testRecord(id)))
			}

			n, err := l.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			records, err := l.List(ctx)
			require.NoError(t, err)
			assert.Len(t, records, 3)

			seen := make(map[string]bool)
			for _, r := range records {
				seen[r.Subject.ID] = true
			}
			assert.True(t, seen["a"] && seen["b"] && seen["c"])
		})
	}
}

// TestLedger_ConcurrentCAS verifies only one of N racing swaps wins when
// they all expect the same prior tag.
func TestLedger_ConcurrentCAS(t *testing.T) {
	for name, l := range openLedgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := testRecord("contended")
			require.NoError(t, l.Put(ctx, rec))

			const racers = 8
			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0

			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					next := rec
					next.Tag = tag.Tag("st1.00000000.00000000.18b5a1e2f00.0000000" + string(rune('0'+i)))
					if err := l.CompareAndSwap(ctx, rec.Subject, rec.Tag, next); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, 1, wins)
		})
	}
}

// TestMemoryLedger_Closed verifies post-Close behavior.
func TestMemoryLedger_Closed(t *testing.T) {
	ml := NewMemoryLedger()
	require.NoError(t, ml.Close())

	_, err := ml.Get(context.Background(), tag.Subject{ID: "x", Kind: "component"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ml.Put(context.Background(), testRecord("x")), ErrClosed)
}

// TestStorageError_Unwrap verifies error wrapping semantics.
func TestStorageError_Unwrap(t *testing.T) {
	inner := context.Canceled
	se := &StorageError{Op: "get", Subject: tag.Subject{ID: "x", Kind: "component"}, Err: inner}

	assert.ErrorIs(t, se, context.Canceled)
	assert.Contains(t, se.Error(), "component/x")
}
