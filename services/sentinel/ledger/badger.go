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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/sentinel/services/sentinel/tag"
)

// recordPrefix namespaces record keys inside the database so future key
// families (quarantine journal, report archive) can share the instance.
const recordPrefix = "record/"

// BadgerConfig holds configuration for a BadgerDB-backed ledger.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns sensible defaults for production use.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns configuration optimized for testing.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0, // disabled
	}
}

// badgerSlogAdapter adapts slog.Logger to BadgerDB's Logger interface.
type badgerSlogAdapter struct {
	logger *slog.Logger
}

func (l *badgerSlogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerLedger is a BadgerDB-backed Ledger for durable deployments.
//
// Records are stored as JSON under "record/<kind>/<id>" keys.
// CompareAndSwap runs as a single read-modify-write transaction, so the
// tag comparison and the replacement commit atomically.
//
// Thread Safety: safe for concurrent use.
type BadgerLedger struct {
	db       *badger.DB
	gcStop   chan struct{}
	gcDone   chan struct{}
	gcActive bool
	logger   *slog.Logger
}

// OpenBadgerLedger opens a BadgerDB-backed ledger.
//
// Description:
//
//	Opens the database at the configured path (creating the directory if
//	needed) or in memory, and starts a value log GC loop when GCInterval
//	is positive on a persistent database.
//
// Outputs:
//
//	*BadgerLedger - The opened ledger. Caller must call Close() when done.
//	error - Non-nil if path is invalid or the database cannot be opened.
func OpenBadgerLedger(cfg BadgerConfig) (*BadgerLedger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent ledger")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create ledger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerSlogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	bl := &BadgerLedger{
		db:     db,
		gcStop: make(chan struct{}),
		gcDone: make(chan struct{}),
		logger: cfg.Logger,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		bl.gcActive = true
		go bl.runGC(cfg.GCInterval, ratio)
	}

	return bl, nil
}

// runGC periodically triggers BadgerDB value log GC until Close.
func (bl *BadgerLedger) runGC(interval time.Duration, ratio float64) {
	defer close(bl.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-bl.gcStop:
			return
		case <-ticker.C:
			err := bl.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				// ErrNoRewrite means no GC was needed, not an error
				if bl.logger != nil {
					bl.logger.Warn("ledger value log GC error", slog.String("error", err.Error()))
				}
			}
		}
	}
}

// recordKey builds the database key for a subject.
func recordKey(s tag.Subject) []byte {
	return []byte(recordPrefix + s.Kind + "/" + s.ID)
}

// Get returns the record for the subject, or ErrNotFound.
func (bl *BadgerLedger) Get(ctx context.Context, s tag.Subject) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, &StorageError{Op: "get", Subject: s, Err: err}
	}

	var rec Record
	err := bl.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(s))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, &StorageError{Op: "get", Subject: s, Err: err}
	}
	return rec, nil
}

// Put stores the record, replacing any previous version.
func (bl *BadgerLedger) Put(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "put", Subject: r.Subject, Err: err}
	}

	data, err := json.Marshal(r)
	if err != nil {
		return &StorageError{Op: "put", Subject: r.Subject, Err: err}
	}
	err = bl.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(r.Subject), data)
	})
	if err != nil {
		return &StorageError{Op: "put", Subject: r.Subject, Err: err}
	}
	return nil
}

// Delete removes the subject's record. Absent records are not an error.
func (bl *BadgerLedger) Delete(ctx context.Context, s tag.Subject) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "delete", Subject: s, Err: err}
	}

	err := bl.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(s))
	})
	if err != nil {
		return &StorageError{Op: "delete", Subject: s, Err: err}
	}
	return nil
}

// CompareAndSwap stores r only if the current record's tag equals
// expectedTag. The read and the write commit in one transaction.
func (bl *BadgerLedger) CompareAndSwap(ctx context.Context, s tag.Subject, expectedTag tag.Tag, r Record) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "cas", Subject: s, Err: err}
	}

	data, err := json.Marshal(r)
	if err != nil {
		return &StorageError{Op: "cas", Subject: s, Err: err}
	}

	err = bl.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(s))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur Record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cur)
		}); err != nil {
			return err
		}
		if cur.Tag != expectedTag {
			return ErrCASConflict
		}
		return txn.Set(recordKey(s), data)
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCASConflict) {
		return err
	}
	if err != nil {
		return &StorageError{Op: "cas", Subject: s, Err: err}
	}
	return nil
}

// List returns all records in unspecified order.
func (bl *BadgerLedger) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}

	var out []Record
	err := bl.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return out, nil
}

// Len returns the number of records.
func (bl *BadgerLedger) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &StorageError{Op: "len", Err: err}
	}

	count := 0
	err := bl.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "len", Err: err}
	}
	return count, nil
}

// Close stops the GC loop and closes the database.
// Safe to call once; subsequent operations return errors from BadgerDB.
func (bl *BadgerLedger) Close() error {
	if bl.gcActive {
		close(bl.gcStop)
		<-bl.gcDone
		bl.gcActive = false
	}
	return bl.db.Close()
}

// Ensure BadgerLedger implements Ledger.
var _ Ledger = (*BadgerLedger)(nil)
