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
	"sync"

	"github.com/AleutianAI/sentinel/services/sentinel/tag"
)

// MemoryLedger is a map-backed Ledger for tests and ephemeral runs.
//
// Thread Safety: safe for concurrent use.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[tag.Subject]Record
	closed  bool
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[tag.Subject]Record),
	}
}

// Get returns the record for the subject, or ErrNotFound.
func (m *MemoryLedger) Get(_ context.Context, s tag.Subject) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrClosed
	}
	r, ok := m.records[s]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r.Clone(), nil
}

// Put stores the record, replacing any previous version.
func (m *MemoryLedger) Put(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.records[r.Subject] = r.Clone()
	return nil
}

// Delete removes the subject's record. Absent records are not an error.
func (m *MemoryLedger) Delete(_ context.Context, s tag.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.records, s)
	return nil
}

// CompareAndSwap stores r only if the current record's tag equals
// expectedTag.
func (m *MemoryLedger) CompareAndSwap(_ context.Context, s tag.Subject, expectedTag tag.Tag, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	cur, ok := m.records[s]
	if !ok {
		return ErrNotFound
	}
	if cur.Tag != expectedTag {
		return ErrCASConflict
	}
	m.records[s] = r.Clone()
	return nil
}

// List returns all records in unspecified order.
func (m *MemoryLedger) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

// Len returns the number of records.
func (m *MemoryLedger) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return len(m.records), nil
}

// Close marks the ledger closed. Further operations return ErrClosed.
func (m *MemoryLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ensure MemoryLedger implements Ledger.
var _ Ledger = (*MemoryLedger)(nil)
