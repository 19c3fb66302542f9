// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger stores the records under integrity protection.
//
// The ledger is a keyed store of Record entries, one per protected subject.
// Two implementations are provided:
//
//   - MemoryLedger: map-backed, for tests and ephemeral runs
//   - BadgerLedger: BadgerDB-backed, for durable deployments
//
// Ownership rules: a record is created when a subject registers, its tag and
// watermark are rewritten only by the repair engine, its LastVerifiedAt is
// advanced only after a passed check, and it is deleted only by explicit
// unregistration or quarantine.
//
// Infrastructure faults (storage I/O) surface as Go errors from this
// package. They are deliberately distinct from verification findings, which
// are data, never errors.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/sentinel/services/sentinel/tag"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates no record exists for the subject.
	ErrNotFound = errors.New("ledger: record not found")

	// ErrCASConflict indicates a CompareAndSwap lost the race: the stored
	// tag no longer matches the expected tag.
	ErrCASConflict = errors.New("ledger: compare-and-swap conflict")

	// ErrClosed indicates the ledger has been closed.
	ErrClosed = errors.New("ledger: closed")
)

// StorageError wraps an infrastructure fault from the backing store.
//
// A StorageError is never a tamper finding. Callers that see one during a
// batch check should record the affected subject and continue with the
// remaining records.
type StorageError struct {
	// Op is the failing operation ("get", "put", "delete", "cas", "list").
	Op string

	// Subject is the record the operation targeted, when applicable.
	Subject tag.Subject

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Subject.ID == "" {
		return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Subject, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------
// Record
// -----------------------------------------------------------------------------

// Record is the protected unit tracked by the ledger: a component
// descriptor or a cached payload, together with its integrity markers.
//
// Timestamps are Unix milliseconds UTC.
type Record struct {
	// Subject identifies what this record protects.
	Subject tag.Subject `json:"subject"`

	// Tag is the current integrity tag.
	Tag tag.Tag `json:"tag"`

	// Watermark is the current ownership marker.
	Watermark string `json:"watermark"`

	// Payload is the protected content, stored as raw JSON. A payload
	// that no longer parses is the corruption signal for the
	// verification engine.
	Payload json.RawMessage `json:"payload,omitempty"`

	// LastVerifiedAt is when the record last passed verification.
	// Zero until the first successful check.
	LastVerifiedAt int64 `json:"last_verified_at"`

	// RegisteredAt is when the subject was registered.
	RegisteredAt int64 `json:"registered_at"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Payload != nil {
		out.Payload = make(json.RawMessage, len(r.Payload))
		copy(out.Payload, r.Payload)
	}
	return out
}

// -----------------------------------------------------------------------------
// Ledger interface
// -----------------------------------------------------------------------------

// Ledger is the storage collaborator for protected records.
//
// Description:
//
//	Get/Put/Delete are plain keyed operations. CompareAndSwap replaces a
//	record only if the stored tag still equals expectedTag; it is the
//	serialization point that keeps concurrent repairs of the same subject
//	from interleaving tag and watermark writes.
//
// Thread Safety: implementations must be safe for concurrent use.
type Ledger interface {
	// Get returns the record for the subject, or ErrNotFound.
	Get(ctx context.Context, s tag.Subject) (Record, error)

	// Put stores the record, replacing any previous version.
	Put(ctx context.Context, r Record) error

	// Delete removes the subject's record. Deleting an absent record is
	// not an error.
	Delete(ctx context.Context, s tag.Subject) error

	// CompareAndSwap stores r only if the current record's tag equals
	// expectedTag. Returns ErrCASConflict if the tag moved and
	// ErrNotFound if the record is gone.
	CompareAndSwap(ctx context.Context, s tag.Subject, expectedTag tag.Tag, r Record) error

	// List returns all records. Order is unspecified.
	List(ctx context.Context) ([]Record, error)

	// Len returns the number of records.
	Len(ctx context.Context) (int, error)

	// Close releases resources held by the ledger.
	Close() error
}
