// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify decides what is wrong with a protected record.
//
// The engine is a pure classifier: it inspects one record and produces a
// Verification naming every issue found. It never repairs, never writes to
// the ledger, and never returns an error for a bad record. Findings are
// data; only infrastructure can fail, and the engine has no infrastructure.
//
// # Check Order
//
// Payload integrity is checked first. A record whose payload no longer
// parses is untrustworthy end to end, so tag and watermark checks are
// skipped and the single finding is Corrupted. For records with an intact
// payload, tag and watermark are checked independently and can both appear
// in the same Verification.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package verify

import (
	"time"

	"github.com/AleutianAI/sentinel/services/sentinel/tag"
)

// IssueKind classifies a single finding on a record.
type IssueKind int

const (
	// IssueInvalidTag indicates the integrity tag failed structural
	// validation.
	IssueInvalidTag IssueKind = iota

	// IssueInvalidWatermark indicates the ownership marker is missing,
	// malformed, or carries a foreign owner.
	IssueInvalidWatermark

	// IssueCorrupted indicates the protected payload no longer parses.
	IssueCorrupted

	// IssueUnknown indicates the engine could not classify the record.
	IssueUnknown
)

// String returns a stable machine-readable kind name.
func (k IssueKind) String() string {
	switch k {
	case IssueInvalidTag:
		return "invalid_tag"
	case IssueInvalidWatermark:
		return "invalid_watermark"
	case IssueCorrupted:
		return "corrupted"
	case IssueUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Severity ranks how bad a finding is.
type Severity int

const (
	// SeverityLow is informational.
	SeverityLow Severity = iota

	// SeverityMedium warrants attention.
	SeverityMedium

	// SeverityHigh indicates a trust boundary violation.
	SeverityHigh

	// SeverityCritical indicates the record cannot be trusted at all.
	SeverityCritical
)

// String returns a human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status is the overall trust state of a record after a check, and after
// any repair attempt.
type Status int

const (
	// StatusVerified indicates every check passed.
	StatusVerified Status = iota

	// StatusCompromised indicates at least one issue was found and not
	// yet repaired.
	StatusCompromised

	// StatusRepairing indicates a repair is in flight.
	StatusRepairing

	// StatusRepaired indicates issues were found and all were repaired.
	StatusRepaired
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusCompromised:
		return "compromised"
	case StatusRepairing:
		return "repairing"
	case StatusRepaired:
		return "repaired"
	default:
		return "unknown"
	}
}

// Issue is a single finding on a record.
type Issue struct {
	// Kind classifies the finding.
	Kind IssueKind `json:"kind"`

	// Severity ranks the finding.
	Severity Severity `json:"severity"`

	// Repaired is set by the repair engine once the finding has been
	// fixed. The verification engine always emits it false.
	Repaired bool `json:"repaired"`

	// Detail is a short human-readable explanation.
	Detail string `json:"detail,omitempty"`
}

// Verification is the outcome of checking one record.
type Verification struct {
	// Subject identifies the checked record.
	Subject tag.Subject `json:"subject"`

	// Status is the overall trust state.
	Status Status `json:"status"`

	// Issues lists every finding, in check order. Empty when Verified.
	Issues []Issue `json:"issues,omitempty"`

	// CheckedAt is when the check ran (Unix milliseconds UTC).
	CheckedAt int64 `json:"checked_at"`
}

// Clean reports whether the verification found nothing wrong.
func (v *Verification) Clean() bool {
	return v.Status == StatusVerified && len(v.Issues) == 0
}

// Unrepaired returns the issues that remain unrepaired.
func (v *Verification) Unrepaired() []Issue {
	var out []Issue
	for _, is := range v.Issues {
		if !is.Repaired {
			out = append(out, is)
		}
	}
	return out
}

// now returns the current Unix millisecond timestamp. Overridable in tests.
var now = func() int64 {
	return time.Now().UnixMilli()
}
