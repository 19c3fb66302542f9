// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/sentinel/services/sentinel/ledger"
	"github.com/AleutianAI/sentinel/services/sentinel/tag"
)

// purposeProtect is the tag purpose used for ledger records.
const purposeProtect = "protect"

// Engine classifies records. It is a total function over records: every
// input, however mangled, yields a Verification.
//
// Thread Safety: safe for concurrent use.
type Engine struct {
	tagger tag.Tagger
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger for check-level debug output.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a verification engine backed by the given tagger.
//
// Outputs:
//
//	*Engine - Ready for concurrent use. Never nil.
func NewEngine(tagger tag.Tagger, opts ...EngineOption) *Engine {
	e := &Engine{
		tagger: tagger,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check inspects one record and reports every issue found.
//
// Description:
//
//	Payload first: a payload that fails to parse yields a single
//	Corrupted finding and no further checks, because a corrupt record
//	cannot vouch for its own markers. Otherwise the tag and watermark
//	are checked independently. The input record is never mutated. A
//	panic inside a check is converted to an Unknown finding so a batch
//	over many records cannot be taken down by one of them.
//
// Inputs:
//
//	rec - The record to classify. Checked as-is, not re-read.
//
// Outputs:
//
//	Verification - Always populated, never an error.
func (e *Engine) Check(rec ledger.Record) (v Verification) {
	v = Verification{
		Subject:   rec.Subject,
		Status:    StatusVerified,
		CheckedAt: now(),
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("verification panic",
				slog.String("subject", rec.Subject.String()),
				slog.Any("panic", r))
			v.Status = StatusCompromised
			v.Issues = []Issue{{
				Kind:     IssueUnknown,
				Severity: SeverityCritical,
				Detail:   fmt.Sprintf("check panicked: %v", r),
			}}
		}
	}()

	if len(rec.Payload) > 0 && !json.Valid(rec.Payload) {
		v.Status = StatusCompromised
		v.Issues = append(v.Issues, Issue{
			Kind:     IssueCorrupted,
			Severity: SeverityCritical,
			Detail:   "payload is not valid JSON",
		})
		return v
	}

	if !e.tagger.Validate(rec.Tag, rec.Subject, purposeProtect) {
		v.Issues = append(v.Issues, Issue{
			Kind:     IssueInvalidTag,
			Severity: SeverityCritical,
			Detail:   "integrity tag failed structural validation",
		})
	}
	if !e.tagger.CheckWatermark(rec.Watermark, rec.Subject) {
		v.Issues = append(v.Issues, Issue{
			Kind:     IssueInvalidWatermark,
			Severity: SeverityHigh,
			Detail:   "watermark missing or carries a foreign owner",
		})
	}

	if len(v.Issues) > 0 {
		v.Status = StatusCompromised
	}
	return v
}
