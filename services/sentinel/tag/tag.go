// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tag generates and validates opaque integrity tags and watermarks.
//
// A tag is a tamper-evidence marker attached to every protected record. It
// is NOT a cryptographic MAC or signature: the default implementation is a
// rolling (FNV-1a) hash over the subject, purpose, and generation time.
// Because the generation time is folded into the tag, two tags for the same
// subject are never required to be equal, and validation is therefore
// structural (format and provenance) rather than reconstruct-and-compare.
//
// Callers that need real tamper detection should provide their own Tagger
// implementation (HMAC, digital signature); the verification and repair
// engines only depend on the Tagger interface, never on the rolling hash.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package tag

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// Format constants for the versioned tag and watermark schemes.
const (
	// TagPrefix is the versioned prefix of every rolling-hash tag.
	TagPrefix = "st1"

	// WatermarkPrefix is the versioned prefix of every watermark.
	WatermarkPrefix = "wm1"

	// tagSegments is the expected dot-separated segment count of a tag,
	// including the prefix.
	tagSegments = 5

	// DefaultOwner is the watermark owner fragment used when no owner is
	// configured.
	DefaultOwner = "aleutian.sentinel"
)

// ErrEmptySubject is returned by Generate when the subject has no ID.
// Generation is a pure function and must never fail for a well-formed
// subject; an empty subject is a programming bug in the caller.
var ErrEmptySubject = fmt.Errorf("tag: subject id must not be empty")

// Subject identifies anything placed under integrity protection: a software
// component, a cached payload, or a device descriptor.
//
// Subjects are immutable once created.
type Subject struct {
	// ID uniquely identifies the subject within its kind.
	ID string `json:"id"`

	// Kind groups subjects by what they are ("component", "payload", ...).
	Kind string `json:"kind"`
}

// String returns "kind/id" for logs and error messages.
func (s Subject) String() string {
	return s.Kind + "/" + s.ID
}

// Tag is an opaque integrity marker. Treat it as a black box: its layout is
// an implementation detail of the Tagger that produced it.
type Tag string

// Tagger generates and validates integrity tags and watermarks.
//
// Description:
//
//	Tagger is the swappable tamper-evidence primitive. Implementations
//	must be pure: no I/O, no blocking, safe for concurrent use. The
//	error return of Generate exists so that a future cryptographic
//	implementation can surface key-loading bugs; the rolling-hash
//	implementation only fails on an empty subject.
//
// Thread Safety: implementations must be safe for concurrent use.
type Tagger interface {
	// Generate produces a fresh tag for the subject and purpose.
	Generate(s Subject, purpose string) (Tag, error)

	// Validate reports whether the tag is structurally valid for this
	// tagger's scheme. It must not attempt to reproduce the tag.
	Validate(t Tag, s Subject, purpose string) bool

	// Watermark produces an ownership marker for the subject.
	Watermark(s Subject) string

	// CheckWatermark reports whether the watermark carries this tagger's
	// owner fragment and is well formed.
	CheckWatermark(wm string, s Subject) bool
}

// RollingTagger is the default non-cryptographic Tagger.
//
// Tags have the layout
//
//	st1.<kind-sum>.<id-sum>.<unix-milli-hex>.<mix-sum>
//
// where each sum is a hex-encoded FNV-1a value. Watermarks have the layout
//
//	wm1.<owner-hex>.<subject-sum>
//
// Thread Safety: safe for concurrent use.
type RollingTagger struct {
	owner string
	now   func() time.Time
}

// TaggerOption configures a RollingTagger.
type TaggerOption func(*RollingTagger)

// WithOwner sets the watermark owner fragment.
func WithOwner(owner string) TaggerOption {
	return func(rt *RollingTagger) {
		if owner != "" {
			rt.owner = owner
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) TaggerOption {
	return func(rt *RollingTagger) {
		if now != nil {
			rt.now = now
		}
	}
}

// NewRollingTagger creates the default rolling-hash tagger.
//
// Outputs:
//
//	*RollingTagger - Ready for concurrent use. Never nil.
func NewRollingTagger(opts ...TaggerOption) *RollingTagger {
	rt := &RollingTagger{
		owner: DefaultOwner,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Owner returns the configured watermark owner fragment.
func (rt *RollingTagger) Owner() string {
	return rt.owner
}

// Generate produces a fresh tag for the subject and purpose.
//
// Description:
//
//	Pure function of (subject, purpose, now). Two calls for the same
//	subject yield different tags because the generation time is part of
//	the input; callers must never compare tags for equality.
//
// Outputs:
//
//	Tag - The generated tag.
//	error - ErrEmptySubject if the subject has no ID. Never otherwise.
func (rt *RollingTagger) Generate(s Subject, purpose string) (Tag, error) {
	if s.ID == "" {
		return "", ErrEmptySubject
	}

	ts := rt.now().UnixMilli()
	mix := sum32(s.Kind + "\x1f" + s.ID + "\x1f" + purpose + "\x1f" + strconv.FormatInt(ts, 10))

	t := fmt.Sprintf("%s.%08x.%08x.%x.%08x",
		TagPrefix, sum32(s.Kind), sum32(s.ID), ts, mix)
	return Tag(t), nil
}

// Validate reports whether the tag is structurally valid.
//
// Description:
//
//	Checks prefix, segment count, hex encoding, and an embedded timestamp
//	greater than zero. It deliberately does NOT regenerate the tag for
//	comparison: the embedded timestamp makes tags non-reproducible. A
//	forged but well-formed tag passes this check. That is the documented
//	limit of the rolling scheme (see the package comment).
//
// The subject and purpose parameters are unused by this implementation and
// exist for interface symmetry with reconstructive taggers.
func (rt *RollingTagger) Validate(t Tag, _ Subject, _ string) bool {
	parts := strings.Split(string(t), ".")
	if len(parts) != tagSegments || parts[0] != TagPrefix {
		return false
	}
	for _, p := range parts[1:] {
		if p == "" || !isLowerHex(p) {
			return false
		}
	}
	ts, err := strconv.ParseInt(parts[3], 16, 64)
	if err != nil || ts <= 0 {
		return false
	}
	return true
}

// Watermark produces the ownership marker for the subject.
func (rt *RollingTagger) Watermark(s Subject) string {
	return fmt.Sprintf("%s.%s.%08x",
		WatermarkPrefix, hex.EncodeToString([]byte(rt.owner)), sum32(s.Kind+"\x1f"+s.ID))
}

// CheckWatermark reports whether the watermark is well formed and carries
// the configured owner fragment.
func (rt *RollingTagger) CheckWatermark(wm string, _ Subject) bool {
	parts := strings.Split(wm, ".")
	if len(parts) != 3 || parts[0] != WatermarkPrefix {
		return false
	}
	return parts[1] == hex.EncodeToString([]byte(rt.owner))
}

// sum32 returns the FNV-1a 32-bit sum of s.
func sum32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// isLowerHex reports whether s consists only of [0-9a-f].
func isLowerHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// Ensure RollingTagger implements Tagger.
var _ Tagger = (*RollingTagger)(nil)
