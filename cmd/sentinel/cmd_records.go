// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sentinel/services/sentinel/ledger"
	"github.com/AleutianAI/sentinel/services/sentinel/tag"
)

// runRegisterCommand places a subject under integrity protection.
//
// # Description
//
// Generates the integrity tag and watermark for the subject and stores
// the record in the ledger. The ledger must not be held open by a
// running daemon (BadgerDB is single-process).
//
// # Limitations
//
//   - Exits 2 on config, storage, or payload failures.
func runRegisterCommand(cmd *cobra.Command, args []string) {
	payload := recordPayload
	if strings.HasPrefix(payload, "@") {
		data, err := os.ReadFile(payload[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read payload file: %v\n", err)
			os.Exit(exitError)
		}
		payload = string(data)
	}
	if payload != "" && !json.Valid([]byte(payload)) {
		fmt.Fprintln(os.Stderr, "Payload must be valid JSON")
		os.Exit(exitError)
	}

	p, err := buildPipeline("manual", nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(exitError)
	}
	defer p.close()

	s := tag.Subject{ID: args[0], Kind: recordKind}
	tg, err := p.tagger.Generate(s, "protect")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to tag %s: %v\n", s, err)
		os.Exit(exitError)
	}

	rec := ledger.Record{
		Subject:      s,
		Tag:          tg,
		Watermark:    p.tagger.Watermark(s),
		RegisteredAt: time.Now().UnixMilli(),
	}
	if payload != "" {
		rec.Payload = json.RawMessage(payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.ledger.Put(ctx, rec); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to store %s: %v\n", s, err)
		os.Exit(exitError)
	}

	fmt.Printf("Registered %s\n  tag: %s\n  watermark: %s\n", s, rec.Tag, rec.Watermark)
}

// runUnregisterCommand removes a subject from integrity protection.
func runUnregisterCommand(cmd *cobra.Command, args []string) {
	p, err := buildPipeline("manual", nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(exitError)
	}
	defer p.close()

	s := tag.Subject{ID: args[0], Kind: recordKind}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.ledger.Delete(ctx, s); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to delete %s: %v\n", s, err)
		os.Exit(exitError)
	}

	fmt.Printf("Unregistered %s\n", s)
}
