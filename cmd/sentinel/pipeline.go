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
	"fmt"
	"os"

	"github.com/AleutianAI/sentinel/pkg/logging"
	"github.com/AleutianAI/sentinel/services/sentinel/config"
	"github.com/AleutianAI/sentinel/services/sentinel/ledger"
	"github.com/AleutianAI/sentinel/services/sentinel/repair"
	"github.com/AleutianAI/sentinel/services/sentinel/report"
	"github.com/AleutianAI/sentinel/services/sentinel/schedule"
	"github.com/AleutianAI/sentinel/services/sentinel/tag"
	"github.com/AleutianAI/sentinel/services/sentinel/verify"
)

// Process exit codes.
const (
	exitOK     = 0
	exitBreach = 1
	exitError  = 2
)

// pipeline bundles the wired integrity stack for one command invocation.
type pipeline struct {
	cfg       config.Config
	logger    *logging.Logger
	ledger    ledger.Ledger
	tagger    *tag.RollingTagger
	reporter  *report.Reporter
	scheduler *schedule.Scheduler
}

// buildPipeline loads configuration and wires the full stack.
//
// # Description
//
// Opens the ledger (BadgerDB or in-memory per config), constructs the
// tagger, verification, repair, and reporting layers, and a scheduler
// over the whole ledger. Callers must call close() when done.
//
// # Inputs
//
//   - trigger: Label for this invocation's runs ("manual", "scheduled",
//     "api").
//   - onAlert: Receiver for sub-threshold reports. May be nil.
//   - override: Applied to the loaded config before wiring. May be nil.
//
// # Outputs
//
//   - *pipeline: The wired stack.
//   - error: Non-nil for config or storage failures.
func buildPipeline(trigger string, onAlert schedule.AlertFunc, override func(*config.Config)) (*pipeline, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
	}
	if dataDirFlag != "" {
		cfg.Storage.DataDir = dataDirFlag
		cfg.Storage.InMemory = false
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		LogDir:  cfg.Log.Dir,
		Service: "sentinel",
		JSON:    cfg.Log.JSON,
	})
	slogger := logger.Slog()

	var store ledger.Ledger
	if cfg.Storage.InMemory {
		store = ledger.NewMemoryLedger()
	} else {
		bcfg := ledger.DefaultBadgerConfig(cfg.Storage.DataDir)
		bcfg.SyncWrites = cfg.Storage.SyncWrites
		bcfg.Logger = slogger
		store, err = ledger.OpenBadgerLedger(bcfg)
		if err != nil {
			_ = logger.Close()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
	}

	tagger := tag.NewRollingTagger(tag.WithOwner(cfg.Owner))
	verifier := verify.NewEngine(tagger, verify.WithLogger(slogger))
	repairer := repair.NewEngine(store, tagger,
		repair.WithLogger(slogger),
		repair.WithCASRetries(cfg.Check.CASRetries))
	reporter := report.NewReporter(verifier, repairer, store,
		report.WithLogger(slogger),
		report.WithParallelLimit(cfg.Check.ParallelLimit),
		report.WithTrigger(trigger))
	scheduler := schedule.NewScheduler(reporter, schedule.NewLedgerSource(store), schedule.Config{
		Interval:       cfg.Check.Interval.Std(),
		AlertThreshold: cfg.Check.AlertThreshold,
		OnAlert:        onAlert,
		Logger:         slogger,
	})

	return &pipeline{
		cfg:       cfg,
		logger:    logger,
		ledger:    store,
		tagger:    tagger,
		reporter:  reporter,
		scheduler: scheduler,
	}, nil
}

// close releases the pipeline's resources.
func (p *pipeline) close() {
	if err := p.ledger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing ledger: %v\n", err)
	}
	_ = p.logger.Close()
}
