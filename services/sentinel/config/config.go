// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the sentinel daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// configValidate is the shared validator instance.
var configValidate = validator.New()

// Duration wraps time.Duration with yaml support for "5m"-style strings.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// CheckConfig controls the verification pipeline.
type CheckConfig struct {
	// Interval between scheduled integrity runs.
	Interval Duration `yaml:"interval"`

	// AlertThreshold is the minimum healthy integrity score (1-100).
	AlertThreshold int `yaml:"alert_threshold" validate:"min=0,max=100"`

	// ParallelLimit bounds concurrent record checks per run.
	ParallelLimit int `yaml:"parallel_limit" validate:"min=0,max=256"`

	// CASRetries bounds repair write-back retries after a lost swap.
	CASRetries int `yaml:"cas_retries" validate:"min=0,max=16"`
}

// StorageConfig controls the ledger backend.
type StorageConfig struct {
	// DataDir is the BadgerDB directory. Ignored when InMemory is true.
	DataDir string `yaml:"data_dir"`

	// InMemory keeps the ledger in RAM. Data is lost on exit.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites forces synchronous writes for durability.
	SyncWrites bool `yaml:"sync_writes"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	// Addr is the listen address for the API and /metrics.
	Addr string `yaml:"addr"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`

	// Dir, when set, duplicates logs into a file under this directory.
	Dir string `yaml:"dir"`
}

// Config is the full daemon configuration.
type Config struct {
	// Owner is the watermark owner fragment stamped on every record.
	Owner string `yaml:"owner" validate:"omitempty,min=3"`

	Check   CheckConfig   `yaml:"check"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// Default configuration values.
const (
	DefaultOwner          = "aleutian.sentinel"
	DefaultInterval       = 5 * time.Minute
	DefaultAlertThreshold = 100
	DefaultParallelLimit  = 10
	DefaultCASRetries     = 3
	DefaultDataDir        = "/var/lib/sentinel"
	DefaultAddr           = ":8089"
	DefaultLogLevel       = "info"
)

// DefaultConfig returns a fully populated production configuration.
func DefaultConfig() Config {
	return Config{
		Owner: DefaultOwner,
		Check: CheckConfig{
			Interval:       Duration(DefaultInterval),
			AlertThreshold: DefaultAlertThreshold,
			ParallelLimit:  DefaultParallelLimit,
			CASRetries:     DefaultCASRetries,
		},
		Storage: StorageConfig{
			DataDir:    DefaultDataDir,
			SyncWrites: true,
		},
		Server: ServerConfig{
			Addr: DefaultAddr,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
			JSON:  true,
		},
	}
}

// ApplyDefaults fills unset fields without overriding explicit values.
func (c *Config) ApplyDefaults() {
	if c.Owner == "" {
		c.Owner = DefaultOwner
	}
	if c.Check.Interval <= 0 {
		c.Check.Interval = Duration(DefaultInterval)
	}
	if c.Check.AlertThreshold == 0 {
		c.Check.AlertThreshold = DefaultAlertThreshold
	}
	if c.Check.ParallelLimit == 0 {
		c.Check.ParallelLimit = DefaultParallelLimit
	}
	if c.Check.CASRetries == 0 {
		c.Check.CASRetries = DefaultCASRetries
	}
	if c.Storage.DataDir == "" && !c.Storage.InMemory {
		c.Storage.DataDir = DefaultDataDir
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate checks field constraints after defaults are applied.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load reads, defaults, and validates a YAML configuration file.
//
// Description:
//
//	A missing path returns the default configuration rather than an
//	error, so the daemon runs usefully with zero setup.
//
// Outputs:
//
//	Config - Ready to use.
//	error - Non-nil for unreadable files, bad YAML, or invalid values.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
