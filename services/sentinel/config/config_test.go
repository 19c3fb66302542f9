// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// TestLoad_MissingFileUsesDefaults verifies zero-setup startup.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultOwner, cfg.Owner)
	assert.Equal(t, DefaultInterval, cfg.Check.Interval.Std())
	assert.Equal(t, DefaultAlertThreshold, cfg.Check.AlertThreshold)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
}

// TestLoad_ParsesAndDefaults verifies partial files get defaults for the
// rest.
func TestLoad_ParsesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
owner: acme.integrity
check:
  interval: 30s
  alert_threshold: 95
storage:
  in_memory: true
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme.integrity", cfg.Owner)
	assert.Equal(t, 30*time.Second, cfg.Check.Interval.Std())
	assert.Equal(t, 95, cfg.Check.AlertThreshold)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "debug", cfg.Log.Level)

	// defaults filled in
	assert.Equal(t, DefaultParallelLimit, cfg.Check.ParallelLimit)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Empty(t, cfg.Storage.DataDir, "no data dir for in-memory storage")
}

// TestLoad_RejectsBadValues verifies validation failures.
func TestLoad_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"threshold above 100", "check:\n  alert_threshold: 150\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad duration", "check:\n  interval: eventually\n"},
		{"malformed yaml", "owner: [unclosed\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

// TestDuration_RoundTrip verifies yaml marshal/unmarshal of durations.
func TestDuration_RoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", out)
}
