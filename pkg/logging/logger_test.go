// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseLevel(tc.in))
		})
	}
}

// TestNew_SinkReceivesRecords verifies the fan-out path and the service
// attribute.
func TestNew_SinkReceivesRecords(t *testing.T) {
	var buf bytes.Buffer
	sink := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := New(Config{
		Service: "sentinel-test",
		Quiet:   true,
		Sink:    sink,
	})
	defer logger.Close()

	logger.Slog().Info("check complete", "score", 97)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "check complete", entry["msg"])
	assert.Equal(t, "sentinel-test", entry["service"])
	assert.Equal(t, float64(97), entry["score"])
}

// TestNew_LevelFilter verifies records below the level are dropped.
func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	sink := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := New(Config{Level: "warn", Quiet: true, Sink: sink})
	defer logger.Close()

	logger.Slog().Info("ignored")
	logger.Slog().Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "ignored")
	assert.Contains(t, out, "kept")
}

// TestNew_FileLogging verifies the dated JSON log file is written.
func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{Service: "sentinel", LogDir: dir, Quiet: true})
	logger.Slog().Info("persisted line")
	require.NoError(t, logger.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "sentinel_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "persisted line"))
}

// TestClose_NoFileIsNoOp verifies Close without file logging.
func TestClose_NoFileIsNoOp(t *testing.T) {
	logger := New(Config{Quiet: true})
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}
