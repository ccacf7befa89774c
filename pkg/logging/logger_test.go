package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DebugLevel,
		"TRACE":   DebugLevel,
		"info":    InfoLevel,
		"warning": WarnLevel,
		"err":     ErrorLevel,
		"":        InfoLevel,
		"verbose": InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "warn", WarnLevel.String())
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, JSONFormat, ParseFormat("JSON"))
	assert.Equal(t, ConsoleFormat, ParseFormat("console"))
	assert.Equal(t, ConsoleFormat, ParseFormat(""))
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		entries = append(entries, m)
	}
	return entries
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: InfoLevel, Format: JSONFormat, Output: &buf}).
		With(String("vendor", "gcp"))

	log.Debug("dropped")
	log.Info("credential refreshed",
		Uint64("generation", 3),
		Int("attempt", 1),
		Bool("cached", false),
		Duration("elapsed", 1500*time.Millisecond),
		Err(errors.New("boom")))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "info", e["level"])
	assert.Equal(t, "credential refreshed", e["message"])
	assert.Equal(t, "gcp", e["vendor"])
	assert.EqualValues(t, 3, e["generation"])
	assert.EqualValues(t, 1, e["attempt"])
	assert.Equal(t, false, e["cached"])
	assert.Equal(t, "boom", e["error"])
	assert.Contains(t, e, "time")
	assert.Contains(t, e, "elapsed")
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: WarnLevel, Format: JSONFormat, Output: &buf})
	log.Info("hidden")
	log.Warn("shown")
	log.Error("also shown")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "error", entries[1]["level"])
}

func TestLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "crossfed.log")
	var buf bytes.Buffer
	log := New(Config{Level: InfoLevel, Format: JSONFormat, Output: &buf, File: DefaultFileConfig(path)})
	log.Info("to both")

	assert.Contains(t, buf.String(), "to both")
	assert.FileExists(t, path)
}

func TestNopLogger(t *testing.T) {
	log := NewNop().With(String("k", "v"))
	assert.NotPanics(t, func() { log.Error("nothing", Err(nil)) })
}
