package logger

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

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{level: "debug", want: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "info", want: []string{"INFO", "WARN", "ERROR"}},
		{level: "warn", want: []string{"WARN", "ERROR"}},
		{level: "warning", want: []string{"WARN", "ERROR"}},
		{level: "error", want: []string{"ERROR"}},
		{level: "", want: []string{"INFO", "WARN", "ERROR"}},
		{level: "verbose", want: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: &buf})
			require.NoError(t, err)

			logger.Debug("Job left queue")
			logger.Info("Job submitted")
			logger.Warn("Job failed")
			logger.Error("Failed to enqueue job")

			var got []string
			for _, entry := range decodeLines(t, buf.Bytes()) {
				got = append(got, entry["level"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSONCarriesTypedAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: &buf})
	require.NoError(t, err)

	logger.With(slog.String("queue", "pathfinding")).Info("Job completed",
		slog.String("job_id", "0b6a5b0e-7c43-4d6a-9d3c-2f5f3c8b1a10"),
		slog.Int("runs", 3),
		slog.Duration("overrun", 0),
	)

	entries := decodeLines(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "Job completed", entries[0]["msg"])
	assert.Equal(t, "pathfinding", entries[0]["queue"])
	assert.EqualValues(t, 3, entries[0]["runs"])
	assert.Contains(t, entries[0], "source")
}

func TestNew_UnknownFormatFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Format: "logfmt", writer: &buf})
	require.NoError(t, err)

	logger.Info("Scheduler started")
	require.Len(t, decodeLines(t, buf.Bytes()), 1)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scheduler.log")

	for _, msg := range []string{"first run", "second run"} {
		logger, err := New(&Config{Level: "info", Format: "json", Output: path})
		require.NoError(t, err)

		logger.Info(msg, slog.String("queue", "background"))
		require.NoError(t, logger.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	entries := decodeLines(t, data)
	require.Len(t, entries, 2)
	assert.Equal(t, "first run", entries[0]["msg"])
	assert.Equal(t, "second run", entries[1]["msg"])
}

func TestNew_ConsoleFileOutputIsUncolored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.log")

	logger, err := New(&Config{Level: "info", Format: "console", Output: path})
	require.NoError(t, err)
	logger.Warn("Queue overran its budget", slog.String("queue", "pathfinding"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Queue overran its budget")
	assert.NotContains(t, string(data), "\x1b[")
}

func TestNew_FileOutputError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := New(&Config{Output: filepath.Join(blocker, "scheduler.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create log directory")
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger, err := New(&Config{Level: "info", Format: "json", writer: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}
