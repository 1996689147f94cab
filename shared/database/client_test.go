package database

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jobs.sqlite")

	client, err := NewClient(&Config{Driver: DriverSQLite, Path: path}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, DriverSQLite, client.Driver())
	assert.NoError(t, client.HealthCheck(context.Background()))
	assert.Contains(t, client.Stats(), "MaxOpenConns: 1")

	var mode string
	require.NoError(t, client.GetDB().Get(&mode, "PRAGMA journal_mode;"))
	assert.Equal(t, "wal", mode)
}

func TestNewClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		errString string
	}{
		{
			name:      "unsupported driver",
			config:    &Config{Driver: "mysql"},
			errString: "unsupported database driver",
		},
		{
			name:      "sqlite without path",
			config:    &Config{Driver: DriverSQLite},
			errString: "sqlite path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config, slog.New(slog.DiscardHandler))
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
