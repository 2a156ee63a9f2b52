package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crconsync/internal/exporter"
	"crconsync/pkg/config"
	"crconsync/pkg/logger"
	"crconsync/pkg/state"
)

func TestPrintStatus(t *testing.T) {
	lastErr := "HTTP 502"
	st := exporter.Status{
		Enabled:         true,
		ServerID:        "crcon_server_001",
		BatchSize:       config.BatchSizes{LogLines: 50000, PlayerSessions: 30000, PlayerStats: 25000, MapHistory: 10000},
		LastExport:      state.At(time.Now().Add(-2 * time.Hour)),
		LastError:       &lastErr,
		ExportCount:     1234,
		LastExportedIDs: state.Counters{LogLines: 105, PlayerSessions: 50, MapHistory: 10},
		TotalExported:   state.Counters{LogLines: 1250000},
		Database:        exporter.DatabaseInfo{Host: "db", Port: 5432, Name: "rcon", User: "rcon"},
		Target:          "https://stats.example.com/api/sync",
		StateLocation:   "file:///data/external_sync_state.json",
	}

	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, st))
	out := buf.String()

	assert.Contains(t, out, "crcon_server_001")
	assert.Contains(t, out, "rcon@db:5432/rcon")
	assert.Contains(t, out, "1,234")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "Last success: never")
	assert.Contains(t, out, "HTTP 502")
	assert.Contains(t, out, "1,250,000")
	assert.Contains(t, out, "50,000")
	assert.Contains(t, out, "log_lines")
	assert.Contains(t, out, "105")
}

func TestBuildWithoutDatabase(t *testing.T) {
	c := &config.AppConfig{
		Delivery: config.DeliveryConfig{Sink: config.SinkHTTP, URL: "https://stats.example.com/api/sync", MaxRetries: 1},
		State:    config.StateConfig{Backend: config.BackendFile, Dir: t.TempDir()},
		Sync:     config.SyncConfig{ServerID: "crcon_server_001"},
	}

	rt, err := build(c, logger.Nop(), nil)
	require.NoError(t, err)
	defer rt.Close()

	st, err := rt.svc.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "https://stats.example.com/api/sync", st.Target)
	assert.Equal(t, int64(0), st.ExportCount)
}
