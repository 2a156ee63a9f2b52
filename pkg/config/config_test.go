package config

import (
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{Host: "db", Port: 5432, Name: "rcon", User: "rcon"},
		Delivery: DeliveryConfig{
			Sink:              SinkHTTP,
			URL:               "https://stats.example.com/api/sync",
			TimeoutSeconds:    300,
			MaxRetries:        3,
			RetryDelaySeconds: 5,
		},
		Sync: SyncConfig{
			IntervalMinutes: 5,
			ServerID:        "crcon_server_001",
			EnabledServers:  []string{"1"},
			ServerNamesJSON: `{"1":"Server-DE-01"}`,
			BatchSize:       BatchSizes{LogLines: 10, PlayerSessions: 10, PlayerStats: 10, MapHistory: 10},
		},
		State: StateConfig{Backend: BackendFile, Dir: "/data"},
	}
}

func TestConfigValidation(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("any server id and numeric server list validates", prop.ForAll(
		func(serverID string, server int) bool {
			cfg := validConfig()
			cfg.Sync.ServerID = serverID
			cfg.Sync.EnabledServers = []string{strconv.Itoa(server)}
			return cfg.Validate() == nil
		},
		gen.Identifier(),
		gen.IntRange(1, 64),
	))

	properties.Property("non-numeric enabled server is rejected", prop.ForAll(
		func(name string) bool {
			cfg := validConfig()
			cfg.Sync.EnabledServers = []string{name}
			return cfg.Validate() != nil
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"broken server names", func(c *AppConfig) { c.Sync.ServerNamesJSON = `{"1": "a"` }},
		{"server names not strings", func(c *AppConfig) { c.Sync.ServerNamesJSON = `{"1": 5}` }},
		{"server name key not numeric", func(c *AppConfig) { c.Sync.ServerNamesJSON = `{"one": "a"}` }},
		{"missing server id", func(c *AppConfig) { c.Sync.ServerID = "" }},
		{"missing url", func(c *AppConfig) { c.Delivery.URL = "" }},
		{"relative url", func(c *AppConfig) { c.Delivery.URL = "/api/sync" }},
		{"api key required", func(c *AppConfig) { c.Delivery.RequireAPIKey = true }},
		{"zero retries", func(c *AppConfig) { c.Delivery.MaxRetries = 0 }},
		{"zero batch", func(c *AppConfig) { c.Sync.BatchSize.PlayerStats = 0 }},
		{"unknown sink", func(c *AppConfig) { c.Delivery.Sink = "ftp" }},
		{"kafka without brokers", func(c *AppConfig) { c.Delivery.Sink = SinkKafka; c.Kafka.Topic = "t" }},
		{"redis without addr", func(c *AppConfig) { c.State.Backend = BackendRedis }},
		{"unknown backend", func(c *AppConfig) { c.State.Backend = "s3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateDecodesServerNames(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.ServerNamesJSON = `{"1":"Server-DE-01","2":"Server-DE-02"}`
	require.NoError(t, cfg.Validate())
	assert.Equal(t, map[string]string{"1": "Server-DE-01", "2": "Server-DE-02"}, cfg.Sync.ServerNames)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("EXTERNAL_DB_URL", "https://stats.example.com/api/sync")
	t.Setenv("EXTERNAL_DB_API_KEY", "secret")
	t.Setenv("ENABLED_SERVERS", "1, 2")
	t.Setenv("SERVER_NAMES", `{"1":"Server-DE-01","2":"Server-DE-02"}`)
	t.Setenv("BATCH_SIZE_LOG_LINES", "500")
	t.Setenv("REQUEST_TIMEOUT", "30")
	t.Setenv("SYNC_INTERVAL_MINUTES", "10")
	t.Setenv("DB_HOST", "postgres")
	t.Setenv("STATE_DIR", "/var/lib/crconsync")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://stats.example.com/api/sync", cfg.Delivery.URL)
	assert.Equal(t, "secret", cfg.Delivery.APIKey)
	assert.Equal(t, []string{"1", "2"}, cfg.Sync.EnabledServers)
	assert.Equal(t, []int64{1, 2}, cfg.Sync.ServerNumbers())
	assert.Equal(t, "Server-DE-02", cfg.Sync.ServerNames["2"])
	assert.Equal(t, 500, cfg.Sync.BatchSize.LogLines)
	assert.Equal(t, 25000, cfg.Sync.BatchSize.PlayerStats)
	assert.Equal(t, 30*time.Second, cfg.Delivery.Timeout())
	assert.Equal(t, 10*time.Minute, cfg.Sync.Interval())
	assert.Equal(t, "postgres", cfg.Database.Host)
	assert.Equal(t, "/var/lib/crconsync/external_sync_state.json", cfg.State.FilePath())
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "crcon_server_001", cfg.Sync.ServerID)

	t.Setenv("SERVER_NAMES", "not json")
	_, err = Load("")
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, Name: "rcon", User: "rcon", Password: "p@ss", ConnectTimeoutSeconds: 10}
	assert.Equal(t, "postgres://rcon:p%40ss@db:5433/rcon?connect_timeout=10", d.DSN())
}
