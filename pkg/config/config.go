package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/viper"
)

// StateFileName is the cursor state file kept under state.dir.
const StateFileName = "external_sync_state.json"

// AppConfig is the immutable configuration built once at startup and passed to every component.
type AppConfig struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	ServiceName string         `mapstructure:"service_name"`
	Database    DatabaseConfig `mapstructure:"database"`
	Delivery    DeliveryConfig `mapstructure:"delivery"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Sync        SyncConfig     `mapstructure:"sync"`
	State       StateConfig    `mapstructure:"state"`
	Server      ServerConfig   `mapstructure:"server"`
}

type DatabaseConfig struct {
	Host                    string `mapstructure:"host"`
	Port                    int    `mapstructure:"port"`
	Name                    string `mapstructure:"name"`
	User                    string `mapstructure:"user"`
	Password                string `mapstructure:"password"`
	ConnectTimeoutSeconds   int    `mapstructure:"connect_timeout_seconds"`
	StatementTimeoutSeconds int    `mapstructure:"statement_timeout_seconds"`
}

// DSN renders a postgres:// connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	if d.ConnectTimeoutSeconds > 0 {
		q.Set("connect_timeout", strconv.Itoa(d.ConnectTimeoutSeconds))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (d DatabaseConfig) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutSeconds) * time.Second
}

func (d DatabaseConfig) StatementTimeout() time.Duration {
	return time.Duration(d.StatementTimeoutSeconds) * time.Second
}

// Sink kinds accepted by delivery.sink.
const (
	SinkHTTP  = "http"
	SinkKafka = "kafka"
)

type DeliveryConfig struct {
	Sink              string `mapstructure:"sink"`
	URL               string `mapstructure:"url"`
	APIKey            string `mapstructure:"api_key"`
	RequireAPIKey     bool   `mapstructure:"require_api_key"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"`
}

func (d DeliveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

func (d DeliveryConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelaySeconds) * time.Second
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// BatchSizes bounds the rows read per table per run.
type BatchSizes struct {
	LogLines       int `mapstructure:"log_lines" json:"log_lines"`
	PlayerSessions int `mapstructure:"player_sessions" json:"player_sessions"`
	PlayerStats    int `mapstructure:"player_stats" json:"player_stats"`
	MapHistory     int `mapstructure:"map_history" json:"map_history"`
}

type SyncConfig struct {
	Enabled              bool       `mapstructure:"enabled"`
	IntervalMinutes      int        `mapstructure:"interval_minutes"`
	ServerID             string     `mapstructure:"server_id"`
	EnabledServers       []string   `mapstructure:"enabled_servers"`
	ServerNamesJSON      string     `mapstructure:"server_names"`
	BatchSize            BatchSizes `mapstructure:"batch_size"`
	ParallelExtract      bool       `mapstructure:"parallel_extract"`
	SessionLookbackHours int        `mapstructure:"session_lookback_hours"`

	// ServerNames is decoded from ServerNamesJSON by Validate.
	ServerNames map[string]string `mapstructure:"-"`
}

func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (s SyncConfig) SessionLookback() time.Duration {
	return time.Duration(s.SessionLookbackHours) * time.Hour
}

// Server numbers as integers, in configured order.
func (s SyncConfig) ServerNumbers() []int64 {
	out := make([]int64, 0, len(s.EnabledServers))
	for _, n := range s.EnabledServers {
		v, err := strconv.ParseInt(n, 10, 64)
		if err == nil {
			out = append(out, v)
		}
	}
	return out
}

// State backends accepted by state.backend.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

type StateConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// FilePath is the full path of the cursor state file.
func (s StateConfig) FilePath() string {
	return filepath.Join(s.Dir, StateFileName)
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from defaults, an optional file and environment variables.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "crconsync")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "rcon")
	v.SetDefault("database.user", "rcon")
	v.SetDefault("database.password", "")
	v.SetDefault("database.connect_timeout_seconds", 10)
	v.SetDefault("database.statement_timeout_seconds", 300)
	v.SetDefault("delivery.sink", SinkHTTP)
	v.SetDefault("delivery.url", "")
	v.SetDefault("delivery.api_key", "")
	v.SetDefault("delivery.require_api_key", false)
	v.SetDefault("delivery.timeout_seconds", 300)
	v.SetDefault("delivery.max_retries", 3)
	v.SetDefault("delivery.retry_delay_seconds", 5)
	v.SetDefault("kafka.topic", "")
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval_minutes", 5)
	v.SetDefault("sync.server_id", "crcon_server_001")
	v.SetDefault("sync.enabled_servers", []string{"1"})
	v.SetDefault("sync.server_names", `{"1": "Server-DE-01"}`)
	v.SetDefault("sync.batch_size.log_lines", 50000)
	v.SetDefault("sync.batch_size.player_sessions", 30000)
	v.SetDefault("sync.batch_size.player_stats", 25000)
	v.SetDefault("sync.batch_size.map_history", 10000)
	v.SetDefault("sync.parallel_extract", false)
	v.SetDefault("sync.session_lookback_hours", 0)
	v.SetDefault("state.backend", BackendFile)
	v.SetDefault("state.dir", "/data")
	v.SetDefault("state.redis_addr", "")
	v.SetDefault("state.redis_key", "crconsync:state")
	v.SetDefault("server.addr", ":8080")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	// The job has always been configured through these flat names (docker-compose).
	v.BindEnv("environment", "ENVIRONMENT")
	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.connect_timeout_seconds", "DB_CONNECT_TIMEOUT")
	v.BindEnv("database.statement_timeout_seconds", "DB_STATEMENT_TIMEOUT")
	v.BindEnv("delivery.sink", "DELIVERY_SINK")
	v.BindEnv("delivery.url", "EXTERNAL_DB_URL")
	v.BindEnv("delivery.api_key", "EXTERNAL_DB_API_KEY")
	v.BindEnv("delivery.require_api_key", "REQUIRE_API_KEY")
	v.BindEnv("delivery.timeout_seconds", "REQUEST_TIMEOUT")
	v.BindEnv("delivery.max_retries", "MAX_RETRIES")
	v.BindEnv("delivery.retry_delay_seconds", "RETRY_DELAY")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("sync.enabled", "ENABLE_SYNC")
	v.BindEnv("sync.interval_minutes", "SYNC_INTERVAL_MINUTES")
	v.BindEnv("sync.server_id", "EXTERNAL_SERVER_ID")
	v.BindEnv("sync.enabled_servers", "ENABLED_SERVERS")
	v.BindEnv("sync.server_names", "SERVER_NAMES")
	v.BindEnv("sync.batch_size.log_lines", "BATCH_SIZE_LOG_LINES")
	v.BindEnv("sync.batch_size.player_sessions", "BATCH_SIZE_PLAYER_SESSIONS")
	v.BindEnv("sync.batch_size.player_stats", "BATCH_SIZE_PLAYER_STATS")
	v.BindEnv("sync.batch_size.map_history", "BATCH_SIZE_MAPS")
	v.BindEnv("sync.parallel_extract", "PARALLEL_EXTRACT")
	v.BindEnv("sync.session_lookback_hours", "RECENT_SESSION_LOOKBACK_HOURS")
	v.BindEnv("state.backend", "STATE_BACKEND")
	v.BindEnv("state.dir", "STATE_DIR")
	v.BindEnv("state.redis_addr", "STATE_REDIS_ADDR")
	v.BindEnv("state.redis_key", "STATE_REDIS_KEY")
	v.BindEnv("server.addr", "METRICS_ADDR")

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Comma lists may arrive as a single string from the environment.
	config.Sync.EnabledServers = splitList(config.Sync.EnabledServers)
	config.Kafka.Brokers = splitList(config.Kafka.Brokers)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks the configuration and decodes the server name mapping.
func (c *AppConfig) Validate() error {
	if c.Sync.ServerID == "" {
		return errors.New("sync.server_id is required")
	}
	if len(c.Sync.EnabledServers) == 0 {
		return errors.New("sync.enabled_servers is required")
	}
	for _, s := range c.Sync.EnabledServers {
		if _, err := strconv.Atoi(s); err != nil {
			return fmt.Errorf("sync.enabled_servers: %q is not a server number", s)
		}
	}

	names := map[string]string{}
	if strings.TrimSpace(c.Sync.ServerNamesJSON) != "" {
		if err := json.Unmarshal([]byte(c.Sync.ServerNamesJSON), &names); err != nil {
			return fmt.Errorf("sync.server_names is not a JSON object of strings: %w", err)
		}
	}
	for k := range names {
		if _, err := strconv.Atoi(k); err != nil {
			return fmt.Errorf("sync.server_names: key %q is not a server number", k)
		}
	}
	c.Sync.ServerNames = names

	b := c.Sync.BatchSize
	if b.LogLines <= 0 || b.PlayerSessions <= 0 || b.PlayerStats <= 0 || b.MapHistory <= 0 {
		return errors.New("sync.batch_size values must be positive")
	}
	if c.Sync.IntervalMinutes <= 0 {
		return errors.New("sync.interval_minutes must be positive")
	}
	if c.Sync.SessionLookbackHours < 0 {
		return errors.New("sync.session_lookback_hours must not be negative")
	}

	switch c.Delivery.Sink {
	case SinkHTTP:
		u, err := url.Parse(c.Delivery.URL)
		if c.Delivery.URL == "" || err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("delivery.url %q is not a valid endpoint", c.Delivery.URL)
		}
	case SinkKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required for the kafka sink")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka.topic is required for the kafka sink")
		}
	default:
		return fmt.Errorf("delivery.sink %q is not one of http, kafka", c.Delivery.Sink)
	}
	if c.Delivery.RequireAPIKey && c.Delivery.APIKey == "" {
		return errors.New("delivery.api_key is required")
	}
	if c.Delivery.MaxRetries < 1 {
		return errors.New("delivery.max_retries must be at least 1")
	}
	if c.Delivery.TimeoutSeconds <= 0 {
		return errors.New("delivery.timeout_seconds must be positive")
	}
	if c.Delivery.RetryDelaySeconds < 0 {
		return errors.New("delivery.retry_delay_seconds must not be negative")
	}

	switch c.State.Backend {
	case BackendFile:
		if c.State.Dir == "" {
			return errors.New("state.dir is required for the file backend")
		}
	case BackendRedis:
		if c.State.RedisAddr == "" {
			return errors.New("state.redis_addr is required for the redis backend")
		}
		if c.State.RedisKey == "" {
			return errors.New("state.redis_key is required for the redis backend")
		}
	default:
		return fmt.Errorf("state.backend %q is not one of file, redis", c.State.Backend)
	}

	return nil
}
