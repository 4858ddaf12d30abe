package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Log           LogConfig           `yaml:"log" toml:"log"`
	Ledger        LedgerConfig        `yaml:"ledger" toml:"ledger"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" toml:"scheduler"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
	// EnableMetrics mounts the Prometheus /metrics endpoint.
	EnableMetrics bool `yaml:"enable_metrics" toml:"enable_metrics"`
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
	// BusyTimeoutMs is how long SQLite waits for the write lock before failing.
	BusyTimeoutMs int `yaml:"busy_timeout_ms" toml:"busy_timeout_ms"`
	// MaxTxAttempts bounds retries of a transaction that hit a busy database.
	MaxTxAttempts int `yaml:"max_tx_attempts" toml:"max_tx_attempts"`
}

// AuthConfig contains bearer token settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	// TokenTTLMinutes is the lifetime of tokens issued by the dev-token command.
	TokenTTLMinutes int `yaml:"token_ttl_minutes" toml:"token_ttl_minutes"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" toml:"format"` // "json" or "text"
}

// LedgerConfig contains group limits
type LedgerConfig struct {
	MaxMembers           int `yaml:"max_members" toml:"max_members"`
	ShareLinkTTLHours    int `yaml:"share_link_ttl_hours" toml:"share_link_ttl_hours"`
	MaxShareLinkTTLHours int `yaml:"max_share_link_ttl_hours" toml:"max_share_link_ttl_hours"`
}

// NotificationsConfig contains realtime delivery settings
type NotificationsConfig struct {
	PollIntervalMs   int `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	BatchSize        int `yaml:"batch_size" toml:"batch_size"`
	SubscriberBuffer int `yaml:"subscriber_buffer" toml:"subscriber_buffer"`
	// RetentionHours is how long dispatched outbox events are kept.
	RetentionHours int `yaml:"retention_hours" toml:"retention_hours"`
}

// SchedulerConfig holds cron specs (with seconds) for maintenance jobs
type SchedulerConfig struct {
	PruneOutbox     string `yaml:"prune_outbox" toml:"prune_outbox"`
	PurgeShareLinks string `yaml:"purge_share_links" toml:"purge_share_links"`
}

// Default returns a configuration that runs locally without a config file.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "", Port: 8080, EnableMetrics: true},
		Database: DatabaseConfig{Path: "./data/ledger.db", BusyTimeoutMs: 5000, MaxTxAttempts: 5},
		Auth:     AuthConfig{TokenTTLMinutes: 24 * 60},
		Log:      LogConfig{Level: "info", Format: "text"},
		Ledger: LedgerConfig{
			MaxMembers:           50,
			ShareLinkTTLHours:    7 * 24,
			MaxShareLinkTTLHours: 30 * 24,
		},
		Notifications: NotificationsConfig{
			PollIntervalMs:   1000,
			BatchSize:        500,
			SubscriberBuffer: 64,
			RetentionHours:   72,
		},
		Scheduler: SchedulerConfig{
			PruneOutbox:     "0 15 * * * *",
			PurgeShareLinks: "0 30 3 * * *",
		},
	}
}

// Load reads configuration from a YAML or TOML file, chosen by extension. An
// empty path yields the defaults. Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		switch strings.ToLower(filepath.Ext(configPath)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		case ".toml":
			err = toml.Unmarshal(data, cfg)
		default:
			return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(configPath))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.overrideWithEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() error {
	if val := os.Getenv("DB_PATH"); val != "" {
		c.Database.Path = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.Auth.JWTSecret = val
	}
	if val := os.Getenv("PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", val, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.MaxTxAttempts < 1 {
		return fmt.Errorf("database max_tx_attempts must be at least 1")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required (set auth.jwt_secret or JWT_SECRET)")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Ledger.MaxMembers < 2 {
		return fmt.Errorf("ledger max_members must be at least 2")
	}
	if c.Ledger.ShareLinkTTLHours <= 0 || c.Ledger.ShareLinkTTLHours > c.Ledger.MaxShareLinkTTLHours {
		return fmt.Errorf("ledger share_link_ttl_hours must be between 1 and max_share_link_ttl_hours")
	}
	if c.Notifications.PollIntervalMs <= 0 || c.Notifications.BatchSize <= 0 || c.Notifications.SubscriberBuffer <= 0 {
		return fmt.Errorf("notification poll interval, batch size and buffer must be positive")
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BusyTimeout returns the SQLite busy timeout.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Database.BusyTimeoutMs) * time.Millisecond
}

// PollInterval returns the outbox polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Notifications.PollIntervalMs) * time.Millisecond
}

// Retention returns how long dispatched outbox events are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Notifications.RetentionHours) * time.Hour
}

// TokenTTL returns the lifetime of issued bearer tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}
