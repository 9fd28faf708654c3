// Package config provides configuration management for Lorebase.
// It loads settings from an optional YAML file, then overlays environment
// variables with the LOREBASE_ prefix, and provides sensible defaults for
// all configuration options. Environment variables always win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Lorebase server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Security SecurityConfig `yaml:"security"`
	Budget   BudgetConfig   `yaml:"budget"`
	Session  SessionConfig  `yaml:"session"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Backup   BackupConfig   `yaml:"backup"`
}

// ServerConfig contains listener configuration. The streaming endpoint
// binds StreamPort; the REST mutation surface binds StreamPort+1.
type ServerConfig struct {
	Host       string `yaml:"host"`        // Bind host (default: 127.0.0.1)
	StreamPort int    `yaml:"stream_port"` // Streaming/RPC port (default: 7600)
	RateLimit  int    `yaml:"rate_limit"`  // REST requests/sec per client (default: 20)
	RateBurst  int    `yaml:"rate_burst"`  // REST burst size (default: 40)
}

// RESTPort returns the port the REST mutation API listens on.
func (s ServerConfig) RESTPort() int {
	return s.StreamPort + 1
}

// StorageConfig contains document store configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // Store engine: sqlite, postgres (default: sqlite)
	SQLitePath  string `yaml:"sqlite_path"`  // SQLite database file (default: ./data/lorebase.db)
	PostgresDSN string `yaml:"postgres_dsn"` // PostgreSQL connection string
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	// WriteToken guards summary updates and the REST mutation surface.
	// Empty disables authenticated writes entirely.
	WriteToken string `yaml:"write_token"`
}

// BudgetConfig controls response shaping.
type BudgetConfig struct {
	TokenBudget int    `yaml:"token_budget"` // Per-response token budget (default: 3000)
	Estimator   string `yaml:"estimator"`    // Token estimator: heuristic, tiktoken (default: heuristic)
	Encoding    string `yaml:"encoding"`     // tiktoken encoding name (default: cl100k_base)
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"` // Ping interval (default: 15s)
	MissedPingLimit   int           `yaml:"missed_ping_limit"`   // Missed pings before draining (default: 2)
	DrainGrace        time.Duration `yaml:"drain_grace"`         // Drain grace period (default: 10s)
	WorkersPerSession int           `yaml:"workers_per_session"` // Concurrent queries per session (default: 4)
	MaxSessions       int           `yaml:"max_sessions"`        // Concurrent session cap (default: 256)
}

// GatewayConfig tunes the store gateway.
type GatewayConfig struct {
	Slots          int           `yaml:"slots"`            // Concurrent store operations (default: 16)
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`  // Slot wait before Unavailable (default: 2s)
	BreakerMaxFail int           `yaml:"breaker_max_fail"` // Consecutive failures to open breaker (default: 5)
	BreakerCooloff time.Duration `yaml:"breaker_cooloff"`  // Open-state duration (default: 30s)
}

// BackupConfig tunes periodic SQLite snapshots. The postgres engine ignores
// this section; its backups are an operational concern.
type BackupConfig struct {
	Enabled  bool          `yaml:"enabled"`  // Take periodic snapshots (default: false)
	Dir      string        `yaml:"dir"`      // Snapshot directory (default: ./data/backups)
	Interval time.Duration `yaml:"interval"` // Snapshot cadence (default: 6h)
	Keep     int           `yaml:"keep"`     // Snapshots retained (default: 14)
	Verify   bool          `yaml:"verify"`   // Integrity-check each snapshot (default: true)
}

// LoadConfig loads configuration from the optional YAML file named by
// LOREBASE_CONFIG, then applies LOREBASE_* environment overrides.
func LoadConfig() (*Config, error) {
	// Optional .env file for local development.
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("LOREBASE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "127.0.0.1",
			StreamPort: 7600,
			RateLimit:  20,
			RateBurst:  40,
		},
		Storage: StorageConfig{
			Engine:     "sqlite",
			SQLitePath: "./data/lorebase.db",
		},
		Budget: BudgetConfig{
			TokenBudget: 3000,
			Estimator:   "heuristic",
			Encoding:    "cl100k_base",
		},
		Session: SessionConfig{
			KeepAliveInterval: 15 * time.Second,
			MissedPingLimit:   2,
			DrainGrace:        10 * time.Second,
			WorkersPerSession: 4,
			MaxSessions:       256,
		},
		Gateway: GatewayConfig{
			Slots:          16,
			AcquireTimeout: 2 * time.Second,
			BreakerMaxFail: 5,
			BreakerCooloff: 30 * time.Second,
		},
		Backup: BackupConfig{
			Dir:      "./data/backups",
			Interval: 6 * time.Hour,
			Keep:     14,
			Verify:   true,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("LOREBASE_HOST", cfg.Server.Host)
	cfg.Server.StreamPort = getEnvInt("LOREBASE_STREAM_PORT", cfg.Server.StreamPort)
	cfg.Server.RateLimit = getEnvInt("LOREBASE_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateBurst = getEnvInt("LOREBASE_RATE_BURST", cfg.Server.RateBurst)

	cfg.Storage.Engine = getEnv("LOREBASE_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.SQLitePath = getEnv("LOREBASE_SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresDSN = getEnv("LOREBASE_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Security.WriteToken = getEnv("LOREBASE_WRITE_TOKEN", cfg.Security.WriteToken)

	cfg.Budget.TokenBudget = getEnvInt("LOREBASE_TOKEN_BUDGET", cfg.Budget.TokenBudget)
	cfg.Budget.Estimator = getEnv("LOREBASE_ESTIMATOR", cfg.Budget.Estimator)
	cfg.Budget.Encoding = getEnv("LOREBASE_ENCODING", cfg.Budget.Encoding)

	cfg.Session.KeepAliveInterval = getEnvDuration("LOREBASE_KEEP_ALIVE_INTERVAL", cfg.Session.KeepAliveInterval)
	cfg.Session.MissedPingLimit = getEnvInt("LOREBASE_MISSED_PING_LIMIT", cfg.Session.MissedPingLimit)
	cfg.Session.DrainGrace = getEnvDuration("LOREBASE_DRAIN_GRACE", cfg.Session.DrainGrace)
	cfg.Session.WorkersPerSession = getEnvInt("LOREBASE_WORKERS_PER_SESSION", cfg.Session.WorkersPerSession)
	cfg.Session.MaxSessions = getEnvInt("LOREBASE_MAX_SESSIONS", cfg.Session.MaxSessions)

	cfg.Gateway.Slots = getEnvInt("LOREBASE_GATEWAY_SLOTS", cfg.Gateway.Slots)
	cfg.Gateway.AcquireTimeout = getEnvDuration("LOREBASE_GATEWAY_ACQUIRE_TIMEOUT", cfg.Gateway.AcquireTimeout)
	cfg.Gateway.BreakerMaxFail = getEnvInt("LOREBASE_BREAKER_MAX_FAIL", cfg.Gateway.BreakerMaxFail)
	cfg.Gateway.BreakerCooloff = getEnvDuration("LOREBASE_BREAKER_COOLOFF", cfg.Gateway.BreakerCooloff)

	cfg.Backup.Enabled = getEnvBool("LOREBASE_BACKUP_ENABLED", cfg.Backup.Enabled)
	cfg.Backup.Dir = getEnv("LOREBASE_BACKUP_DIR", cfg.Backup.Dir)
	cfg.Backup.Interval = getEnvDuration("LOREBASE_BACKUP_INTERVAL", cfg.Backup.Interval)
	cfg.Backup.Keep = getEnvInt("LOREBASE_BACKUP_KEEP", cfg.Backup.Keep)
	cfg.Backup.Verify = getEnvBool("LOREBASE_BACKUP_VERIFY", cfg.Backup.Verify)
}

func (c *Config) validate() error {
	if c.Server.StreamPort <= 0 || c.Server.StreamPort > 65534 {
		return fmt.Errorf("config: stream port %d out of range", c.Server.StreamPort)
	}
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires LOREBASE_POSTGRES_DSN")
	}
	switch c.Budget.Estimator {
	case "heuristic", "tiktoken":
	default:
		return fmt.Errorf("config: unknown estimator %q", c.Budget.Estimator)
	}
	if c.Budget.TokenBudget <= 0 {
		return fmt.Errorf("config: token budget must be positive")
	}
	if c.Session.WorkersPerSession <= 0 {
		return fmt.Errorf("config: workers per session must be positive")
	}
	if c.Gateway.Slots <= 0 {
		return fmt.Errorf("config: gateway slots must be positive")
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable ("true", "1") or
// returns a default value. Unparseable values fall back to the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("15s", "2m") or
// returns a default value. Unparseable values fall back to the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
