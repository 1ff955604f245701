// Package config loads runtime configuration from config.json with
// environment variable overrides. Environment always wins over the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"paper-trader/internal/api"
	"paper-trader/internal/database"
	"paper-trader/internal/pricing"
)

type Config struct {
	TradingConfig        TradingConfig        `json:"trading"`
	CircuitBreakerConfig CircuitBreakerConfig `json:"circuit_breaker"`
	DatabaseConfig       database.Config      `json:"database"`
	RedisConfig          pricing.RedisConfig  `json:"redis"`
	ServerConfig         api.ServerConfig     `json:"server"`
	AuthConfig           AuthConfig           `json:"auth"`
	SnapshotConfig       SnapshotConfig       `json:"snapshots"`
	LoggingConfig        LoggingConfig        `json:"logging"`
}

// TradingConfig identifies the ledger this process drives.
type TradingConfig struct {
	Identity     string  `json:"identity"`
	StartingCash float64 `json:"starting_cash"`
	// BankruptcyThreshold is the equity below which the account is flagged
	// bankrupt, as a fraction of starting capital.
	BankruptcyThreshold float64 `json:"bankruptcy_threshold"`
	// MockMode runs against the in-memory store and a static price table
	// instead of Postgres and Redis.
	MockMode   bool               `json:"mock_mode"`
	MockQuotes map[string]float64 `json:"mock_quotes"`
}

type CircuitBreakerConfig struct {
	DailyLossThresholdPercent float64 `json:"daily_loss_threshold_percent"`
	LossStreakThreshold       int     `json:"loss_streak_threshold"`
	PauseMinutes              int     `json:"pause_minutes"`
	// RecoveryMode is "conservative" or "previous".
	RecoveryMode string `json:"recovery_mode"`
}

type AuthConfig struct {
	Enabled       bool   `json:"enabled"`
	JWTSecret     string `json:"jwt_secret"`
	TokenDuration string `json:"token_duration"` // Go duration string, e.g. "24h"
}

// TokenTTL parses TokenDuration, defaulting to 24h.
func (a AuthConfig) TokenTTL() time.Duration {
	d, err := time.ParseDuration(a.TokenDuration)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

type SnapshotConfig struct {
	Enabled bool `json:"enabled"`
	// CronSpec is a robfig/cron expression; defaults to hourly.
	CronSpec string `json:"cron_spec"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // structured JSON instead of console output
}

// Load reads config.json if present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if cfg.TradingConfig.Identity == "" {
		return nil, fmt.Errorf("trading identity must be set")
	}
	if cfg.TradingConfig.StartingCash <= 0 {
		return nil, fmt.Errorf("starting cash must be positive, got %.2f", cfg.TradingConfig.StartingCash)
	}
	if cfg.AuthConfig.Enabled && cfg.AuthConfig.JWTSecret == "" {
		return nil, fmt.Errorf("auth is enabled but AUTH_JWT_SECRET is empty")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Trading
	cfg.TradingConfig.Identity = getEnvOrDefault("TRADER_IDENTITY", defaultString(cfg.TradingConfig.Identity, "default"))
	cfg.TradingConfig.StartingCash = getEnvFloatOrDefault("TRADER_STARTING_CASH", defaultFloat(cfg.TradingConfig.StartingCash, 100000))
	cfg.TradingConfig.BankruptcyThreshold = getEnvFloatOrDefault("TRADER_BANKRUPTCY_THRESHOLD", defaultFloat(cfg.TradingConfig.BankruptcyThreshold, 0.1))
	cfg.TradingConfig.MockMode = getEnvOrDefault("MOCK_MODE", boolString(cfg.TradingConfig.MockMode)) == "true"

	// Circuit breaker
	cfg.CircuitBreakerConfig.DailyLossThresholdPercent = getEnvFloatOrDefault("CIRCUIT_DAILY_LOSS_THRESHOLD", defaultFloat(cfg.CircuitBreakerConfig.DailyLossThresholdPercent, 10.0))
	cfg.CircuitBreakerConfig.LossStreakThreshold = getEnvIntOrDefault("CIRCUIT_LOSS_STREAK_THRESHOLD", defaultInt(cfg.CircuitBreakerConfig.LossStreakThreshold, 5))
	cfg.CircuitBreakerConfig.PauseMinutes = getEnvIntOrDefault("CIRCUIT_PAUSE_MINUTES", defaultInt(cfg.CircuitBreakerConfig.PauseMinutes, 60))
	cfg.CircuitBreakerConfig.RecoveryMode = getEnvOrDefault("CIRCUIT_RECOVERY_MODE", defaultString(cfg.CircuitBreakerConfig.RecoveryMode, "conservative"))

	// Database
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "paper_trader"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis quote feed
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))
	cfg.RedisConfig.QuoteTTLSeconds = getEnvIntOrDefault("REDIS_QUOTE_TTL_SECONDS", defaultInt(cfg.RedisConfig.QuoteTTLSeconds, 300))

	// Server
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", boolString(cfg.ServerConfig.ProductionMode)) == "true"

	// Auth
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", boolString(cfg.AuthConfig.Enabled)) == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.TokenDuration = getEnvOrDefault("AUTH_TOKEN_DURATION", defaultString(cfg.AuthConfig.TokenDuration, "24h"))

	// Snapshots
	cfg.SnapshotConfig.Enabled = getEnvOrDefault("SNAPSHOTS_ENABLED", boolString(cfg.SnapshotConfig.Enabled)) == "true"
	cfg.SnapshotConfig.CronSpec = getEnvOrDefault("SNAPSHOTS_CRON", defaultString(cfg.SnapshotConfig.CronSpec, "0 * * * *"))

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &config, nil
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvFloatOrDefault(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return fallback
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
