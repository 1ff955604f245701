// Package database provides the Postgres-backed and in-memory implementations
// of the engine's store.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// NewDB creates a new database connection
func NewDB(cfg Config, log zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, log: log.With().Str("component", "database").Logger()}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info().Msg("running database migrations")

	migrations := []string{
		// Singleton cash wallet per trading identity
		`CREATE TABLE IF NOT EXISTS wallets (
			identity VARCHAR(64) PRIMARY KEY,
			cash DECIMAL(20, 8) NOT NULL,
			starting_capital DECIMAL(20, 8) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Open positions, one per symbol per identity
		`CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			identity VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL CHECK (quantity > 0),
			entry_price DECIMAL(20, 8) NOT NULL CHECK (entry_price > 0),
			entry_date TIMESTAMPTZ NOT NULL,
			UNIQUE (identity, symbol)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_identity ON positions(identity)`,

		// Append-only trade history
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			trade_id UUID NOT NULL UNIQUE,
			identity VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			action VARCHAR(4) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			realized_pnl DECIMAL(20, 8),
			notes TEXT,
			executed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_identity_time ON trades(identity, executed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(identity, symbol)`,

		// Audit trail: rejected proposals
		`CREATE TABLE IF NOT EXISTS trade_rejections (
			id BIGSERIAL PRIMARY KEY,
			rejection_id UUID NOT NULL UNIQUE,
			identity VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			action VARCHAR(4) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			quantity_percent DECIMAL(10, 4) NOT NULL,
			estimated_value DECIMAL(20, 8) NOT NULL,
			reason TEXT NOT NULL,
			rule_triggered VARCHAR(32) NOT NULL,
			trading_mode VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rejections_identity_time ON trade_rejections(identity, created_at)`,

		// Audit trail: circuit breaker and mode transitions
		`CREATE TABLE IF NOT EXISTS circuit_breaker_events (
			id BIGSERIAL PRIMARY KEY,
			event_id UUID NOT NULL UNIQUE,
			identity VARCHAR(64) NOT NULL,
			trigger_type VARCHAR(32) NOT NULL,
			previous_mode VARCHAR(16) NOT NULL,
			new_mode VARCHAR(16) NOT NULL,
			daily_pnl_percent DECIMAL(10, 4) NOT NULL DEFAULT 0,
			consecutive_losses INT NOT NULL DEFAULT 0,
			paused_until TIMESTAMPTZ,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cb_events_identity_time ON circuit_breaker_events(identity, created_at)`,

		// Mode, override and breaker state as one small mutable row
		`CREATE TABLE IF NOT EXISTS trader_state (
			identity VARCHAR(64) PRIMARY KEY,
			mode VARCHAR(16) NOT NULL,
			override_max_position_pct DECIMAL(10, 4),
			override_expires_at TIMESTAMPTZ,
			override_reason TEXT,
			override_granted_by VARCHAR(64),
			override_granted_at TIMESTAMPTZ,
			daily_pnl_percent DECIMAL(10, 4) NOT NULL DEFAULT 0,
			consecutive_losses INT NOT NULL DEFAULT 0,
			paused_until TIMESTAMPTZ,
			pre_pause_mode VARCHAR(16),
			day_start_equity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			day_start_date TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Daily equity snapshots
		`CREATE TABLE IF NOT EXISTS performance_snapshots (
			id BIGSERIAL PRIMARY KEY,
			identity VARCHAR(64) NOT NULL,
			equity DECIMAL(20, 8) NOT NULL,
			cash DECIMAL(20, 8) NOT NULL,
			positions_value DECIMAL(20, 8) NOT NULL,
			total_pnl_percent DECIMAL(10, 4) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_identity_time ON performance_snapshots(identity, created_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info().Int("count", len(migrations)).Msg("migrations complete")
	return nil
}
