package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"paper-trader/config"
	"paper-trader/internal/api"
	"paper-trader/internal/auth"
	"paper-trader/internal/circuit"
	"paper-trader/internal/confluence"
	"paper-trader/internal/database"
	"paper-trader/internal/events"
	"paper-trader/internal/pricing"
	"paper-trader/internal/trader"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.LoggingConfig)
	logger.Info().
		Str("identity", cfg.TradingConfig.Identity).
		Bool("mock_mode", cfg.TradingConfig.MockMode).
		Msg("starting paper trader")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus()

	var (
		store  trader.Store
		prices trader.PriceSource
		db     *database.DB
	)
	if cfg.TradingConfig.MockMode {
		store = database.NewMemStore(cfg.TradingConfig.StartingCash, time.Now())
		quotes := cfg.TradingConfig.MockQuotes
		if len(quotes) == 0 {
			quotes = map[string]float64{"AAPL": 150, "MSFT": 400, "SPY": 500}
		}
		prices = pricing.NewStaticSource(quotes)
		logger.Warn().Msg("mock mode: in-memory store and static quotes")
	} else {
		db, err = database.NewDB(cfg.DatabaseConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}

		store = database.NewRepository(db, cfg.TradingConfig.Identity, cfg.TradingConfig.StartingCash)

		redisSource := pricing.NewRedisSource(cfg.RedisConfig, logger)
		defer redisSource.Close()
		prices = redisSource
	}

	scorer := confluence.NewScorer()

	engine, err := trader.New(ctx, trader.Config{
		Identity:            cfg.TradingConfig.Identity,
		StartingCash:        cfg.TradingConfig.StartingCash,
		BankruptcyThreshold: cfg.TradingConfig.BankruptcyThreshold,
		Breaker: circuit.Config{
			DailyLossThresholdPercent: cfg.CircuitBreakerConfig.DailyLossThresholdPercent,
			LossStreakThreshold:       cfg.CircuitBreakerConfig.LossStreakThreshold,
			PauseDuration:             time.Duration(cfg.CircuitBreakerConfig.PauseMinutes) * time.Minute,
			Recovery:                  circuit.RecoveryMode(cfg.CircuitBreakerConfig.RecoveryMode),
		},
	}, store, prices, scorer, eventBus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build trading engine")
	}

	var scheduler *cron.Cron
	if cfg.SnapshotConfig.Enabled {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.SnapshotConfig.CronSpec, func() {
			snapCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := engine.RecordSnapshot(snapCtx); err != nil {
				logger.Error().Err(err).Msg("performance snapshot failed")
			}
		})
		if err != nil {
			logger.Fatal().Err(err).Str("spec", cfg.SnapshotConfig.CronSpec).Msg("invalid snapshot schedule")
		}
		scheduler.Start()
		logger.Info().Str("spec", cfg.SnapshotConfig.CronSpec).Msg("snapshot scheduler started")
	}

	var jwtManager *auth.JWTManager
	if cfg.AuthConfig.Enabled {
		jwtManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.TokenTTL())
	} else {
		logger.Warn().Msg("auth disabled: control endpoints are unauthenticated")
	}

	server := api.NewServer(cfg.ServerConfig, engine, store, scorer, eventBus, jwtManager, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}

	if scheduler != nil {
		cronCtx := scheduler.Stop()
		<-cronCtx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	logger.Info().Msg("paper trader stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
