// Package pricing supplies market quotes to the trading engine. The Redis
// source reads quotes published by an external feed; the static source serves
// mock mode and tests.
package pricing

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"paper-trader/internal/ledger"
)

const quoteKeyPrefix = "quote:"

// RedisConfig holds the Redis connection settings for the quote feed.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	// QuoteTTL bounds how stale a fallback quote may be before it is
	// treated as unavailable.
	QuoteTTLSeconds int `json:"quote_ttl_seconds"`
}

// RedisSource reads quotes from Redis keys of the form quote:<SYMBOL>. Every
// successful read refreshes an in-memory fallback so a Redis outage degrades
// to last-known prices instead of failing all valuations outright.
type RedisSource struct {
	client   *redis.Client
	quoteTTL time.Duration
	log      zerolog.Logger

	mu       sync.RWMutex
	fallback map[string]cachedQuote
}

type cachedQuote struct {
	price float64
	at    time.Time
}

// NewRedisSource connects to Redis and verifies connectivity. A failed ping
// returns the source in degraded mode rather than an error.
func NewRedisSource(cfg RedisConfig, log zerolog.Logger) *RedisSource {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	quoteTTL := time.Duration(cfg.QuoteTTLSeconds) * time.Second
	if quoteTTL <= 0 {
		quoteTTL = 5 * time.Minute
	}

	s := &RedisSource{
		client:   client,
		quoteTTL: quoteTTL,
		log:      log.With().Str("component", "pricing").Logger(),
		fallback: make(map[string]cachedQuote),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.log.Warn().Err(err).Str("address", cfg.Address).Msg("quote feed unavailable, starting degraded")
	} else {
		s.log.Info().Str("address", cfg.Address).Msg("quote feed connected")
	}
	return s
}

// CurrentPrice returns the live quote for symbol, falling back to the last
// known price when Redis is unreachable. A symbol that was never quoted, or
// whose fallback has gone stale, yields ledger.ErrPriceUnavailable.
func (s *RedisSource) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	val, err := s.client.Get(ctx, quoteKeyPrefix+symbol).Result()
	if err == nil {
		price, perr := strconv.ParseFloat(val, 64)
		if perr != nil || price <= 0 {
			return 0, fmt.Errorf("%w: malformed quote for %s", ledger.ErrPriceUnavailable, symbol)
		}
		s.mu.Lock()
		s.fallback[symbol] = cachedQuote{price: price, at: time.Now()}
		s.mu.Unlock()
		return price, nil
	}
	if err != redis.Nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("quote read failed, trying fallback")
		s.mu.RLock()
		cached, ok := s.fallback[symbol]
		s.mu.RUnlock()
		if ok && time.Since(cached.at) <= s.quoteTTL {
			return cached.price, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ledger.ErrPriceUnavailable, symbol)
}

// PublishPrice writes a quote for consumers of the feed. Used by tooling and
// tests; the engine itself only reads.
func (s *RedisSource) PublishPrice(ctx context.Context, symbol string, price float64) error {
	return s.client.Set(ctx, quoteKeyPrefix+symbol, strconv.FormatFloat(price, 'f', -1, 64), s.quoteTTL).Err()
}

// Close releases the Redis connection.
func (s *RedisSource) Close() error {
	return s.client.Close()
}

// StaticSource serves quotes from a fixed in-memory table.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[string]float64
}

// NewStaticSource creates a source seeded with the given quotes.
func NewStaticSource(quotes map[string]float64) *StaticSource {
	table := make(map[string]float64, len(quotes))
	for sym, price := range quotes {
		table[sym] = price
	}
	return &StaticSource{quotes: table}
}

func (s *StaticSource) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	price, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: %s", ledger.ErrPriceUnavailable, symbol)
	}
	return price, nil
}

// SetPrice updates or adds a quote.
func (s *StaticSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.quotes[symbol] = price
	s.mu.Unlock()
}
