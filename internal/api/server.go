package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"paper-trader/internal/auth"
	"paper-trader/internal/confluence"
	"paper-trader/internal/events"
	"paper-trader/internal/trader"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int      `json:"port"`
	Host           string   `json:"host"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Server exposes the trading engine over HTTP and WebSocket.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	engine      *trader.Engine
	store       trader.Store
	scorer      *confluence.Scorer
	eventBus    *events.EventBus
	jwtManager  *auth.JWTManager
	config      ServerConfig
	rateLimiter *RateLimiter
	wsHub       *WSHub
	log         zerolog.Logger
}

// NewServer creates the API server. jwtManager may be nil, which leaves the
// control endpoints unauthenticated (local development only). scorer may be
// nil when no confluence feed exists.
func NewServer(
	config ServerConfig,
	engine *trader.Engine,
	store trader.Store,
	scorer *confluence.Scorer,
	eventBus *events.EventBus,
	jwtManager *auth.JWTManager,
	log zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		engine:      engine,
		store:       store,
		scorer:      scorer,
		eventBus:    eventBus,
		jwtManager:  jwtManager,
		config:      config,
		rateLimiter: NewRateLimiter(60, time.Minute),
		log:         log.With().Str("component", "api").Logger(),
	}

	server.wsHub = InitWebSocket(eventBus, server.log)
	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(s.rateLimit())
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/trades", s.handleTrades)
		api.GET("/valuation", s.handleValuation)
		api.GET("/circuit-breaker", s.handleCircuitBreaker)
		api.GET("/circuit-breaker/events", s.handleBreakerEvents)
		api.GET("/rejections", s.handleRejections)
		api.GET("/snapshots", s.handleSnapshots)
		api.POST("/trades/propose", s.handleProposeTrade)
		if s.scorer != nil {
			api.GET("/confluence", s.handleConfluenceScore)
		}
	}

	// Control surface: mode switches, overrides, resets.
	control := s.router.Group("/api")
	control.Use(s.rateLimit())
	if s.jwtManager != nil {
		control.Use(auth.Middleware(s.jwtManager))
	}
	{
		control.POST("/mode", s.handleSwitchMode)
		control.POST("/override", s.handleGrantOverride)
		control.DELETE("/override", s.handleClearOverride)
		control.POST("/circuit-breaker/reset", s.handleResetBreaker)
		control.POST("/account/reset", s.handleResetAccount)
		if s.scorer != nil {
			control.POST("/confluence/signals", s.handleSetSignals)
		}
	}

	s.router.GET("/ws", s.handleWebSocket)
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + ":" + c.FullPath()
		if !s.rateLimiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router returns the gin engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}
