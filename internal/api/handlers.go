package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"paper-trader/internal/auth"
	"paper-trader/internal/guardrails"
	"paper-trader/internal/ledger"
	"paper-trader/internal/trader"
)

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	type healthChecker interface {
		HealthCheck(ctx context.Context) error
	}
	if hc, ok := s.store.(healthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
		"identity": s.engine.Identity(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.engine.Status(c.Request.Context())
	if err != nil {
		if errors.Is(err, ledger.ErrPriceUnavailable) {
			errorResponse(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "failed to compute status")
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.store.Positions(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load positions")
		return
	}
	if positions == nil {
		positions = []ledger.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (s *Server) handleTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	limit := queryInt(c, "limit", 100)

	trades, err := s.store.Trades(c.Request.Context(), symbol, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load trades")
		return
	}
	if trades == nil {
		trades = []ledger.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) handleValuation(c *gin.Context) {
	valuation, err := s.engine.Valuation(c.Request.Context())
	if err != nil {
		if errors.Is(err, ledger.ErrPriceUnavailable) {
			errorResponse(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "failed to compute valuation")
		return
	}
	c.JSON(http.StatusOK, valuation)
}

func (s *Server) handleCircuitBreaker(c *gin.Context) {
	state, paused := s.engine.CircuitBreaker()
	c.JSON(http.StatusOK, gin.H{
		"mode":               s.engine.Mode(),
		"is_paused":          paused,
		"daily_pnl_percent":  state.DailyPnLPercent,
		"consecutive_losses": state.ConsecutiveLosses,
		"paused_until":       state.PausedUntil,
		"pre_pause_mode":     state.PrePauseMode,
	})
}

func (s *Server) handleBreakerEvents(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	list, err := s.store.BreakerEvents(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load circuit breaker events")
		return
	}
	if list == nil {
		list = []trader.BreakerEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": list, "count": len(list)})
}

func (s *Server) handleRejections(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	list, err := s.store.Rejections(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load rejections")
		return
	}
	if list == nil {
		list = []trader.Rejection{}
	}
	c.JSON(http.StatusOK, gin.H{"rejections": list, "count": len(list)})
}

func (s *Server) handleSnapshots(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	list, err := s.store.Snapshots(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load snapshots")
		return
	}
	if list == nil {
		list = []trader.PerformanceSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": list, "count": len(list)})
}

type proposeTradeRequest struct {
	Symbol              string  `json:"symbol" binding:"required"`
	Action              string  `json:"action" binding:"required"`
	Quantity            float64 `json:"quantity" binding:"required"`
	Price               float64 `json:"price"`
	Notes               string  `json:"notes"`
	Confluence          *bool   `json:"confluence"`
	RequireConfirmation bool    `json:"require_confirmation"`
}

func (s *Server) handleProposeTrade(c *gin.Context) {
	var req proposeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	action, err := ledger.ParseAction(req.Action)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.Propose(c.Request.Context(), trader.TradeIntent{
		Symbol:              req.Symbol,
		Action:              action,
		Quantity:            req.Quantity,
		Price:               req.Price,
		Notes:               req.Notes,
		Confluence:          req.Confluence,
		RequireConfirmation: req.RequireConfirmation,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidIntent):
			errorResponse(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrPriceUnavailable):
			errorResponse(c, http.StatusServiceUnavailable, err.Error())
		default:
			errorResponse(c, http.StatusInternalServerError, "trade proposal failed")
		}
		return
	}

	// Rejections are a normal pipeline outcome, not an HTTP error.
	c.JSON(http.StatusOK, result)
}

type switchModeRequest struct {
	Mode   string `json:"mode" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) handleSwitchMode(c *gin.Context) {
	var req switchModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	mode, err := guardrails.ParseMode(req.Mode)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.engine.SwitchMode(c.Request.Context(), mode, req.Reason); err != nil {
		if errors.Is(err, guardrails.ErrInvalidTransition) {
			errorResponse(c, http.StatusConflict, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "mode switch failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

type grantOverrideRequest struct {
	Hours              float64 `json:"hours" binding:"required"`
	MaxPositionPercent float64 `json:"max_position_percent" binding:"required"`
	Reason             string  `json:"reason" binding:"required"`
}

func (s *Server) handleGrantOverride(c *gin.Context) {
	var req grantOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	grantedBy := auth.Operator(c)
	if grantedBy == "" {
		grantedBy = "local"
	}

	override, err := s.engine.GrantOverride(c.Request.Context(), req.Hours, req.MaxPositionPercent, req.Reason, grantedBy)
	if err != nil {
		if errors.Is(err, guardrails.ErrInvalidOverride) {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "override grant failed")
		return
	}

	c.JSON(http.StatusOK, override)
}

func (s *Server) handleClearOverride(c *gin.Context) {
	if err := s.engine.ClearOverride(c.Request.Context()); err != nil {
		errorResponse(c, http.StatusInternalServerError, "override clear failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) handleResetBreaker(c *gin.Context) {
	if err := s.engine.ResetBreaker(c.Request.Context()); err != nil {
		errorResponse(c, http.StatusInternalServerError, "circuit breaker reset failed")
		return
	}
	state, paused := s.engine.CircuitBreaker()
	c.JSON(http.StatusOK, gin.H{
		"is_paused":          paused,
		"consecutive_losses": state.ConsecutiveLosses,
	})
}

type resetAccountRequest struct {
	StartingCash float64 `json:"starting_cash" binding:"required"`
	Confirm      bool    `json:"confirm"`
}

func (s *Server) handleResetAccount(c *gin.Context) {
	var req resetAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	// Destructive and irreversible, so demand explicit confirmation.
	if !req.Confirm {
		errorResponse(c, http.StatusBadRequest, "account reset requires confirm: true")
		return
	}

	if err := s.engine.ResetAccount(c.Request.Context(), req.StartingCash); err != nil {
		if errors.Is(err, ledger.ErrInvalidIntent) {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "account reset failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"reset": true, "starting_cash": req.StartingCash})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
