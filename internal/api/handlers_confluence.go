package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"paper-trader/internal/confluence"
)

func (s *Server) handleConfluenceScore(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	verdict, ok := s.scorer.Score(symbol)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"symbol": symbol, "has_signals": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "has_signals": true, "verdict": verdict})
}

type setSignalsRequest struct {
	Symbol    string  `json:"symbol" binding:"required"`
	Trend     float64 `json:"trend"`
	Momentum  float64 `json:"momentum"`
	Volume    float64 `json:"volume"`
	Direction string  `json:"direction" binding:"required"`
}

// handleSetSignals lets the external analytics feed push component scores.
func (s *Server) handleSetSignals(c *gin.Context) {
	var req setSignalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Direction != "bullish" && req.Direction != "bearish" {
		errorResponse(c, http.StatusBadRequest, "direction must be bullish or bearish")
		return
	}
	for _, score := range []float64{req.Trend, req.Momentum, req.Volume} {
		if score < 0 || score > 1 {
			errorResponse(c, http.StatusBadRequest, "signal scores must be between 0 and 1")
			return
		}
	}

	s.scorer.SetSignals(req.Symbol, confluence.SignalSet{
		Trend:     req.Trend,
		Momentum:  req.Momentum,
		Volume:    req.Volume,
		Direction: req.Direction,
	})
	c.JSON(http.StatusOK, gin.H{"symbol": req.Symbol, "recorded": true})
}
