// Package confluence decides whether independent market signals agree with a
// trade intent. Signal scores arrive from external analytics; the scorer only
// weighs them.
package confluence

import (
	"context"
	"sync"
	"time"

	"paper-trader/internal/ledger"
	"paper-trader/internal/trader"
)

// SignalSet holds the per-symbol component scores, each 0.0 to 1.0.
type SignalSet struct {
	Trend     float64   `json:"trend"`
	Momentum  float64   `json:"momentum"`
	Volume    float64   `json:"volume"`
	Direction string    `json:"direction"` // "bullish" or "bearish"
	UpdatedAt time.Time `json:"updated_at"`
}

// Verdict is the weighted composite for one symbol.
type Verdict struct {
	Symbol     string    `json:"symbol"`
	TotalScore float64   `json:"total_score"`
	Grade      string    `json:"grade"`
	Direction  string    `json:"direction"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Scorer weighs signal components into a single confluence verdict. It
// implements the trade pipeline's confluence check: a symbol with no signals,
// stale signals, a weak composite, or a direction that contradicts the intent
// has no confluence.
type Scorer struct {
	trendWeight    float64
	momentumWeight float64
	volumeWeight   float64
	minScore       float64
	maxAge         time.Duration

	mu      sync.RWMutex
	signals map[string]SignalSet

	now func() time.Time
}

// NewScorer creates a scorer with the default weights: trend 50%, momentum
// 30%, volume 20%, with a 70% minimum composite and 15 minute signal expiry.
func NewScorer() *Scorer {
	return &Scorer{
		trendWeight:    0.50,
		momentumWeight: 0.30,
		volumeWeight:   0.20,
		minScore:       0.70,
		maxAge:         15 * time.Minute,
		signals:        make(map[string]SignalSet),
		now:            time.Now,
	}
}

// SetSignals records the latest component scores for a symbol.
func (s *Scorer) SetSignals(symbol string, sig SignalSet) {
	if sig.UpdatedAt.IsZero() {
		sig.UpdatedAt = s.now()
	}
	s.mu.Lock()
	s.signals[symbol] = sig
	s.mu.Unlock()
}

// Score returns the composite verdict for a symbol, or false when no fresh
// signals exist.
func (s *Scorer) Score(symbol string) (Verdict, bool) {
	s.mu.RLock()
	sig, ok := s.signals[symbol]
	s.mu.RUnlock()
	if !ok || s.now().Sub(sig.UpdatedAt) > s.maxAge {
		return Verdict{}, false
	}

	total := sig.Trend*s.trendWeight + sig.Momentum*s.momentumWeight + sig.Volume*s.volumeWeight
	return Verdict{
		Symbol:     symbol,
		TotalScore: total,
		Grade:      grade(total),
		Direction:  sig.Direction,
		UpdatedAt:  sig.UpdatedAt,
	}, true
}

// HasConfluence reports whether the signals support the intent: a strong
// composite pointing the same way the trade does.
func (s *Scorer) HasConfluence(ctx context.Context, intent trader.TradeIntent) (bool, error) {
	verdict, ok := s.Score(intent.Symbol)
	if !ok {
		return false, nil
	}
	if verdict.TotalScore < s.minScore {
		return false, nil
	}

	switch intent.Action {
	case ledger.ActionBuy:
		return verdict.Direction == "bullish", nil
	case ledger.ActionSell:
		return verdict.Direction == "bearish", nil
	}
	return false, nil
}

func grade(score float64) string {
	switch {
	case score >= 0.90:
		return "A+"
	case score >= 0.80:
		return "A"
	case score >= 0.70:
		return "B"
	case score >= 0.60:
		return "C"
	case score >= 0.50:
		return "D"
	default:
		return "F"
	}
}
