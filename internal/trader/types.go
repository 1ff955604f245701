// Package trader hosts the per-identity trading engine: the validation
// pipeline that mediates every trade intent, the trading-mode state, and the
// audit writes that come out of both.
package trader

import (
	"time"

	"paper-trader/internal/circuit"
	"paper-trader/internal/guardrails"
	"paper-trader/internal/ledger"
)

// Rule names recorded on rejections, one per pipeline check.
const (
	RuleCircuitBreaker = "circuit_breaker"
	RulePositionSize   = "position_size"
	RuleTradeValue     = "max_trade_value"
	RuleTradeFrequency = "trade_frequency"
	RuleConfluence     = "confluence_required"
	RuleBlockedHours   = "blocked_hours"
	RuleLedger         = "ledger"
)

// TradeIntent is a proposed trade entering the validation pipeline. The
// engine enforces policy over it; it never second-guesses the decision
// itself.
type TradeIntent struct {
	Symbol   string        `json:"symbol"`
	Action   ledger.Action `json:"action"`
	Quantity float64       `json:"quantity"`
	// Price is optional; zero means execute at the current quote.
	Price float64 `json:"price,omitempty"`
	Notes string  `json:"notes,omitempty"`
	// Confluence carries an externally supplied signal verdict. When nil the
	// engine consults its ConfluenceSource.
	Confluence *bool `json:"confluence,omitempty"`
	// RequireConfirmation queues the trade for external review instead of
	// executing once all risk checks pass.
	RequireConfirmation bool `json:"require_confirmation,omitempty"`
}

// ResultStatus is the outcome class of a proposal.
type ResultStatus string

const (
	StatusExecuted ResultStatus = "executed"
	StatusQueued   ResultStatus = "queued"
	StatusRejected ResultStatus = "rejected"
)

// TradeResult is the closed outcome of a proposal: exactly one of the three
// statuses, with the fields of the other branches empty.
type TradeResult struct {
	Status ResultStatus `json:"status"`
	// Trade is set on StatusExecuted.
	Trade *ledger.Trade `json:"trade,omitempty"`
	// Reason and RuleTriggered are set on StatusRejected; Reason alone on
	// StatusQueued.
	Reason        string `json:"reason,omitempty"`
	RuleTriggered string `json:"rule_triggered,omitempty"`
	// Proposed echoes the intent for queued/rejected outcomes.
	Proposed *TradeIntent `json:"proposed_trade,omitempty"`
}

// Rejection is the durable audit record of a rejected proposal.
type Rejection struct {
	ID              int64                  `json:"id"`
	RejectionID     string                 `json:"rejection_id"`
	Symbol          string                 `json:"symbol"`
	Action          ledger.Action          `json:"action"`
	Quantity        float64                `json:"quantity"`
	QuantityPercent float64                `json:"quantity_percent"`
	EstimatedValue  float64                `json:"estimated_value"`
	Reason          string                 `json:"reason"`
	RuleTriggered   string                 `json:"rule_triggered"`
	TradingMode     guardrails.TradingMode `json:"trading_mode"`
	CreatedAt       time.Time              `json:"created_at"`
}

// BreakerEvent is the durable audit record of a circuit-breaker transition or
// a manual mode change.
type BreakerEvent struct {
	ID                int64                  `json:"id"`
	EventID           string                 `json:"event_id"`
	TriggerType       circuit.Trigger        `json:"trigger_type"`
	PreviousMode      guardrails.TradingMode `json:"previous_mode"`
	NewMode           guardrails.TradingMode `json:"new_mode"`
	DailyPnLPercent   float64                `json:"daily_pnl_percent"`
	ConsecutiveLosses int                    `json:"consecutive_losses"`
	PausedUntil       *time.Time             `json:"paused_until,omitempty"`
	Reason            string                 `json:"reason,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// State is the engine's small mutable record: current mode, active override,
// breaker state. Persisted as a singleton row per identity.
type State struct {
	Mode      guardrails.TradingMode `json:"mode"`
	Override  *guardrails.Override   `json:"override,omitempty"`
	Breaker   circuit.State          `json:"breaker"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Status is the engine summary exposed to collaborators.
type Status struct {
	Identity       string                 `json:"identity"`
	Mode           guardrails.TradingMode `json:"mode"`
	Cash           float64                `json:"cash"`
	PositionsValue float64                `json:"positions_value"`
	Equity         float64                `json:"equity"`
	IsPaused       bool                   `json:"is_paused"`
	PausedUntil    *time.Time             `json:"paused_until,omitempty"`
	IsBankrupt     bool                   `json:"is_bankrupt"`
	OpenPositions  int                    `json:"open_positions"`
	TradesToday    int                    `json:"trades_today"`
	OverrideActive bool                   `json:"override_active"`
}

// PerformanceSnapshot is a point-in-time equity record.
type PerformanceSnapshot struct {
	ID              int64     `json:"id"`
	Equity          float64   `json:"equity"`
	Cash            float64   `json:"cash"`
	PositionsValue  float64   `json:"positions_value"`
	TotalPnLPercent float64   `json:"total_pnl_percent"`
	CreatedAt       time.Time `json:"created_at"`
}
