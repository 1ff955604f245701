// Package circuit implements the trading circuit breaker: rolling daily P&L
// and consecutive-loss tracking that proposes automatic mode downgrades and
// timed trading pauses. The breaker only ever proposes downgrades; upgrades
// are a manual operation on the engine.
//
// All transitions are pure functions of (state, now): pause expiry and the
// day-boundary reset are evaluated on each call, never by a background timer.
// The owning engine serializes access.
package circuit

import (
	"time"

	"paper-trader/internal/guardrails"
)

// Trigger identifies why the breaker acted.
type Trigger string

const (
	TriggerDailyLoss    Trigger = "daily_loss"
	TriggerLossStreak   Trigger = "loss_streak"
	TriggerPauseExpired Trigger = "pause_expired"
	TriggerManualReset  Trigger = "manual_reset"
	TriggerManual       Trigger = "manual"
)

// RecoveryMode selects the mode restored when a pause expires.
type RecoveryMode string

const (
	RecoverConservative RecoveryMode = "conservative"
	RecoverPrevious     RecoveryMode = "previous"
)

// Config holds the breaker thresholds.
type Config struct {
	// DailyLossThresholdPercent trips the daily-loss rule when daily P&L
	// falls to or below its negation (10.0 means trip at -10%).
	DailyLossThresholdPercent float64 `json:"daily_loss_threshold_percent"`
	// LossStreakThreshold is the consecutive losing trades before a pause.
	LossStreakThreshold int `json:"loss_streak_threshold"`
	// PauseDuration is how long a loss-streak pause lasts.
	PauseDuration time.Duration `json:"pause_duration"`
	// Recovery selects the mode restored after a pause expires.
	Recovery RecoveryMode `json:"recovery_mode"`
}

// DefaultConfig returns the stock thresholds: -10% daily loss, 5 consecutive
// losses, 1 hour pause, conservative recovery.
func DefaultConfig() Config {
	return Config{
		DailyLossThresholdPercent: 10.0,
		LossStreakThreshold:       5,
		PauseDuration:             time.Hour,
		Recovery:                  RecoverConservative,
	}
}

// State is the breaker's persisted state for one trading identity.
type State struct {
	DailyPnLPercent   float64    `json:"daily_pnl_percent"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	PausedUntil       *time.Time `json:"paused_until,omitempty"`
	// PrePauseMode is the mode held before a loss-streak pause, kept for
	// RecoverPrevious.
	PrePauseMode guardrails.TradingMode `json:"pre_pause_mode,omitempty"`
	// DayStartEquity is the equity baseline for DailyPnLPercent.
	DayStartEquity float64 `json:"day_start_equity"`
	// DayStartDate is the trading day the baseline belongs to (UTC date).
	DayStartDate time.Time `json:"day_start_date"`
}

// Breaker evaluates the circuit-breaker rules. It holds no lock; the engine
// owns concurrency.
type Breaker struct {
	cfg   Config
	state State
}

// New creates a breaker with the given config and restored state.
func New(cfg Config, state State) *Breaker {
	if cfg.DailyLossThresholdPercent <= 0 {
		cfg.DailyLossThresholdPercent = DefaultConfig().DailyLossThresholdPercent
	}
	if cfg.LossStreakThreshold <= 0 {
		cfg.LossStreakThreshold = DefaultConfig().LossStreakThreshold
	}
	if cfg.PauseDuration <= 0 {
		cfg.PauseDuration = DefaultConfig().PauseDuration
	}
	if cfg.Recovery != RecoverPrevious {
		cfg.Recovery = RecoverConservative
	}
	return &Breaker{cfg: cfg, state: state}
}

// State returns a copy of the current breaker state.
func (b *Breaker) State() State {
	return b.state
}

// Config returns the breaker thresholds.
func (b *Breaker) Config() Config {
	return b.cfg
}

// Paused reports whether a breaker pause is in force at the given instant.
func (b *Breaker) Paused(now time.Time) bool {
	return b.state.PausedUntil != nil && now.Before(*b.state.PausedUntil)
}

// RollDay resets the daily P&L baseline when the UTC date has changed since
// the last snapshot. Caller-driven; there is no timer.
func (b *Breaker) RollDay(now time.Time, equity float64) bool {
	day := now.UTC().Truncate(24 * time.Hour)
	if b.state.DayStartDate.Equal(day) && b.state.DayStartEquity > 0 {
		return false
	}
	b.state.DayStartDate = day
	b.state.DayStartEquity = equity
	b.state.DailyPnLPercent = 0
	return true
}

// UpdateDailyPnL recomputes the rolling daily P&L against the day baseline.
func (b *Breaker) UpdateDailyPnL(equity float64) {
	if b.state.DayStartEquity <= 0 {
		return
	}
	b.state.DailyPnLPercent = (equity - b.state.DayStartEquity) / b.state.DayStartEquity * 100
}

// RecordOutcome feeds a realized trade result into the loss streak. Losses
// increment the streak; break-even or better resets it.
func (b *Breaker) RecordOutcome(realizedPnL float64) {
	if realizedPnL < 0 {
		b.state.ConsecutiveLosses++
	} else {
		b.state.ConsecutiveLosses = 0
	}
}

// Downgrade is a proposed automatic transition.
type Downgrade struct {
	Trigger     Trigger
	NewMode     guardrails.TradingMode
	PausedUntil *time.Time
}

// Evaluate checks the trigger rules against the current state and mode. When
// a rule fires, the transition is applied to the breaker's own state (pause
// set, streak cleared) and returned for the engine to adopt; nil means no
// action. The streak reset on pause prevents re-tripping on every evaluation
// while already paused.
func (b *Breaker) Evaluate(mode guardrails.TradingMode, now time.Time) *Downgrade {
	if b.state.ConsecutiveLosses >= b.cfg.LossStreakThreshold && !b.Paused(now) {
		until := now.Add(b.cfg.PauseDuration)
		b.state.PausedUntil = &until
		b.state.PrePauseMode = mode
		b.state.ConsecutiveLosses = 0
		return &Downgrade{Trigger: TriggerLossStreak, NewMode: guardrails.ModePaused, PausedUntil: &until}
	}

	if b.state.DailyPnLPercent <= -b.cfg.DailyLossThresholdPercent &&
		mode != guardrails.ModeConservative && mode != guardrails.ModePaused {
		return &Downgrade{Trigger: TriggerDailyLoss, NewMode: guardrails.ModeConservative}
	}

	return nil
}

// ResolvePause clears an elapsed pause and returns the mode to restore. The
// breaker never resumes by the mere passage of time: this must be called at
// the next evaluation, and the restored mode is re-evaluated by the caller.
// The second return is false while the pause is still in force or absent.
func (b *Breaker) ResolvePause(now time.Time) (guardrails.TradingMode, bool) {
	if b.state.PausedUntil == nil || now.Before(*b.state.PausedUntil) {
		return "", false
	}

	restored := guardrails.ModeConservative
	if b.cfg.Recovery == RecoverPrevious && b.state.PrePauseMode.Valid() && b.state.PrePauseMode != guardrails.ModePaused {
		restored = b.state.PrePauseMode
	}

	b.state.PausedUntil = nil
	b.state.PrePauseMode = ""
	return restored, true
}

// Reset manually clears trip state: pause, streak, and pre-pause mode. The
// daily baseline is left alone so the daily-loss rule keeps its teeth.
func (b *Breaker) Reset() {
	b.state.PausedUntil = nil
	b.state.PrePauseMode = ""
	b.state.ConsecutiveLosses = 0
}
