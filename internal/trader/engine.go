package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paper-trader/internal/circuit"
	"paper-trader/internal/events"
	"paper-trader/internal/guardrails"
	"paper-trader/internal/ledger"
)

// Config holds engine construction parameters.
type Config struct {
	// Identity names the trading identity this engine owns. Engines for
	// different identities share nothing.
	Identity string
	// StartingCash seeds the wallet on first use and on account reset.
	StartingCash float64
	// BankruptcyThreshold marks the account bankrupt when equity falls below
	// this fraction of starting capital.
	BankruptcyThreshold float64
	// Breaker configures the circuit breaker thresholds.
	Breaker circuit.Config
}

// Engine is the trade validation/execution pipeline for one trading identity.
// All mutating operations are serialized through a single lock: the ledger
// mutation and the circuit-breaker update of one proposal never interleave
// with another's.
type Engine struct {
	cfg        Config
	store      Store
	prices     PriceSource
	confluence ConfluenceSource
	bus        *events.EventBus
	log        zerolog.Logger

	mu       sync.Mutex
	mode     guardrails.TradingMode
	override *guardrails.Override
	breaker  *circuit.Breaker

	// now is the clock; injectable for tests.
	now func() time.Time
}

// New builds an engine, restoring persisted mode/override/breaker state when
// present. bus and confluence may be nil.
func New(ctx context.Context, cfg Config, store Store, prices PriceSource, confluence ConfluenceSource, bus *events.EventBus, log zerolog.Logger) (*Engine, error) {
	if cfg.Identity == "" {
		cfg.Identity = "default"
	}
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = 100_000
	}

	e := &Engine{
		cfg:        cfg,
		store:      store,
		prices:     prices,
		confluence: confluence,
		bus:        bus,
		log:        log.With().Str("component", "trader").Str("identity", cfg.Identity).Logger(),
		mode:       guardrails.ModeNormal,
		now:        time.Now,
	}

	state, err := store.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trader state: %w", err)
	}
	if state != nil {
		if state.Mode.Valid() {
			e.mode = state.Mode
		}
		e.override = state.Override
		e.breaker = circuit.New(cfg.Breaker, state.Breaker)
	} else {
		e.breaker = circuit.New(cfg.Breaker, circuit.State{})
	}

	return e, nil
}

// Identity returns the trading identity this engine owns.
func (e *Engine) Identity() string {
	return e.cfg.Identity
}

// Mode returns the current trading mode.
func (e *Engine) Mode() guardrails.TradingMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// ActiveOverride returns the override if one is in force right now.
func (e *Engine) ActiveOverride() *guardrails.Override {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.override.ActiveAt(e.now()) {
		o := *e.override
		return &o
	}
	return nil
}

// CircuitBreaker returns the breaker state plus whether a pause is in force.
func (e *Engine) CircuitBreaker() (circuit.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breaker.State(), e.breaker.Paused(e.now())
}

// Propose runs a trade intent through the validation pipeline: resolve
// effective limits, re-evaluate the circuit breaker, check every rule in
// order, then execute against the ledger. Every rejection is written to the
// audit trail before it is returned.
func (e *Engine) Propose(ctx context.Context, intent TradeIntent) (*TradeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	if intent.Action != ledger.ActionBuy && intent.Action != ledger.ActionSell {
		return nil, fmt.Errorf("%w: action %q", ledger.ErrInvalidIntent, intent.Action)
	}
	if err := ledger.ValidateIntent(intent.Symbol, intent.Quantity, 1); err != nil {
		return nil, err
	}
	if intent.Price <= 0 {
		price, err := e.prices.CurrentPrice(ctx, intent.Symbol)
		if err != nil {
			return nil, fmt.Errorf("quote %s: %w", intent.Symbol, err)
		}
		intent.Price = price
	}

	wallet, positions, quotes, valuation, err := e.valuateLocked(ctx)
	if err != nil {
		return nil, err
	}

	if err := e.reevaluateLocked(ctx, now, valuation.TotalEquity); err != nil {
		return nil, err
	}

	estimatedValue := intent.Quantity * intent.Price
	quantityPercent := 0.0
	if valuation.TotalEquity > 0 {
		quantityPercent = estimatedValue / valuation.TotalEquity * 100
	}

	limits := guardrails.ForMode(e.mode)
	override := e.override
	if !override.ActiveAt(now) {
		override = nil
	}

	// Paused permits position management only: sells against an existing
	// holding skip the exposure rules, buys are refused outright. An
	// override never unpauses trading.
	if e.mode == guardrails.ModePaused {
		if intent.Action == ledger.ActionSell {
			return e.executeLocked(ctx, intent, wallet, positions, quotes, now)
		}
		reason := "trading paused"
		if until := e.breaker.State().PausedUntil; until != nil {
			reason = fmt.Sprintf("trading paused until %s", until.Format(time.RFC3339))
		}
		return e.rejectLocked(ctx, intent, reason, RuleCircuitBreaker, quantityPercent, estimatedValue)
	}

	maxPositionPercent := limits.MaxPositionPercent
	if override != nil {
		maxPositionPercent = override.MaxPositionPercent
	}
	if quantityPercent > maxPositionPercent {
		return e.rejectLocked(ctx, intent,
			fmt.Sprintf("position size %.1f%% exceeds max %.1f%%", quantityPercent, maxPositionPercent),
			RulePositionSize, quantityPercent, estimatedValue)
	}

	if estimatedValue > limits.MaxTradeValue {
		return e.rejectLocked(ctx, intent,
			fmt.Sprintf("trade value $%.2f exceeds max $%.2f", estimatedValue, limits.MaxTradeValue),
			RuleTradeValue, quantityPercent, estimatedValue)
	}

	tradesToday, err := e.store.CountTradesOn(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count trades today: %w", err)
	}
	if tradesToday >= limits.MaxTradesPerDay {
		return e.rejectLocked(ctx, intent,
			fmt.Sprintf("daily trade limit reached (%d/%d)", tradesToday, limits.MaxTradesPerDay),
			RuleTradeFrequency, quantityPercent, estimatedValue)
	}

	if limits.RequiresConfluence {
		agreed, err := e.confluenceFor(ctx, intent)
		if err != nil {
			return nil, fmt.Errorf("confluence check: %w", err)
		}
		if !agreed {
			return e.rejectLocked(ctx, intent,
				"trade requires confluence signal support",
				RuleConfluence, quantityPercent, estimatedValue)
		}
	}

	if window, blocked := limits.BlockedAt(now.UTC().Hour()); blocked {
		return e.rejectLocked(ctx, intent,
			fmt.Sprintf("trading blocked during hours %02d-%02d UTC", window.Start, window.End),
			RuleBlockedHours, quantityPercent, estimatedValue)
	}

	if intent.RequireConfirmation {
		e.publish(events.EventTradeQueued, map[string]interface{}{
			"symbol":   intent.Symbol,
			"action":   intent.Action,
			"quantity": intent.Quantity,
			"price":    intent.Price,
		})
		e.log.Info().Str("symbol", intent.Symbol).Str("action", string(intent.Action)).Msg("trade queued for review")
		proposed := intent
		return &TradeResult{
			Status:   StatusQueued,
			Reason:   "passed risk checks, awaiting external confirmation",
			Proposed: &proposed,
		}, nil
	}

	return e.executeLocked(ctx, intent, wallet, positions, quotes, now)
}

// confluenceFor resolves the confluence verdict: the intent's own field wins,
// then the configured source; with neither, no confluence exists.
func (e *Engine) confluenceFor(ctx context.Context, intent TradeIntent) (bool, error) {
	if intent.Confluence != nil {
		return *intent.Confluence, nil
	}
	if e.confluence != nil {
		return e.confluence.HasConfluence(ctx, intent)
	}
	return false, nil
}

// executeLocked runs the ledger mutation and feeds the outcome back into the
// circuit breaker. Ledger refusals are policy rejections, not errors.
func (e *Engine) executeLocked(ctx context.Context, intent TradeIntent, wallet ledger.Wallet, positions []ledger.Position, quotes map[string]float64, now time.Time) (*TradeResult, error) {
	estimatedValue := intent.Quantity * intent.Price

	trade, err := e.store.ExecuteTrade(ctx, intent.Action, intent.Symbol, intent.Quantity, intent.Price, intent.Notes, now)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) ||
			errors.Is(err, ledger.ErrInsufficientShares) ||
			errors.Is(err, ledger.ErrNoPosition) {
			pct := 0.0
			if equity := equityWith(wallet, positions, quotes, intent); equity > 0 {
				pct = estimatedValue / equity * 100
			}
			return e.rejectLocked(ctx, intent, err.Error(), RuleLedger, pct, estimatedValue)
		}
		return nil, fmt.Errorf("execute trade: %w", err)
	}

	if trade.RealizedPnL != nil {
		e.breaker.RecordOutcome(*trade.RealizedPnL)
	}

	// Re-price equity after the mutation and re-run the breaker rules; a
	// downgrade takes effect before the next proposal is even made.
	if equity, err := e.equityLocked(ctx); err == nil {
		e.breaker.UpdateDailyPnL(equity)
	}
	if d := e.breaker.Evaluate(e.mode, now); d != nil {
		if err := e.applyDowngradeLocked(ctx, d); err != nil {
			return nil, err
		}
	}
	if err := e.persistStateLocked(ctx, now); err != nil {
		return nil, err
	}

	e.publish(events.EventTradeExecuted, map[string]interface{}{
		"trade_id": trade.TradeID,
		"symbol":   trade.Symbol,
		"action":   trade.Action,
		"quantity": trade.Quantity,
		"price":    trade.Price,
	})
	logEvt := e.log.Info().
		Str("symbol", trade.Symbol).
		Str("action", string(trade.Action)).
		Float64("quantity", trade.Quantity).
		Float64("price", trade.Price)
	if trade.RealizedPnL != nil {
		logEvt = logEvt.Float64("realized_pnl", *trade.RealizedPnL)
	}
	logEvt.Msg("trade executed")

	return &TradeResult{Status: StatusExecuted, Trade: trade}, nil
}

// rejectLocked writes the audit record, publishes, and returns the rejection
// as data. An audit write failure is a system error: the rejection must be
// durable before it is returned.
func (e *Engine) rejectLocked(ctx context.Context, intent TradeIntent, reason, rule string, quantityPercent, estimatedValue float64) (*TradeResult, error) {
	rejection := &Rejection{
		RejectionID:     uuid.NewString(),
		Symbol:          intent.Symbol,
		Action:          intent.Action,
		Quantity:        intent.Quantity,
		QuantityPercent: quantityPercent,
		EstimatedValue:  estimatedValue,
		Reason:          reason,
		RuleTriggered:   rule,
		TradingMode:     e.mode,
		CreatedAt:       e.now(),
	}
	if err := e.store.AppendRejection(ctx, rejection); err != nil {
		return nil, fmt.Errorf("audit rejection: %w", err)
	}
	if err := e.persistStateLocked(ctx, e.now()); err != nil {
		return nil, err
	}

	e.publish(events.EventTradeRejected, map[string]interface{}{
		"symbol":         intent.Symbol,
		"action":         intent.Action,
		"reason":         reason,
		"rule_triggered": rule,
	})
	e.log.Info().
		Str("symbol", intent.Symbol).
		Str("action", string(intent.Action)).
		Str("rule", rule).
		Str("reason", reason).
		Msg("trade rejected")

	proposed := intent
	return &TradeResult{
		Status:        StatusRejected,
		Reason:        reason,
		RuleTriggered: rule,
		Proposed:      &proposed,
	}, nil
}

// reevaluateLocked is the circuit-breaker step every proposal passes through:
// lazy day rollover, daily P&L refresh, pause expiry resolution, then the
// trigger rules.
func (e *Engine) reevaluateLocked(ctx context.Context, now time.Time, equity float64) error {
	e.breaker.RollDay(now, equity)
	e.breaker.UpdateDailyPnL(equity)

	if restored, expired := e.breaker.ResolvePause(now); expired {
		previous := e.mode
		e.mode = restored
		event := &BreakerEvent{
			EventID:         uuid.NewString(),
			TriggerType:     circuit.TriggerPauseExpired,
			PreviousMode:    previous,
			NewMode:         restored,
			DailyPnLPercent: e.breaker.State().DailyPnLPercent,
			CreatedAt:       now,
		}
		if err := e.store.AppendBreakerEvent(ctx, event); err != nil {
			return fmt.Errorf("audit pause expiry: %w", err)
		}
		e.publish(events.EventPauseExpired, map[string]interface{}{
			"previous_mode": previous,
			"new_mode":      restored,
		})
		e.log.Warn().Str("previous_mode", string(previous)).Str("new_mode", string(restored)).Msg("circuit breaker pause expired")
	}

	if d := e.breaker.Evaluate(e.mode, now); d != nil {
		if err := e.applyDowngradeLocked(ctx, d); err != nil {
			return err
		}
	}
	return e.persistStateLocked(ctx, now)
}

// applyDowngradeLocked adopts a breaker-proposed transition and audits it.
func (e *Engine) applyDowngradeLocked(ctx context.Context, d *circuit.Downgrade) error {
	previous := e.mode
	e.mode = d.NewMode

	state := e.breaker.State()
	event := &BreakerEvent{
		EventID:           uuid.NewString(),
		TriggerType:       d.Trigger,
		PreviousMode:      previous,
		NewMode:           d.NewMode,
		DailyPnLPercent:   state.DailyPnLPercent,
		ConsecutiveLosses: state.ConsecutiveLosses,
		PausedUntil:       d.PausedUntil,
		CreatedAt:         e.now(),
	}
	if err := e.store.AppendBreakerEvent(ctx, event); err != nil {
		return fmt.Errorf("audit breaker event: %w", err)
	}

	e.publish(events.EventBreakerTripped, map[string]interface{}{
		"trigger_type":  d.Trigger,
		"previous_mode": previous,
		"new_mode":      d.NewMode,
		"paused_until":  d.PausedUntil,
	})
	e.log.Warn().
		Str("trigger", string(d.Trigger)).
		Str("previous_mode", string(previous)).
		Str("new_mode", string(d.NewMode)).
		Float64("daily_pnl_percent", state.DailyPnLPercent).
		Msg("circuit breaker tripped")
	return nil
}

// SwitchMode changes the trading mode manually. Downgrades are always
// allowed; upgrades are refused while a breaker pause is in force (reset the
// breaker first).
func (e *Engine) SwitchMode(ctx context.Context, newMode guardrails.TradingMode, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if !newMode.Valid() {
		return fmt.Errorf("%w: %q", guardrails.ErrInvalidTransition, newMode)
	}
	if e.breaker.Paused(now) && newMode.IsUpgradeFrom(guardrails.ModePaused) {
		return fmt.Errorf("%w: circuit breaker pause in force until %s",
			guardrails.ErrInvalidTransition, e.breaker.State().PausedUntil.Format(time.RFC3339))
	}
	if newMode == e.mode {
		return nil
	}

	previous := e.mode
	e.mode = newMode

	event := &BreakerEvent{
		EventID:           uuid.NewString(),
		TriggerType:       circuit.TriggerManual,
		PreviousMode:      previous,
		NewMode:           newMode,
		DailyPnLPercent:   e.breaker.State().DailyPnLPercent,
		ConsecutiveLosses: e.breaker.State().ConsecutiveLosses,
		Reason:            reason,
		CreatedAt:         now,
	}
	if err := e.store.AppendBreakerEvent(ctx, event); err != nil {
		return fmt.Errorf("audit mode switch: %w", err)
	}
	if err := e.persistStateLocked(ctx, now); err != nil {
		return err
	}

	e.publish(events.EventModeChanged, map[string]interface{}{
		"previous_mode": previous,
		"new_mode":      newMode,
		"reason":        reason,
	})
	e.log.Info().Str("previous_mode", string(previous)).Str("new_mode", string(newMode)).Str("reason", reason).Msg("mode switched")
	return nil
}

// GrantOverride applies a time-bounded elevated position limit, replacing any
// existing override.
func (e *Engine) GrantOverride(ctx context.Context, hours, maxPositionPercent float64, reason, grantedBy string) (*guardrails.Override, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	override, err := guardrails.NewOverride(hours, maxPositionPercent, reason, grantedBy, now)
	if err != nil {
		return nil, err
	}
	e.override = override
	if err := e.persistStateLocked(ctx, now); err != nil {
		return nil, err
	}

	e.publish(events.EventOverrideGranted, map[string]interface{}{
		"max_position_percent": override.MaxPositionPercent,
		"expires_at":           override.ExpiresAt,
		"reason":               override.Reason,
		"granted_by":           override.GrantedBy,
	})
	e.log.Warn().
		Float64("max_position_percent", override.MaxPositionPercent).
		Time("expires_at", override.ExpiresAt).
		Str("granted_by", override.GrantedBy).
		Str("reason", override.Reason).
		Msg("override granted")

	granted := *override
	return &granted, nil
}

// ClearOverride revokes the current override before its expiry.
func (e *Engine) ClearOverride(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.override == nil {
		return nil
	}
	e.override = nil
	if err := e.persistStateLocked(ctx, e.now()); err != nil {
		return err
	}
	e.publish(events.EventOverrideCleared, nil)
	e.log.Info().Msg("override cleared")
	return nil
}

// ResetBreaker manually clears trip state and audits the reset.
func (e *Engine) ResetBreaker(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.breaker.Reset()
	event := &BreakerEvent{
		EventID:      uuid.NewString(),
		TriggerType:  circuit.TriggerManualReset,
		PreviousMode: e.mode,
		NewMode:      e.mode,
		CreatedAt:    now,
	}
	if err := e.store.AppendBreakerEvent(ctx, event); err != nil {
		return fmt.Errorf("audit breaker reset: %w", err)
	}
	if err := e.persistStateLocked(ctx, now); err != nil {
		return err
	}
	e.publish(events.EventBreakerReset, nil)
	e.log.Info().Msg("circuit breaker manually reset")
	return nil
}

// ResetAccount clears positions and history, restores cash, and re-baselines
// the breaker. Irreversible.
func (e *Engine) ResetAccount(ctx context.Context, startingCash float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if startingCash <= 0 {
		return fmt.Errorf("%w: starting cash %.2f must be positive", ledger.ErrInvalidIntent, startingCash)
	}

	now := e.now()
	if err := e.store.ResetAccount(ctx, startingCash, now); err != nil {
		return fmt.Errorf("reset account: %w", err)
	}
	e.breaker.Reset()
	e.breaker.RollDay(now, startingCash)
	if err := e.persistStateLocked(ctx, now); err != nil {
		return err
	}

	e.publish(events.EventAccountReset, map[string]interface{}{"starting_cash": startingCash})
	e.log.Warn().Float64("starting_cash", startingCash).Msg("account reset")
	return nil
}

// Status summarizes the engine for collaborators. It propagates a missing
// quote for a held symbol rather than guessing a price.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	wallet, positions, _, valuation, err := e.valuateLocked(ctx)
	if err != nil {
		return nil, err
	}
	tradesToday, err := e.store.CountTradesOn(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count trades today: %w", err)
	}

	state := e.breaker.State()
	paused := e.mode == guardrails.ModePaused || e.breaker.Paused(now)

	return &Status{
		Identity:       e.cfg.Identity,
		Mode:           e.mode,
		Cash:           valuation.Cash,
		PositionsValue: valuation.PositionsValue,
		Equity:         valuation.TotalEquity,
		IsPaused:       paused,
		PausedUntil:    state.PausedUntil,
		IsBankrupt:     e.cfg.BankruptcyThreshold > 0 && valuation.TotalEquity < e.cfg.BankruptcyThreshold*wallet.StartingCapital,
		OpenPositions:  len(positions),
		TradesToday:    tradesToday,
		OverrideActive: e.override.ActiveAt(now),
	}, nil
}

// Valuation prices the account at current quotes without mutating anything.
func (e *Engine) Valuation(ctx context.Context) (*ledger.Valuation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, _, _, v, err := e.valuateLocked(ctx)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// RecordSnapshot persists a point-in-time equity record.
func (e *Engine) RecordSnapshot(ctx context.Context) (*PerformanceSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wallet, _, _, valuation, err := e.valuateLocked(ctx)
	if err != nil {
		return nil, err
	}

	pnlPercent := 0.0
	if wallet.StartingCapital > 0 {
		pnlPercent = (valuation.TotalEquity - wallet.StartingCapital) / wallet.StartingCapital * 100
	}
	snapshot := &PerformanceSnapshot{
		Equity:          valuation.TotalEquity,
		Cash:            valuation.Cash,
		PositionsValue:  valuation.PositionsValue,
		TotalPnLPercent: pnlPercent,
		CreatedAt:       e.now(),
	}
	if err := e.store.AppendSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("append snapshot: %w", err)
	}
	e.publish(events.EventSnapshotRecorded, map[string]interface{}{
		"equity":            snapshot.Equity,
		"total_pnl_percent": snapshot.TotalPnLPercent,
	})
	return snapshot, nil
}

// valuateLocked loads the account and prices every held symbol.
func (e *Engine) valuateLocked(ctx context.Context) (ledger.Wallet, []ledger.Position, map[string]float64, ledger.Valuation, error) {
	wallet, err := e.store.Wallet(ctx)
	if err != nil {
		return ledger.Wallet{}, nil, nil, ledger.Valuation{}, fmt.Errorf("load wallet: %w", err)
	}
	positions, err := e.store.Positions(ctx)
	if err != nil {
		return ledger.Wallet{}, nil, nil, ledger.Valuation{}, fmt.Errorf("load positions: %w", err)
	}

	quotes := make(map[string]float64, len(positions))
	for _, pos := range positions {
		price, err := e.prices.CurrentPrice(ctx, pos.Symbol)
		if err != nil {
			return ledger.Wallet{}, nil, nil, ledger.Valuation{}, fmt.Errorf("quote %s: %w", pos.Symbol, err)
		}
		quotes[pos.Symbol] = price
	}

	valuation, err := ledger.Valuate(wallet, positions, quotes)
	if err != nil {
		return ledger.Wallet{}, nil, nil, ledger.Valuation{}, err
	}
	return wallet, positions, quotes, valuation, nil
}

// equityLocked re-prices total equity after a mutation.
func (e *Engine) equityLocked(ctx context.Context) (float64, error) {
	_, _, _, v, err := e.valuateLocked(ctx)
	if err != nil {
		return 0, err
	}
	return v.TotalEquity, nil
}

func (e *Engine) persistStateLocked(ctx context.Context, now time.Time) error {
	state := State{
		Mode:      e.mode,
		Override:  e.override,
		Breaker:   e.breaker.State(),
		UpdatedAt: now,
	}
	if err := e.store.SaveState(ctx, state); err != nil {
		return fmt.Errorf("save trader state: %w", err)
	}
	return nil
}

func (e *Engine) publish(eventType events.EventType, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Type:      eventType,
		Identity:  e.cfg.Identity,
		Timestamp: e.now(),
		Data:      data,
	})
}

// equityWith prices the pre-trade holdings, including the intent's own quote,
// for rejection records when the shared valuation is already stale.
func equityWith(wallet ledger.Wallet, positions []ledger.Position, quotes map[string]float64, intent TradeIntent) float64 {
	equity := wallet.Cash
	for _, pos := range positions {
		price, ok := quotes[pos.Symbol]
		if !ok {
			if pos.Symbol == intent.Symbol {
				price = intent.Price
			} else {
				price = pos.EntryPrice
			}
		}
		equity += pos.MarketValue(price)
	}
	return equity
}
