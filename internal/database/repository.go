package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"paper-trader/internal/guardrails"
	"paper-trader/internal/ledger"
	"paper-trader/internal/trader"
)

// Repository is the Postgres store for one trading identity. It implements
// trader.Store.
type Repository struct {
	db           *DB
	identity     string
	startingCash float64
}

// NewRepository binds a repository to a trading identity. startingCash seeds
// the wallet on first use.
func NewRepository(db *DB, identity string, startingCash float64) *Repository {
	return &Repository{db: db, identity: identity, startingCash: startingCash}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// WALLET & POSITIONS
// ============================================================================

// Wallet returns the singleton cash account, creating it on first use.
func (r *Repository) Wallet(ctx context.Context) (ledger.Wallet, error) {
	query := `
		INSERT INTO wallets (identity, cash, starting_capital)
		VALUES ($1, $2, $2)
		ON CONFLICT (identity) DO UPDATE SET identity = EXCLUDED.identity
		RETURNING cash, starting_capital, created_at, updated_at
	`
	var w ledger.Wallet
	err := r.db.Pool.QueryRow(ctx, query, r.identity, r.startingCash).
		Scan(&w.Cash, &w.StartingCapital, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return ledger.Wallet{}, err
	}
	return w, nil
}

// Positions returns all open positions.
func (r *Repository) Positions(ctx context.Context) ([]ledger.Position, error) {
	query := `
		SELECT id, symbol, quantity, entry_price, entry_date
		FROM positions
		WHERE identity = $1
		ORDER BY symbol
	`
	rows, err := r.db.Pool.Query(ctx, query, r.identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []ledger.Position
	for rows.Next() {
		var p ledger.Position
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Quantity, &p.EntryPrice, &p.EntryDate); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Position returns the open position for a symbol, or nil.
func (r *Repository) Position(ctx context.Context, symbol string) (*ledger.Position, error) {
	query := `
		SELECT id, symbol, quantity, entry_price, entry_date
		FROM positions
		WHERE identity = $1 AND symbol = $2
	`
	p := &ledger.Position{}
	err := r.db.Pool.QueryRow(ctx, query, r.identity, symbol).
		Scan(&p.ID, &p.Symbol, &p.Quantity, &p.EntryPrice, &p.EntryDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ============================================================================
// TRADE EXECUTION
// ============================================================================

// ExecuteTrade applies a buy or sell atomically: wallet and position rows are
// locked for the duration of the transaction so concurrent proposals against
// the same identity serialize at the database even across processes.
func (r *Repository) ExecuteTrade(ctx context.Context, action ledger.Action, symbol string, quantity, price float64, notes string, now time.Time) (*ledger.Trade, error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var wallet ledger.Wallet
	err = tx.QueryRow(ctx,
		`SELECT cash, starting_capital FROM wallets WHERE identity = $1 FOR UPDATE`,
		r.identity,
	).Scan(&wallet.Cash, &wallet.StartingCapital)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}

	var pos *ledger.Position
	p := ledger.Position{}
	err = tx.QueryRow(ctx,
		`SELECT id, symbol, quantity, entry_price, entry_date FROM positions
		 WHERE identity = $1 AND symbol = $2 FOR UPDATE`,
		r.identity, symbol,
	).Scan(&p.ID, &p.Symbol, &p.Quantity, &p.EntryPrice, &p.EntryDate)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		pos = nil
	case err != nil:
		return nil, fmt.Errorf("lock position: %w", err)
	default:
		pos = &p
	}

	trade := &ledger.Trade{
		TradeID:    uuid.NewString(),
		Symbol:     symbol,
		Action:     action,
		Quantity:   quantity,
		Price:      price,
		Notes:      notes,
		ExecutedAt: now,
	}

	switch action {
	case ledger.ActionBuy:
		res, err := ledger.ApplyBuy(wallet, pos, symbol, quantity, price, now)
		if err != nil {
			return nil, err
		}
		if res.Created {
			_, err = tx.Exec(ctx,
				`INSERT INTO positions (identity, symbol, quantity, entry_price, entry_date)
				 VALUES ($1, $2, $3, $4, $5)`,
				r.identity, symbol, res.Position.Quantity, res.Position.EntryPrice, res.Position.EntryDate)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE positions SET quantity = $1, entry_price = $2 WHERE id = $3`,
				res.Position.Quantity, res.Position.EntryPrice, res.Position.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("write position: %w", err)
		}
		if err := r.updateCashTx(ctx, tx, res.Cash, now); err != nil {
			return nil, err
		}

	case ledger.ActionSell:
		res, err := ledger.ApplySell(wallet, pos, quantity, price)
		if err != nil {
			return nil, err
		}
		if res.Position == nil {
			_, err = tx.Exec(ctx, `DELETE FROM positions WHERE id = $1`, pos.ID)
		} else {
			_, err = tx.Exec(ctx, `UPDATE positions SET quantity = $1 WHERE id = $2`, res.Position.Quantity, pos.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("write position: %w", err)
		}
		if err := r.updateCashTx(ctx, tx, res.Cash, now); err != nil {
			return nil, err
		}
		pnl := res.RealizedPnL
		trade.RealizedPnL = &pnl

	default:
		return nil, fmt.Errorf("%w: action %q", ledger.ErrInvalidIntent, action)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO trades (trade_id, identity, symbol, action, quantity, price, realized_pnl, notes, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		trade.TradeID, r.identity, trade.Symbol, trade.Action, trade.Quantity,
		trade.Price, trade.RealizedPnL, nullString(trade.Notes), trade.ExecutedAt,
	).Scan(&trade.ID)
	if err != nil {
		return nil, fmt.Errorf("append trade: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit trade: %w", err)
	}
	return trade, nil
}

func (r *Repository) updateCashTx(ctx context.Context, tx pgx.Tx, cash float64, now time.Time) error {
	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET cash = $1, updated_at = $2 WHERE identity = $3`,
		cash, now, r.identity); err != nil {
		return fmt.Errorf("update cash: %w", err)
	}
	return nil
}

// ============================================================================
// TRADE HISTORY
// ============================================================================

// Trades returns recent trades, optionally filtered by symbol.
func (r *Repository) Trades(ctx context.Context, symbol string, limit int) ([]ledger.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, trade_id, symbol, action, quantity, price, realized_pnl, COALESCE(notes, ''), executed_at
		FROM trades
		WHERE identity = $1 AND ($2 = '' OR symbol = $2)
		ORDER BY executed_at DESC, id DESC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, r.identity, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []ledger.Trade
	for rows.Next() {
		var t ledger.Trade
		if err := rows.Scan(&t.ID, &t.TradeID, &t.Symbol, &t.Action, &t.Quantity, &t.Price, &t.RealizedPnL, &t.Notes, &t.ExecutedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CountTradesOn counts trades executed on the UTC day containing the instant.
func (r *Repository) CountTradesOn(ctx context.Context, day time.Time) (int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE identity = $1 AND executed_at >= $2 AND executed_at < $3`,
		r.identity, start, end,
	).Scan(&count)
	return count, err
}

// ResetAccount clears positions and trade history and restores cash.
func (r *Repository) ResetAccount(ctx context.Context, startingCash float64, now time.Time) error {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE identity = $1`, r.identity); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM trades WHERE identity = $1`, r.identity); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO wallets (identity, cash, starting_capital, updated_at)
		 VALUES ($1, $2, $2, $3)
		 ON CONFLICT (identity) DO UPDATE
		 SET cash = EXCLUDED.cash, starting_capital = EXCLUDED.starting_capital, updated_at = EXCLUDED.updated_at`,
		r.identity, startingCash, now); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ============================================================================
// TRADER STATE
// ============================================================================

// LoadState returns the persisted engine state, or nil when none exists.
func (r *Repository) LoadState(ctx context.Context) (*trader.State, error) {
	query := `
		SELECT mode, override_max_position_pct, override_expires_at, override_reason,
		       override_granted_by, override_granted_at,
		       daily_pnl_percent, consecutive_losses, paused_until, pre_pause_mode,
		       day_start_equity, day_start_date, updated_at
		FROM trader_state
		WHERE identity = $1
	`
	var (
		state        trader.State
		ovPct        *float64
		ovExpires    *time.Time
		ovReason     *string
		ovGrantedBy  *string
		ovGrantedAt  *time.Time
		prePause     *string
		dayStartDate *time.Time
	)
	err := r.db.Pool.QueryRow(ctx, query, r.identity).Scan(
		&state.Mode, &ovPct, &ovExpires, &ovReason, &ovGrantedBy, &ovGrantedAt,
		&state.Breaker.DailyPnLPercent, &state.Breaker.ConsecutiveLosses,
		&state.Breaker.PausedUntil, &prePause,
		&state.Breaker.DayStartEquity, &dayStartDate, &state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if ovPct != nil && ovExpires != nil {
		state.Override = &guardrails.Override{
			MaxPositionPercent: *ovPct,
			ExpiresAt:          *ovExpires,
		}
		if ovReason != nil {
			state.Override.Reason = *ovReason
		}
		if ovGrantedBy != nil {
			state.Override.GrantedBy = *ovGrantedBy
		}
		if ovGrantedAt != nil {
			state.Override.GrantedAt = *ovGrantedAt
		}
	}
	if prePause != nil {
		state.Breaker.PrePauseMode = guardrails.TradingMode(*prePause)
	}
	if dayStartDate != nil {
		state.Breaker.DayStartDate = *dayStartDate
	}
	return &state, nil
}

// SaveState upserts the singleton engine state row.
func (r *Repository) SaveState(ctx context.Context, s trader.State) error {
	var (
		ovPct       *float64
		ovExpires   *time.Time
		ovReason    *string
		ovGrantedBy *string
		ovGrantedAt *time.Time
	)
	if s.Override != nil {
		ovPct = &s.Override.MaxPositionPercent
		ovExpires = &s.Override.ExpiresAt
		ovReason = &s.Override.Reason
		ovGrantedBy = &s.Override.GrantedBy
		ovGrantedAt = &s.Override.GrantedAt
	}
	var prePause *string
	if s.Breaker.PrePauseMode != "" {
		mode := string(s.Breaker.PrePauseMode)
		prePause = &mode
	}
	var dayStartDate *time.Time
	if !s.Breaker.DayStartDate.IsZero() {
		dayStartDate = &s.Breaker.DayStartDate
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trader_state (
			identity, mode,
			override_max_position_pct, override_expires_at, override_reason,
			override_granted_by, override_granted_at,
			daily_pnl_percent, consecutive_losses, paused_until, pre_pause_mode,
			day_start_equity, day_start_date, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (identity) DO UPDATE SET
			mode = EXCLUDED.mode,
			override_max_position_pct = EXCLUDED.override_max_position_pct,
			override_expires_at = EXCLUDED.override_expires_at,
			override_reason = EXCLUDED.override_reason,
			override_granted_by = EXCLUDED.override_granted_by,
			override_granted_at = EXCLUDED.override_granted_at,
			daily_pnl_percent = EXCLUDED.daily_pnl_percent,
			consecutive_losses = EXCLUDED.consecutive_losses,
			paused_until = EXCLUDED.paused_until,
			pre_pause_mode = EXCLUDED.pre_pause_mode,
			day_start_equity = EXCLUDED.day_start_equity,
			day_start_date = EXCLUDED.day_start_date,
			updated_at = EXCLUDED.updated_at
	`,
		r.identity, s.Mode,
		ovPct, ovExpires, ovReason, ovGrantedBy, ovGrantedAt,
		s.Breaker.DailyPnLPercent, s.Breaker.ConsecutiveLosses,
		s.Breaker.PausedUntil, prePause,
		s.Breaker.DayStartEquity, dayStartDate, s.UpdatedAt,
	)
	return err
}

// ============================================================================
// AUDIT TRAIL
// ============================================================================

// AppendRejection inserts a rejection audit record.
func (r *Repository) AppendRejection(ctx context.Context, rej *trader.Rejection) error {
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO trade_rejections (
			rejection_id, identity, symbol, action, quantity, quantity_percent,
			estimated_value, reason, rule_triggered, trading_mode, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		rej.RejectionID, r.identity, rej.Symbol, rej.Action, rej.Quantity,
		rej.QuantityPercent, rej.EstimatedValue, rej.Reason, rej.RuleTriggered,
		rej.TradingMode, rej.CreatedAt,
	).Scan(&rej.ID)
}

// Rejections returns recent rejection records, newest first.
func (r *Repository) Rejections(ctx context.Context, limit int) ([]trader.Rejection, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, rejection_id, symbol, action, quantity, quantity_percent,
		       estimated_value, reason, rule_triggered, trading_mode, created_at
		FROM trade_rejections
		WHERE identity = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, r.identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rejections []trader.Rejection
	for rows.Next() {
		var rej trader.Rejection
		if err := rows.Scan(&rej.ID, &rej.RejectionID, &rej.Symbol, &rej.Action,
			&rej.Quantity, &rej.QuantityPercent, &rej.EstimatedValue,
			&rej.Reason, &rej.RuleTriggered, &rej.TradingMode, &rej.CreatedAt); err != nil {
			return nil, err
		}
		rejections = append(rejections, rej)
	}
	return rejections, rows.Err()
}

// AppendBreakerEvent inserts a circuit-breaker audit record.
func (r *Repository) AppendBreakerEvent(ctx context.Context, e *trader.BreakerEvent) error {
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO circuit_breaker_events (
			event_id, identity, trigger_type, previous_mode, new_mode,
			daily_pnl_percent, consecutive_losses, paused_until, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`,
		e.EventID, r.identity, e.TriggerType, e.PreviousMode, e.NewMode,
		e.DailyPnLPercent, e.ConsecutiveLosses, e.PausedUntil, nullString(e.Reason), e.CreatedAt,
	).Scan(&e.ID)
}

// BreakerEvents returns recent breaker events, newest first.
func (r *Repository) BreakerEvents(ctx context.Context, limit int) ([]trader.BreakerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, event_id, trigger_type, previous_mode, new_mode,
		       daily_pnl_percent, consecutive_losses, paused_until, COALESCE(reason, ''), created_at
		FROM circuit_breaker_events
		WHERE identity = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, r.identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breakerEvents []trader.BreakerEvent
	for rows.Next() {
		var e trader.BreakerEvent
		if err := rows.Scan(&e.ID, &e.EventID, &e.TriggerType, &e.PreviousMode,
			&e.NewMode, &e.DailyPnLPercent, &e.ConsecutiveLosses,
			&e.PausedUntil, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		breakerEvents = append(breakerEvents, e)
	}
	return breakerEvents, rows.Err()
}

// AppendSnapshot inserts a performance snapshot.
func (r *Repository) AppendSnapshot(ctx context.Context, s *trader.PerformanceSnapshot) error {
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO performance_snapshots (identity, equity, cash, positions_value, total_pnl_percent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		r.identity, s.Equity, s.Cash, s.PositionsValue, s.TotalPnLPercent, s.CreatedAt,
	).Scan(&s.ID)
}

// Snapshots returns recent snapshots, newest first.
func (r *Repository) Snapshots(ctx context.Context, limit int) ([]trader.PerformanceSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, equity, cash, positions_value, total_pnl_percent, created_at
		FROM performance_snapshots
		WHERE identity = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, r.identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []trader.PerformanceSnapshot
	for rows.Next() {
		var s trader.PerformanceSnapshot
		if err := rows.Scan(&s.ID, &s.Equity, &s.Cash, &s.PositionsValue, &s.TotalPnLPercent, &s.CreatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
