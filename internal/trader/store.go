package trader

import (
	"context"
	"time"

	"paper-trader/internal/ledger"
)

// Store is the persistence surface the engine needs for one trading identity.
// Implementations must make ExecuteTrade atomic: the wallet debit/credit, the
// position change, and the trade append commit together or not at all.
type Store interface {
	// Wallet returns the singleton cash account, creating it with the given
	// starting capital on first use.
	Wallet(ctx context.Context) (ledger.Wallet, error)
	Positions(ctx context.Context) ([]ledger.Position, error)
	Position(ctx context.Context, symbol string) (*ledger.Position, error)

	// ExecuteTrade applies a validated buy or sell to the ledger. It is the
	// only path that mutates wallet or position state. Ledger failures
	// (insufficient funds/shares, no position) come back as the ledger
	// package's sentinel errors.
	ExecuteTrade(ctx context.Context, action ledger.Action, symbol string, quantity, price float64, notes string, now time.Time) (*ledger.Trade, error)

	Trades(ctx context.Context, symbol string, limit int) ([]ledger.Trade, error)
	// CountTradesOn counts trades executed on the UTC day containing the
	// given instant.
	CountTradesOn(ctx context.Context, day time.Time) (int, error)

	// ResetAccount clears positions and trade history and restores cash.
	// Irreversible.
	ResetAccount(ctx context.Context, startingCash float64, now time.Time) error

	// LoadState returns the persisted engine state, or nil when none exists
	// yet.
	LoadState(ctx context.Context) (*State, error)
	SaveState(ctx context.Context, s State) error

	AppendRejection(ctx context.Context, r *Rejection) error
	Rejections(ctx context.Context, limit int) ([]Rejection, error)

	AppendBreakerEvent(ctx context.Context, e *BreakerEvent) error
	BreakerEvents(ctx context.Context, limit int) ([]BreakerEvent, error)

	AppendSnapshot(ctx context.Context, s *PerformanceSnapshot) error
	Snapshots(ctx context.Context, limit int) ([]PerformanceSnapshot, error)
}

// PriceSource yields the current quote for a symbol. A missing quote is an
// error, never a silent zero.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// ConfluenceSource reports whether independent signals agree with a trade
// intent. The verdict is opaque external input to the engine.
type ConfluenceSource interface {
	HasConfluence(ctx context.Context, intent TradeIntent) (bool, error)
}
