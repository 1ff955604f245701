// Package ledger holds the paper-trading account model: a cash wallet, open
// positions keyed by symbol, and the immutable trade history. The apply
// functions are pure; stores call them inside their own transaction so that
// both the Postgres and the in-memory implementation share one set of rules.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Action is the trade direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ParseAction normalizes a wire-format action string.
func ParseAction(s string) (Action, error) {
	switch s {
	case "BUY", "buy":
		return ActionBuy, nil
	case "SELL", "sell":
		return ActionSell, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidIntent, s)
	}
}

// closeEpsilon absorbs float residue when a sell empties a position.
const closeEpsilon = 1e-4

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNoPosition         = errors.New("no position in symbol")
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrInvalidIntent      = errors.New("invalid trade intent")
)

// Wallet is the singleton cash account for one trading identity.
type Wallet struct {
	Cash            float64   `json:"cash"`
	StartingCapital float64   `json:"starting_capital"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Position is an open holding. At most one per symbol.
type Position struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	EntryDate  time.Time `json:"entry_date"`
}

// MarketValue prices the position at the given quote.
func (p Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

// Trade is an immutable historical record. RealizedPnL is set on sells only.
type Trade struct {
	ID          int64     `json:"id"`
	TradeID     string    `json:"trade_id"`
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// ValidateIntent rejects out-of-range inputs before they reach any store.
func ValidateIntent(symbol string, quantity, price float64) error {
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidIntent)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity %.8f must be positive", ErrInvalidIntent, quantity)
	}
	if price <= 0 {
		return fmt.Errorf("%w: price %.8f must be positive", ErrInvalidIntent, price)
	}
	return nil
}

// BuyResult is the state produced by applying a buy.
type BuyResult struct {
	Cash     float64
	Position Position
	Created  bool // true when the buy opened a new position
}

// ApplyBuy debits the wallet and opens or enlarges the position with a
// quantity-weighted average entry price. pos is nil when no position exists
// for the symbol yet. The wallet must never go negative; a buy that would do
// so fails whole, it is never partially applied.
func ApplyBuy(w Wallet, pos *Position, symbol string, quantity, price float64, now time.Time) (BuyResult, error) {
	if err := ValidateIntent(symbol, quantity, price); err != nil {
		return BuyResult{}, err
	}

	cost := quantity * price
	if w.Cash < cost {
		return BuyResult{}, fmt.Errorf("%w: have $%.2f, need $%.2f", ErrInsufficientFunds, w.Cash, cost)
	}

	if pos == nil {
		return BuyResult{
			Cash: w.Cash - cost,
			Position: Position{
				Symbol:     symbol,
				Quantity:   quantity,
				EntryPrice: price,
				EntryDate:  now,
			},
			Created: true,
		}, nil
	}

	if pos.Quantity <= 0 || pos.EntryPrice <= 0 {
		// Invariant violation: a persisted position row must be positive.
		return BuyResult{}, fmt.Errorf("corrupt position %s: quantity=%.8f entry=%.8f", pos.Symbol, pos.Quantity, pos.EntryPrice)
	}

	totalQty := pos.Quantity + quantity
	avgPrice := (pos.Quantity*pos.EntryPrice + quantity*price) / totalQty

	updated := *pos
	updated.Quantity = totalQty
	updated.EntryPrice = avgPrice

	return BuyResult{Cash: w.Cash - cost, Position: updated}, nil
}

// SellResult is the state produced by applying a sell.
type SellResult struct {
	Cash        float64
	Position    *Position // nil when the sell closed the position
	RealizedPnL float64
}

// ApplySell credits the proceeds, computes realized P&L against the weighted
// entry price, and reduces or removes the position.
func ApplySell(w Wallet, pos *Position, quantity, price float64) (SellResult, error) {
	if pos == nil {
		return SellResult{}, ErrNoPosition
	}
	if err := ValidateIntent(pos.Symbol, quantity, price); err != nil {
		return SellResult{}, err
	}
	if pos.Quantity < quantity {
		return SellResult{}, fmt.Errorf("%w: have %.4f, selling %.4f", ErrInsufficientShares, pos.Quantity, quantity)
	}

	pnl := (price - pos.EntryPrice) * quantity
	cash := w.Cash + quantity*price

	remaining := pos.Quantity - quantity
	if remaining <= closeEpsilon {
		return SellResult{Cash: cash, Position: nil, RealizedPnL: pnl}, nil
	}

	updated := *pos
	updated.Quantity = remaining
	return SellResult{Cash: cash, Position: &updated, RealizedPnL: pnl}, nil
}

// Valuation is a consistent read of the account worth at given quotes.
type Valuation struct {
	Cash           float64 `json:"cash"`
	PositionsValue float64 `json:"positions_value"`
	TotalEquity    float64 `json:"total_equity"`
}

// Valuate prices every open position with the supplied quotes. A missing
// quote for a held symbol is a caller error, never silently zero.
func Valuate(w Wallet, positions []Position, prices map[string]float64) (Valuation, error) {
	v := Valuation{Cash: w.Cash}
	for _, pos := range positions {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			return Valuation{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, pos.Symbol)
		}
		v.PositionsValue += pos.MarketValue(price)
	}
	v.TotalEquity = v.Cash + v.PositionsValue
	return v, nil
}
