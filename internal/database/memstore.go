package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"paper-trader/internal/ledger"
	"paper-trader/internal/trader"
)

// MemStore is an in-memory trader.Store. It backs mock mode and tests, with
// the same ledger arithmetic as the Postgres repository.
type MemStore struct {
	mu sync.Mutex

	wallet        ledger.Wallet
	positions     map[string]*ledger.Position
	trades        []ledger.Trade
	state         *trader.State
	rejections    []trader.Rejection
	breakerEvents []trader.BreakerEvent
	snapshots     []trader.PerformanceSnapshot
	nextID        int64
}

// NewMemStore creates an in-memory store seeded with startingCash.
func NewMemStore(startingCash float64, now time.Time) *MemStore {
	return &MemStore{
		wallet: ledger.Wallet{
			Cash:            startingCash,
			StartingCapital: startingCash,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		positions: make(map[string]*ledger.Position),
		nextID:    1,
	}
}

func (m *MemStore) HealthCheck(ctx context.Context) error { return nil }

func (m *MemStore) Wallet(ctx context.Context) (ledger.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallet, nil
}

func (m *MemStore) Positions(ctx context.Context) ([]ledger.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (m *MemStore) Position(ctx context.Context, symbol string) (*ledger.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) ExecuteTrade(ctx context.Context, action ledger.Action, symbol string, quantity, price float64, notes string, now time.Time) (*ledger.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := m.positions[symbol]
	trade := ledger.Trade{
		ID:         m.alloc(),
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
		res, err := ledger.ApplyBuy(m.wallet, pos, symbol, quantity, price, now)
		if err != nil {
			return nil, err
		}
		p := res.Position
		if res.Created {
			p.ID = m.alloc()
		}
		m.positions[symbol] = &p
		m.wallet.Cash = res.Cash
		m.wallet.UpdatedAt = now

	case ledger.ActionSell:
		res, err := ledger.ApplySell(m.wallet, pos, quantity, price)
		if err != nil {
			return nil, err
		}
		if res.Position == nil {
			delete(m.positions, symbol)
		} else {
			cp := *res.Position
			m.positions[symbol] = &cp
		}
		m.wallet.Cash = res.Cash
		m.wallet.UpdatedAt = now
		pnl := res.RealizedPnL
		trade.RealizedPnL = &pnl

	default:
		return nil, fmt.Errorf("%w: action %q", ledger.ErrInvalidIntent, action)
	}

	m.trades = append(m.trades, trade)
	return &trade, nil
}

func (m *MemStore) Trades(ctx context.Context, symbol string, limit int) ([]ledger.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []ledger.Trade
	for i := len(m.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol == "" || m.trades[i].Symbol == symbol {
			out = append(out, m.trades[i])
		}
	}
	return out, nil
}

func (m *MemStore) CountTradesOn(ctx context.Context, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	count := 0
	for _, t := range m.trades {
		at := t.ExecutedAt.UTC()
		if !at.Before(start) && at.Before(end) {
			count++
		}
	}
	return count, nil
}

func (m *MemStore) ResetAccount(ctx context.Context, startingCash float64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]*ledger.Position)
	m.trades = nil
	m.wallet = ledger.Wallet{
		Cash:            startingCash,
		StartingCapital: startingCash,
		CreatedAt:       m.wallet.CreatedAt,
		UpdatedAt:       now,
	}
	return nil
}

func (m *MemStore) LoadState(ctx context.Context) (*trader.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	cp := *m.state
	if m.state.Override != nil {
		ov := *m.state.Override
		cp.Override = &ov
	}
	return &cp, nil
}

func (m *MemStore) SaveState(ctx context.Context, s trader.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Override != nil {
		ov := *s.Override
		s.Override = &ov
	}
	m.state = &s
	return nil
}

func (m *MemStore) AppendRejection(ctx context.Context, rej *trader.Rejection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rej.ID = m.alloc()
	m.rejections = append(m.rejections, *rej)
	return nil
}

func (m *MemStore) Rejections(ctx context.Context, limit int) ([]trader.Rejection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lastN(m.rejections, limit, 50), nil
}

func (m *MemStore) AppendBreakerEvent(ctx context.Context, e *trader.BreakerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.alloc()
	m.breakerEvents = append(m.breakerEvents, *e)
	return nil
}

func (m *MemStore) BreakerEvents(ctx context.Context, limit int) ([]trader.BreakerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lastN(m.breakerEvents, limit, 50), nil
}

func (m *MemStore) AppendSnapshot(ctx context.Context, s *trader.PerformanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.alloc()
	m.snapshots = append(m.snapshots, *s)
	return nil
}

func (m *MemStore) Snapshots(ctx context.Context, limit int) ([]trader.PerformanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lastN(m.snapshots, limit, 50), nil
}

func (m *MemStore) alloc() int64 {
	id := m.nextID
	m.nextID++
	return id
}

// lastN returns up to limit items newest first.
func lastN[T any](items []T, limit, fallback int) []T {
	if limit <= 0 {
		limit = fallback
	}
	var out []T
	for i := len(items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, items[i])
	}
	return out
}
