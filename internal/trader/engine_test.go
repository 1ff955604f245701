package trader_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/circuit"
	"paper-trader/internal/database"
	"paper-trader/internal/guardrails"
	"paper-trader/internal/ledger"
	"paper-trader/internal/pricing"
	"paper-trader/internal/trader"
)

// baseTime is a Monday at 12:00 UTC, outside every mode's blocked hours.
var baseTime = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type testRig struct {
	engine *trader.Engine
	store  *database.MemStore
	prices *pricing.StaticSource
	clock  *fakeClock
}

func newTestRig(t *testing.T, cfg trader.Config) *testRig {
	t.Helper()

	clock := &fakeClock{t: baseTime}
	if cfg.Identity == "" {
		cfg.Identity = "test"
	}
	if cfg.StartingCash == 0 {
		cfg.StartingCash = 100_000
	}
	store := database.NewMemStore(cfg.StartingCash, baseTime)
	prices := pricing.NewStaticSource(map[string]float64{"AAPL": 100, "MSFT": 200})

	engine, err := trader.New(context.Background(), cfg, store, prices, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	engine.SetClock(clock.Now)

	return &testRig{engine: engine, store: store, prices: prices, clock: clock}
}

func boolPtr(b bool) *bool { return &b }

func buy(symbol string, quantity, price float64) trader.TradeIntent {
	return trader.TradeIntent{Symbol: symbol, Action: ledger.ActionBuy, Quantity: quantity, Price: price}
}

func sell(symbol string, quantity, price float64) trader.TradeIntent {
	return trader.TradeIntent{Symbol: symbol, Action: ledger.ActionSell, Quantity: quantity, Price: price}
}

func withConfluence(intent trader.TradeIntent) trader.TradeIntent {
	intent.Confluence = boolPtr(true)
	return intent
}

// tripLossStreak buys a position and realizes five consecutive small losses,
// leaving the engine paused in aggressive-recovery position with 10 shares of
// AAPL still held.
func tripLossStreak(t *testing.T, rig *testRig) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeAggressive, "test setup"))

	res, err := rig.engine.Propose(ctx, buy("AAPL", 60, 100))
	require.NoError(t, err)
	require.Equal(t, trader.StatusExecuted, res.Status)

	for i := 0; i < 5; i++ {
		res, err := rig.engine.Propose(ctx, sell("AAPL", 10, 99))
		require.NoError(t, err)
		require.Equal(t, trader.StatusExecuted, res.Status)
		require.NotNil(t, res.Trade.RealizedPnL)
		require.Less(t, *res.Trade.RealizedPnL, 0.0)
	}

	require.Equal(t, guardrails.ModePaused, rig.engine.Mode())
}

func TestProposeExecutesBuy(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeAggressive, ""))

	res, err := rig.engine.Propose(ctx, buy("AAPL", 100, 100))
	require.NoError(t, err)
	require.Equal(t, trader.StatusExecuted, res.Status)
	require.NotNil(t, res.Trade)
	assert.Equal(t, "AAPL", res.Trade.Symbol)
	assert.Nil(t, res.Trade.RealizedPnL)

	wallet, err := rig.store.Wallet(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 90_000, wallet.Cash, 1e-9)

	status, err := rig.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.OpenPositions)
	assert.Equal(t, 1, status.TradesToday)
	assert.InDelta(t, 100_000, status.Equity, 1e-9)
	assert.False(t, status.IsPaused)
}

func TestProposeResolvesPriceFromQuoteFeed(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeAggressive, ""))

	res, err := rig.engine.Propose(ctx, buy("AAPL", 10, 0))
	require.NoError(t, err)
	require.Equal(t, trader.StatusExecuted, res.Status)
	assert.InDelta(t, 100, res.Trade.Price, 1e-9)

	_, err = rig.engine.Propose(ctx, buy("UNKNOWN", 10, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrPriceUnavailable))
}

func TestPositionSizeLimit(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()

	// Normal mode caps a single trade at 10% of equity.
	res, err := rig.engine.Propose(ctx, withConfluence(buy("AAPL", 150, 100)))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RulePositionSize, res.RuleTriggered)

	rejections, err := rig.store.Rejections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, trader.RulePositionSize, rejections[0].RuleTriggered)
	assert.Equal(t, guardrails.ModeNormal, rejections[0].TradingMode)
	assert.InDelta(t, 15.0, rejections[0].QuantityPercent, 0.01)
}

func TestMaxTradeValueLimit(t *testing.T) {
	// With a large account the absolute value cap binds before the
	// percentage cap: aggressive allows 33% of 1M but only $100k per trade.
	rig := newTestRig(t, trader.Config{StartingCash: 1_000_000})
	ctx := context.Background()
	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeAggressive, ""))

	res, err := rig.engine.Propose(ctx, buy("AAPL", 2000, 100))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RuleTradeValue, res.RuleTriggered)
}

func TestTradeFrequencyLimit(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeConservative, ""))

	for i := 0; i < 5; i++ {
		res, err := rig.engine.Propose(ctx, withConfluence(buy("AAPL", 10, 100)))
		require.NoError(t, err)
		require.Equal(t, trader.StatusExecuted, res.Status)
	}

	res, err := rig.engine.Propose(ctx, withConfluence(buy("AAPL", 10, 100)))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RuleTradeFrequency, res.RuleTriggered)

	// The cap resets with the UTC day.
	rig.clock.Advance(24 * time.Hour)
	res, err = rig.engine.Propose(ctx, withConfluence(buy("AAPL", 10, 100)))
	require.NoError(t, err)
	assert.Equal(t, trader.StatusExecuted, res.Status)
}

func TestConfluenceRequired(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()

	// Normal mode requires confluence; with no source and no verdict on the
	// intent, the trade is refused.
	res, err := rig.engine.Propose(ctx, buy("AAPL", 10, 100))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RuleConfluence, res.RuleTriggered)

	intent := buy("AAPL", 10, 100)
	intent.Confluence = boolPtr(false)
	res, err = rig.engine.Propose(ctx, intent)
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RuleConfluence, res.RuleTriggered)

	res, err = rig.engine.Propose(ctx, withConfluence(buy("AAPL", 10, 100)))
	require.NoError(t, err)
	assert.Equal(t, trader.StatusExecuted, res.Status)
}

func TestBlockedHours(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()

	// Normal mode blocks 15:00-16:00 UTC.
	rig.clock.Set(time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC))
	res, err := rig.engine.Propose(ctx, withConfluence(buy("AAPL", 10, 100)))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RuleBlockedHours, res.RuleTriggered)

	rig.clock.Set(time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC))
	res, err = rig.engine.Propose(ctx, withConfluence(buy("AAPL", 10, 100)))
	require.NoError(t, err)
	assert.Equal(t, trader.StatusExecuted, res.Status)
}

func TestQueuedTradeIsNotExecuted(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeAggressive, ""))

	intent := buy("AAPL", 10, 100)
	intent.RequireConfirmation = true
	res, err := rig.engine.Propose(ctx, intent)
	require.NoError(t, err)
	require.Equal(t, trader.StatusQueued, res.Status)
	require.NotNil(t, res.Proposed)
	assert.Nil(t, res.Trade)

	trades, err := rig.store.Trades(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestLossStreakPausesTrading(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	tripLossStreak(t, rig)

	state, paused := rig.engine.CircuitBreaker()
	assert.True(t, paused)
	require.NotNil(t, state.PausedUntil)
	assert.Equal(t, baseTime.Add(time.Hour), *state.PausedUntil)

	// Buys are refused outright while paused.
	res, err := rig.engine.Propose(ctx, buy("AAPL", 10, 100))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RuleCircuitBreaker, res.RuleTriggered)

	// Sells against an existing position still work: the pause never traps
	// capital.
	res, err = rig.engine.Propose(ctx, sell("AAPL", 10, 99))
	require.NoError(t, err)
	assert.Equal(t, trader.StatusExecuted, res.Status)

	pos, err := rig.store.Position(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, pos)

	events, err := rig.store.BreakerEvents(ctx, 10)
	require.NoError(t, err)
	var sawStreak bool
	for _, e := range events {
		if e.TriggerType == circuit.TriggerLossStreak {
			sawStreak = true
			assert.Equal(t, guardrails.ModePaused, e.NewMode)
			assert.NotNil(t, e.PausedUntil)
		}
	}
	assert.True(t, sawStreak, "expected a loss_streak breaker event")
}

func TestPauseExpiryRecoversConservative(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	tripLossStreak(t, rig)

	// Next UTC day, well past the one-hour pause.
	rig.clock.Advance(24 * time.Hour)

	res, err := rig.engine.Propose(ctx, withConfluence(buy("AAPL", 10, 100)))
	require.NoError(t, err)
	assert.Equal(t, trader.StatusExecuted, res.Status)
	assert.Equal(t, guardrails.ModeConservative, rig.engine.Mode())

	events, err := rig.store.BreakerEvents(ctx, 10)
	require.NoError(t, err)
	var sawExpiry bool
	for _, e := range events {
		if e.TriggerType == circuit.TriggerPauseExpired {
			sawExpiry = true
			assert.Equal(t, guardrails.ModeConservative, e.NewMode)
		}
	}
	assert.True(t, sawExpiry, "expected a pause_expired breaker event")
}

func TestPauseExpiryRecoversPreviousMode(t *testing.T) {
	rig := newTestRig(t, trader.Config{
		Breaker: circuit.Config{Recovery: circuit.RecoverPrevious},
	})
	ctx := context.Background()
	tripLossStreak(t, rig)

	rig.clock.Advance(24 * time.Hour)

	res, err := rig.engine.Propose(ctx, buy("AAPL", 10, 100))
	require.NoError(t, err)
	assert.Equal(t, trader.StatusExecuted, res.Status)
	assert.Equal(t, guardrails.ModeAggressive, rig.engine.Mode())
}

func TestDailyLossDowngradesToConservative(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeAggressive, ""))

	res, err := rig.engine.Propose(ctx, buy("AAPL", 300, 100))
	require.NoError(t, err)
	require.Equal(t, trader.StatusExecuted, res.Status)

	// Mark the position down 40%: equity drops to $88k, -12% on the day.
	rig.prices.SetPrice("AAPL", 60)

	res, err = rig.engine.Propose(ctx, withConfluence(buy("MSFT", 1, 200)))
	require.NoError(t, err)
	assert.Equal(t, trader.StatusExecuted, res.Status)
	assert.Equal(t, guardrails.ModeConservative, rig.engine.Mode())

	events, err := rig.store.BreakerEvents(ctx, 10)
	require.NoError(t, err)
	var sawDailyLoss bool
	for _, e := range events {
		if e.TriggerType == circuit.TriggerDailyLoss {
			sawDailyLoss = true
			assert.Equal(t, guardrails.ModeConservative, e.NewMode)
			assert.LessOrEqual(t, e.DailyPnLPercent, -10.0)
		}
	}
	assert.True(t, sawDailyLoss, "expected a daily_loss breaker event")
}

func TestOverrideRaisesPositionCap(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()

	// 20% of equity is over normal mode's 10% cap.
	res, err := rig.engine.Propose(ctx, withConfluence(buy("AAPL", 200, 100)))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RulePositionSize, res.RuleTriggered)

	override, err := rig.engine.GrantOverride(ctx, 1, 40, "earnings play", "ops")
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(time.Hour), override.ExpiresAt)

	res, err = rig.engine.Propose(ctx, withConfluence(buy("AAPL", 200, 100)))
	require.NoError(t, err)
	assert.Equal(t, trader.StatusExecuted, res.Status)

	// Expired overrides revert to the mode's own cap.
	rig.clock.Advance(2 * time.Hour)
	assert.Nil(t, rig.engine.ActiveOverride())

	res, err = rig.engine.Propose(ctx, withConfluence(buy("AAPL", 150, 100)))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RulePositionSize, res.RuleTriggered)
}

func TestOverrideNeverUnpauses(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	tripLossStreak(t, rig)

	_, err := rig.engine.GrantOverride(ctx, 4, 50, "attempted bypass", "ops")
	require.NoError(t, err)

	res, err := rig.engine.Propose(ctx, buy("AAPL", 10, 100))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RuleCircuitBreaker, res.RuleTriggered)
}

func TestInvalidOverrideRejected(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()

	_, err := rig.engine.GrantOverride(ctx, 0, 40, "no duration", "ops")
	assert.True(t, errors.Is(err, guardrails.ErrInvalidOverride))

	_, err = rig.engine.GrantOverride(ctx, 1, 0, "no cap", "ops")
	assert.True(t, errors.Is(err, guardrails.ErrInvalidOverride))
}

func TestSwitchModeRefusesUpgradeDuringPause(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	tripLossStreak(t, rig)

	err := rig.engine.SwitchMode(ctx, guardrails.ModeAggressive, "impatient")
	assert.True(t, errors.Is(err, guardrails.ErrInvalidTransition))
	assert.Equal(t, guardrails.ModePaused, rig.engine.Mode())

	// A manual breaker reset clears the pause, after which the upgrade is
	// allowed again.
	require.NoError(t, rig.engine.ResetBreaker(ctx))
	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeNormal, "recovered"))
	assert.Equal(t, guardrails.ModeNormal, rig.engine.Mode())

	events, err := rig.store.BreakerEvents(ctx, 20)
	require.NoError(t, err)
	var sawReset, sawManual bool
	for _, e := range events {
		switch e.TriggerType {
		case circuit.TriggerManualReset:
			sawReset = true
		case circuit.TriggerManual:
			sawManual = true
		}
	}
	assert.True(t, sawReset, "expected a manual_reset breaker event")
	assert.True(t, sawManual, "expected a manual mode-change event")
}

func TestLedgerRefusalsAreAudited(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeAggressive, ""))

	// Drain most of the cash into positions, then overspend.
	for i := 0; i < 3; i++ {
		res, err := rig.engine.Propose(ctx, buy("AAPL", 300, 100))
		require.NoError(t, err)
		require.Equal(t, trader.StatusExecuted, res.Status)
	}

	res, err := rig.engine.Propose(ctx, buy("AAPL", 150, 100))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RuleLedger, res.RuleTriggered)

	// Selling a symbol that was never bought is also a ledger refusal.
	res, err = rig.engine.Propose(ctx, sell("MSFT", 10, 200))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RuleLedger, res.RuleTriggered)

	rejections, err := rig.store.Rejections(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rejections, 2)
}

func TestResetAccount(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeAggressive, ""))

	res, err := rig.engine.Propose(ctx, buy("AAPL", 100, 100))
	require.NoError(t, err)
	require.Equal(t, trader.StatusExecuted, res.Status)

	require.NoError(t, rig.engine.ResetAccount(ctx, 50_000))

	wallet, err := rig.store.Wallet(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 50_000, wallet.Cash, 1e-9)

	status, err := rig.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.OpenPositions)
	assert.Equal(t, 0, status.TradesToday)
	assert.InDelta(t, 50_000, status.Equity, 1e-9)
}

func TestStatusFlagsBankruptcy(t *testing.T) {
	rig := newTestRig(t, trader.Config{BankruptcyThreshold: 0.1})
	ctx := context.Background()
	require.NoError(t, rig.engine.SwitchMode(ctx, guardrails.ModeAggressive, ""))

	for i := 0; i < 3; i++ {
		res, err := rig.engine.Propose(ctx, buy("AAPL", 330, 100))
		require.NoError(t, err)
		require.Equal(t, trader.StatusExecuted, res.Status)
	}

	rig.prices.SetPrice("AAPL", 0.01)

	status, err := rig.engine.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsBankrupt)
	assert.Less(t, status.Equity, 10_000.0)
}

func TestRecordSnapshot(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()

	snap, err := rig.engine.RecordSnapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100_000, snap.Equity, 1e-9)
	assert.InDelta(t, 0, snap.TotalPnLPercent, 1e-9)

	snapshots, err := rig.store.Snapshots(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}

func TestStateSurvivesRestart(t *testing.T) {
	rig := newTestRig(t, trader.Config{})
	ctx := context.Background()
	tripLossStreak(t, rig)

	// A new engine over the same store resumes paused.
	restarted, err := trader.New(ctx, trader.Config{Identity: "test", StartingCash: 100_000},
		rig.store, rig.prices, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	restarted.SetClock(rig.clock.Now)

	assert.Equal(t, guardrails.ModePaused, restarted.Mode())

	res, err := restarted.Propose(ctx, buy("AAPL", 10, 100))
	require.NoError(t, err)
	require.Equal(t, trader.StatusRejected, res.Status)
	assert.Equal(t, trader.RuleCircuitBreaker, res.RuleTriggered)
}
