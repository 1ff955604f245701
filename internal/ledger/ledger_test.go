package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func TestApplyBuy_OpensPosition(t *testing.T) {
	w := Wallet{Cash: 100_000, StartingCapital: 100_000}

	res, err := ApplyBuy(w, nil, "AAPL", 100, 150, testNow)
	require.NoError(t, err)

	assert.Equal(t, 85_000.0, res.Cash)
	assert.True(t, res.Created)
	assert.Equal(t, "AAPL", res.Position.Symbol)
	assert.Equal(t, 100.0, res.Position.Quantity)
	assert.Equal(t, 150.0, res.Position.EntryPrice)
	assert.Equal(t, testNow, res.Position.EntryDate)
}

func TestApplyBuy_WeightedAverageEntry(t *testing.T) {
	w := Wallet{Cash: 100_000}
	pos := &Position{Symbol: "AAPL", Quantity: 100, EntryPrice: 150, EntryDate: testNow}

	// 100 @ 150 + 100 @ 170 -> 200 @ 160
	res, err := ApplyBuy(w, pos, "AAPL", 100, 170, testNow)
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, 200.0, res.Position.Quantity)
	assert.Equal(t, 160.0, res.Position.EntryPrice)
	assert.Equal(t, 83_000.0, res.Cash)
}

func TestApplyBuy_InsufficientFunds(t *testing.T) {
	w := Wallet{Cash: 1_000}

	_, err := ApplyBuy(w, nil, "AAPL", 100, 150, testNow)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestApplyBuy_ExactCashIsAllowed(t *testing.T) {
	w := Wallet{Cash: 15_000}

	res, err := ApplyBuy(w, nil, "AAPL", 100, 150, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Cash)
}

func TestApplyBuy_RejectsInvalidIntent(t *testing.T) {
	w := Wallet{Cash: 100_000}

	_, err := ApplyBuy(w, nil, "AAPL", -5, 150, testNow)
	assert.ErrorIs(t, err, ErrInvalidIntent)

	_, err = ApplyBuy(w, nil, "AAPL", 5, 0, testNow)
	assert.ErrorIs(t, err, ErrInvalidIntent)

	_, err = ApplyBuy(w, nil, "", 5, 150, testNow)
	assert.ErrorIs(t, err, ErrInvalidIntent)
}

func TestApplySell_RealizedPnLAndClose(t *testing.T) {
	w := Wallet{Cash: 85_000}
	pos := &Position{Symbol: "AAPL", Quantity: 100, EntryPrice: 150, EntryDate: testNow}

	res, err := ApplySell(w, pos, 100, 160)
	require.NoError(t, err)

	assert.Equal(t, 101_000.0, res.Cash)
	assert.Nil(t, res.Position, "full sell should close the position")
	assert.Equal(t, 1_000.0, res.RealizedPnL)
}

func TestApplySell_PartialReducesPosition(t *testing.T) {
	w := Wallet{Cash: 0}
	pos := &Position{Symbol: "AAPL", Quantity: 100, EntryPrice: 150}

	res, err := ApplySell(w, pos, 40, 155)
	require.NoError(t, err)

	require.NotNil(t, res.Position)
	assert.Equal(t, 60.0, res.Position.Quantity)
	assert.Equal(t, 150.0, res.Position.EntryPrice, "entry price unchanged on partial sell")
	assert.InDelta(t, 200.0, res.RealizedPnL, 1e-9)
	assert.Equal(t, 40*155.0, res.Cash)
}

func TestApplySell_EpsilonResidueClosesPosition(t *testing.T) {
	w := Wallet{Cash: 0}
	pos := &Position{Symbol: "BTCUSDT", Quantity: 0.30000001, EntryPrice: 50_000}

	res, err := ApplySell(w, pos, 0.3, 51_000)
	require.NoError(t, err)
	assert.Nil(t, res.Position, "sub-epsilon residue should close the position")
}

func TestApplySell_InsufficientShares(t *testing.T) {
	w := Wallet{Cash: 0}
	pos := &Position{Symbol: "AAPL", Quantity: 10, EntryPrice: 150}

	_, err := ApplySell(w, pos, 11, 160)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestApplySell_NoPosition(t *testing.T) {
	_, err := ApplySell(Wallet{Cash: 100}, nil, 1, 10)
	require.ErrorIs(t, err, ErrNoPosition)
}

func TestRoundTrip_NetZero(t *testing.T) {
	w := Wallet{Cash: 100_000}

	buy, err := ApplyBuy(w, nil, "MSFT", 50, 300, testNow)
	require.NoError(t, err)

	sell, err := ApplySell(Wallet{Cash: buy.Cash}, &buy.Position, 50, 300)
	require.NoError(t, err)

	assert.Equal(t, w.Cash, sell.Cash, "same-price round trip must restore cash exactly")
	assert.Nil(t, sell.Position)
	assert.Equal(t, 0.0, sell.RealizedPnL)
}

func TestValuate(t *testing.T) {
	w := Wallet{Cash: 85_000}
	positions := []Position{
		{Symbol: "AAPL", Quantity: 100, EntryPrice: 150},
		{Symbol: "MSFT", Quantity: 10, EntryPrice: 300},
	}
	prices := map[string]float64{"AAPL": 160, "MSFT": 310}

	v, err := Valuate(w, positions, prices)
	require.NoError(t, err)

	assert.Equal(t, 85_000.0, v.Cash)
	assert.Equal(t, 100*160.0+10*310.0, v.PositionsValue)
	assert.Equal(t, v.Cash+v.PositionsValue, v.TotalEquity)
}

func TestValuate_MissingPriceFails(t *testing.T) {
	w := Wallet{Cash: 85_000}
	positions := []Position{{Symbol: "AAPL", Quantity: 100, EntryPrice: 150}}

	_, err := Valuate(w, positions, map[string]float64{})
	require.ErrorIs(t, err, ErrPriceUnavailable)

	_, err = Valuate(w, positions, map[string]float64{"AAPL": 0})
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("buy")
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, a)

	a, err = ParseAction("SELL")
	require.NoError(t, err)
	assert.Equal(t, ActionSell, a)

	_, err = ParseAction("HOLD")
	assert.ErrorIs(t, err, ErrInvalidIntent)
}
