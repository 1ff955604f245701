package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/guardrails"
)

var now = time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

func newBreaker(t *testing.T) *Breaker {
	t.Helper()
	b := New(DefaultConfig(), State{})
	b.RollDay(now, 100_000)
	return b
}

func TestRollDay_SetsBaselineOncePerDay(t *testing.T) {
	b := New(DefaultConfig(), State{})

	assert.True(t, b.RollDay(now, 100_000))
	assert.False(t, b.RollDay(now.Add(3*time.Hour), 95_000), "same day must not re-baseline")

	b.UpdateDailyPnL(95_000)
	assert.InDelta(t, -5.0, b.State().DailyPnLPercent, 1e-9)

	// Next day: baseline moves to current equity and P&L resets.
	assert.True(t, b.RollDay(now.Add(24*time.Hour), 95_000))
	assert.Equal(t, 0.0, b.State().DailyPnLPercent)
	assert.Equal(t, 95_000.0, b.State().DayStartEquity)
}

func TestEvaluate_DailyLossForcesConservative(t *testing.T) {
	b := newBreaker(t)
	b.UpdateDailyPnL(89_500) // -10.5%

	d := b.Evaluate(guardrails.ModeAggressive, now)
	require.NotNil(t, d)
	assert.Equal(t, TriggerDailyLoss, d.Trigger)
	assert.Equal(t, guardrails.ModeConservative, d.NewMode)
	assert.Nil(t, d.PausedUntil)
}

func TestEvaluate_DailyLossIdleWhenAlreadyConservative(t *testing.T) {
	b := newBreaker(t)
	b.UpdateDailyPnL(85_000)

	assert.Nil(t, b.Evaluate(guardrails.ModeConservative, now))
	assert.Nil(t, b.Evaluate(guardrails.ModePaused, now))
}

func TestEvaluate_ExactThresholdTrips(t *testing.T) {
	b := newBreaker(t)
	b.UpdateDailyPnL(90_000) // exactly -10%

	d := b.Evaluate(guardrails.ModeNormal, now)
	require.NotNil(t, d)
	assert.Equal(t, TriggerDailyLoss, d.Trigger)
}

func TestEvaluate_LossStreakPauses(t *testing.T) {
	b := newBreaker(t)
	for i := 0; i < 5; i++ {
		b.RecordOutcome(-100)
	}

	d := b.Evaluate(guardrails.ModeNormal, now)
	require.NotNil(t, d)
	assert.Equal(t, TriggerLossStreak, d.Trigger)
	assert.Equal(t, guardrails.ModePaused, d.NewMode)
	require.NotNil(t, d.PausedUntil)
	assert.Equal(t, now.Add(time.Hour), *d.PausedUntil)

	// Streak cleared with the pause so the rule cannot re-trip every
	// evaluation while paused.
	assert.Equal(t, 0, b.State().ConsecutiveLosses)
	assert.True(t, b.Paused(now))
	assert.Nil(t, b.Evaluate(guardrails.ModePaused, now.Add(time.Minute)))
}

func TestRecordOutcome_WinResetsStreak(t *testing.T) {
	b := newBreaker(t)
	b.RecordOutcome(-50)
	b.RecordOutcome(-50)
	assert.Equal(t, 2, b.State().ConsecutiveLosses)

	b.RecordOutcome(0) // break-even counts as non-loss
	assert.Equal(t, 0, b.State().ConsecutiveLosses)
}

func TestResolvePause_Conservative(t *testing.T) {
	b := newBreaker(t)
	for i := 0; i < 5; i++ {
		b.RecordOutcome(-100)
	}
	require.NotNil(t, b.Evaluate(guardrails.ModeAggressive, now))

	// Still paused: nothing to resolve.
	_, expired := b.ResolvePause(now.Add(30 * time.Minute))
	assert.False(t, expired)

	restored, expired := b.ResolvePause(now.Add(61 * time.Minute))
	require.True(t, expired)
	assert.Equal(t, guardrails.ModeConservative, restored)
	assert.False(t, b.Paused(now.Add(61*time.Minute)))

	// Resolving again is a no-op.
	_, expired = b.ResolvePause(now.Add(2 * time.Hour))
	assert.False(t, expired)
}

func TestResolvePause_PreviousMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Recovery = RecoverPrevious
	b := New(cfg, State{})
	b.RollDay(now, 100_000)

	for i := 0; i < 5; i++ {
		b.RecordOutcome(-100)
	}
	require.NotNil(t, b.Evaluate(guardrails.ModeAggressive, now))

	restored, expired := b.ResolvePause(now.Add(2 * time.Hour))
	require.True(t, expired)
	assert.Equal(t, guardrails.ModeAggressive, restored)
}

func TestReset_ClearsTripState(t *testing.T) {
	b := newBreaker(t)
	b.UpdateDailyPnL(92_000)
	for i := 0; i < 5; i++ {
		b.RecordOutcome(-100)
	}
	require.NotNil(t, b.Evaluate(guardrails.ModeNormal, now))

	b.Reset()
	assert.False(t, b.Paused(now))
	assert.Equal(t, 0, b.State().ConsecutiveLosses)
	// The daily baseline survives a manual reset.
	assert.Equal(t, 100_000.0, b.State().DayStartEquity)
}

func TestNew_DefaultsZeroConfig(t *testing.T) {
	b := New(Config{}, State{})
	cfg := b.Config()
	assert.Equal(t, 10.0, cfg.DailyLossThresholdPercent)
	assert.Equal(t, 5, cfg.LossStreakThreshold)
	assert.Equal(t, time.Hour, cfg.PauseDuration)
	assert.Equal(t, RecoverConservative, cfg.Recovery)
}
