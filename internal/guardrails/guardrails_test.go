package guardrails

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForMode_Table(t *testing.T) {
	cases := []struct {
		mode       TradingMode
		maxPct     float64
		maxTrades  int
		confluence bool
	}{
		{ModeAggressive, 33.0, 20, false},
		{ModeNormal, 10.0, 10, true},
		{ModeConservative, 5.0, 5, true},
		{ModePaused, 0.0, 0, true},
	}

	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			l := ForMode(tc.mode)
			assert.Equal(t, tc.mode, l.Mode)
			assert.Equal(t, tc.maxPct, l.MaxPositionPercent)
			assert.Equal(t, tc.maxTrades, l.MaxTradesPerDay)
			assert.Equal(t, tc.confluence, l.RequiresConfluence)
		})
	}
}

func TestPausedBlocksAllHours(t *testing.T) {
	l := ForMode(ModePaused)
	for hour := 0; hour < 24; hour++ {
		_, blocked := l.BlockedAt(hour)
		assert.True(t, blocked, "hour %d", hour)
	}
}

func TestAggressiveHasNoBlockedHours(t *testing.T) {
	l := ForMode(ModeAggressive)
	for hour := 0; hour < 24; hour++ {
		_, blocked := l.BlockedAt(hour)
		assert.False(t, blocked, "hour %d", hour)
	}
}

func TestConservativeBlocksOpenAndClose(t *testing.T) {
	l := ForMode(ModeConservative)

	_, blocked := l.BlockedAt(9)
	assert.True(t, blocked)
	_, blocked = l.BlockedAt(15)
	assert.True(t, blocked)
	_, blocked = l.BlockedAt(12)
	assert.False(t, blocked)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Aggressive")
	require.NoError(t, err)
	assert.Equal(t, ModeAggressive, m)

	_, err = ParseMode("turbo")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestIsUpgradeFrom(t *testing.T) {
	assert.True(t, ModeAggressive.IsUpgradeFrom(ModeNormal))
	assert.True(t, ModeNormal.IsUpgradeFrom(ModePaused))
	assert.False(t, ModeConservative.IsUpgradeFrom(ModeNormal))
	assert.False(t, ModeNormal.IsUpgradeFrom(ModeNormal))
}

func TestNewOverride_Validation(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	_, err := NewOverride(0, 50, "earnings play", "stryk", now)
	assert.ErrorIs(t, err, ErrInvalidOverride)

	_, err = NewOverride(2, -1, "earnings play", "stryk", now)
	assert.ErrorIs(t, err, ErrInvalidOverride)

	o, err := NewOverride(2, 50, "earnings play", "stryk", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Hour), o.ExpiresAt)
	assert.Equal(t, 50.0, o.MaxPositionPercent)
}

func TestOverride_ActiveAt(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	o, err := NewOverride(1, 50, "window", "stryk", now)
	require.NoError(t, err)

	assert.True(t, o.ActiveAt(now))
	assert.True(t, o.ActiveAt(now.Add(59*time.Minute)))
	assert.False(t, o.ActiveAt(now.Add(time.Hour)), "expiry instant is exclusive")
	assert.False(t, o.ActiveAt(now.Add(2*time.Hour)))

	var none *Override
	assert.False(t, none.ActiveAt(now))
}
