// Package guardrails defines the trading modes, the per-mode risk limits, and
// the time-bounded override that can elevate them.
package guardrails

import (
	"errors"
	"fmt"
	"strings"
)

// TradingMode is the current risk posture. Exactly one mode is active per
// trading identity at any time.
type TradingMode string

const (
	ModeAggressive   TradingMode = "aggressive"
	ModeNormal       TradingMode = "normal"
	ModeConservative TradingMode = "conservative"
	ModePaused       TradingMode = "paused"
)

var ErrInvalidTransition = errors.New("invalid mode transition")

// ParseMode converts a wire-format mode string.
func ParseMode(s string) (TradingMode, error) {
	switch TradingMode(strings.ToLower(s)) {
	case ModeAggressive:
		return ModeAggressive, nil
	case ModeNormal:
		return ModeNormal, nil
	case ModeConservative:
		return ModeConservative, nil
	case ModePaused:
		return ModePaused, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidTransition, s)
	}
}

// rank orders modes by aggressiveness; higher is more aggressive.
func (m TradingMode) rank() int {
	switch m {
	case ModeAggressive:
		return 3
	case ModeNormal:
		return 2
	case ModeConservative:
		return 1
	case ModePaused:
		return 0
	default:
		return -1
	}
}

// Valid reports whether m is one of the four known modes.
func (m TradingMode) Valid() bool {
	return m.rank() >= 0
}

// IsUpgradeFrom reports whether switching from old to m raises aggressiveness.
// Upgrades are manual-only operations; the circuit breaker only ever proposes
// downgrades.
func (m TradingMode) IsUpgradeFrom(old TradingMode) bool {
	return m.rank() > old.rank()
}
