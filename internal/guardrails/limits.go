package guardrails

// HourWindow is a UTC [Start, End) hour range during which new trades are
// blocked, covering the open/close volatility windows.
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the UTC hour falls inside the window.
func (w HourWindow) Contains(hour int) bool {
	return hour >= w.Start && hour < w.End
}

// Limits is the static risk-limit record for one trading mode.
type Limits struct {
	Mode TradingMode `json:"mode"`
	// MaxPositionPercent caps the intended position value as a percent of
	// total equity.
	MaxPositionPercent float64 `json:"max_position_percent"`
	// MaxTradesPerDay caps executed trades per trading day.
	MaxTradesPerDay int `json:"max_trades_per_day"`
	// MaxTradeValue caps the dollar value of a single trade.
	MaxTradeValue float64 `json:"max_trade_value"`
	// RequiresConfluence demands an agreeing external signal before a trade
	// is permitted.
	RequiresConfluence bool `json:"requires_confluence"`
	// BlockedHours are UTC windows during which new trades are rejected.
	BlockedHours []HourWindow `json:"blocked_hours,omitempty"`
}

// ForMode returns the risk limits for a trading mode. The table is static;
// runtime changes go through an audited configuration update, never through
// mutation of these values.
func ForMode(mode TradingMode) Limits {
	switch mode {
	case ModeAggressive:
		return Limits{
			Mode:               ModeAggressive,
			MaxPositionPercent: 33.0,
			MaxTradesPerDay:    20,
			MaxTradeValue:      100_000,
			RequiresConfluence: false,
		}
	case ModeConservative:
		return Limits{
			Mode:               ModeConservative,
			MaxPositionPercent: 5.0,
			MaxTradesPerDay:    5,
			MaxTradeValue:      25_000,
			RequiresConfluence: true,
			BlockedHours:       []HourWindow{{Start: 9, End: 10}, {Start: 15, End: 16}},
		}
	case ModePaused:
		return Limits{
			Mode:               ModePaused,
			MaxPositionPercent: 0,
			MaxTradesPerDay:    0,
			MaxTradeValue:      0,
			RequiresConfluence: true,
			BlockedHours:       []HourWindow{{Start: 0, End: 24}},
		}
	default:
		return Limits{
			Mode:               ModeNormal,
			MaxPositionPercent: 10.0,
			MaxTradesPerDay:    10,
			MaxTradeValue:      50_000,
			RequiresConfluence: true,
			BlockedHours:       []HourWindow{{Start: 9, End: 9}, {Start: 15, End: 16}},
		}
	}
}

// BlockedAt returns the window covering the UTC hour, if any.
func (l Limits) BlockedAt(hour int) (HourWindow, bool) {
	for _, w := range l.BlockedHours {
		if w.Contains(hour) {
			return w, true
		}
	}
	return HourWindow{}, false
}
