package trader

import "time"

// SetClock replaces the engine clock so tests control time.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}
