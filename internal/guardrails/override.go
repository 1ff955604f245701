package guardrails

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidOverride = errors.New("invalid override")

// Override is a time-bounded grant of elevated position limits. It supersedes
// the mode-derived MaxPositionPercent while active, and nothing else. At most
// one override exists at a time; granting a new one replaces the old.
type Override struct {
	MaxPositionPercent float64   `json:"max_position_percent"`
	ExpiresAt          time.Time `json:"expires_at"`
	Reason             string    `json:"reason"`
	GrantedBy          string    `json:"granted_by"`
	GrantedAt          time.Time `json:"granted_at"`
}

// NewOverride creates a timed override. Expiry is read-time: the override is
// never deleted on expiry, merely treated as absent.
func NewOverride(hours float64, maxPositionPercent float64, reason, grantedBy string, now time.Time) (*Override, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("%w: duration %.2fh must be positive", ErrInvalidOverride, hours)
	}
	if maxPositionPercent <= 0 {
		return nil, fmt.Errorf("%w: max position %.2f%% must be positive", ErrInvalidOverride, maxPositionPercent)
	}
	return &Override{
		MaxPositionPercent: maxPositionPercent,
		ExpiresAt:          now.Add(time.Duration(hours * float64(time.Hour))),
		Reason:             reason,
		GrantedBy:          grantedBy,
		GrantedAt:          now,
	}, nil
}

// ActiveAt reports whether the override is in force at the given instant.
func (o *Override) ActiveAt(now time.Time) bool {
	return o != nil && now.Before(o.ExpiresAt)
}
