package session

import "time"

// DefaultRefreshInterval is the minimum age of a token before activity
// reissues it.
const DefaultRefreshInterval = 30 * time.Second

// RefreshPolicy decides whether activity on a live session earns it a new
// expiry. The throttle reads the signed IssuedAt, so it needs no server state.
type RefreshPolicy struct {
	interval time.Duration
	duration time.Duration
}

func NewRefreshPolicy(interval, duration time.Duration) RefreshPolicy {
	if interval < 0 {
		interval = 0
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	return RefreshPolicy{interval: interval, duration: duration}
}

// MaybeRefresh returns the token to sign and true when t is still valid at
// now and was issued at least one interval ago. Otherwise t comes back
// unchanged with false.
func (p RefreshPolicy) MaybeRefresh(t Token, now time.Time) (Token, bool) {
	if !t.ValidAt(now) {
		return t, false
	}
	if now.Sub(t.IssuedAt) < p.interval {
		return t, false
	}
	return t.renewed(now, p.duration), true
}
