package session

import (
	"time"

	"github.com/jrsteele09/keyconsole/credential"
	"github.com/jrsteele09/keyconsole/internal/utils"
)

// Token is the decoded content of a session cookie. Credential, Tier and
// ScopeID never change for a session; reissuance moves only IssuedAt and
// ExpiresAt. Times carry millisecond precision, as signed.
type Token struct {
	Credential string
	Tier       credential.Tier
	ScopeID    *int64
	IssuedAt   time.Time
	ExpiresAt  time.Time
	SessionID  string
}

func (t Token) KeyInfo() credential.KeyInfo {
	return credential.KeyInfo{Tier: t.Tier, ScopeID: utils.Clone(t.ScopeID)}
}

// ValidAt reports whether the token has not yet expired at now.
func (t Token) ValidAt(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// renewed returns a copy issued at now that lapses after d. The expiry never
// moves backwards.
func (t Token) renewed(now time.Time, d time.Duration) Token {
	next := t
	next.ScopeID = utils.Clone(t.ScopeID)
	next.IssuedAt = truncateMillis(now)
	next.ExpiresAt = truncateMillis(now.Add(d))
	if next.ExpiresAt.Before(t.ExpiresAt) {
		next.ExpiresAt = t.ExpiresAt
	}
	return next
}

func truncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
