package session_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/keyconsole/credential"
	"github.com/jrsteele09/keyconsole/internal/utils"
	"github.com/jrsteele09/keyconsole/session"
	"github.com/stretchr/testify/require"
)

func TestRefreshPolicy_MaybeRefresh(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := session.Token{
		Credential: testKey,
		Tier:       credential.TierScopedAdmin,
		ScopeID:    utils.Ptr(int64(7)),
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(time.Hour),
		SessionID:  "sid-1",
	}
	policy := session.NewRefreshPolicy(session.DefaultRefreshInterval, session.DefaultDuration)

	t.Run("throttled inside the interval", func(t *testing.T) {
		for _, age := range []time.Duration{0, time.Second, 29 * time.Second, 30*time.Second - time.Millisecond} {
			got, refreshed := policy.MaybeRefresh(token, issued.Add(age))
			require.False(t, refreshed, "age %s", age)
			require.Equal(t, token, got)
		}
	})

	t.Run("reissued once the interval has passed", func(t *testing.T) {
		now := issued.Add(30 * time.Second)
		got, refreshed := policy.MaybeRefresh(token, now)
		require.True(t, refreshed)
		require.True(t, now.Equal(got.IssuedAt))
		require.True(t, now.Add(time.Hour).Equal(got.ExpiresAt))
		require.Equal(t, token.Credential, got.Credential)
		require.Equal(t, token.KeyInfo(), got.KeyInfo())
		require.Equal(t, token.SessionID, got.SessionID)
	})

	t.Run("expired token is never reissued", func(t *testing.T) {
		_, refreshed := policy.MaybeRefresh(token, token.ExpiresAt)
		require.False(t, refreshed)

		_, refreshed = policy.MaybeRefresh(token, token.ExpiresAt.Add(time.Minute))
		require.False(t, refreshed)
	})

	t.Run("expiry never moves backwards", func(t *testing.T) {
		short := session.NewRefreshPolicy(0, time.Minute)
		got, refreshed := short.MaybeRefresh(token, issued.Add(10*time.Second))
		require.True(t, refreshed)
		require.Equal(t, token.ExpiresAt, got.ExpiresAt)
	})
}
