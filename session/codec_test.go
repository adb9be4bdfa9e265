package session_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/keyconsole/credential"
	apperrors "github.com/jrsteele09/keyconsole/internal/errors"
	"github.com/jrsteele09/keyconsole/internal/utils"
	"github.com/jrsteele09/keyconsole/session"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "unit-test-secret-value"
	testKey    = "nenv_live_0123456789abcdef"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCodec(t *testing.T, clk *clock) *session.Codec {
	t.Helper()
	codec, err := session.NewCodec(testSecret, session.WithNowFunc(clk.Now))
	require.NoError(t, err)
	return codec
}

func TestCodec_RoundTrip(t *testing.T) {
	clk := newClock()
	codec := newCodec(t, clk)

	infos := []credential.KeyInfo{
		{Tier: credential.TierTop},
		{Tier: credential.TierScopedAdmin, ScopeID: utils.Ptr(int64(7))},
		{Tier: credential.TierScopedReadOnly, ScopeID: utils.Ptr(int64(42))},
	}
	for _, info := range infos {
		t.Run(info.Tier.String(), func(t *testing.T) {
			raw, issued, err := codec.Encode(info, testKey)
			require.NoError(t, err)
			require.NotContains(t, raw, testKey)

			decoded, err := codec.Decode(raw)
			require.NoError(t, err)
			require.Equal(t, testKey, decoded.Credential)
			require.Equal(t, info, decoded.KeyInfo())
			require.Equal(t, issued.SessionID, decoded.SessionID)
			require.True(t, clk.Now().Equal(decoded.IssuedAt))
			require.True(t, clk.Now().Add(session.DefaultDuration).Equal(decoded.ExpiresAt))
		})
	}
}

func TestCodec_Encode_RejectsInvalidInput(t *testing.T) {
	codec := newCodec(t, newClock())

	_, _, err := codec.Encode(credential.KeyInfo{Tier: credential.TierScopedAdmin}, testKey)
	require.Error(t, err)

	_, _, err = codec.Encode(credential.KeyInfo{Tier: credential.TierTop}, "")
	require.Error(t, err)
}

func TestCodec_Decode_RejectsEveryTamperedByte(t *testing.T) {
	codec := newCodec(t, newClock())
	raw, _, err := codec.Encode(credential.KeyInfo{Tier: credential.TierScopedAdmin, ScopeID: utils.Ptr(int64(7))}, testKey)
	require.NoError(t, err)

	for i := 0; i < len(raw); i++ {
		replacement := byte('A')
		if raw[i] == 'A' {
			replacement = 'B'
		}
		tampered := raw[:i] + string(replacement) + raw[i+1:]

		_, err := codec.Decode(tampered)
		require.ErrorIs(t, err, apperrors.ErrMalformedSession, "byte %d", i)
	}
}

func TestCodec_Decode_Malformed(t *testing.T) {
	clk := newClock()
	codec := newCodec(t, clk)
	raw, _, err := codec.Encode(credential.KeyInfo{Tier: credential.TierTop}, testKey)
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		for _, in := range []string{"", "not-a-token", "a.b.c", raw + "x", strings.TrimSuffix(raw, raw[strings.LastIndex(raw, "."):])} {
			_, err := codec.Decode(in)
			require.ErrorIs(t, err, apperrors.ErrMalformedSession)
		}
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := session.NewCodec("a-different-secret", session.WithNowFunc(clk.Now))
		require.NoError(t, err)
		_, err = other.Decode(raw)
		require.ErrorIs(t, err, apperrors.ErrMalformedSession)
	})

	t.Run("unsigned algorithm", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"apiKey":    testKey,
			"keyType":   "APP_ADMIN",
			"issuedAt":  clk.Now().UnixMilli(),
			"expiresAt": clk.Now().Add(time.Hour).UnixMilli(),
			"jti":       "sid",
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = codec.Decode(unsigned)
		require.ErrorIs(t, err, apperrors.ErrMalformedSession)
	})

	t.Run("error carries no secret material", func(t *testing.T) {
		_, err := codec.Decode(raw[:len(raw)-2])
		require.Equal(t, apperrors.ErrMalformedSession.Error(), err.Error())
	})
}

func TestCodec_Decode_Expiry(t *testing.T) {
	clk := newClock()
	codec := newCodec(t, clk)
	raw, _, err := codec.Encode(credential.KeyInfo{Tier: credential.TierTop}, testKey)
	require.NoError(t, err)

	clk.Advance(session.DefaultDuration - time.Millisecond)
	_, err = codec.Decode(raw)
	require.NoError(t, err)

	clk.Advance(time.Millisecond)
	_, err = codec.Decode(raw)
	require.ErrorIs(t, err, apperrors.ErrExpiredSession)
}

func TestCodec_Sign_RefreshedTokenKeepsIdentity(t *testing.T) {
	clk := newClock()
	codec := newCodec(t, clk)
	_, first, err := codec.Encode(credential.KeyInfo{Tier: credential.TierScopedReadOnly, ScopeID: utils.Ptr(int64(9))}, testKey)
	require.NoError(t, err)

	clk.Advance(45 * time.Second)
	policy := session.NewRefreshPolicy(session.DefaultRefreshInterval, codec.Duration())
	second, ok := policy.MaybeRefresh(first, clk.Now())
	require.True(t, ok)
	raw, err := codec.Sign(second)
	require.NoError(t, err)

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, second, decoded)
	require.Equal(t, first.Credential, decoded.Credential)
	require.Equal(t, first.KeyInfo(), decoded.KeyInfo())
	require.Equal(t, first.SessionID, decoded.SessionID)
	require.True(t, decoded.ExpiresAt.After(first.ExpiresAt))
	require.True(t, clk.Now().Add(session.DefaultDuration).Equal(decoded.ExpiresAt))
}

func TestNewCodec_Validation(t *testing.T) {
	_, err := session.NewCodec("  ")
	require.Error(t, err)

	_, err = session.NewCodec(testSecret, session.WithDuration(0))
	require.Error(t, err)
}
