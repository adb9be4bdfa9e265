package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/keyconsole/credential"
	apperrors "github.com/jrsteele09/keyconsole/internal/errors"
	"github.com/jrsteele09/keyconsole/internal/utils"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultDuration is how long a freshly issued or reissued token lives.
	DefaultDuration = time.Hour

	keyDerivationInfo = "keyconsole session token v1"
	keyLength         = 32
)

// sessionClaims is the signed payload. The millisecond fields are
// authoritative; the registered iat/exp mirror them for generic JWT tooling.
type sessionClaims struct {
	APIKey        string `json:"apiKey"`
	KeyType       string `json:"keyType"`
	EnvironmentID *int64 `json:"environmentId,omitempty"`
	IssuedAtMs    int64  `json:"issuedAt"`
	ExpiresAtMs   int64  `json:"expiresAt"`
	jwt.RegisteredClaims
}

// Codec signs session tokens with HS256 under a key derived from the
// configured secret, and verifies them.
type Codec struct {
	key      []byte
	duration time.Duration
	parser   *jwt.Parser
	nowFunc  func() time.Time
}

type CodecOption func(*Codec)

func WithDuration(d time.Duration) CodecOption {
	return func(c *Codec) {
		c.duration = d
	}
}

func WithNowFunc(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.nowFunc = now
	}
}

// NewCodec derives the signing key from secret. Rotating the secret
// invalidates every outstanding token.
func NewCodec(secret string, options ...CodecOption) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret is required")
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	c := &Codec{
		key:      key,
		duration: DefaultDuration,
		nowFunc:  time.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.duration <= 0 {
		return nil, fmt.Errorf("session duration must be positive, got %s", c.duration)
	}
	return c, nil
}

func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivationInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	return key, nil
}

// Duration is the lifetime given to every issued token.
func (c *Codec) Duration() time.Duration {
	return c.duration
}

func (c *Codec) now() time.Time {
	return c.nowFunc()
}

// Encode starts a new session for a classified credential.
func (c *Codec) Encode(info credential.KeyInfo, cred string) (string, Token, error) {
	if err := info.Validate(); err != nil {
		return "", Token{}, apperrors.Wrapf(err, "encoding session")
	}
	if strings.TrimSpace(cred) == "" {
		return "", Token{}, errors.New("encoding session: credential is required")
	}

	now := c.now()
	t := Token{
		Credential: cred,
		Tier:       info.Tier,
		ScopeID:    utils.Clone(info.ScopeID),
		IssuedAt:   truncateMillis(now),
		ExpiresAt:  truncateMillis(now.Add(c.duration)),
		SessionID:  uuid.NewString(),
	}
	raw, err := c.Sign(t)
	if err != nil {
		return "", Token{}, err
	}
	return raw, t, nil
}

// Sign serialises t exactly as given.
func (c *Codec) Sign(t Token) (string, error) {
	claims := sessionClaims{
		APIKey:        t.Credential,
		KeyType:       t.Tier.String(),
		EnvironmentID: t.ScopeID,
		IssuedAtMs:    t.IssuedAt.UnixMilli(),
		ExpiresAtMs:   t.ExpiresAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.SessionID,
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("signing session: %w", err)
	}
	return signed, nil
}

// Decode verifies raw and returns its token. Any failure to parse or verify
// is ErrMalformedSession without detail; a verified token whose expiry has
// passed is ErrExpiredSession.
func (c *Codec) Decode(raw string) (Token, error) {
	var claims sessionClaims
	parsed, err := c.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil || !parsed.Valid {
		return Token{}, apperrors.ErrMalformedSession
	}

	t, err := claims.token()
	if err != nil {
		return Token{}, apperrors.ErrMalformedSession
	}
	if !t.ValidAt(c.now()) {
		return Token{}, apperrors.ErrExpiredSession
	}
	return t, nil
}

func (s *sessionClaims) token() (Token, error) {
	tier, err := credential.ParseTier(s.KeyType)
	if err != nil {
		return Token{}, err
	}
	info := credential.KeyInfo{Tier: tier, ScopeID: s.EnvironmentID}
	if err := info.Validate(); err != nil {
		return Token{}, err
	}
	if s.APIKey == "" || s.ID == "" || s.ExpiresAtMs <= 0 {
		return Token{}, errors.New("incomplete session claims")
	}
	return Token{
		Credential: s.APIKey,
		Tier:       tier,
		ScopeID:    s.EnvironmentID,
		IssuedAt:   time.UnixMilli(s.IssuedAtMs),
		ExpiresAt:  time.UnixMilli(s.ExpiresAtMs),
		SessionID:  s.ID,
	}, nil
}
