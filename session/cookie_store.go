package session

import (
	"math"
	"net/http"
	"time"
)

// DefaultCookieName is used when no cookie name is configured.
const DefaultCookieName = "session"

// CookieStore keeps the signed token in an HttpOnly cookie on the client.
type CookieStore struct {
	name    string
	secure  bool
	nowFunc func() time.Time
}

type CookieStoreOption func(*CookieStore)

// WithSecureCookies marks the cookie Secure. Enable it whenever the gateway
// is served over HTTPS.
func WithSecureCookies(secure bool) CookieStoreOption {
	return func(s *CookieStore) {
		s.secure = secure
	}
}

func WithCookieClock(now func() time.Time) CookieStoreOption {
	return func(s *CookieStore) {
		s.nowFunc = now
	}
}

func NewCookieStore(name string, options ...CookieStoreOption) *CookieStore {
	if name == "" {
		name = DefaultCookieName
	}
	s := &CookieStore{name: name, nowFunc: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *CookieStore) Name() string {
	return s.name
}

// Save writes raw to the cookie. The cookie lives exactly as long as the
// token inside it, and at least one second.
func (s *CookieStore) Save(w http.ResponseWriter, raw string, expiresAt time.Time) {
	maxAge := int(math.Ceil(expiresAt.Sub(s.nowFunc()).Seconds()))
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.name,
		Value:    raw,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
		Expires:  expiresAt.UTC(),
	})
}

// Load returns the raw token, if the request carries a non-empty cookie.
func (s *CookieStore) Load(r *http.Request) (string, bool) {
	c, err := r.Cookie(s.name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Clear tells the client to drop the cookie. Safe to call without a session.
func (s *CookieStore) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}
