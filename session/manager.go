package session

import (
	"net/http"

	"github.com/jrsteele09/keyconsole/credential"
	apperrors "github.com/jrsteele09/keyconsole/internal/errors"
	"github.com/jrsteele09/keyconsole/internal/metrics"
	"github.com/rs/zerolog/log"
)

// EventRecorder receives session lifecycle events. *metrics.Metrics
// implements it.
type EventRecorder interface {
	SessionEvent(event string)
}

// Manager runs the session lifecycle on top of a Codec, a CookieStore and a
// RefreshPolicy.
type Manager struct {
	codec    *Codec
	store    *CookieStore
	policy   RefreshPolicy
	recorder EventRecorder
}

type ManagerOption func(*Manager)

func WithEventRecorder(r EventRecorder) ManagerOption {
	return func(m *Manager) {
		m.recorder = r
	}
}

func NewManager(codec *Codec, store *CookieStore, policy RefreshPolicy, options ...ManagerOption) *Manager {
	m := &Manager{codec: codec, store: store, policy: policy}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Establish opens a session for a freshly classified credential.
func (m *Manager) Establish(w http.ResponseWriter, info credential.KeyInfo, cred string) (Token, error) {
	raw, t, err := m.codec.Encode(info, cred)
	if err != nil {
		return Token{}, err
	}
	m.store.Save(w, raw, t.ExpiresAt)
	m.event(metrics.SessionEstablished)
	log.Info().Str("session", t.SessionID).Str("credential", credential.Mask(cred)).Str("tier", t.Tier.String()).Msg("Session established")
	return t, nil
}

// Current returns the request's session without renewing it.
func (m *Manager) Current(r *http.Request) (Token, error) {
	raw, ok := m.store.Load(r)
	if !ok {
		return Token{}, apperrors.ErrNoSession
	}
	return m.codec.Decode(raw)
}

// Touch treats the request as activity: a valid session is returned and, when
// the refresh policy allows, reissued with a new expiry. Without a valid
// session the cookie is cleared and ErrNoSession is returned.
func (m *Manager) Touch(w http.ResponseWriter, r *http.Request) (Token, error) {
	t, err := m.Current(r)
	if err != nil {
		switch {
		case apperrors.Is(err, apperrors.ErrNoSession):
		case apperrors.IsSessionInvalid(err):
			m.event(metrics.SessionRejected)
			log.Debug().Err(err).Msg("Session cookie rejected")
		default:
			log.Err(err).Msg("Failed to read session")
		}
		m.store.Clear(w)
		return Token{}, apperrors.ErrNoSession
	}

	next, refresh := m.policy.MaybeRefresh(t, m.codec.now())
	if !refresh {
		return t, nil
	}
	raw, err := m.codec.Sign(next)
	if err != nil {
		// The current token is still valid; keep serving it.
		log.Err(err).Str("session", t.SessionID).Msg("Failed to reissue session")
		return t, nil
	}
	m.store.Save(w, raw, next.ExpiresAt)
	m.event(metrics.SessionRefreshed)
	return next, nil
}

// End clears the session cookie. Calling it without a session is harmless.
func (m *Manager) End(w http.ResponseWriter) {
	m.store.Clear(w)
	m.event(metrics.SessionCleared)
}

func (m *Manager) event(name string) {
	if m.recorder != nil {
		m.recorder.SessionEvent(name)
	}
}
