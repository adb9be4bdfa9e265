package config

import "time"

type SessionConfig interface {
	GetSessionSecret() string
	GetSessionDuration() time.Duration
	GetSessionRefreshInterval() time.Duration
	GetSessionCookieName() string
}

type Session struct {
	s *settings
}

var _ SessionConfig = Session{}

// GetSessionSecret returns the process-wide signing secret. Rotating it
// invalidates every outstanding session.
func (s Session) GetSessionSecret() string {
	return s.s.Session.Secret
}

func (s Session) GetSessionDuration() time.Duration {
	return s.s.Session.Duration
}

func (s Session) GetSessionRefreshInterval() time.Duration {
	return s.s.Session.RefreshInterval
}

func (s Session) GetSessionCookieName() string {
	return s.s.Session.CookieName
}
