package config

import (
	"strings"
	"time"
)

type BackendConfig interface {
	GetBackendURL() string
	GetBackendTimeout() time.Duration
}

type Backend struct {
	s *settings
}

var _ BackendConfig = Backend{}

func (b Backend) GetBackendURL() string {
	return strings.TrimRight(b.s.Backend.URL, "/")
}

// GetBackendTimeout bounds every individual call to the backend.
func (b Backend) GetBackendTimeout() time.Duration {
	return b.s.Backend.Timeout
}
