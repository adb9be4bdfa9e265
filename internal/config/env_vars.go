package config

import (
	"strings"
)

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	IsProduction() bool
}

type EnvVars struct {
	s *settings
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.s.Port
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.s.App.Name
}

// GetEnv returns the deployment environment, upper-cased ("DEV", "PRODUCTION", ...).
func (e EnvVars) GetEnv() string {
	if e.s.Env == "" {
		return "DEV"
	}
	return strings.ToUpper(e.s.Env)
}

func (e EnvVars) GetLogLevel() string {
	return e.s.Log.Level
}

// IsProduction decides whether session cookies are restricted to secure transport.
func (e EnvVars) IsProduction() bool {
	return isProduction(e.s.Env)
}
