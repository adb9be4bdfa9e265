package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/keyconsole/backend"
	"github.com/jrsteele09/keyconsole/credential"
	"github.com/jrsteele09/keyconsole/internal/config"
	"github.com/jrsteele09/keyconsole/internal/metrics"
	"github.com/jrsteele09/keyconsole/session"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env        string // Environment (e.g., "DEV", "PRODUCTION")
	mux        *http.ServeMux
	routes     []string
	config     config.Config
	backend    *backend.Client
	classifier *credential.Classifier
	sessions   *session.Manager
	metrics    *metrics.Metrics
	limiter    *LoginLimiter

	backendHTTPClient *http.Client
}

type Option func(*Server)

// WithBackendHTTPClient replaces the HTTP client used to reach the backend.
func WithBackendHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		s.backendHTTPClient = c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func New(cfg config.Config, options ...Option) (*Server, error) {
	s := &Server{
		env:    cfg.GetEnv(),
		mux:    http.NewServeMux(),
		config: cfg,
	}
	for _, opt := range options {
		opt(s)
	}

	backendOptions := []backend.Option{backend.WithTimeout(cfg.GetBackendTimeout())}
	if s.backendHTTPClient != nil {
		backendOptions = append(backendOptions, backend.WithHTTPClient(s.backendHTTPClient))
	}
	s.backend = backend.New(cfg.GetBackendURL(), backendOptions...)
	s.classifier = credential.NewClassifier(s.backend, credential.WithRecorder(s.metrics))

	codec, err := session.NewCodec(cfg.GetSessionSecret(), session.WithDuration(cfg.GetSessionDuration()))
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to create session codec: %w", err)
	}
	store := session.NewCookieStore(cfg.GetSessionCookieName(), session.WithSecureCookies(cfg.IsProduction()))
	policy := session.NewRefreshPolicy(cfg.GetSessionRefreshInterval(), codec.Duration())
	s.sessions = session.NewManager(codec, store, policy, session.WithEventRecorder(s.metrics))
	s.limiter = NewLoginLimiter(cfg.GetLoginRatePerMinute(), WithTrustedProxies(cfg.GetTrustedProxies()))

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Debug().Msgf("[%-19s] %s", color+paddedMethod+ResetColor, path)
}
