package server

import "net/http"

func (s *Server) initRoutes() {
	// Operations
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())

	// Auth
	s.RegisterRouteHandler("POST "+RouteAuthValidate, ChainMiddleware(s.ValidateHandler(), s.APIMiddleware(s.RateLimitMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteAuthSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))

	// Identity
	s.RegisterRouteHandler("GET "+RouteMe, ChainMiddleware(s.MeHandler(), s.APIMiddleware(s.RequireSession(AnyTier))...))

	// Organisation-wide
	s.RegisterRouteHandler("GET "+RouteEnvironments, ChainMiddleware(s.ListEnvironmentsHandler(), s.APIMiddleware(s.RequireSession(TopTier))...))
	s.RegisterRouteHandler("POST "+RouteEnvironments, ChainMiddleware(s.CreateEnvironmentHandler(), s.APIMiddleware(s.RequireSession(TopTier))...))
	s.RegisterRouteHandler("DELETE "+RouteEnvironment, ChainMiddleware(s.DeleteEnvironmentHandler(), s.APIMiddleware(s.RequireSession(TopTier))...))

	// Scoped
	s.RegisterRouteHandler("GET "+RouteCurrentEnvironment, ChainMiddleware(s.CurrentEnvironmentHandler(), s.APIMiddleware(s.RequireSession(AnyTier))...))
	s.RegisterRouteHandler("GET "+RouteEnvironmentKeys, ChainMiddleware(s.EnvironmentKeysHandler(), s.APIMiddleware(s.RequireSession(ScopedAdminTier))...))
	s.RegisterRouteHandler("GET "+RouteVariables, ChainMiddleware(s.ListVariablesHandler(), s.APIMiddleware(s.RequireSession(AnyTier))...))
	s.RegisterRouteHandler("GET "+RouteVariable, ChainMiddleware(s.GetVariableHandler(), s.APIMiddleware(s.RequireSession(AnyTier))...))
	s.RegisterRouteHandler("PUT "+RouteVariable, ChainMiddleware(s.SetVariableHandler(), s.APIMiddleware(s.RequireSession(WritableTier))...))
	s.RegisterRouteHandler("DELETE "+RouteVariable, ChainMiddleware(s.DeleteVariableHandler(), s.APIMiddleware(s.RequireSession(WritableTier))...))

	// CORS preflight for every API route
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.APIMiddleware()...))
}
