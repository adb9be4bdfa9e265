package server

// Route path constants
// All gateway routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteAuthValidate = "/api/auth/validate"
	RouteAuthSession  = "/api/auth/session"
	RouteAuthLogout   = "/api/auth/logout"

	// Identity
	RouteMe = "/api/me"

	// Organisation-wide routes (top tier)
	RouteEnvironments = "/api/environments"
	RouteEnvironment  = "/api/environments/{id}"

	// Scoped routes
	RouteCurrentEnvironment = "/api/environment"
	RouteEnvironmentKeys    = "/api/environment/keys"
	RouteVariables          = "/api/variables"
	RouteVariable           = "/api/variables/{key}"

	// Operations
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
