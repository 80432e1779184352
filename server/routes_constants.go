package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Login flow
	RouteLogin    = "/login"
	RouteCallback = "/callback"
	RouteLogout   = "/logout"

	// API Routes
	RouteAPISession = "/api/session"

	// Operational
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
