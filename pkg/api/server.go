// Package api exposes the HTTP surface of the profile service: auth
// flows, profile management, activity reporting and profile picture
// uploads, all speaking the {"success": ...} JSON envelope.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cloudprofile/hub/pkg/auth"
	"github.com/cloudprofile/hub/pkg/httputil"
	"github.com/cloudprofile/hub/pkg/middleware"
	"github.com/cloudprofile/hub/pkg/observability"
	"github.com/cloudprofile/hub/pkg/storage"
)

// Deps bundles everything the HTTP server needs. Objects, LoginLimiter
// and Metrics are optional; the matching features degrade when absent.
type Deps struct {
	Accounts *auth.Service
	Store    storage.Store
	Objects  ObjectStore
	Gate     *middleware.AuthMiddleware

	// LoginLimiter throttles the credential endpoints. Nil disables
	// rate limiting (no redis configured).
	LoginLimiter *middleware.RateLimiter

	Logger  *observability.Logger
	Metrics *observability.Metrics

	AllowedOrigins []string

	// Version and Environment are reported by the health endpoint.
	Version     string
	Environment string
}

// Server is the public HTTP API. It owns the router and the middleware
// chain around it.
type Server struct {
	router      *mux.Router
	handler     http.Handler
	logger      *observability.Logger
	version     string
	environment string
}

// NewServer builds the router, registers every route and wraps the
// whole tree in the shared middleware chain.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		logger:      deps.Logger,
		version:     deps.Version,
		environment: deps.Environment,
	}

	// Unmatched paths and method mismatches both get the envelope, not
	// the default plain-text responses.
	s.router.NotFoundHandler = http.HandlerFunc(handleRouteNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(handleRouteNotFound)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	limit := passthrough
	if deps.LoginLimiter != nil {
		limit = deps.LoginLimiter.Handler
	}

	NewAuthHandlers(deps.Accounts, deps.Metrics).RegisterRoutes(s.router, deps.Gate, limit)
	NewUserHandlers(deps.Store, auth.NewPasswordHasher()).RegisterRoutes(s.router, deps.Gate)
	if deps.Objects != nil {
		NewUploadHandlers(deps.Objects, deps.Store, deps.Metrics).RegisterRoutes(s.router, deps.Gate)
	}

	chain := []func(http.Handler) http.Handler{
		observability.RecoveryMiddleware(deps.Logger),
		httputil.RequestIDMiddleware,
		observability.LoggingMiddleware(deps.Logger),
	}
	if deps.Metrics != nil {
		chain = append(chain, observability.HTTPMetricsMiddleware(deps.Metrics, s.routeTemplate))
	}
	chain = append(chain, httputil.CORSMiddleware(deps.AllowedOrigins))

	s.handler = httputil.Chain(chain...)(s.router)
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routeTemplate resolves the matched route's path template for metric
// labels, keeping cardinality bounded: /api/users/42 and /api/users/7
// both count under /api/users/{id}.
func (s *Server) routeTemplate(r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"message":     "Server is running",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"version":     s.version,
		"environment": s.environment,
	})
}

func handleRouteNotFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteNotFound(w, "Route not found")
}

// passthrough is the no-op stand-in for an absent rate limiter.
func passthrough(next http.Handler) http.Handler {
	return next
}
