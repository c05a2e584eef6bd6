package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cloudprofile/hub/pkg/auth"
	"github.com/cloudprofile/hub/pkg/httputil"
	"github.com/cloudprofile/hub/pkg/middleware"
	"github.com/cloudprofile/hub/pkg/observability"
)

// AuthHandlers serves the authentication flows: register, login,
// profile and logout.
type AuthHandlers struct {
	accounts *auth.Service
	metrics  *observability.Metrics
}

// NewAuthHandlers wires the auth handlers. Metrics may be nil.
func NewAuthHandlers(accounts *auth.Service, metrics *observability.Metrics) *AuthHandlers {
	return &AuthHandlers{accounts: accounts, metrics: metrics}
}

// RegisterRoutes mounts the auth endpoints. The credential endpoints go
// through the rate limiter; profile and logout require a valid token.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, gate *middleware.AuthMiddleware, limit func(http.Handler) http.Handler) {
	router.Handle("/api/auth/register", limit(http.HandlerFunc(h.register))).Methods("POST")
	router.Handle("/api/auth/login", limit(http.HandlerFunc(h.login))).Methods("POST")
	router.Handle("/api/auth/profile", gate.RequireAuth(http.HandlerFunc(h.profile))).Methods("GET")
	router.Handle("/api/auth/logout", gate.RequireAuth(http.HandlerFunc(h.logout))).Methods("POST")
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Bio      string `json:"bio"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	account, token, err := h.accounts.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Bio:      req.Bio,
	})
	if err != nil {
		h.countRegistration("failure")
		writeServiceError(w, r, err)
		return
	}

	h.countRegistration("success")
	httputil.WriteSuccess(w, http.StatusCreated, httputil.Fields{
		"message": "User registered successfully",
		"user":    account,
		"token":   token,
	})
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	account, token, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.countLogin("failure")
		writeServiceError(w, r, err)
		return
	}

	h.countLogin("success")
	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"message": "Login successful",
		"user":    account,
		"token":   token,
	})
}

func (h *AuthHandlers) profile(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	account, err := h.accounts.Profile(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"user": account,
	})
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	if err := h.accounts.Logout(r.Context(), identity.UserID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"message": "Logout successful",
	})
}

func (h *AuthHandlers) countRegistration(status string) {
	if h.metrics != nil {
		h.metrics.RegistrationsTotal.WithLabelValues(status).Inc()
	}
}

func (h *AuthHandlers) countLogin(status string) {
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues(status).Inc()
	}
}
