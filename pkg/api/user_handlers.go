package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cloudprofile/hub/pkg/auth"
	"github.com/cloudprofile/hub/pkg/httputil"
	"github.com/cloudprofile/hub/pkg/middleware"
	"github.com/cloudprofile/hub/pkg/storage"
	"github.com/cloudprofile/hub/pkg/validation"
)

// Activity listings default to the most recent 50 entries and never
// return more than 200 per request.
const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// UserHandlers serves profile management and activity reporting.
type UserHandlers struct {
	store  storage.Store
	hasher *auth.PasswordHasher
}

// NewUserHandlers wires the user handlers.
func NewUserHandlers(store storage.Store, hasher *auth.PasswordHasher) *UserHandlers {
	return &UserHandlers{store: store, hasher: hasher}
}

// RegisterRoutes mounts the user endpoints. Reads are public; every
// mutation and the activity log require a valid token.
func (h *UserHandlers) RegisterRoutes(router *mux.Router, gate *middleware.AuthMiddleware) {
	router.Handle("/api/users", gate.OptionalAuth(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/api/users", gate.RequireAuth(http.HandlerFunc(h.create))).Methods("POST")
	router.HandleFunc("/api/users/{id}", h.get).Methods("GET")
	router.Handle("/api/users/{id}", gate.RequireAuth(http.HandlerFunc(h.update))).Methods("PUT")
	router.Handle("/api/users/{id}", gate.RequireAuth(http.HandlerFunc(h.delete))).Methods("DELETE")
	router.Handle("/api/users/{id}/activity", gate.RequireAuth(http.HandlerFunc(h.activity))).Methods("GET")
	router.Handle("/api/activity", gate.RequireAuth(http.HandlerFunc(h.recentActivity))).Methods("GET")
}

func (h *UserHandlers) list(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"users": accounts,
		"count": len(accounts),
	})
}

func (h *UserHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	account, err := h.store.FindAccountByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if account == nil {
		httputil.WriteNotFound(w, "User not found")
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"user": account,
	})
}

func (h *UserHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Bio      string `json:"bio"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "Name, email, and password are required")
		return
	}
	if res := validation.ValidateUserRegistration(validation.RegistrationInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}); !res.Valid {
		httputil.WriteBadRequest(w, strings.Join(res.Errors, "; "))
		return
	}
	if !validation.ValidateBio(req.Bio) {
		httputil.WriteBadRequest(w, "Bio must be less than 500 characters")
		return
	}

	digest, err := h.hasher.Hash(req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	account, err := h.store.CreateAccount(r.Context(), &auth.Account{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: digest,
		Bio:          req.Bio,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	identity := middleware.GetIdentity(r)
	err = h.store.RecordActivity(r.Context(), account.ID, auth.ActionUserCreated, map[string]interface{}{
		"email":      account.Email,
		"created_by": identity.UserID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusCreated, httputil.Fields{
		"message": "User created successfully",
		"user":    account,
	})
}

func (h *UserHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	// Pointer fields keep "absent" distinct from "set to empty": only
	// the fields present in the body are validated and written.
	var req struct {
		Name  *string `json:"name"`
		Email *string `json:"email"`
		Bio   *string `json:"bio"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if res := validation.ValidateUserUpdate(validation.UpdateInput{
		Name:  req.Name,
		Email: req.Email,
		Bio:   req.Bio,
	}); !res.Valid {
		httputil.WriteBadRequest(w, strings.Join(res.Errors, "; "))
		return
	}

	account, err := h.store.UpdateAccount(r.Context(), id, storage.UpdateAccountFields{
		Name:  req.Name,
		Email: req.Email,
		Bio:   req.Bio,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if account == nil {
		httputil.WriteNotFound(w, "User not found")
		return
	}

	identity := middleware.GetIdentity(r)
	err = h.store.RecordActivity(r.Context(), account.ID, auth.ActionUserUpdated, map[string]interface{}{
		"fields":     updatedFieldNames(req.Name, req.Email, req.Bio),
		"updated_by": identity.UserID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"message": "User updated successfully",
		"user":    account,
	})
}

func (h *UserHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteAccount(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"message": "User deleted successfully",
	})
}

func (h *UserHandlers) activity(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	account, err := h.store.FindAccountByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if account == nil {
		httputil.WriteNotFound(w, "User not found")
		return
	}

	entries, err := h.store.ListActivityByUser(r.Context(), id, activityLimit(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"activity": entries,
		"count":    len(entries),
	})
}

func (h *UserHandlers) recentActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListActivity(r.Context(), activityLimit(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"activity": entries,
		"count":    len(entries),
	})
}

func activityLimit(r *http.Request) int {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultActivityLimit)
	if err != nil || limit < 1 {
		return defaultActivityLimit
	}
	if limit > maxActivityLimit {
		return maxActivityLimit
	}
	return limit
}

func updatedFieldNames(name, email, bio *string) []string {
	fields := make([]string, 0, 3)
	if name != nil {
		fields = append(fields, "name")
	}
	if email != nil {
		fields = append(fields, "email")
	}
	if bio != nil {
		fields = append(fields, "bio")
	}
	return fields
}
