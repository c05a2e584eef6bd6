package api

import (
	"errors"
	"net/http"

	"github.com/cloudprofile/hub/pkg/auth"
	"github.com/cloudprofile/hub/pkg/httputil"
	"github.com/cloudprofile/hub/pkg/observability"
)

// writeServiceError translates account-service failures into envelope
// responses. Anything unrecognized is logged and collapsed into a
// generic 500 so internals never leak to clients.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &ve):
		httputil.WriteBadRequest(w, ve.Error())
	case errors.Is(err, auth.ErrEmailExists):
		httputil.WriteConflict(w, "User with this email already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, "Invalid email or password")
	case errors.Is(err, auth.ErrAccountNotFound):
		httputil.WriteNotFound(w, "User not found")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteInternalError(w)
	}
}
