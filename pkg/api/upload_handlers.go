package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cloudprofile/hub/pkg/auth"
	"github.com/cloudprofile/hub/pkg/httputil"
	"github.com/cloudprofile/hub/pkg/middleware"
	"github.com/cloudprofile/hub/pkg/observability"
	"github.com/cloudprofile/hub/pkg/storage"
	"github.com/cloudprofile/hub/pkg/storage/postgres"
	"github.com/cloudprofile/hub/pkg/validation"
)

// multipartOverhead is the slack allowed on top of the image size cap
// for multipart boundaries and headers.
const multipartOverhead = 64 * 1024

// ObjectStore is the object storage view the upload handlers need.
// *postgres.S3Client satisfies it.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
	DeleteObject(ctx context.Context, key string) error
	PresignPutURL(ctx context.Context, key, contentType string) (string, error)
	PublicURL(key string) string
}

// UploadHandlers serves profile picture uploads, both proxied through
// the API and via presigned direct-to-bucket URLs.
type UploadHandlers struct {
	objects ObjectStore
	store   storage.Store
	metrics *observability.Metrics
}

// NewUploadHandlers wires the upload handlers. Metrics may be nil.
func NewUploadHandlers(objects ObjectStore, store storage.Store, metrics *observability.Metrics) *UploadHandlers {
	return &UploadHandlers{objects: objects, store: store, metrics: metrics}
}

// RegisterRoutes mounts the upload endpoints. Both require a valid
// token; uploads always land under the caller's own key prefix.
func (h *UploadHandlers) RegisterRoutes(router *mux.Router, gate *middleware.AuthMiddleware) {
	router.Handle("/api/upload/profile-picture", gate.RequireAuth(http.HandlerFunc(h.uploadProfilePicture))).Methods("POST")
	router.Handle("/api/upload/signed-url", gate.RequireAuth(http.HandlerFunc(h.signProfilePictureUpload))).Methods("POST")
}

func (h *UploadHandlers) uploadProfilePicture(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxImageSize+multipartOverhead)
	if err := r.ParseMultipartForm(validation.MaxImageSize); err != nil {
		h.countUpload("rejected")
		httputil.WriteBadRequest(w, "File too large")
		return
	}

	file, header, err := r.FormFile("profilePicture")
	if err != nil {
		h.countUpload("rejected")
		httputil.WriteBadRequest(w, "No file uploaded")
		return
	}
	defer file.Close()

	if !validation.ValidateFileSize(header.Size) {
		h.countUpload("rejected")
		httputil.WriteBadRequest(w, "File too large")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !validation.ValidateImageType(contentType) {
		h.countUpload("rejected")
		httputil.WriteBadRequest(w, "Only image files are allowed (jpeg, jpg, png, gif, webp)")
		return
	}

	// The previous picture is replaced, so remember its key for
	// best-effort cleanup after the new one is live.
	current, err := h.store.FindAccountByID(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if current == nil {
		httputil.WriteNotFound(w, "User not found")
		return
	}
	previousKey := objectKeyFromURL(current.ProfilePictureURL)

	key := postgres.ProfilePictureKey(identity.UserID, header.Filename)
	if err := h.objects.PutObject(r.Context(), key, file, contentType); err != nil {
		h.countUpload("failure")
		writeServiceError(w, r, err)
		return
	}

	url := h.objects.PublicURL(key)
	account, err := h.store.UpdateAccount(r.Context(), identity.UserID, storage.UpdateAccountFields{
		ProfilePictureURL: &url,
	})
	if err != nil {
		h.countUpload("failure")
		writeServiceError(w, r, err)
		return
	}
	if account == nil {
		httputil.WriteNotFound(w, "User not found")
		return
	}

	err = h.store.RecordActivity(r.Context(), identity.UserID, auth.ActionUserUpdated, map[string]interface{}{
		"fields": []string{"profile_picture_url"},
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if previousKey != "" && previousKey != key {
		if err := h.objects.DeleteObject(r.Context(), previousKey); err != nil {
			observability.FromContext(r.Context()).WithError(err).
				WithField("key", previousKey).Warn("failed to delete previous profile picture")
		}
	}

	h.countUpload("success")
	h.observeUploadSize(header.Size)
	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"message": "Profile picture uploaded successfully",
		"url":     url,
		"user":    account,
	})
}

// signProfilePictureUpload hands the client a short-lived URL to PUT
// the image straight to the bucket, bypassing the API for the bytes.
// The client reports back through the regular profile update once the
// upload finishes.
func (h *UploadHandlers) signProfilePictureUpload(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	var req struct {
		Filename    string `json:"filename"`
		ContentType string `json:"contentType"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Filename == "" {
		httputil.WriteBadRequest(w, "Filename is required")
		return
	}
	if !validation.ValidateImageType(req.ContentType) {
		httputil.WriteBadRequest(w, "Only image files are allowed (jpeg, jpg, png, gif, webp)")
		return
	}

	key := postgres.ProfilePictureKey(identity.UserID, req.Filename)
	uploadURL, err := h.objects.PresignPutURL(r.Context(), key, req.ContentType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, httputil.Fields{
		"signedUrl": uploadURL,
		"key":       key,
		"publicUrl": h.objects.PublicURL(key),
	})
}

// objectKeyFromURL recovers the object key from a stored public URL.
// Returns "" for URLs that do not point at an uploads/ key, including
// externally hosted pictures.
func objectKeyFromURL(url string) string {
	idx := strings.Index(url, "uploads/")
	if idx < 0 {
		return ""
	}
	return url[idx:]
}

func (h *UploadHandlers) countUpload(status string) {
	if h.metrics != nil {
		h.metrics.UploadsTotal.WithLabelValues(status).Inc()
	}
}

func (h *UploadHandlers) observeUploadSize(size int64) {
	if h.metrics != nil {
		h.metrics.UploadSizeBytes.Observe(float64(size))
	}
}
