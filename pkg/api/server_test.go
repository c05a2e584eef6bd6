package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudprofile/hub/pkg/auth"
	"github.com/cloudprofile/hub/pkg/middleware"
	"github.com/cloudprofile/hub/pkg/observability"
	"github.com/cloudprofile/hub/pkg/storage"
)

// fakeStore is an in-memory storage.Store for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*auth.Account
	activity []*auth.Activity

	// failWith, when set, makes every call fail with that error.
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[int64]*auth.Account)}
}

func (s *fakeStore) FindAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	for _, account := range s.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindAccountByID(ctx context.Context, id int64) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	return s.accounts[id], nil
}

func (s *fakeStore) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	for _, existing := range s.accounts {
		if existing.Email == account.Email {
			return nil, auth.ErrEmailExists
		}
	}
	s.nextID++
	created := *account
	created.ID = s.nextID
	created.CreatedAt = time.Now().UTC()
	created.UpdatedAt = created.CreatedAt
	s.accounts[created.ID] = &created
	return &created, nil
}

func (s *fakeStore) ListAccounts(ctx context.Context) ([]*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	accounts := make([]*auth.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID > accounts[j].ID })
	return accounts, nil
}

func (s *fakeStore) UpdateAccount(ctx context.Context, id int64, fields storage.UpdateAccountFields) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	account, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	if fields.Email != nil {
		for _, other := range s.accounts {
			if other.ID != id && other.Email == *fields.Email {
				return nil, auth.ErrEmailExists
			}
		}
		account.Email = *fields.Email
	}
	if fields.Name != nil {
		account.Name = *fields.Name
	}
	if fields.Bio != nil {
		account.Bio = *fields.Bio
	}
	if fields.ProfilePictureURL != nil {
		account.ProfilePictureURL = *fields.ProfilePictureURL
	}
	account.UpdatedAt = time.Now().UTC()
	return account, nil
}

func (s *fakeStore) DeleteAccount(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, ok := s.accounts[id]; !ok {
		return auth.ErrAccountNotFound
	}
	delete(s.accounts, id)
	return nil
}

func (s *fakeStore) RecordActivity(ctx context.Context, userID int64, action string, details map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.activity = append(s.activity, &auth.Activity{
		ID:        int64(len(s.activity) + 1),
		UserID:    userID,
		Action:    action,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *fakeStore) ListActivityByUser(ctx context.Context, userID int64, limit int) ([]*auth.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var entries []*auth.Activity
	for i := len(s.activity) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.activity[i].UserID == userID {
			entries = append(entries, s.activity[i])
		}
	}
	return entries, nil
}

func (s *fakeStore) ListActivity(ctx context.Context, limit int) ([]*auth.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var entries []*auth.Activity
	for i := len(s.activity) - 1; i >= 0 && len(entries) < limit; i-- {
		entries = append(entries, s.activity[i])
	}
	return entries, nil
}

func (s *fakeStore) HealthCheck(ctx context.Context) error { return s.failWith }

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) lastActivity() *auth.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.activity) == 0 {
		return nil
	}
	return s.activity[len(s.activity)-1]
}

type testEnv struct {
	server *Server
	store  *fakeStore
	tokens *auth.TokenManager
}

func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()

	store := newFakeStore()
	tokens, err := auth.NewTokenManager("api-test-secret", time.Hour)
	require.NoError(t, err)
	// Low bcrypt cost keeps the handler tests fast.
	hasher := auth.NewPasswordHasherWithCost(4)

	deps := Deps{
		Accounts:       auth.NewService(store, hasher, tokens),
		Store:          store,
		Gate:           middleware.NewAuthMiddleware(tokens, store),
		Logger:         observability.NewLogger(observability.ErrorLevel, io.Discard),
		Metrics:        observability.NewMetrics(prometheus.NewRegistry()),
		AllowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &testEnv{
		server: NewServer(deps),
		store:  store,
		tokens: tokens,
	}
}

// seedAccount creates an account directly in the store and returns it
// with a valid bearer token.
func (e *testEnv) seedAccount(t *testing.T, name, email string) (*auth.Account, string) {
	t.Helper()
	hasher := auth.NewPasswordHasherWithCost(4)
	digest, err := hasher.Hash("Passw0rd")
	require.NoError(t, err)

	account, err := e.store.CreateAccount(context.Background(), &auth.Account{
		Name:         name,
		Email:        email,
		PasswordHash: digest,
	})
	require.NoError(t, err)

	token, err := e.tokens.Issue(account.ID, account.Email)
	require.NoError(t, err)
	return account, token
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRegisterLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     "Ann Lee",
		"email":    "ann@example.com",
		"password": "Passw0rd",
		"bio":      "hello",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "ann@example.com", user["email"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "password_hash")

	// Same email again conflicts.
	rec = env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     "Ann Again",
		"email":    "ann@example.com",
		"password": "Passw0rd",
	}, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "User with this email already exists", decodeBody(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "ann@example.com",
		"password": "WrongPassw0rd",
	}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid email or password", decodeBody(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "ann@example.com",
		"password": "Passw0rd",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["token"])
}

func TestRegisterValidationMessages(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		payload map[string]string
		message string
	}{
		{
			name:    "missing fields",
			payload: map[string]string{"email": "ann@example.com"},
			message: "Name, email, and password are required",
		},
		{
			name:    "bad email",
			payload: map[string]string{"name": "Ann", "email": "nope", "password": "Passw0rd"},
			message: "Invalid email format",
		},
		{
			name:    "weak password",
			payload: map[string]string{"name": "Ann", "email": "ann@example.com", "password": "short"},
			message: "Password must be at least 8 characters with 1 uppercase, 1 lowercase, and 1 number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/auth/register", tt.payload, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, decodeBody(t, rec)["error"])
		})
	}
}

func TestProfileEndpoint(t *testing.T) {
	env := newTestEnv(t)
	account, token := env.seedAccount(t, "Ann Lee", "ann@example.com")

	rec := env.do(t, http.MethodGet, "/api/auth/profile", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decodeBody(t, rec)["user"].(map[string]interface{})
	assert.Equal(t, float64(account.ID), user["id"])

	rec = env.do(t, http.MethodGet, "/api/auth/profile", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Access token required", decodeBody(t, rec)["error"])
}

func TestProfileAfterAccountDeleted(t *testing.T) {
	env := newTestEnv(t)
	account, token := env.seedAccount(t, "Ann Lee", "ann@example.com")

	require.NoError(t, env.store.DeleteAccount(context.Background(), account.ID))

	// The token is still valid but the gate revalidates existence.
	rec := env.do(t, http.MethodGet, "/api/auth/profile", nil, token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "User not found", decodeBody(t, rec)["error"])
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	account, token := env.seedAccount(t, "Ann Lee", "ann@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logout successful", decodeBody(t, rec)["message"])

	entry := env.store.lastActivity()
	require.NotNil(t, entry)
	assert.Equal(t, auth.ActionUserLogout, entry.Action)
	assert.Equal(t, account.ID, entry.UserID)
}

func TestRouteNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/nope", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route not found", decodeBody(t, rec)["error"])

	// Method mismatches get the same envelope.
	rec = env.do(t, http.MethodDelete, "/api/auth/login", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route not found", decodeBody(t, rec)["error"])
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Server is running", decodeBody(t, rec)["message"])
}

func TestLoginRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	limiter := middleware.NewRateLimiter(redisClient, &middleware.RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}, "login")

	env := newTestEnv(t, func(deps *Deps) {
		deps.LoginLimiter = limiter
	})

	payload := map[string]string{"email": "ann@example.com", "password": "WrongPassw0rd"}
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/auth/login", payload, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := env.do(t, http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests, please try again later", decodeBody(t, rec)["error"])
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStoreFailureIsOpaque(t *testing.T) {
	env := newTestEnv(t)
	env.store.failWith = fmt.Errorf("connection reset")

	rec := env.do(t, http.MethodGet, "/api/users", nil, "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Internal server error", body["error"])
	assert.NotContains(t, rec.Body.String(), "connection reset")
}
