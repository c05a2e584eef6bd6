package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cloudprofile/hub/pkg/auth"
	"github.com/cloudprofile/hub/pkg/contextkeys"
	"github.com/cloudprofile/hub/pkg/httputil"
	"github.com/cloudprofile/hub/pkg/observability"
)

// AccountLookup is the narrow store view the auth gate needs to
// revalidate that a token's account still exists.
type AccountLookup interface {
	FindAccountByID(ctx context.Context, id int64) (*auth.Account, error)
}

// AuthMiddleware guards routes with bearer-token authentication. Every
// request passes the full chain: header extraction, token verification,
// then an account existence check, so a deleted account is locked out
// immediately even while its token is otherwise valid.
type AuthMiddleware struct {
	tokens   *auth.TokenManager
	accounts AccountLookup
	metrics  *observability.Metrics
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens *auth.TokenManager, accounts AccountLookup) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		accounts: accounts,
	}
}

// WithMetrics enables verification counters on the middleware.
func (m *AuthMiddleware) WithMetrics(metrics *observability.Metrics) *AuthMiddleware {
	m.metrics = metrics
	return m
}

// RequireAuth wraps a handler with mandatory authentication. Exactly one
// of four rejections or success applies; no rejection reaches the
// wrapped handler.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, "Access token required")
			return
		}

		claims, err := m.tokens.Verify(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				m.countVerification("expired")
				httputil.WriteUnauthorized(w, "Token expired")
				return
			}
			m.countVerification("invalid")
			httputil.WriteUnauthorized(w, "Invalid token")
			return
		}
		m.countVerification("valid")

		account, err := m.accounts.FindAccountByID(r.Context(), claims.UserID)
		if err != nil {
			httputil.WriteInternalError(w)
			return
		}
		if account == nil {
			httputil.WriteUnauthorized(w, "User not found")
			return
		}

		identity := &auth.Identity{UserID: account.ID, Email: account.Email}
		ctx := contextkeys.WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches an identity when a valid token is presented but
// never rejects. A missing, invalid or expired token and a deleted
// account all fall through to an anonymous request.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.tokens.Verify(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		account, err := m.accounts.FindAccountByID(r.Context(), claims.UserID)
		if err != nil || account == nil {
			next.ServeHTTP(w, r)
			return
		}

		identity := &auth.Identity{UserID: account.ID, Email: account.Email}
		ctx := contextkeys.WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) countVerification(result string) {
	if m.metrics != nil {
		m.metrics.TokenVerificationsTotal.WithLabelValues(result).Inc()
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// A missing header, a non-Bearer scheme, and an empty token are all
// treated as absent.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetIdentity extracts the authenticated identity from the request
// context. Returns nil on anonymous requests.
func GetIdentity(r *http.Request) *auth.Identity {
	value := r.Context().Value(contextkeys.IdentityKey)
	if value == nil {
		return nil
	}
	identity, ok := value.(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}
