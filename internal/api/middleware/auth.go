package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/api/response"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is the number of leading characters of a raw key stored in
// clear for lookup.
const KeyPrefixLen = 8

// KeyStore is the subset of the store the auth middleware reads.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	store KeyStore
	log   *zap.Logger
}

// NewAuth creates a new Auth middleware.
func NewAuth(s KeyStore, log *zap.Logger) *Auth {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auth{store: s, log: log}
}

// Authenticate validates the Bearer token, looks up the API key, and puts the
// key's principal and prefix in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < KeyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:KeyPrefixLen]

		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			a.log.Error("api key lookup failed", zap.String("key_prefix", prefix), zap.Error(err))
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		var principal *models.Principal
		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
				principal = key.Principal()
				go a.touch(key.ID)
				break
			}
		}

		if principal == nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		ctx := tenancy.WithPrincipal(r.Context(), principal)
		ctx = setKeyPrefix(ctx, prefix)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) touch(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.UpdateAPIKeyLastUsed(ctx, id); err != nil {
		a.log.Warn("failed to record api key use", zap.String("api_key_id", id.String()), zap.Error(err))
	}
}

// RequireScope returns middleware that checks whether the authenticated
// principal has the specified scope. Platform admins pass every scope check.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := tenancy.PrincipalFrom(r.Context())
			if !ok {
				response.Error(w, http.StatusUnauthorized,
					"INVALID_TOKEN", "Authentication required", nil)
				return
			}
			if p.HasScope(scope) || p.Role == models.RolePlatformAdmin {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", map[string]any{"required_scope": scope})
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
