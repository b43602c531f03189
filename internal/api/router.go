package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/peoplehub/internal/api/middleware"
	"github.com/kiranshivaraju/peoplehub/internal/api/response"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"go.uber.org/zap"
)

// FeatureAPIKeys gates the admin key routes.
const FeatureAPIKeys = "api_keys"

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger    *zap.Logger
	Auth      *mw.Auth
	Tenancy   *mw.Tenancy
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	StatusHandler       http.HandlerFunc
	EntitlementsHandler http.HandlerFunc
	CreateKeyHandler    http.HandlerFunc
	ListKeysHandler     http.HandlerFunc
	RevokeKeyHandler    http.HandlerFunc

	CreateTenantHandler   http.HandlerFunc
	DeleteTenantHandler   http.HandlerFunc
	ActivateTenantHandler http.HandlerFunc
	ExtendTenantHandler   http.HandlerFunc
	ReconcileHandler      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger(deps.Logger))
	r.Use(mw.Recovery(deps.Logger))

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		// A lapsed tenant can still read its own status.
		r.Group(func(r chi.Router) {
			r.Use(deps.Tenancy.ResolveLenient)
			r.Use(deps.RateLimit.Limit)
			r.Use(deps.Auth.RequireScope(models.RoleAdmin))

			r.Get("/api/v1/tenant/status", orNotImplemented(deps.StatusHandler))
		})

		// Tenant-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Tenancy.Resolve)
			r.Use(deps.RateLimit.Limit)

			r.Get("/api/v1/tenant/entitlements", orNotImplemented(deps.EntitlementsHandler))

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(deps.Auth.RequireScope(models.RoleAdmin))
				r.Use(deps.Tenancy.RequireFeature(FeatureAPIKeys))

				r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
				r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
				r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
			})
		})

		// Platform routes act across tenants and skip tenant resolution.
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.RolePlatformAdmin))
			r.Use(deps.RateLimit.Limit)

			r.Post("/api/v1/tenants", orNotImplemented(deps.CreateTenantHandler))
			r.Delete("/api/v1/tenants/{tenantID}", orNotImplemented(deps.DeleteTenantHandler))
			r.Post("/api/v1/tenants/{tenantID}/activate", orNotImplemented(deps.ActivateTenantHandler))
			r.Post("/api/v1/tenants/{tenantID}/extend", orNotImplemented(deps.ExtendTenantHandler))
			r.Post("/api/v1/reconcile/run", orNotImplemented(deps.ReconcileHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
