package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/kiranshivaraju/peoplehub/internal/api/response"
	"github.com/kiranshivaraju/peoplehub/internal/logger"
	"github.com/kiranshivaraju/peoplehub/internal/metrics"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"go.uber.org/zap"
)

// Response headers naming the tenant a request was served for.
const (
	HeaderTenantID   = tenancy.HeaderTenantID
	HeaderTenantName = tenancy.HeaderTenantName
)

// TenantResolver resolves the tenant a request acts on.
type TenantResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*models.Tenant, string, error)
}

// Tenancy binds requests to a tenant and enforces access and plan features.
type Tenancy struct {
	resolver TenantResolver
	log      *zap.Logger
}

func NewTenancy(resolver TenantResolver, log *zap.Logger) *Tenancy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tenancy{resolver: resolver, log: log}
}

// Resolve rejects the request unless its tenant exists, is serving, and
// belongs to the authenticated principal.
func (t *Tenancy) Resolve(next http.Handler) http.Handler {
	return t.resolve(next, false)
}

// ResolveLenient is Resolve, except that inactive and trial-expired tenants
// are still let through so the caller can see why they are locked out.
func (t *Tenancy) ResolveLenient(next http.Handler) http.Handler {
	return t.resolve(next, true)
}

func (t *Tenancy) resolve(next http.Handler, lenient bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenant, source, err := t.resolver.Resolve(ctx, r)
		if err != nil && !(lenient && tenant != nil && lapsed(err)) {
			t.deny(w, r, err)
			return
		}

		principal, _ := tenancy.PrincipalFrom(ctx)
		if err := tenancy.Authorize(principal, tenant); err != nil {
			t.deny(w, r, err)
			return
		}

		id := tenant.ID.String()
		w.Header().Set(HeaderTenantID, id)
		w.Header().Set(HeaderTenantName, tenant.Name)
		annotate(r, id, source)

		ctx = tenancy.WithTenant(ctx, tenant)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx, t.log).With(zap.String("tenant_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireFeature rejects requests whose tenant's plan does not enable feature.
func (t *Tenancy) RequireFeature(feature string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, ok := tenancy.TenantFrom(r.Context())
			if !ok {
				response.Problem(w, t.log, errors.New("feature check without a resolved tenant"))
				return
			}
			if err := tenancy.CheckFeature(tenant, feature); err != nil {
				t.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (t *Tenancy) deny(w http.ResponseWriter, r *http.Request, err error) {
	code := tenancy.CodeOf(err)
	metrics.TenantDenials.WithLabelValues(string(code)).Inc()
	log := logger.FromContext(r.Context(), t.log)
	if code != tenancy.CodeInternal {
		log.Info("tenant request denied", zap.String("code", string(code)), zap.String("path", r.URL.Path))
	}
	response.Problem(w, log, err)
}

func lapsed(err error) bool {
	return errors.Is(err, tenancy.ErrInactiveTenant) || errors.Is(err, tenancy.ErrTrialExpired)
}
