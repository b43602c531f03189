package tenancy

import (
	"context"

	"github.com/kiranshivaraju/peoplehub/pkg/models"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	tenantKey    contextKey = "tenant"
)

// WithPrincipal attaches the authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal attached by WithPrincipal, if any.
func PrincipalFrom(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*models.Principal)
	return p, ok && p != nil
}

// WithTenant attaches the resolved tenant to ctx.
func WithTenant(ctx context.Context, t *models.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// TenantFrom returns the tenant attached by WithTenant, if any.
func TenantFrom(ctx context.Context) (*models.Tenant, bool) {
	t, ok := ctx.Value(tenantKey).(*models.Tenant)
	return t, ok && t != nil
}
