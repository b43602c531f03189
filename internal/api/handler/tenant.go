package handler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/api/response"
	"github.com/kiranshivaraju/peoplehub/internal/lifecycle"
	"github.com/kiranshivaraju/peoplehub/internal/logger"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
)

// LimitAPIKeys is the plan limit on live API keys per tenant.
const LimitAPIKeys = "max_api_keys"

var errNoTenant = errors.New("handler reached without a resolved tenant")

// UsageCounter reports the tenant-scoped counts the entitlements view shows.
type UsageCounter interface {
	CountAPIKeys(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// Entitlements is the plan view of the current tenant.
type Entitlements struct {
	TenantID uuid.UUID        `json:"tenant_id"`
	Plan     string           `json:"plan"`
	Features []string         `json:"features"`
	Limits   map[string]int64 `json:"limits"`
	Usage    map[string]int64 `json:"usage"`
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/tenant/status.
func NewStatusHandler(now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := tenancy.TenantFrom(r.Context())
		if !ok {
			response.Problem(w, logger.FromContext(r.Context(), nil), errNoTenant)
			return
		}
		response.JSON(w, lifecycle.NewSnapshot(t, now().UTC()))
	}
}

// NewEntitlementsHandler returns an http.HandlerFunc for
// GET /api/v1/tenant/entitlements.
func NewEntitlementsHandler(usage UsageCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context(), nil)
		t, ok := tenancy.TenantFrom(r.Context())
		if !ok {
			response.Problem(w, log, errNoTenant)
			return
		}

		keys, err := usage.CountAPIKeys(r.Context(), t.ID)
		if err != nil {
			response.Problem(w, log, tenancy.Internal(err))
			return
		}

		features := make([]string, 0, len(t.Plan.Features))
		for name, on := range t.Plan.Features {
			if on {
				features = append(features, name)
			}
		}
		sort.Strings(features)

		limits := t.Plan.Limits
		if limits == nil {
			limits = map[string]int64{}
		}

		response.JSON(w, Entitlements{
			TenantID: t.ID,
			Plan:     t.Plan.Name,
			Features: features,
			Limits:   limits,
			Usage:    map[string]int64{LimitAPIKeys: keys},
		})
	}
}

// actorFrom names the principal behind a request for audit fields.
func actorFrom(r *http.Request) string {
	if p, ok := tenancy.PrincipalFrom(r.Context()); ok {
		return p.Role + ":" + p.ID.String()
	}
	return "unknown"
}
