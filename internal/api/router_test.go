package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/api"
	mw "github.com/kiranshivaraju/peoplehub/internal/api/middleware"
	"github.com/kiranshivaraju/peoplehub/internal/cache"
	"github.com/kiranshivaraju/peoplehub/internal/store"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- fixtures ---

type fixture struct {
	store  *store.MemoryStore
	router http.Handler
}

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"data":"ok"}`))
}

func newFixture(t *testing.T, deps func(*api.Dependencies)) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	d := api.Dependencies{
		Auth:          mw.NewAuth(s, nil),
		Tenancy:       mw.NewTenancy(tenancy.NewResolver(s), nil),
		RateLimit:     mw.NewRateLimit(cache.NewMemoryCache(time.Minute), 60, nil),
		HealthHandler: ok,
	}
	if deps != nil {
		deps(&d)
	}
	return &fixture{store: s, router: api.NewRouter(d)}
}

func (f *fixture) tenant(t *testing.T, status models.TenantStatus, features ...string) *models.Tenant {
	t.Helper()
	now := time.Now().UTC()
	plan := models.Plan{Name: "trial", Features: map[string]bool{}, Limits: map[string]int64{}}
	for _, name := range features {
		plan.Features[name] = true
	}
	tn := &models.Tenant{
		ID:                uuid.New(),
		Name:              "Tenant " + string(status),
		Status:            status,
		Plan:              plan,
		TrialStartDate:    now.AddDate(0, 0, -7),
		TrialEndDate:      now.AddDate(0, 0, 7),
		TrialDurationDays: 14,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, f.store.CreateTenant(context.Background(), tn))
	return tn
}

func (f *fixture) key(t *testing.T, tenantID uuid.UUID, scopes ...string) string {
	t.Helper()
	raw := models.APIKeyPrefix + uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateAPIKey(context.Background(), &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "test",
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
	}))
	return raw
}

func (f *fixture) do(method, path, rawKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if rawKey != "" {
		req.Header.Set("Authorization", "Bearer "+rawKey)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)["code"].(string)
}

// --- router tests ---

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do("GET", "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	f := newFixture(t, func(d *api.Dependencies) {
		d.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("# metrics"))
		})
	})

	w := f.do("GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	f := newFixture(t, nil)

	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/tenant/status"},
		{"GET", "/api/v1/tenant/entitlements"},
		{"POST", "/api/v1/admin/keys"},
		{"GET", "/api/v1/admin/keys"},
		{"POST", "/api/v1/tenants"},
		{"POST", "/api/v1/tenants/" + uuid.NewString() + "/activate"},
		{"POST", "/api/v1/reconcile/run"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			w := f.do(ep.method, ep.path, "")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errCode(t, w))
		})
	}
}

func TestRouter_UnwiredHandlerIsNotImplemented(t *testing.T) {
	f := newFixture(t, nil)
	tn := f.tenant(t, models.TenantStatusActive)
	key := f.key(t, tn.ID, "read")

	w := f.do("GET", "/api/v1/tenant/entitlements", key)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, tn.ID.String(), w.Header().Get(mw.HeaderTenantID))
}

func TestRouter_StatusIsLenientForLapsedTenants(t *testing.T) {
	f := newFixture(t, func(d *api.Dependencies) {
		d.StatusHandler = ok
		d.EntitlementsHandler = ok
	})
	tn := f.tenant(t, models.TenantStatusTrial)
	tn.TrialEndDate = time.Now().UTC().AddDate(0, 0, -2)
	require.NoError(t, f.store.UpdateTenant(context.Background(), tn, models.TenantStatusTrial))
	key := f.key(t, tn.ID, "admin")

	assert.Equal(t, http.StatusOK, f.do("GET", "/api/v1/tenant/status", key).Code)

	w := f.do("GET", "/api/v1/tenant/entitlements", key)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "TRIAL_EXPIRED", errCode(t, w))
}

func TestRouter_StatusRequiresAdminScope(t *testing.T) {
	f := newFixture(t, func(d *api.Dependencies) { d.StatusHandler = ok })
	tn := f.tenant(t, models.TenantStatusActive)

	w := f.do("GET", "/api/v1/tenant/status", f.key(t, tn.ID, "read"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errCode(t, w))
}

func TestRouter_DeletedTenantIsLockedOut(t *testing.T) {
	f := newFixture(t, func(d *api.Dependencies) { d.EntitlementsHandler = ok })
	tn := f.tenant(t, models.TenantStatusDeleted)

	w := f.do("GET", "/api/v1/tenant/entitlements", f.key(t, tn.ID, "read"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "TENANT_INACTIVE", errCode(t, w))
}

func TestRouter_AdminKeysRequireFeature(t *testing.T) {
	f := newFixture(t, func(d *api.Dependencies) { d.ListKeysHandler = ok })

	without := f.tenant(t, models.TenantStatusActive, "payroll")
	w := f.do("GET", "/api/v1/admin/keys", f.key(t, without.ID, "admin"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FEATURE_DISABLED", errCode(t, w))

	with := f.tenant(t, models.TenantStatusActive, api.FeatureAPIKeys)
	assert.Equal(t, http.StatusOK, f.do("GET", "/api/v1/admin/keys", f.key(t, with.ID, "admin")).Code)
}

func TestRouter_PlatformRoutesRequirePlatformAdmin(t *testing.T) {
	f := newFixture(t, func(d *api.Dependencies) { d.ReconcileHandler = ok })
	tn := f.tenant(t, models.TenantStatusActive)

	w := f.do("POST", "/api/v1/reconcile/run", f.key(t, tn.ID, "admin"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do("POST", "/api/v1/reconcile/run", f.key(t, tn.ID, models.RolePlatformAdmin))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_PlatformRoutesSkipTenantResolution(t *testing.T) {
	f := newFixture(t, func(d *api.Dependencies) { d.ReconcileHandler = ok })
	// The platform principal's own tenant has lapsed; platform routes still work.
	tn := f.tenant(t, models.TenantStatusExpired)

	w := f.do("POST", "/api/v1/reconcile/run", f.key(t, tn.ID, models.RolePlatformAdmin))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(mw.HeaderTenantID))
}

func TestRouter_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do("GET", "/api/v1/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
