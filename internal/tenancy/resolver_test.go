package tenancy_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/cache"
	"github.com/kiranshivaraju/peoplehub/internal/lifecycle"
	"github.com/kiranshivaraju/peoplehub/internal/store"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func seedTenant(t *testing.T, s *store.MemoryStore, status models.TenantStatus, trialEnd time.Time) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{
		ID:                uuid.New(),
		Name:              "Acme " + string(status),
		Status:            status,
		TrialStartDate:    trialEnd.Add(-14 * 24 * time.Hour),
		TrialEndDate:      trialEnd,
		TrialDurationDays: 14,
	}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

func newResolver(s store.TenantStore) *tenancy.Resolver {
	return tenancy.NewResolver(s, tenancy.WithClock(func() time.Time { return fixedNow }))
}

// countingStore counts GetTenant calls.
type countingStore struct {
	store.TenantStore
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.TenantStore.GetTenant(ctx, id)
}

func TestLookup_InvalidIdentifierNeverReachesStore(t *testing.T) {
	cs := &countingStore{TenantStore: store.NewMemoryStore()}
	r := newResolver(cs)

	for _, raw := range []string{"not-a-uuid", "1234", "00000000-0000-0000-0000-000000000000", "'; DROP TABLE tenants;--"} {
		_, err := r.Lookup(context.Background(), raw)
		assert.ErrorIs(t, err, tenancy.ErrInvalidIdentifier, raw)
	}
	assert.Equal(t, int32(0), cs.calls.Load())
}

func TestLookup_NotFound(t *testing.T) {
	r := newResolver(store.NewMemoryStore())
	_, err := r.Lookup(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
}

func TestLookup_ServingTenants(t *testing.T) {
	s := store.NewMemoryStore()
	active := seedTenant(t, s, models.TenantStatusActive, fixedNow.Add(-48*time.Hour))
	trial := seedTenant(t, s, models.TenantStatusTrial, fixedNow.Add(24*time.Hour))
	r := newResolver(s)

	got, err := r.Lookup(context.Background(), active.ID.String())
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)

	got, err = r.Lookup(context.Background(), trial.ID.String())
	require.NoError(t, err)
	assert.Equal(t, trial.ID, got.ID)
}

func TestLookup_TrialEndingExactlyNowStillServes(t *testing.T) {
	s := store.NewMemoryStore()
	trial := seedTenant(t, s, models.TenantStatusTrial, fixedNow)
	_, err := newResolver(s).Lookup(context.Background(), trial.ID.String())
	assert.NoError(t, err)
}

func TestLookup_InactiveStatuses(t *testing.T) {
	s := store.NewMemoryStore()
	r := newResolver(s)

	for _, status := range []models.TenantStatus{models.TenantStatusExpired, models.TenantStatusSuspended, models.TenantStatusDeleted} {
		tenant := seedTenant(t, s, status, fixedNow.Add(time.Hour))
		got, err := r.Lookup(context.Background(), tenant.ID.String())
		require.ErrorIs(t, err, tenancy.ErrInactiveTenant, status)
		require.NotNil(t, got)
		assert.Equal(t, tenant.ID, got.ID)

		var e *tenancy.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, string(status), e.Details["status"])
	}
}

func TestLookup_TrialExpiredCarriesDaysExpired(t *testing.T) {
	s := store.NewMemoryStore()
	// 3 days and 11 hours past the end date floors to 3.
	end := fixedNow.Add(-(3*24 + 11) * time.Hour)
	tenant := seedTenant(t, s, models.TenantStatusTrial, end)

	got, err := newResolver(s).Lookup(context.Background(), tenant.ID.String())
	require.ErrorIs(t, err, tenancy.ErrTrialExpired)
	require.NotNil(t, got)

	var e *tenancy.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.Details["days_expired"])
	assert.True(t, end.Equal(e.Details["trial_end_date"].(time.Time)))
}

func TestLookup_ConcurrentCallersShareOneRead(t *testing.T) {
	mem := store.NewMemoryStore()
	tenant := seedTenant(t, mem, models.TenantStatusActive, fixedNow)
	cs := &countingStore{TenantStore: mem, gate: make(chan struct{})}
	r := newResolver(cs)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*models.Tenant, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := r.Lookup(context.Background(), tenant.ID.String())
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}

	// Let every caller join the in-flight read before releasing it.
	require.Eventually(t, func() bool { return cs.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(cs.gate)
	wg.Wait()

	assert.LessOrEqual(t, cs.calls.Load(), int32(callers))
	for _, got := range results {
		require.NotNil(t, got)
		assert.Equal(t, tenant.ID, got.ID)
	}
	// Each caller owns its copy.
	results[0].Name = "mutated"
	assert.NotEqual(t, "mutated", results[1].Name)
}

// parkedStore holds GetTenant until release is closed or the read's own
// context ends.
type parkedStore struct {
	store.TenantStore
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newParkedStore(s store.TenantStore) *parkedStore {
	return &parkedStore{TenantStore: s, entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (p *parkedStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	p.calls.Add(1)
	p.entered <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.TenantStore.GetTenant(ctx, id)
}

func TestLookup_CancelledCallerDoesNotFailOthers(t *testing.T) {
	mem := store.NewMemoryStore()
	tenant := seedTenant(t, mem, models.TenantStatusActive, fixedNow)
	ps := newParkedStore(mem)
	r := newResolver(ps)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Lookup(ctxA, tenant.ID.String())
		errA <- err
	}()
	<-ps.entered

	type result struct {
		tenant *models.Tenant
		err    error
	}
	resB := make(chan result, 1)
	go func() {
		got, err := r.Lookup(context.Background(), tenant.ID.String())
		resB <- result{got, err}
	}()
	// Give B time to join the in-flight read.
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the shared read")
	}

	close(ps.release)
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Equal(t, tenant.ID, res.tenant.ID)
	case <-time.After(time.Second):
		t.Fatal("second caller never got its tenant")
	}
	assert.Equal(t, int32(1), ps.calls.Load())
}

func TestLookup_SharedReadIsBounded(t *testing.T) {
	mem := store.NewMemoryStore()
	tenant := seedTenant(t, mem, models.TenantStatusActive, fixedNow)
	ps := newParkedStore(mem)
	r := tenancy.NewResolver(ps,
		tenancy.WithClock(func() time.Time { return fixedNow }),
		tenancy.WithLookupTimeout(20*time.Millisecond),
	)

	_, err := r.Lookup(context.Background(), tenant.ID.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, tenancy.ErrInternal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newCachedResolver(s store.TenantStore, c cache.Cache) *tenancy.Resolver {
	return tenancy.NewResolver(s,
		tenancy.WithClock(func() time.Time { return fixedNow }),
		tenancy.WithCache(c, time.Minute),
	)
}

func TestLookup_CacheServesRepeatReads(t *testing.T) {
	mem := store.NewMemoryStore()
	tenant := seedTenant(t, mem, models.TenantStatusTrial, fixedNow.Add(48*time.Hour))
	cs := &countingStore{TenantStore: mem}
	r := newCachedResolver(cs, cache.NewMemoryCache(time.Minute))

	first, err := r.Lookup(context.Background(), tenant.ID.String())
	require.NoError(t, err)
	second, err := r.Lookup(context.Background(), tenant.ID.String())
	require.NoError(t, err)

	assert.Equal(t, int32(1), cs.calls.Load())
	assert.Equal(t, first.Version, second.Version)
	assert.True(t, first.TrialEndDate.Equal(second.TrialEndDate))
	assert.Equal(t, first.Name, second.Name)
}

func TestLookup_CachedTrialStillExpiresOnTheClock(t *testing.T) {
	mem := store.NewMemoryStore()
	tenant := seedTenant(t, mem, models.TenantStatusTrial, fixedNow.Add(time.Hour))
	c := cache.NewMemoryCache(time.Minute)

	_, err := newCachedResolver(mem, c).Lookup(context.Background(), tenant.ID.String())
	require.NoError(t, err)

	later := tenancy.NewResolver(mem,
		tenancy.WithClock(func() time.Time { return fixedNow.Add(2 * time.Hour) }),
		tenancy.WithCache(c, time.Minute),
	)
	_, err = later.Lookup(context.Background(), tenant.ID.String())
	assert.ErrorIs(t, err, tenancy.ErrTrialExpired)
}

func TestLookup_CommittedTransitionInvalidatesCache(t *testing.T) {
	mem := store.NewMemoryStore()
	tenant := seedTenant(t, mem, models.TenantStatusTrial, fixedNow.Add(48*time.Hour))
	r := newCachedResolver(mem, cache.NewMemoryCache(time.Minute))
	mgr := lifecycle.NewManager(mem,
		lifecycle.WithClock(func() time.Time { return fixedNow }),
		lifecycle.WithInvalidator(r),
	)

	_, err := r.Lookup(context.Background(), tenant.ID.String())
	require.NoError(t, err)

	_, err = mgr.Delete(context.Background(), tenant.ID, "ops")
	require.NoError(t, err)

	_, err = r.Lookup(context.Background(), tenant.ID.String())
	assert.ErrorIs(t, err, tenancy.ErrInactiveTenant)
}

func TestLookup_UnreadableCacheEntryFallsBackToStore(t *testing.T) {
	mem := store.NewMemoryStore()
	tenant := seedTenant(t, mem, models.TenantStatusActive, fixedNow)
	c := cache.NewMemoryCache(time.Minute)
	require.NoError(t, c.Set(context.Background(), cache.TenantKey(tenant.ID), []byte("{not json"), time.Minute))
	cs := &countingStore{TenantStore: mem}

	got, err := newCachedResolver(cs, c).Lookup(context.Background(), tenant.ID.String())
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, got.ID)
	assert.Equal(t, int32(1), cs.calls.Load())

	b, ok, err := c.Get(context.Background(), cache.TenantKey(tenant.ID))
	require.NoError(t, err)
	require.True(t, ok, "fresh snapshot replaces the bad entry")
	assert.Contains(t, string(b), tenant.ID.String())
}

func TestResolve_SourcePrecedence(t *testing.T) {
	s := store.NewMemoryStore()
	fromPrincipal := seedTenant(t, s, models.TenantStatusActive, fixedNow)
	fromHeader := seedTenant(t, s, models.TenantStatusActive, fixedNow)
	fromQuery := seedTenant(t, s, models.TenantStatusActive, fixedNow)
	fromBody := seedTenant(t, s, models.TenantStatusActive, fixedNow)
	fromPath := seedTenant(t, s, models.TenantStatusActive, fixedNow)
	r := newResolver(s)

	build := func(withPrincipal, withHeader, withQuery, withBody bool) *http.Request {
		target := "/tenants/" + fromPath.ID.String()
		if withQuery {
			target += "?tenant_id=" + fromQuery.ID.String()
		}
		body := io.Reader(http.NoBody)
		if withBody {
			body = strings.NewReader(`{"tenant_id":"` + fromBody.ID.String() + `","name":"x"}`)
		}
		req := httptest.NewRequest(http.MethodPost, target, body)
		req.Header.Set("Content-Type", "application/json")
		if withHeader {
			req.Header.Set(tenancy.HeaderTenantID, fromHeader.ID.String())
		}
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add(tenancy.PathTenantID, fromPath.ID.String())
		ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
		if withPrincipal {
			ctx = tenancy.WithPrincipal(ctx, &models.Principal{ID: uuid.New(), TenantID: fromPrincipal.ID})
		}
		return req.WithContext(ctx)
	}

	tests := []struct {
		name       string
		req        *http.Request
		wantID     uuid.UUID
		wantSource string
	}{
		{"principal wins", build(true, true, true, true), fromPrincipal.ID, "principal"},
		{"header next", build(false, true, true, true), fromHeader.ID, "header"},
		{"query next", build(false, false, true, true), fromQuery.ID, "query"},
		{"body next", build(false, false, false, true), fromBody.ID, "body"},
		{"path last", build(false, false, false, false), fromPath.ID, "path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, source, err := r.Resolve(tt.req.Context(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.ID)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestResolve_NoSourceIsInvalidIdentifier(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/tenant/status", nil)
	_, _, err := newResolver(store.NewMemoryStore()).Resolve(req.Context(), req)
	assert.ErrorIs(t, err, tenancy.ErrInvalidIdentifier)
}

func TestResolve_FirstSourceIsNotMerged(t *testing.T) {
	s := store.NewMemoryStore()
	valid := seedTenant(t, s, models.TenantStatusActive, fixedNow)

	req := httptest.NewRequest(http.MethodGet, "/?tenant_id="+valid.ID.String(), nil)
	req.Header.Set(tenancy.HeaderTenantID, "garbage")

	_, source, err := newResolver(s).Resolve(req.Context(), req)
	assert.ErrorIs(t, err, tenancy.ErrInvalidIdentifier)
	assert.Equal(t, "header", source)
}

func TestBodySource_RestoresBody(t *testing.T) {
	id := uuid.NewString()
	payload := `{"tenant_id":"` + id + `","employees":[1,2,3]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	got, err := tenancy.BodySource{Field: "tenant_id", Limit: tenancy.MaxBodyPeek}.Identify(req)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	rest, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(rest))
}

func TestBodySource_OversizedBodyIsIgnoredButRestored(t *testing.T) {
	payload := `{"tenant_id":"` + uuid.NewString() + `","pad":"` + strings.Repeat("x", 64) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))

	got, err := tenancy.BodySource{Field: "tenant_id", Limit: 16}.Identify(req)
	require.NoError(t, err)
	assert.Empty(t, got)

	rest, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(rest))
}

func TestBodySource_NonJSONAndNonStringFields(t *testing.T) {
	form := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tenant_id=abc"))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	got, err := tenancy.BodySource{Field: "tenant_id"}.Identify(form)
	require.NoError(t, err)
	assert.Empty(t, got)

	numeric := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tenant_id":42}`))
	got, err = tenancy.BodySource{Field: "tenant_id"}.Identify(numeric)
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	null := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tenant_id":null}`))
	got, err = tenancy.BodySource{Field: "tenant_id"}.Identify(null)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDaysBetween(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, tenancy.DaysBetween(start, start.Add(23*time.Hour)))
	assert.Equal(t, 1, tenancy.DaysBetween(start, start.Add(24*time.Hour)))
	assert.Equal(t, 15, tenancy.DaysBetween(start, start.Add(15*24*time.Hour+time.Minute)))
	assert.Equal(t, -1, tenancy.DaysBetween(start, start.Add(-time.Hour)))
}
