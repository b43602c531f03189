package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/cache"
	"github.com/kiranshivaraju/peoplehub/internal/store"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultLookupTimeout = 5 * time.Second

// Resolver determines which tenant a request acts on.
type Resolver struct {
	store         store.TenantStore
	sources       []Source
	now           func() time.Time
	log           *zap.Logger
	group         singleflight.Group
	cache         cache.Cache
	cacheTTL      time.Duration
	lookupTimeout time.Duration
}

type ResolverOption func(*Resolver)

// WithSources replaces the default source order.
func WithSources(sources ...Source) ResolverOption {
	return func(r *Resolver) { r.sources = sources }
}

func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

func WithLogger(log *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithCache keeps tenant snapshots in c for ttl. Writers must call
// Invalidate after committing a change.
func WithCache(c cache.Cache, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if c != nil && ttl > 0 {
			r.cache = c
			r.cacheTTL = ttl
		}
	}
}

// WithLookupTimeout bounds the shared store read behind concurrent lookups.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

func NewResolver(s store.TenantStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:         s,
		sources:       DefaultSources(),
		now:           time.Now,
		log:           zap.NewNop(),
		lookupTimeout: defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Identify returns the first non-empty identifier and the name of the source
// that produced it. Later sources are not consulted.
func (r *Resolver) Identify(req *http.Request) (string, string, error) {
	for _, src := range r.sources {
		raw, err := src.Identify(req)
		if err != nil {
			return "", src.Name(), Internal(err)
		}
		if raw != "" {
			return raw, src.Name(), nil
		}
	}
	return "", "", NewError(CodeInvalidIdentifier, "tenant id is required", nil)
}

// Resolve identifies and loads the tenant for req. For InactiveTenant and
// TrialExpired the tenant is returned together with the error.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*models.Tenant, string, error) {
	raw, source, err := r.Identify(req)
	if err != nil {
		return nil, source, err
	}
	t, err := r.Lookup(ctx, raw)
	return t, source, err
}

// Lookup validates raw, loads the tenant and applies the serving rules.
func (r *Resolver) Lookup(ctx context.Context, raw string) (*models.Tenant, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return nil, NewError(CodeInvalidIdentifier, "invalid tenant id format", map[string]any{"tenant_id": raw})
	}

	t, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !t.Status.Serving() {
		return t, NewError(CodeInactiveTenant, "tenant is not active", map[string]any{
			"status": string(t.Status),
		})
	}

	now := r.now().UTC()
	if t.Status == models.TenantStatusTrial && now.After(t.TrialEndDate) {
		return t, NewError(CodeTrialExpired, "trial period has expired", map[string]any{
			"trial_end_date": t.TrialEndDate,
			"days_expired":   DaysBetween(t.TrialEndDate, now),
		})
	}

	return t, nil
}

// cachedTenant carries the version the tenant JSON form leaves out.
type cachedTenant struct {
	*models.Tenant
	Version int64 `json:"version"`
}

// load returns the tenant from the snapshot cache or the store. Concurrent
// lookups of the same id share one store read. The shared read is detached
// from any single caller, so one caller giving up does not fail the others.
func (r *Resolver) load(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	if t, ok := r.cached(ctx, id); ok {
		return t, nil
	}

	ch := r.group.DoChan(id.String(), func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()
		t, err := r.store.GetTenant(readCtx, id)
		if err == nil {
			r.remember(readCtx, t)
		}
		return t, err
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, Internal(ctx.Err())
	}

	if errors.Is(res.Err, store.ErrNotFound) {
		return nil, NewError(CodeNotFound, "tenant not found", map[string]any{"tenant_id": id})
	}
	if res.Err != nil {
		r.log.Error("tenant lookup failed", zap.String("tenant_id", id.String()), zap.Error(res.Err))
		return nil, Internal(res.Err)
	}
	return res.Val.(*models.Tenant).Clone(), nil
}

func (r *Resolver) cached(ctx context.Context, id uuid.UUID) (*models.Tenant, bool) {
	if r.cache == nil {
		return nil, false
	}
	b, ok, err := r.cache.Get(ctx, cache.TenantKey(id))
	if err != nil {
		r.log.Warn("tenant cache read failed", zap.String("tenant_id", id.String()), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var c cachedTenant
	if err := json.Unmarshal(b, &c); err != nil || c.Tenant == nil || c.ID != id {
		r.log.Warn("discarding unreadable tenant cache entry", zap.String("tenant_id", id.String()))
		_ = r.cache.Delete(ctx, cache.TenantKey(id))
		return nil, false
	}
	c.Tenant.Version = c.Version
	return c.Tenant, true
}

func (r *Resolver) remember(ctx context.Context, t *models.Tenant) {
	if r.cache == nil {
		return
	}
	b, err := json.Marshal(cachedTenant{Tenant: t, Version: t.Version})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cache.TenantKey(t.ID), b, r.cacheTTL); err != nil {
		r.log.Warn("tenant cache write failed", zap.String("tenant_id", t.ID.String()), zap.Error(err))
	}
}

// Invalidate drops the cached snapshot of id. The lifecycle manager calls it
// after every committed transition.
func (r *Resolver) Invalidate(ctx context.Context, id uuid.UUID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, cache.TenantKey(id)); err != nil {
		r.log.Warn("tenant cache invalidation failed", zap.String("tenant_id", id.String()), zap.Error(err))
	}
}

// DaysBetween returns the whole days elapsed from start to end, floored.
func DaysBetween(start, end time.Time) int {
	return int(math.Floor(end.Sub(start).Hours() / 24))
}
