package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/metrics"
	"github.com/kiranshivaraju/peoplehub/internal/store"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"go.uber.org/zap"
)

// ErrNameRequired is returned by Create for a blank tenant name.
var ErrNameRequired = errors.New("tenant name is required")

// Publisher receives committed lifecycle events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event models.LifecycleEvent) error
}

// Invalidator forgets cached copies of a tenant once it has changed.
type Invalidator interface {
	Invalidate(ctx context.Context, id uuid.UUID)
}

// NewTenant is the input to Create. Zero values fall back to the manager's
// defaults.
type NewTenant struct {
	Name      string
	Domain    string
	Plan      *models.Plan
	TrialDays int
}

// DefaultPlan is attached to tenants created without an explicit plan.
func DefaultPlan() models.Plan {
	return models.Plan{
		Name: "trial",
		Features: map[string]bool{
			"employees":  true,
			"leave":      true,
			"attendance": true,
			"payroll":    true,
			"api_keys":   true,
		},
		Limits: map[string]int64{
			"max_employees": 25,
			"max_api_keys":  5,
		},
	}
}

// Manager applies transitions to stored tenants.
type Manager struct {
	store     store.TenantStore
	publisher Publisher
	caches    []Invalidator
	now       func() time.Time
	log       *zap.Logger
	trialDays int
	plan      models.Plan
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithInvalidator registers a cache to purge after every committed transition.
func WithInvalidator(inv Invalidator) Option {
	return func(m *Manager) {
		if inv != nil {
			m.caches = append(m.caches, inv)
		}
	}
}

// WithDefaults sets the trial length and plan used by Create.
func WithDefaults(trialDays int, plan models.Plan) Option {
	return func(m *Manager) {
		if trialDays > 0 {
			m.trialDays = trialDays
		}
		m.plan = plan
	}
}

func NewManager(s store.TenantStore, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		now:       time.Now,
		log:       zap.NewNop(),
		trialDays: 14,
		plan:      DefaultPlan(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now is the manager's clock in UTC.
func (m *Manager) Now() time.Time {
	return m.now().UTC()
}

// Create stores a new tenant in trial.
func (m *Manager) Create(ctx context.Context, in NewTenant) (*models.Tenant, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	days := in.TrialDays
	if days <= 0 {
		days = m.trialDays
	}
	plan := m.plan
	if in.Plan != nil {
		plan = *in.Plan
	}

	now := m.Now()
	t := &models.Tenant{
		ID:                uuid.New(),
		Name:              name,
		Domain:            strings.ToLower(strings.TrimSpace(in.Domain)),
		Status:            models.TenantStatusTrial,
		Plan:              plan,
		TrialStartDate:    now,
		TrialEndDate:      now.Add(time.Duration(days) * day),
		TrialDurationDays: days,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := m.store.CreateTenant(ctx, t); err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	m.log.Info("tenant created",
		zap.String("tenant_id", t.ID.String()),
		zap.String("name", t.Name),
		zap.Time("trial_end_date", t.TrialEndDate),
	)
	return t, nil
}

func (m *Manager) Activate(ctx context.Context, id uuid.UUID, actor string) (*models.Tenant, error) {
	return m.apply(ctx, id, models.EventActivated, func(t *models.Tenant) (Outcome, error) {
		return Activate(t, m.Now(), actor)
	})
}

func (m *Manager) Extend(ctx context.Context, id uuid.UUID, days int, actor string) (*models.Tenant, error) {
	return m.apply(ctx, id, models.EventExtended, func(t *models.Tenant) (Outcome, error) {
		return Extend(t, m.Now(), days, actor)
	})
}

// Expire takes now explicitly so a sweep judges every tenant against the
// same instant. Expire is only issued for a tenant believed to be in trial, so
// a tenant that has left trial by the time it is read is reported as stale.
func (m *Manager) Expire(ctx context.Context, id uuid.UUID, now time.Time) (*models.Tenant, error) {
	current, err := m.load(ctx, id, models.EventExpired)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TenantStatusTrial {
		metrics.Transitions.WithLabelValues(string(models.EventExpired), "stale").Inc()
		return nil, stale(id, models.TenantStatusTrial, current.Status)
	}
	return m.ExpireObserved(ctx, current, now)
}

// ExpireObserved expires the tenant as the caller last saw it. The write is
// guarded by the observed status and version, so any change committed since
// observed was read, such as an activate, makes it fail with StaleTransition.
func (m *Manager) ExpireObserved(ctx context.Context, observed *models.Tenant, now time.Time) (*models.Tenant, error) {
	return m.commit(ctx, observed, models.EventExpired, func(t *models.Tenant) (Outcome, error) {
		return Expire(t, now.UTC())
	})
}

func (m *Manager) Delete(ctx context.Context, id uuid.UUID, actor string) (*models.Tenant, error) {
	return m.apply(ctx, id, models.EventDeleted, func(t *models.Tenant) (Outcome, error) {
		return Delete(t, m.Now(), actor)
	})
}

func (m *Manager) apply(ctx context.Context, id uuid.UUID, kind models.EventKind, fn func(*models.Tenant) (Outcome, error)) (*models.Tenant, error) {
	current, err := m.load(ctx, id, kind)
	if err != nil {
		return nil, err
	}
	return m.commit(ctx, current, kind, fn)
}

func (m *Manager) load(ctx context.Context, id uuid.UUID, kind models.EventKind) (*models.Tenant, error) {
	current, err := m.store.GetTenant(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, tenancy.NewError(tenancy.CodeNotFound, "tenant not found", map[string]any{"tenant_id": id})
	}
	if err != nil {
		metrics.Transitions.WithLabelValues(string(kind), "error").Inc()
		return nil, tenancy.Internal(fmt.Errorf("load tenant %s: %w", id, err))
	}
	return current, nil
}

// commit applies fn to current and writes the result only if the stored row
// still has current's status and version.
func (m *Manager) commit(ctx context.Context, current *models.Tenant, kind models.EventKind, fn func(*models.Tenant) (Outcome, error)) (*models.Tenant, error) {
	id := current.ID
	out, err := fn(current)
	if err != nil {
		metrics.Transitions.WithLabelValues(string(kind), "invalid").Inc()
		return nil, err
	}
	if !out.Changed {
		metrics.Transitions.WithLabelValues(string(kind), "noop").Inc()
		return out.Tenant, nil
	}

	if err := m.store.UpdateTenant(ctx, out.Tenant, current.Status); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			metrics.Transitions.WithLabelValues(string(kind), "stale").Inc()
			return nil, stale(id, current.Status, "")
		case errors.Is(err, store.ErrNotFound):
			return nil, tenancy.NewError(tenancy.CodeNotFound, "tenant not found", map[string]any{"tenant_id": id})
		default:
			metrics.Transitions.WithLabelValues(string(kind), "error").Inc()
			return nil, tenancy.Internal(fmt.Errorf("commit %s for tenant %s: %w", kind, id, err))
		}
	}
	metrics.Transitions.WithLabelValues(string(kind), "committed").Inc()
	for _, c := range m.caches {
		c.Invalidate(ctx, id)
	}

	m.log.Info("tenant transition committed",
		zap.String("tenant_id", id.String()),
		zap.String("transition", string(kind)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(out.Tenant.Status)),
	)

	for _, ev := range out.Events {
		m.publish(ctx, ev)
	}
	return out.Tenant, nil
}

func stale(id uuid.UUID, expected, actual models.TenantStatus) error {
	details := map[string]any{
		"tenant_id":       id,
		"expected_status": string(expected),
	}
	if actual != "" {
		details["current_status"] = string(actual)
	}
	return tenancy.NewError(tenancy.CodeStaleTransition, "tenant changed concurrently", details)
}

// publish hands ev to the publisher. Failures are logged and swallowed; the
// transition has already committed.
func (m *Manager) publish(ctx context.Context, ev models.LifecycleEvent) {
	if m.publisher == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("notification publisher panicked",
				zap.String("tenant_id", ev.TenantID.String()),
				zap.String("event", string(ev.Kind)),
				zap.Any("panic", rec),
			)
		}
	}()
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.log.Warn("notification publish failed",
			zap.String("tenant_id", ev.TenantID.String()),
			zap.String("event", string(ev.Kind)),
			zap.Error(err),
		)
	}
}

// Remind publishes a trial-ending reminder without touching the tenant.
func (m *Manager) Remind(ctx context.Context, t *models.Tenant, now time.Time) {
	m.publish(ctx, TrialEnding(t, now))
}

// Snapshot is the lifecycle view of a tenant returned by the status endpoint.
type Snapshot struct {
	TenantID          uuid.UUID           `json:"tenant_id"`
	Name              string              `json:"name"`
	Status            models.TenantStatus `json:"status"`
	Plan              models.Plan         `json:"plan"`
	TrialStartDate    time.Time           `json:"trial_start_date"`
	TrialEndDate      time.Time           `json:"trial_end_date"`
	TrialDurationDays int                 `json:"trial_duration_days"`
	TrialExpired      bool                `json:"trial_expired"`
	TrialExpiredDate  *time.Time          `json:"trial_expired_date,omitempty"`
	DaysRemaining     int                 `json:"days_remaining"`
}

func NewSnapshot(t *models.Tenant, now time.Time) Snapshot {
	return Snapshot{
		TenantID:          t.ID,
		Name:              t.Name,
		Status:            t.Status,
		Plan:              t.Plan,
		TrialStartDate:    t.TrialStartDate,
		TrialEndDate:      t.TrialEndDate,
		TrialDurationDays: t.TrialDurationDays,
		TrialExpired:      t.TrialExpired || Due(t, now),
		TrialExpiredDate:  t.TrialExpiredDate,
		DaysRemaining:     DaysRemaining(t, now),
	}
}
