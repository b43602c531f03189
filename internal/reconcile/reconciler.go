// Package reconcile periodically brings stored tenants in line with the
// clock: trials past their end date are expired and trials about to end get
// a reminder.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/metrics"
	"github.com/kiranshivaraju/peoplehub/internal/store"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the slice of the data layer a sweep needs.
type Store interface {
	ListTenantsByStatus(ctx context.Context, status models.TenantStatus) ([]*models.Tenant, error)
	CreateSweepRun(ctx context.Context, run *models.SweepRun) error
	UpdateSweepRunStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.SweepUpdateOption) error
}

// Lifecycle performs the transitions a sweep triggers. Expiry is committed
// against the tenant exactly as it was listed.
type Lifecycle interface {
	ExpireObserved(ctx context.Context, observed *models.Tenant, now time.Time) (*models.Tenant, error)
	Remind(ctx context.Context, t *models.Tenant, now time.Time)
}

// Claimer grants at most one reminder per tenant per day.
type Claimer interface {
	Claim(ctx context.Context, tenantID uuid.UUID, now time.Time) (bool, error)
}

// Result tallies one sweep. Skipped counts tenants another writer changed
// first; Failed counts tenants left untouched because of an error.
type Result struct {
	RunID    uuid.UUID `json:"run_id"`
	Checked  int       `json:"checked"`
	Expired  int       `json:"expired"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Reminded int       `json:"reminded"`
}

type Config struct {
	Concurrency   int
	TenantTimeout time.Duration
	// ReminderDays is the window before trial end in which reminders go out.
	// Zero disables reminders.
	ReminderDays int
}

type Reconciler struct {
	store     Store
	lifecycle Lifecycle
	claimer   Claimer
	cfg       Config
	log       *zap.Logger
}

func NewReconciler(s Store, lc Lifecycle, claimer Claimer, cfg Config, log *zap.Logger) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.TenantTimeout <= 0 {
		cfg.TenantTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{store: s, lifecycle: lc, claimer: claimer, cfg: cfg, log: log}
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeExpired
	outcomeSkipped
	outcomeFailed
	outcomeReminded
)

// Sweep checks every trial tenant against now. Per-tenant errors are logged
// and counted; only failing to list tenants fails the sweep.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time, trigger string) (Result, error) {
	start := time.Now()
	now = now.UTC()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	runID := r.beginRun(ctx, trigger)
	res := Result{RunID: runID}

	tenants, err := r.store.ListTenantsByStatus(ctx, models.TenantStatusTrial)
	if err != nil {
		err = fmt.Errorf("list trial tenants: %w", err)
		r.finishRun(ctx, runID, res, err)
		return res, err
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Concurrency)

	for _, t := range tenants {
		g.Go(func() error {
			o := r.reconcileTenant(ctx, t, now)
			mu.Lock()
			defer mu.Unlock()
			res.Checked++
			switch o {
			case outcomeExpired:
				res.Expired++
			case outcomeSkipped:
				res.Skipped++
			case outcomeFailed:
				res.Failed++
			case outcomeReminded:
				res.Reminded++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.finishRun(ctx, runID, res, nil)
	r.log.Info("reconciliation sweep finished",
		zap.String("run_id", runID.String()),
		zap.String("trigger", trigger),
		zap.Int("checked", res.Checked),
		zap.Int("expired", res.Expired),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("reminded", res.Reminded),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (r *Reconciler) reconcileTenant(ctx context.Context, t *models.Tenant, now time.Time) (o outcome) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TenantTimeout)
	defer cancel()

	log := r.log.With(zap.String("tenant_id", t.ID.String()))
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("tenant reconciliation panicked", zap.Any("panic", rec), zap.Stack("stack"))
			o = outcomeFailed
		}
		switch o {
		case outcomeExpired:
			metrics.SweepTenants.WithLabelValues("expired").Inc()
		case outcomeSkipped:
			metrics.SweepTenants.WithLabelValues("skipped").Inc()
		case outcomeFailed:
			metrics.SweepTenants.WithLabelValues("failed").Inc()
		case outcomeReminded:
			metrics.SweepTenants.WithLabelValues("reminded").Inc()
		}
	}()

	if t.Status == models.TenantStatusTrial && now.After(t.TrialEndDate) {
		_, err := r.lifecycle.ExpireObserved(ctx, t, now)
		switch {
		case err == nil:
			return outcomeExpired
		case errors.Is(err, tenancy.ErrStaleTransition), errors.Is(err, tenancy.ErrInvalidTransition), errors.Is(err, tenancy.ErrNotFound):
			log.Info("tenant changed since listing, skipping", zap.Error(err))
			return outcomeSkipped
		default:
			log.Error("expire tenant failed", zap.Error(err))
			return outcomeFailed
		}
	}

	if r.dueForReminder(t, now) {
		ok, err := r.claimer.Claim(ctx, t.ID, now)
		if err != nil {
			log.Warn("reminder ledger unavailable", zap.Error(err))
			return outcomeFailed
		}
		if !ok {
			return outcomeNone
		}
		r.lifecycle.Remind(ctx, t, now)
		return outcomeReminded
	}
	return outcomeNone
}

func (r *Reconciler) dueForReminder(t *models.Tenant, now time.Time) bool {
	if r.claimer == nil || r.cfg.ReminderDays <= 0 {
		return false
	}
	left := t.TrialEndDate.Sub(now)
	return left > 0 && left <= time.Duration(r.cfg.ReminderDays)*24*time.Hour
}

// beginRun records the sweep. Bookkeeping failures are logged and never stop
// the sweep itself.
func (r *Reconciler) beginRun(ctx context.Context, trigger string) uuid.UUID {
	now := time.Now().UTC()
	run := &models.SweepRun{
		ID:        uuid.New(),
		Trigger:   trigger,
		Status:    models.SweepStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateSweepRun(ctx, run); err != nil {
		r.log.Warn("record sweep run failed", zap.Error(err))
		return run.ID
	}
	if err := r.store.UpdateSweepRunStatus(ctx, run.ID, models.SweepStatusRunning); err != nil {
		r.log.Warn("mark sweep run running failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	return run.ID
}

func (r *Reconciler) finishRun(ctx context.Context, runID uuid.UUID, res Result, sweepErr error) {
	opts := []store.SweepUpdateOption{store.WithCounts(store.SweepCounts{
		Checked:  res.Checked,
		Expired:  res.Expired,
		Skipped:  res.Skipped,
		Failed:   res.Failed,
		Reminded: res.Reminded,
	})}
	status := models.SweepStatusCompleted
	if sweepErr != nil {
		status = models.SweepStatusFailed
		opts = append(opts, store.WithErrorMessage(sweepErr.Error()))
	}
	// The sweep context may already be done; the record should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.UpdateSweepRunStatus(ctx, runID, status, opts...); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.Warn("finish sweep run failed", zap.String("run_id", runID.String()), zap.Error(err))
	}
}
