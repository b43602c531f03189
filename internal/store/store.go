package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	// ErrConflict is returned by guarded writes whose expected pre-state no
	// longer matches the persisted row.
	ErrConflict = errors.New("guarded write conflict")
	// ErrLimitReached is returned by CreateAPIKeyWithinLimit when the tenant
	// already holds the maximum number of live keys.
	ErrLimitReached = errors.New("limit reached")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	TenantStore

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	// CreateAPIKeyWithinLimit counts the tenant's live keys and inserts key
	// only while that count is below max, as one atomic step. It returns the
	// count it saw.
	CreateAPIKeyWithinLimit(ctx context.Context, key *models.APIKey, max int64) (int64, error)
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
	CountAPIKeys(ctx context.Context, tenantID uuid.UUID) (int64, error)

	CreateSweepRun(ctx context.Context, run *models.SweepRun) error
	GetSweepRun(ctx context.Context, id uuid.UUID) (*models.SweepRun, error)
	UpdateSweepRunStatus(ctx context.Context, id uuid.UUID, status string, opts ...SweepUpdateOption) error
}

// TenantStore is the durable tenant record contract.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	ListTenantsByStatus(ctx context.Context, status models.TenantStatus) ([]*models.Tenant, error)
	// UpdateTenant persists t only if the stored row still has expectedStatus
	// and version t.Version. On success t.Version is incremented. A mismatch
	// returns ErrConflict and leaves the row untouched.
	UpdateTenant(ctx context.Context, t *models.Tenant, expectedStatus models.TenantStatus) error
}

type sweepUpdateParams struct {
	ErrorMessage *string
	Counts       *SweepCounts
}

// SweepCounts are the tallies recorded on a finished sweep run.
type SweepCounts struct {
	Checked  int
	Expired  int
	Skipped  int
	Failed   int
	Reminded int
}

type SweepUpdateOption func(*sweepUpdateParams)

func WithErrorMessage(msg string) SweepUpdateOption {
	return func(p *sweepUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithCounts(c SweepCounts) SweepUpdateOption {
	return func(p *sweepUpdateParams) {
		p.Counts = &c
	}
}

var validSweepTransitions = map[string][]string{
	models.SweepStatusPending: {models.SweepStatusRunning, models.SweepStatusFailed},
	models.SweepStatusRunning: {models.SweepStatusCompleted, models.SweepStatusFailed},
}

func canTransitionSweep(from, to string) bool {
	for _, a := range validSweepTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
