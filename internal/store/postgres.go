package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

const tenantColumns = `id, name, domain, status, plan, trial_start_date, trial_end_date, trial_duration_days,
	trial_expired, trial_expired_date, version, created_at, updated_at`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.Status, &t.Plan, &t.TrialStartDate, &t.TrialEndDate,
		&t.TrialDurationDays, &t.TrialExpired, &t.TrialExpiredDate, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	if t.Version == 0 {
		t.Version = 1
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (`+tenantColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.Name, t.Domain, t.Status, t.Plan, t.TrialStartDate, t.TrialEndDate, t.TrialDurationDays,
		t.TrialExpired, t.TrialExpiredDate, t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTenantsByStatus(ctx context.Context, status models.TenantStatus) ([]*models.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE status = $1 ORDER BY trial_end_date ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list tenants by status: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// UpdateTenant is a compare-and-set on (status, version). The WHERE clause is
// the only concurrency control tenant writes have.
func (s *PostgresStore) UpdateTenant(ctx context.Context, t *models.Tenant, expectedStatus models.TenantStatus) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET
		   name = $4, domain = $5, status = $6, plan = $7,
		   trial_start_date = $8, trial_end_date = $9, trial_duration_days = $10,
		   trial_expired = $11, trial_expired_date = $12,
		   version = version + 1, updated_at = $13
		 WHERE id = $1 AND status = $2 AND version = $3`,
		t.ID, expectedStatus, t.Version,
		t.Name, t.Domain, t.Status, t.Plan,
		t.TrialStartDate, t.TrialEndDate, t.TrialDurationDays,
		t.TrialExpired, t.TrialExpiredDate, now)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check tenant exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// CreateAPIKeyWithinLimit locks the owning tenant row so concurrent creates
// for one tenant count and insert one at a time.
func (s *PostgresStore) CreateAPIKeyWithinLimit(ctx context.Context, key *models.APIKey, max int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin create api key: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM tenants WHERE id = $1 FOR UPDATE`, key.TenantID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("create api key: tenant %s: %w", key.TenantID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("lock tenant for api key: %w", err)
	}

	var n int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL`, key.TenantID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	if n >= max {
		return n, ErrLimitReached
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return n, ErrDuplicateKey
		}
		return n, fmt.Errorf("create api key: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return n, fmt.Errorf("commit api key: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectAPIKeys(rows)
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountAPIKeys(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}

// --- Sweep Runs ---

func (s *PostgresStore) CreateSweepRun(ctx context.Context, run *models.SweepRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sweep_runs (id, triggered_by, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Trigger, run.Status, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create sweep run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSweepRun(ctx context.Context, id uuid.UUID) (*models.SweepRun, error) {
	var r models.SweepRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, triggered_by, status, checked, expired, skipped, failed, reminded, error_message,
		        started_at, completed_at, created_at, updated_at
		 FROM sweep_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Trigger, &r.Status, &r.Checked, &r.Expired, &r.Skipped, &r.Failed, &r.Reminded, &r.ErrorMessage,
		&r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sweep run: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) UpdateSweepRunStatus(ctx context.Context, id uuid.UUID, status string, opts ...SweepUpdateOption) error {
	params := &sweepUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM sweep_runs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get sweep run status: %w", err)
	}

	if !canTransitionSweep(currentStatus, status) {
		return fmt.Errorf("invalid sweep run status transition: %s -> %s", currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE sweep_runs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.SweepStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.SweepStatusCompleted || status == models.SweepStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Counts != nil {
		query += fmt.Sprintf(", checked = $%d, expired = $%d, skipped = $%d, failed = $%d, reminded = $%d",
			argIdx, argIdx+1, argIdx+2, argIdx+3, argIdx+4)
		args = append(args, params.Counts.Checked, params.Counts.Expired, params.Counts.Skipped,
			params.Counts.Failed, params.Counts.Reminded)
		argIdx += 5
	}

	// Guard on the status read above so two writers cannot both finish the run.
	query += fmt.Sprintf(" WHERE id = $1 AND status = $%d", argIdx)
	args = append(args, currentStatus)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update sweep run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
