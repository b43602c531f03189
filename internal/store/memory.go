package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
)

// MemoryStore is an in-process Store used by tests and by STORE_DRIVER=memory.
// Records are copied on the way in and out so callers never share state with
// the store.
type MemoryStore struct {
	mu        sync.RWMutex
	tenants   map[uuid.UUID]*models.Tenant
	apiKeys   map[uuid.UUID]*models.APIKey
	sweepRuns map[uuid.UUID]*models.SweepRun
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[uuid.UUID]*models.Tenant),
		apiKeys:   make(map[uuid.UUID]*models.APIKey),
		sweepRuns: make(map[uuid.UUID]*models.SweepRun),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- Tenants ---

func (s *MemoryStore) CreateTenant(_ context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[t.ID]; ok {
		return ErrDuplicateKey
	}
	if t.Domain != "" {
		for _, existing := range s.tenants {
			if existing.Domain == t.Domain {
				return ErrDuplicateKey
			}
		}
	}
	if t.Version == 0 {
		t.Version = 1
	}
	s.tenants[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListTenantsByStatus(_ context.Context, status models.TenantStatus) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Tenant
	for _, t := range s.tenants {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TrialEndDate.Before(out[j].TrialEndDate)
	})
	return out, nil
}

func (s *MemoryStore) UpdateTenant(_ context.Context, t *models.Tenant, expectedStatus models.TenantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tenants[t.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expectedStatus || current.Version != t.Version {
		return ErrConflict
	}

	t.Version++
	t.UpdatedAt = time.Now().UTC()
	s.tenants[t.ID] = t.Clone()
	return nil
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, cloneAPIKey(k))
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apiKeys[key.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.tenants[key.TenantID]; !ok {
		return fmt.Errorf("create api key: tenant %s: %w", key.TenantID, ErrNotFound)
	}
	s.apiKeys[key.ID] = cloneAPIKey(key)
	return nil
}

func (s *MemoryStore) CreateAPIKeyWithinLimit(_ context.Context, key *models.APIKey, max int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[key.TenantID]; !ok {
		return 0, fmt.Errorf("create api key: tenant %s: %w", key.TenantID, ErrNotFound)
	}
	if _, ok := s.apiKeys[key.ID]; ok {
		return 0, ErrDuplicateKey
	}
	n := s.liveKeysLocked(key.TenantID)
	if n >= max {
		return n, ErrLimitReached
	}
	s.apiKeys[key.ID] = cloneAPIKey(key)
	return n, nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.APIKey
	for _, k := range s.apiKeys {
		if k.TenantID == tenantID && k.DeletedAt == nil {
			out = append(out, cloneAPIKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[id]
	if !ok || k.TenantID != tenantID || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CountAPIKeys(_ context.Context, tenantID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveKeysLocked(tenantID), nil
}

func (s *MemoryStore) liveKeysLocked(tenantID uuid.UUID) int64 {
	var n int64
	for _, k := range s.apiKeys {
		if k.TenantID == tenantID && k.DeletedAt == nil {
			n++
		}
	}
	return n
}

func cloneAPIKey(k *models.APIKey) *models.APIKey {
	c := *k
	c.Scopes = append([]string(nil), k.Scopes...)
	return &c
}

// --- Sweep Runs ---

func (s *MemoryStore) CreateSweepRun(_ context.Context, run *models.SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sweepRuns[run.ID]; ok {
		return ErrDuplicateKey
	}
	c := *run
	s.sweepRuns[run.ID] = &c
	return nil
}

func (s *MemoryStore) GetSweepRun(_ context.Context, id uuid.UUID) (*models.SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.sweepRuns[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *MemoryStore) UpdateSweepRunStatus(_ context.Context, id uuid.UUID, status string, opts ...SweepUpdateOption) error {
	params := &sweepUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sweepRuns[id]
	if !ok {
		return ErrNotFound
	}
	if !canTransitionSweep(r.Status, status) {
		return fmt.Errorf("invalid sweep run status transition: %s -> %s", r.Status, status)
	}

	now := time.Now().UTC()
	r.Status = status
	r.UpdatedAt = now
	switch status {
	case models.SweepStatusRunning:
		r.StartedAt = &now
	case models.SweepStatusCompleted, models.SweepStatusFailed:
		r.CompletedAt = &now
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		r.ErrorMessage = &msg
	}
	if params.Counts != nil {
		r.Checked = params.Counts.Checked
		r.Expired = params.Counts.Expired
		r.Skipped = params.Counts.Skipped
		r.Failed = params.Counts.Failed
		r.Reminded = params.Counts.Reminded
	}
	return nil
}
