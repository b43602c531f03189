package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/api/response"
	"github.com/kiranshivaraju/peoplehub/internal/lifecycle"
	"github.com/kiranshivaraju/peoplehub/internal/logger"
	"github.com/kiranshivaraju/peoplehub/internal/reconcile"
	"github.com/kiranshivaraju/peoplehub/internal/store"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
)

// Lifecycle is the set of tenant operations exposed to platform admins.
type Lifecycle interface {
	Now() time.Time
	Create(ctx context.Context, in lifecycle.NewTenant) (*models.Tenant, error)
	Activate(ctx context.Context, id uuid.UUID, actor string) (*models.Tenant, error)
	Extend(ctx context.Context, id uuid.UUID, days int, actor string) (*models.Tenant, error)
	Delete(ctx context.Context, id uuid.UUID, actor string) (*models.Tenant, error)
}

// TenantsHandler serves the platform tenant routes.
type TenantsHandler struct {
	lc Lifecycle
}

func NewTenantsHandler(lc Lifecycle) *TenantsHandler {
	return &TenantsHandler{lc: lc}
}

func (h *TenantsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string       `json:"name"`
		Domain    string       `json:"domain"`
		TrialDays int          `json:"trial_days"`
		Plan      *models.Plan `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if req.TrialDays < 0 {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "trial_days must not be negative", nil)
		return
	}

	t, err := h.lc.Create(r.Context(), lifecycle.NewTenant{
		Name:      req.Name,
		Domain:    req.Domain,
		Plan:      req.Plan,
		TrialDays: req.TrialDays,
	})
	switch {
	case errors.Is(err, lifecycle.ErrNameRequired):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "TENANT_EXISTS", "A tenant with this domain already exists",
			map[string]any{"domain": req.Domain})
		return
	case err != nil:
		response.Problem(w, logger.FromContext(r.Context(), nil), tenancy.Internal(err))
		return
	}

	response.Created(w, lifecycle.NewSnapshot(t, h.lc.Now()))
}

func (h *TenantsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (*models.Tenant, error) {
		return h.lc.Activate(r.Context(), id, actorFrom(r))
	})
}

func (h *TenantsHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdditionalDays *int `json:"additional_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if req.AdditionalDays == nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "additional_days is required", nil)
		return
	}

	h.transition(w, r, func(id uuid.UUID) (*models.Tenant, error) {
		return h.lc.Extend(r.Context(), id, *req.AdditionalDays, actorFrom(r))
	})
}

func (h *TenantsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (*models.Tenant, error) {
		return h.lc.Delete(r.Context(), id, actorFrom(r))
	})
}

func (h *TenantsHandler) transition(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID) (*models.Tenant, error)) {
	log := logger.FromContext(r.Context(), nil)
	raw := chi.URLParam(r, tenancy.PathTenantID)
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		response.Problem(w, log, tenancy.NewError(tenancy.CodeInvalidIdentifier, "invalid tenant id format",
			map[string]any{"tenant_id": raw}))
		return
	}

	t, err := fn(id)
	if err != nil {
		response.Problem(w, log, err)
		return
	}
	response.JSON(w, lifecycle.NewSnapshot(t, h.lc.Now()))
}

// Sweeper runs one reconciliation sweep.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, trigger string) (reconcile.Result, error)
}

// NewReconcileHandler returns an http.HandlerFunc for POST /api/v1/reconcile/run.
// The sweep outlives a disconnecting client.
func NewReconcileHandler(s Sweeper, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithoutCancel(r.Context())
		res, err := s.Sweep(ctx, now().UTC(), models.SweepTriggerManual)
		if err != nil {
			response.Problem(w, logger.FromContext(r.Context(), nil), tenancy.Internal(err))
			return
		}
		response.JSON(w, res)
	}
}
