package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/peoplehub/internal/api/middleware"
	"github.com/kiranshivaraju/peoplehub/internal/api/response"
	"github.com/kiranshivaraju/peoplehub/internal/logger"
	"github.com/kiranshivaraju/peoplehub/internal/store"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const keySecretBytes = 24

// Scopes a tenant admin may grant. platform_admin is never self-issued.
var grantableScopes = map[string]bool{
	"read":            true,
	models.RoleAdmin:  true,
	"employees:write": true,
	"payroll:write":   true,
}

// KeyCreator stores newly issued API keys.
type KeyCreator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	CreateAPIKeyWithinLimit(ctx context.Context, key *models.APIKey, max int64) (int64, error)
}

// KeyStore is the API key persistence the admin handlers need.
type KeyStore interface {
	KeyCreator
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
	CountAPIKeys(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// KeysHandler serves /api/v1/admin/keys for the resolved tenant.
type KeysHandler struct {
	store KeyStore
	cost  int
}

// NewKeysHandler creates a KeysHandler. cost is the bcrypt cost; zero means
// bcrypt.DefaultCost.
func NewKeysHandler(s KeyStore, cost int) *KeysHandler {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &KeysHandler{store: s, cost: cost}
}

// CreatedKey is returned once, at creation. Key is never shown again.
type CreatedKey struct {
	*models.APIKey
	Key string `json:"key"`
}

func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, nil)
	t, ok := tenancy.TenantFrom(ctx)
	if !ok {
		response.Problem(w, log, errNoTenant)
		return
	}

	var req struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{"read"}
	}
	for _, s := range req.Scopes {
		if !grantableScopes[s] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "scope cannot be granted",
				map[string]any{"scope": s})
			return
		}
	}

	// The new key counts against the limit, so quota is checked at count+1.
	// This early check spares a bcrypt hash; IssueKey enforces the limit.
	usage := tenancy.UsageFunc(func(ctx context.Context) (int64, error) {
		n, err := h.store.CountAPIKeys(ctx, t.ID)
		return n + 1, err
	})
	if err := tenancy.CheckQuota(ctx, t, LimitAPIKeys, usage); err != nil {
		response.Problem(w, log, err)
		return
	}

	created, err := IssueKey(ctx, h.store, t, req.Name, req.Scopes, h.cost)
	if err != nil {
		response.Problem(w, log, err)
		return
	}
	key := created.APIKey

	log.Info("api key created",
		zap.String("api_key_id", key.ID.String()),
		zap.String("key_prefix", key.KeyPrefix),
		zap.String("actor", actorFrom(r)),
	)
	response.Created(w, created)
}

func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), nil)
	t, ok := tenancy.TenantFrom(r.Context())
	if !ok {
		response.Problem(w, log, errNoTenant)
		return
	}

	keys, err := h.store.ListAPIKeys(r.Context(), t.ID)
	if err != nil {
		response.Problem(w, log, tenancy.Internal(err))
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	response.JSON(w, keys)
}

func (h *KeysHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), nil)
	t, ok := tenancy.TenantFrom(r.Context())
	if !ok {
		response.Problem(w, log, errNoTenant)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid key id", nil)
		return
	}

	err = h.store.RevokeAPIKey(r.Context(), id, t.ID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
		return
	}
	if err != nil {
		response.Problem(w, log, tenancy.Internal(err))
		return
	}

	log.Info("api key revoked", zap.String("api_key_id", id.String()), zap.String("actor", actorFrom(r)))
	response.NoContent(w)
}

// IssueKey mints a secret for tenant, stores its bcrypt hash and returns the
// record together with the raw key, which is not recoverable afterwards.
// When the plan declares max_api_keys the count and insert happen atomically
// in the store, so concurrent issuers cannot overshoot the limit. cost zero
// means bcrypt.DefaultCost.
func IssueKey(ctx context.Context, s KeyCreator, tenant *models.Tenant, name string, scopes []string, cost int) (*CreatedKey, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	raw, err := generateKey()
	if err != nil {
		return nil, tenancy.Internal(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return nil, tenancy.Internal(err)
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenant.ID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	max := tenancy.Limit(tenant, LimitAPIKeys)
	if max == tenancy.Unlimited {
		err = s.CreateAPIKey(ctx, key)
	} else {
		var n int64
		n, err = s.CreateAPIKeyWithinLimit(ctx, key, max)
		if errors.Is(err, store.ErrLimitReached) {
			return nil, tenancy.CheckQuota(ctx, tenant, LimitAPIKeys, tenancy.Value(n+1))
		}
	}
	if err != nil {
		return nil, tenancy.Internal(err)
	}
	return &CreatedKey{APIKey: key, Key: raw}, nil
}

func generateKey() (string, error) {
	b := make([]byte, keySecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return models.APIKeyPrefix + hex.EncodeToString(b), nil
}
