package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKeyPrefix starts every raw key handed out by the admin keys endpoint.
const APIKeyPrefix = "ph_"

// APIKey authenticates a principal of one tenant. The raw key is returned once
// at creation; only its bcrypt hash is persisted.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	TenantID   uuid.UUID  `db:"tenant_id"    json:"tenant_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// Principal returns the actor this key authenticates.
func (k *APIKey) Principal() *Principal {
	scopes := append([]string(nil), k.Scopes...)
	return &Principal{
		ID:       k.ID,
		TenantID: k.TenantID,
		Role:     RoleForScopes(scopes),
		Scopes:   scopes,
	}
}
