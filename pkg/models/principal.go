package models

import "github.com/google/uuid"

const (
	RoleMember        = "member"
	RoleAdmin         = "admin"
	RolePlatformAdmin = "platform_admin"
)

// Principal is an authenticated actor bound to exactly one tenant. Anything it
// creates must be tagged with its TenantID.
type Principal struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Role     string    `json:"role"`
	Scopes   []string  `json:"scopes"`
}

// RoleForScopes derives the highest role granted by a set of API key scopes.
func RoleForScopes(scopes []string) string {
	role := RoleMember
	for _, s := range scopes {
		switch s {
		case RolePlatformAdmin:
			return RolePlatformAdmin
		case RoleAdmin:
			role = RoleAdmin
		}
	}
	return role
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
