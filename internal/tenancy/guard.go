package tenancy

import (
	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
)

// Authorize checks that principal belongs to tenant. Anything it cannot prove
// is denied.
func Authorize(principal *models.Principal, tenant *models.Tenant) error {
	if principal == nil || tenant == nil {
		return NewError(CodeAccessDenied, "access denied", nil)
	}
	if principal.TenantID == uuid.Nil {
		return NewError(CodeAccessDenied, "principal has no tenant", nil)
	}
	if principal.TenantID != tenant.ID {
		return NewError(CodeAccessDenied, "cross-tenant access denied", map[string]any{
			"tenant_id": tenant.ID,
		})
	}
	return nil
}
