package tenancy

import "github.com/kiranshivaraju/peoplehub/pkg/models"

// Enabled reports whether tenant's plan turns feature on. Absent means off.
func Enabled(tenant *models.Tenant, feature string) bool {
	if tenant == nil {
		return false
	}
	return tenant.Plan.Features[feature]
}

// CheckFeature returns FeatureDisabled unless feature is enabled.
func CheckFeature(tenant *models.Tenant, feature string) error {
	if !Enabled(tenant, feature) {
		return NewError(CodeFeatureDisabled, "feature not enabled for this plan", map[string]any{
			"feature": feature,
		})
	}
	return nil
}
