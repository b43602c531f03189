package tenancy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planTenant() *models.Tenant {
	return &models.Tenant{
		Plan: models.Plan{
			Name:     "growth",
			Features: map[string]bool{"payroll": true, "training": false},
			Limits:   map[string]int64{"max_employees": 50},
		},
	}
}

func TestCheckFeature(t *testing.T) {
	tenant := planTenant()

	assert.True(t, tenancy.Enabled(tenant, "payroll"))
	assert.NoError(t, tenancy.CheckFeature(tenant, "payroll"))

	for _, feature := range []string{"training", "expenses"} {
		err := tenancy.CheckFeature(tenant, feature)
		require.ErrorIs(t, err, tenancy.ErrFeatureDisabled)
		var e *tenancy.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, feature, e.Details["feature"])
	}

	assert.False(t, tenancy.Enabled(nil, "payroll"))
}

func TestCheckQuota_Boundary(t *testing.T) {
	tenant := planTenant()
	ctx := context.Background()

	assert.NoError(t, tenancy.CheckQuota(ctx, tenant, "max_employees", tenancy.Value(49)))
	assert.NoError(t, tenancy.CheckQuota(ctx, tenant, "max_employees", tenancy.Value(50)))

	err := tenancy.CheckQuota(ctx, tenant, "max_employees", tenancy.Value(51))
	require.ErrorIs(t, err, tenancy.ErrQuotaExceeded)
	var e *tenancy.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "max_employees", e.Details["limit"])
	assert.Equal(t, int64(51), e.Details["current"])
	assert.Equal(t, int64(50), e.Details["max"])
}

func TestCheckQuota_MissingLimitIsUnlimited(t *testing.T) {
	tenant := planTenant()
	called := false
	usage := tenancy.UsageFunc(func(context.Context) (int64, error) {
		called = true
		return 1 << 40, nil
	})

	assert.NoError(t, tenancy.CheckQuota(context.Background(), tenant, "max_departments", usage))
	assert.False(t, called)
	assert.Equal(t, tenancy.Unlimited, tenancy.Limit(tenant, "max_departments"))
}

func TestCheckQuota_Provider(t *testing.T) {
	tenant := planTenant()
	ctx := context.Background()

	ok := tenancy.UsageFunc(func(context.Context) (int64, error) { return 50, nil })
	assert.NoError(t, tenancy.CheckQuota(ctx, tenant, "max_employees", ok))

	over := tenancy.UsageFunc(func(context.Context) (int64, error) { return 51, nil })
	assert.ErrorIs(t, tenancy.CheckQuota(ctx, tenant, "max_employees", over), tenancy.ErrQuotaExceeded)
}

func TestCheckQuota_ProviderErrorFailsClosed(t *testing.T) {
	failing := tenancy.UsageFunc(func(context.Context) (int64, error) {
		return 0, errors.New("count query timed out")
	})
	err := tenancy.CheckQuota(context.Background(), planTenant(), "max_employees", failing)
	assert.ErrorIs(t, err, tenancy.ErrInternal)
}
