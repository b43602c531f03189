package tenancy

import (
	"context"

	"github.com/kiranshivaraju/peoplehub/pkg/models"
)

// Unlimited is what Limit reports for a limit the plan does not declare.
const Unlimited int64 = -1

// Usage yields the current consumption of a limited resource.
type Usage interface {
	Current(ctx context.Context) (int64, error)
}

// Value is a usage figure the caller already knows.
type Value int64

func (v Value) Current(context.Context) (int64, error) { return int64(v), nil }

// UsageFunc computes usage on demand, typically with a store count.
type UsageFunc func(ctx context.Context) (int64, error)

func (f UsageFunc) Current(ctx context.Context) (int64, error) { return f(ctx) }

// Limit returns the plan ceiling for name, or Unlimited.
func Limit(tenant *models.Tenant, name string) int64 {
	if tenant == nil {
		return Unlimited
	}
	max, ok := tenant.Plan.Limits[name]
	if !ok {
		return Unlimited
	}
	return max
}

// CheckQuota passes while current usage is at or below the plan limit.
// Undeclared limits always pass without consulting usage.
func CheckQuota(ctx context.Context, tenant *models.Tenant, limit string, usage Usage) error {
	max := Limit(tenant, limit)
	if max == Unlimited {
		return nil
	}

	current, err := usage.Current(ctx)
	if err != nil {
		return Internal(err)
	}
	if current > max {
		return NewError(CodeQuotaExceeded, "plan limit exceeded", map[string]any{
			"limit":   limit,
			"current": current,
			"max":     max,
		})
	}
	return nil
}
