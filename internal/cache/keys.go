package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func RateLimitKey(tenantID uuid.UUID, keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s:%s", tenantID, keyPrefix)
}

// ReminderKey marks that a trial-ending reminder went out for tenantID on the
// UTC calendar day of day.
func ReminderKey(tenantID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("reminder:%s:%s", tenantID, day.UTC().Format("2006-01-02"))
}

// TenantKey holds the resolver's snapshot of a tenant.
func TenantKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s", tenantID)
}
