package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/cache"
)

// reminderTTL outlives the UTC day a reminder key is stamped with.
const reminderTTL = 48 * time.Hour

// Ledger remembers which tenants already got a reminder on a given day. It is
// only as shared as the Cache behind it.
type Ledger struct {
	cache cache.Cache
}

func NewLedger(c cache.Cache) *Ledger {
	return &Ledger{cache: c}
}

// Claim reports whether the caller is the first to remind tenantID on the UTC
// day of now.
func (l *Ledger) Claim(ctx context.Context, tenantID uuid.UUID, now time.Time) (bool, error) {
	return l.cache.SetIfAbsent(ctx, cache.ReminderKey(tenantID, now), []byte(now.UTC().Format(time.RFC3339)), reminderTTL)
}
