// Package lifecycle owns every legal change of a tenant's subscription state.
//
// The transition functions in this file are pure: they take a tenant and a
// clock reading and return the next tenant plus the events the change
// produced. Manager is the shell that loads, commits with a guarded write and
// publishes.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
)

const day = 24 * time.Hour

// Outcome is the result of applying a transition. Tenant is always a fresh
// copy. When Changed is false nothing needs to be written or published.
type Outcome struct {
	Tenant  *models.Tenant
	Events  []models.LifecycleEvent
	Changed bool
}

func invalid(t *models.Tenant, action string, reason string) error {
	return tenancy.NewError(tenancy.CodeInvalidTransition, fmt.Sprintf("cannot %s tenant: %s", action, reason), map[string]any{
		"tenant_id": t.ID,
		"status":    string(t.Status),
		"action":    action,
	})
}

func newEvent(t *models.Tenant, kind models.EventKind, now time.Time, payload models.EventPayload) models.LifecycleEvent {
	return models.LifecycleEvent{
		ID:         uuid.New(),
		TenantID:   t.ID,
		TenantName: t.Name,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: now,
	}
}

// Activate moves a trial tenant to active. An already active tenant is left
// as is and produces no event.
func Activate(t *models.Tenant, now time.Time, actor string) (Outcome, error) {
	switch t.Status {
	case models.TenantStatusActive:
		return Outcome{Tenant: t.Clone()}, nil
	case models.TenantStatusTrial:
	default:
		return Outcome{}, invalid(t, "activate", "only trial tenants can be activated")
	}

	next := t.Clone()
	next.Status = models.TenantStatusActive
	next.UpdatedAt = now

	return Outcome{
		Tenant:  next,
		Events:  []models.LifecycleEvent{newEvent(next, models.EventActivated, now, models.EventPayload{Actor: actor})},
		Changed: true,
	}, nil
}

// Extend pushes the trial end date out by days and clears any expiry marks.
func Extend(t *models.Tenant, now time.Time, days int, actor string) (Outcome, error) {
	if days <= 0 {
		return Outcome{}, invalid(t, "extend", "additional days must be positive")
	}
	if t.Status != models.TenantStatusTrial {
		return Outcome{}, invalid(t, "extend", "only trial tenants can be extended")
	}

	oldEnd := t.TrialEndDate
	next := t.Clone()
	next.TrialEndDate = t.TrialEndDate.Add(time.Duration(days) * day)
	next.TrialDurationDays = t.TrialDurationDays + days
	next.TrialExpired = false
	next.TrialExpiredDate = nil
	next.UpdatedAt = now

	newEnd := next.TrialEndDate
	return Outcome{
		Tenant: next,
		Events: []models.LifecycleEvent{newEvent(next, models.EventExtended, now, models.EventPayload{
			OldTrialEndDate: &oldEnd,
			NewTrialEndDate: &newEnd,
			AdditionalDays:  days,
			Actor:           actor,
		})},
		Changed: true,
	}, nil
}

// Due reports whether a trial tenant is past its end date at now.
func Due(t *models.Tenant, now time.Time) bool {
	return t.Status == models.TenantStatusTrial && now.After(t.TrialEndDate)
}

// Expire closes a trial whose end date has passed.
func Expire(t *models.Tenant, now time.Time) (Outcome, error) {
	if t.Status != models.TenantStatusTrial {
		return Outcome{}, invalid(t, "expire", "only trial tenants can expire")
	}
	if !now.After(t.TrialEndDate) {
		return Outcome{}, invalid(t, "expire", "trial has not ended yet")
	}

	expiredAt := now
	next := t.Clone()
	next.Status = models.TenantStatusExpired
	next.TrialExpired = true
	next.TrialExpiredDate = &expiredAt
	next.UpdatedAt = now

	end := t.TrialEndDate
	return Outcome{
		Tenant: next,
		Events: []models.LifecycleEvent{newEvent(next, models.EventExpired, now, models.EventPayload{
			OldTrialEndDate: &end,
			Actor:           "system",
		})},
		Changed: true,
	}, nil
}

// Delete marks a tenant deleted. Deleted is terminal.
func Delete(t *models.Tenant, now time.Time, actor string) (Outcome, error) {
	if t.Status == models.TenantStatusDeleted {
		return Outcome{}, invalid(t, "delete", "tenant is already deleted")
	}

	next := t.Clone()
	next.Status = models.TenantStatusDeleted
	next.UpdatedAt = now

	return Outcome{
		Tenant:  next,
		Events:  []models.LifecycleEvent{newEvent(next, models.EventDeleted, now, models.EventPayload{Actor: actor})},
		Changed: true,
	}, nil
}

// TrialEnding builds the reminder event for a trial ending within the
// reminder window. It is not a transition and changes nothing.
func TrialEnding(t *models.Tenant, now time.Time) models.LifecycleEvent {
	end := t.TrialEndDate
	return newEvent(t, models.EventTrialEnding, now, models.EventPayload{
		NewTrialEndDate: &end,
		DaysRemaining:   DaysRemaining(t, now),
		Actor:           "system",
	})
}

// DaysRemaining is the number of whole days, rounded up, until the trial
// ends. It is zero for non-trial tenants and for trials already over.
func DaysRemaining(t *models.Tenant, now time.Time) int {
	if t.Status != models.TenantStatusTrial || !t.TrialEndDate.After(now) {
		return 0
	}
	left := t.TrialEndDate.Sub(now)
	days := int(left / day)
	if left%day != 0 {
		days++
	}
	return days
}
