package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a lifecycle notification.
type EventKind string

const (
	EventActivated EventKind = "activated"
	EventExtended  EventKind = "extended"
	EventExpired   EventKind = "expired"
	EventDeleted   EventKind = "deleted"
	// EventTrialEnding is a reminder, not a state change.
	EventTrialEnding EventKind = "trial_ending"
)

// EventPayload carries the before/after values of a transition.
type EventPayload struct {
	OldTrialEndDate *time.Time `json:"old_trial_end_date,omitempty"`
	NewTrialEndDate *time.Time `json:"new_trial_end_date,omitempty"`
	AdditionalDays  int        `json:"additional_days,omitempty"`
	DaysRemaining   int        `json:"days_remaining,omitempty"`
	Actor           string     `json:"actor,omitempty"`
}

// LifecycleEvent is the unit handed to a notification sink.
type LifecycleEvent struct {
	ID         uuid.UUID    `json:"id"`
	TenantID   uuid.UUID    `json:"tenant_id"`
	TenantName string       `json:"tenant_name"`
	Kind       EventKind    `json:"kind"`
	Payload    EventPayload `json:"payload"`
	OccurredAt time.Time    `json:"occurred_at"`
}
