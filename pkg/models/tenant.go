// Package models contains the shared data models of the tenancy and
// subscription-lifecycle layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantStatusTrial  TenantStatus = "trial"
	TenantStatusActive TenantStatus = "active"
	// TenantStatusSuspended is reserved. Nothing transitions into or out of it yet.
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusExpired   TenantStatus = "expired"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// Valid reports whether s is one of the declared statuses.
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantStatusTrial, TenantStatusActive, TenantStatusSuspended,
		TenantStatusExpired, TenantStatusDeleted:
		return true
	}
	return false
}

// Serving reports whether requests for a tenant in this status may proceed.
func (s TenantStatus) Serving() bool {
	return s == TenantStatusTrial || s == TenantStatusActive
}

// Plan is the subscription plan attached to a tenant. Features is the set of
// enabled capability names; Limits maps a counted resource to its ceiling.
type Plan struct {
	Name     string           `json:"name"`
	Features map[string]bool  `json:"features"`
	Limits   map[string]int64 `json:"limits"`
}

// Tenant is a customer account and the unit of data isolation. Every business
// record in the system is tagged with exactly one tenant id.
//
// The trial fields only carry meaning while Status is TenantStatusTrial.
type Tenant struct {
	ID                uuid.UUID    `db:"id"                  json:"id"`
	Name              string       `db:"name"                json:"name"`
	Domain            string       `db:"domain"              json:"domain"`
	Status            TenantStatus `db:"status"              json:"status"`
	Plan              Plan         `db:"plan"                json:"plan"`
	TrialStartDate    time.Time    `db:"trial_start_date"    json:"trial_start_date"`
	TrialEndDate      time.Time    `db:"trial_end_date"      json:"trial_end_date"`
	TrialDurationDays int          `db:"trial_duration_days" json:"trial_duration_days"`
	TrialExpired      bool         `db:"trial_expired"       json:"trial_expired"`
	TrialExpiredDate  *time.Time   `db:"trial_expired_date"  json:"trial_expired_date,omitempty"`
	Version           int64        `db:"version"             json:"-"`
	CreatedAt         time.Time    `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"          json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate the result without touching
// shared state.
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	c := *t
	if t.TrialExpiredDate != nil {
		d := *t.TrialExpiredDate
		c.TrialExpiredDate = &d
	}
	c.Plan.Features = make(map[string]bool, len(t.Plan.Features))
	for k, v := range t.Plan.Features {
		c.Plan.Features[k] = v
	}
	c.Plan.Limits = make(map[string]int64, len(t.Plan.Limits))
	for k, v := range t.Plan.Limits {
		c.Plan.Limits[k] = v
	}
	return &c
}
