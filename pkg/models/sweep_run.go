package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SweepStatusPending   = "pending"
	SweepStatusRunning   = "running"
	SweepStatusCompleted = "completed"
	SweepStatusFailed    = "failed"
)

const (
	SweepTriggerSchedule = "schedule"
	SweepTriggerManual   = "manual"
	SweepTriggerCLI      = "cli"
)

// SweepRun records one reconciliation sweep. Runs move pending -> running ->
// completed or failed.
type SweepRun struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Trigger      string     `db:"triggered_by"  json:"trigger"`
	Status       string     `db:"status"        json:"status"`
	Checked      int        `db:"checked"       json:"checked"`
	Expired      int        `db:"expired"       json:"expired"`
	Skipped      int        `db:"skipped"       json:"skipped"`
	Failed       int        `db:"failed"        json:"failed"`
	Reminded     int        `db:"reminded"      json:"reminded"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}
