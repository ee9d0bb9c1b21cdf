package model

import "time"

// SystemState is the single persisted row (ID=1) describing the occupancy
// state machine. It is written in the same transaction as the event record
// for every transition, so a restart can reconcile against it.
type SystemState struct {
	ID             int64  `gorm:"primaryKey"`
	State          string `gorm:"size:28;not null"`
	SessionID      *string
	PendingEntryID *int64
	LastMovementAt *time.Time
	UpdatedAt      time.Time `gorm:"not null"`
}
