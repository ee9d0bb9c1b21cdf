package model

import "time"

// Event types emitted by the orchestrator. The events table is append-only
// and is the sole source of truth for analytics and recovery diagnosis.
const (
	EventEntered        = "USER_ENTERED_OFFICE"
	EventLeft           = "USER_LEFT_OFFICE"
	EventBooked         = "RESERVATION_BOOKED"
	EventActivated      = "RESERVATION_ACTIVATED"
	EventNoShow         = "RESERVATION_NO_SHOW"
	EventCancelled      = "RESERVATION_CANCELLED"
	EventConflict       = "ACCESS_CONFLICT"
	EventForcedUnlock   = "FORCED_UNLOCK"
	EventDailyReset     = "DAILY_RESET"
	EventQueueCleared   = "QUEUE_CLEARED"
	EventSystemError    = "SYSTEM_ERROR"
	EventMaintenance    = "MAINTENANCE"
	EventRecovery       = "RECOVERY"
	EventConfigUpdated  = "CONFIG_UPDATED"
	EventDiagnostic     = "DIAGNOSTIC"
	EventWarningTimeout = "OCCUPANCY_TIMEOUT_WARNING"
)

// EventRecord is one append-only audit log entry. Write-once.
type EventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	At        time.Time `gorm:"index;not null"`
	Type      string    `gorm:"index;size:40;not null"`
	UserCode  *string   `gorm:"size:8"`
	StateFrom string    `gorm:"size:28"`
	StateTo   string    `gorm:"size:28"`
	QueueSize int       `gorm:"not null"`
	NoShow    bool      `gorm:"not null;default:false"`
	Conflict  bool      `gorm:"not null;default:false"`
	Details   string    `gorm:"size:512"`
}
