package model

import "time"

// Access methods for an occupant session.
const (
	MethodDirect      = "direct"
	MethodReservation = "reservation"
	// MethodRecoveredUnknown marks a session opened by the recovery manager
	// when the room was physically occupied but no persisted session explains it.
	MethodRecoveredUnknown = "recovered_unknown"
)

// Session outcomes.
const (
	OutcomeCompleted    = "completed"
	OutcomeNoShow       = "no_show"
	OutcomeForcedUnlock = "forced_unlock"
)

// OccupantSession represents one use of the office. It is created when a
// session begins and never mutated again once EndedAt is set.
type OccupantSession struct {
	ID        string     `gorm:"primaryKey;size:36"`
	Method    string     `gorm:"size:24;not null"`
	UserCode  *string    `gorm:"size:8"` // nil for anonymous direct access
	StartedAt time.Time  `gorm:"index;not null"`
	EndedAt   *time.Time `gorm:"index"`
	Outcome   string     `gorm:"size:16"` // empty while the session is active
}

// DurationMinutes returns the closed session's duration, or 0 while active.
func (s *OccupantSession) DurationMinutes() int {
	if s.EndedAt == nil {
		return 0
	}
	return int(s.EndedAt.Sub(s.StartedAt).Minutes())
}
