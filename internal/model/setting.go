package model

import "time"

// Setting is one key/value row backing the runtime tunables. The typed,
// validated view lives in the orchestrator; this is only storage.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"size:128;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
