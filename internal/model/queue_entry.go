package model

import "time"

// Queue entry statuses. An entry is "open" while waiting or activated;
// every other status is terminal.
const (
	EntryWaiting   = "waiting"
	EntryActivated = "activated"
	EntryCompleted = "completed"
	EntryNoShow    = "no_show"
	EntryCancelled = "cancelled"
)

// QueueEntry represents one waiting reservation. Ordering is strict
// insertion order (EnqueuedAt, then ID as a tiebreak).
type QueueEntry struct {
	ID          int64      `gorm:"primaryKey;autoIncrement"`
	UserCode    string     `gorm:"index;size:8;not null"`
	EnqueuedAt  time.Time  `gorm:"index;not null"`
	Status      string     `gorm:"index;size:16;not null"`
	ActivatedAt *time.Time // set when promoted to next-in-line
	Deadline    *time.Time // activation deadline, set on promotion
	ClosedAt    *time.Time
	Conflict    bool `gorm:"not null;default:false"`
}

// Open reports whether the entry still occupies a queue slot.
func (e *QueueEntry) Open() bool {
	return e.Status == EntryWaiting || e.Status == EntryActivated
}
