package orchestrator

import "time"

// Occupant summarizes the active session for external surfaces.
type Occupant struct {
	SessionID       string    `json:"session_id"`
	Method          string    `json:"method"`
	UserCode        *string   `json:"user_code,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// QueueItem is one open queue slot as shown to clients. Position 1 is next
// in line.
type QueueItem struct {
	EntryID              int64      `json:"entry_id"`
	Position             int        `json:"position"`
	UserCode             string     `json:"user_code"`
	Status               string     `json:"status"`
	EnqueuedAt           time.Time  `json:"enqueued_at"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	EstimatedWaitMinutes int        `json:"estimated_wait_minutes"`
}

// Sensors is the fused sensor view at snapshot time.
type Sensors struct {
	Present      bool       `json:"present"`
	Degraded     bool       `json:"degraded"`
	PIRMovement  bool       `json:"pir_movement"`
	DistanceCM   float64    `json:"distance_cm"`
	LastMovement *time.Time `json:"last_movement,omitempty"`
}

// Snapshot is the immutable per-tick view of the whole system. The run loop
// publishes a fresh one every tick; readers never see a partially updated
// state.
type Snapshot struct {
	At                  time.Time   `json:"at"`
	State               State       `json:"state"`
	Occupant            *Occupant   `json:"occupant,omitempty"`
	Queue               []QueueItem `json:"queue"`
	QueueSize           int         `json:"queue_size"`
	Sensors             Sensors     `json:"sensors"`
	ReservationDeadline *time.Time  `json:"reservation_deadline,omitempty"`
	Maintenance         bool        `json:"maintenance"`
}
