package orchestrator

import (
	"errors"
	"time"
)

// State names the occupancy state machine's externally visible states.
type State string

const (
	StateFree             State = "FREE"
	StateOccupiedDirect   State = "OCCUPIED_DIRECT"
	StateOccupiedReserved State = "OCCUPIED_RESERVED"
	StateQueueActive      State = "QUEUE_ACTIVE"
	StateReservedPending  State = "RESERVED_PENDING_ENTRY"
	StateWarningTimeout   State = "WARNING_TIMEOUT"
	StateSystemError      State = "SYSTEM_ERROR"
	StateMaintenance      State = "MAINTENANCE"
)

// Occupied reports whether the state implies an active occupant session.
func (s State) Occupied() bool {
	switch s {
	case StateOccupiedDirect, StateOccupiedReserved, StateWarningTimeout:
		return true
	}
	return false
}

// TriggerKind enumerates the inputs the run loop consumes. Everything that
// can mutate system state arrives as one of these; nothing mutates directly.
type TriggerKind string

const (
	TriggerDirectPress    TriggerKind = "direct_press"
	TriggerBooking        TriggerKind = "booking_request"
	TriggerCancelBooking  TriggerKind = "booking_cancel"
	TriggerReplaceBooking TriggerKind = "booking_replace"
	TriggerAdmin          TriggerKind = "admin_action"
)

// AdminOp selects the admin action carried by a TriggerAdmin.
type AdminOp string

const (
	AdminForceUnlock     AdminOp = "force_unlock"
	AdminReset           AdminOp = "reset"
	AdminClearQueue      AdminOp = "clear_queue"
	AdminMaintenanceOn   AdminOp = "maintenance_on"
	AdminMaintenanceOff  AdminOp = "maintenance_off"
	AdminUpdateConfig    AdminOp = "update_config"
)

// Trigger is one serialized input to the state machine.
type Trigger struct {
	Kind        TriggerKind
	UserCode    string
	EntryID     int64
	NewUserCode string    // booking_replace only
	Admin       AdminOp   // admin_action only
	Config      *Tunables // admin update_config only
	At          time.Time

	reply chan Result
}

// Result is the synchronous acknowledgement for a trigger. A rejection
// carries Err and never alters system state.
type Result struct {
	Accepted             bool
	Err                  error
	EntryID              int64
	Position             int
	EstimatedWaitMinutes int
}

// Trigger rejection reasons beyond the queue store's own.
var (
	ErrUnavailable = errors.New("system is not accepting requests")
	ErrOccupied    = errors.New("office is already occupied")
	ErrReserved    = errors.New("office is reserved, please wait")
)
