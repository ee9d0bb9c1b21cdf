package orchestrator

import (
	"fmt"
	"strconv"
	"time"

	"office-queue-backend/internal/fusion"
)

// Priority decides who wins when a physical press competes with the
// reservation queue.
type Priority string

const (
	PriorityPresence    Priority = "presence"
	PriorityReservation Priority = "reservation"
)

// Setting keys as stored in the settings table.
const (
	KeyReservationTimeout  = "reservation_timeout_minutes"
	KeyMaxOccupancy        = "max_occupancy_minutes"
	KeyMaxQueueSize        = "max_queue_size"
	KeyConflictPriority    = "conflict_priority"
	KeyAutoResetTime       = "auto_reset_time"
	KeyPIRAbsence          = "pir_absence_seconds"
	KeyMovementTimeout     = "movement_timeout_minutes"
	KeyPresenceThresholdCM = "presence_threshold_cm"
	KeyDualSensorMode      = "dual_sensor_mode"
	KeySampleMaxAge        = "sample_max_age_seconds"
	KeyOrphanEntryAge      = "orphan_entry_age_minutes"
)

// Tunables is the runtime configuration snapshot. The run loop holds one by
// value; an admin update replaces the whole snapshot between ticks, never
// mid-transition.
type Tunables struct {
	ReservationTimeout  time.Duration
	MaxOccupancy        time.Duration
	MaxQueueSize        int
	ConflictPriority    Priority
	AutoResetTime       string // "HH:MM" wall clock
	PIRAbsence          time.Duration
	MovementTimeout     time.Duration
	PresenceThresholdCM float64
	FusionMode          fusion.Mode
	SampleMaxAge        time.Duration
	OrphanEntryAge      time.Duration
}

// Defaults returns the factory configuration.
func Defaults() Tunables {
	return Tunables{
		ReservationTimeout:  3 * time.Minute,
		MaxOccupancy:        10 * time.Minute,
		MaxQueueSize:        7,
		ConflictPriority:    PriorityPresence,
		AutoResetTime:       "23:59",
		PIRAbsence:          30 * time.Second,
		MovementTimeout:     5 * time.Minute,
		PresenceThresholdCM: 200,
		FusionMode:          fusion.ModeAnd,
		SampleMaxAge:        10 * time.Second,
		OrphanEntryAge:      12 * time.Hour,
	}
}

// FromSettings overlays persisted settings onto the defaults. Unknown keys
// are ignored so older rows survive upgrades; malformed values are an error.
func FromSettings(values map[string]string) (Tunables, error) {
	t := Defaults()

	for key, raw := range values {
		var err error
		switch key {
		case KeyReservationTimeout:
			t.ReservationTimeout, err = minutes(raw)
		case KeyMaxOccupancy:
			t.MaxOccupancy, err = minutes(raw)
		case KeyMaxQueueSize:
			t.MaxQueueSize, err = strconv.Atoi(raw)
		case KeyConflictPriority:
			t.ConflictPriority = Priority(raw)
		case KeyAutoResetTime:
			t.AutoResetTime = raw
		case KeyPIRAbsence:
			t.PIRAbsence, err = seconds(raw)
		case KeyMovementTimeout:
			t.MovementTimeout, err = minutes(raw)
		case KeyPresenceThresholdCM:
			t.PresenceThresholdCM, err = strconv.ParseFloat(raw, 64)
		case KeyDualSensorMode:
			t.FusionMode = fusion.Mode(raw)
		case KeySampleMaxAge:
			t.SampleMaxAge, err = seconds(raw)
		case KeyOrphanEntryAge:
			t.OrphanEntryAge, err = minutes(raw)
		}
		if err != nil {
			return Tunables{}, fmt.Errorf("invalid setting %s=%q: %w", key, raw, err)
		}
	}

	if err := t.Validate(); err != nil {
		return Tunables{}, err
	}
	return t, nil
}

func minutes(raw string) (time.Duration, error) {
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(n * float64(time.Minute)), nil
}

func seconds(raw string) (time.Duration, error) {
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(n * float64(time.Second)), nil
}

// Settings flattens the snapshot back into settings-table rows.
func (t Tunables) Settings() map[string]string {
	return map[string]string{
		KeyReservationTimeout:  strconv.FormatFloat(t.ReservationTimeout.Minutes(), 'f', -1, 64),
		KeyMaxOccupancy:        strconv.FormatFloat(t.MaxOccupancy.Minutes(), 'f', -1, 64),
		KeyMaxQueueSize:        strconv.Itoa(t.MaxQueueSize),
		KeyConflictPriority:    string(t.ConflictPriority),
		KeyAutoResetTime:       t.AutoResetTime,
		KeyPIRAbsence:          strconv.FormatFloat(t.PIRAbsence.Seconds(), 'f', -1, 64),
		KeyMovementTimeout:     strconv.FormatFloat(t.MovementTimeout.Minutes(), 'f', -1, 64),
		KeyPresenceThresholdCM: strconv.FormatFloat(t.PresenceThresholdCM, 'f', -1, 64),
		KeyDualSensorMode:      string(t.FusionMode),
		KeySampleMaxAge:        strconv.FormatFloat(t.SampleMaxAge.Seconds(), 'f', -1, 64),
		KeyOrphanEntryAge:      strconv.FormatFloat(t.OrphanEntryAge.Minutes(), 'f', -1, 64),
	}
}

// Validate rejects snapshots that would wedge the state machine.
func (t Tunables) Validate() error {
	if t.ReservationTimeout <= 0 {
		return fmt.Errorf("reservation timeout must be positive, got %s", t.ReservationTimeout)
	}
	if t.MaxOccupancy <= 0 {
		return fmt.Errorf("max occupancy must be positive, got %s", t.MaxOccupancy)
	}
	if t.MaxQueueSize < 1 || t.MaxQueueSize > 100 {
		return fmt.Errorf("max queue size must be in [1,100], got %d", t.MaxQueueSize)
	}
	if t.ConflictPriority != PriorityPresence && t.ConflictPriority != PriorityReservation {
		return fmt.Errorf("unknown conflict priority %q", t.ConflictPriority)
	}
	if t.FusionMode != fusion.ModeAnd && t.FusionMode != fusion.ModeOr {
		return fmt.Errorf("unknown fusion mode %q", t.FusionMode)
	}
	if t.PIRAbsence <= 0 {
		return fmt.Errorf("pir absence threshold must be positive, got %s", t.PIRAbsence)
	}
	if t.MovementTimeout <= 0 {
		return fmt.Errorf("movement timeout must be positive, got %s", t.MovementTimeout)
	}
	if t.PresenceThresholdCM <= 0 {
		return fmt.Errorf("presence threshold must be positive, got %f", t.PresenceThresholdCM)
	}
	if t.OrphanEntryAge <= 0 {
		return fmt.Errorf("orphan entry age must be positive, got %s", t.OrphanEntryAge)
	}
	if _, err := time.Parse("15:04", t.AutoResetTime); err != nil {
		return fmt.Errorf("auto reset time must be HH:MM, got %q", t.AutoResetTime)
	}
	return nil
}

// FusionParams extracts the sensor-fusion slice of the snapshot.
func (t Tunables) FusionParams() fusion.Params {
	return fusion.Params{
		Mode:                t.FusionMode,
		PresenceThresholdCM: t.PresenceThresholdCM,
		MovementTimeout:     t.MovementTimeout,
		SampleMaxAge:        t.SampleMaxAge,
	}
}

// NextDailyReset returns the first occurrence of AutoResetTime strictly
// after now, in now's location.
func (t Tunables) NextDailyReset(now time.Time) time.Time {
	at, err := time.Parse("15:04", t.AutoResetTime)
	if err != nil {
		// Validate catches this; fall back to end of day.
		at, _ = time.Parse("15:04", "23:59")
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
