package fusion

import (
	"sync"
	"time"
)

// Mode selects how the two sensors are combined. AND requires ultrasonic
// presence plus confirmed movement; OR accepts either. AND suppresses the
// ultrasonic sensor's static-object false positives, OR covers stationary
// occupants the PIR misses.
type Mode string

const (
	ModeAnd Mode = "AND"
	ModeOr  Mode = "OR"
)

// Kind identifies which physical sensor produced a sample.
type Kind string

const (
	KindPIR        Kind = "pir"
	KindUltrasonic Kind = "ultrasonic"
)

// Sample is one raw reading delivered by the sensor glue. A non-empty Err
// marks a hardware read failure; the sample still updates freshness so the
// fault is observable.
type Sample struct {
	Kind       Kind
	At         time.Time
	Motion     bool    // PIR only
	DistanceCM float64 // ultrasonic only
	Err        string
}

// Params are the fusion tunables, immutable per evaluation.
type Params struct {
	Mode                Mode
	PresenceThresholdCM float64
	MovementTimeout     time.Duration
	// SampleMaxAge bounds how old a reading may be before the sensor is
	// treated as unknown.
	SampleMaxAge time.Duration
}

// Signal is the fused occupancy verdict.
type Signal struct {
	Present      bool
	Degraded     bool // both sensors unusable; maps to SYSTEM_ERROR upstream
	PIRMovement  bool
	DistanceCM   float64
	LastMovement time.Time // zero if no positive PIR reading was ever seen
}

// Fuser accumulates the latest sample per sensor and evaluates them into a
// single presence boolean. Safe for concurrent Apply/Evaluate.
type Fuser struct {
	mu           sync.Mutex
	pir          Sample
	ultrasonic   Sample
	lastMovement time.Time
}

func NewFuser() *Fuser {
	return &Fuser{}
}

// Apply records a sample, replacing the previous one of the same kind.
func (f *Fuser) Apply(s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch s.Kind {
	case KindPIR:
		f.pir = s
		if s.Err == "" && s.Motion {
			f.lastMovement = s.At
		}
	case KindUltrasonic:
		f.ultrasonic = s
	}
}

// SeedMovement restores the last confirmed movement time, used by recovery
// to carry the persisted value across a restart.
func (f *Fuser) SeedMovement(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if at.After(f.lastMovement) {
		f.lastMovement = at
	}
}

func usable(s Sample, now time.Time, maxAge time.Duration) bool {
	if s.At.IsZero() || s.Err != "" {
		return false
	}
	return maxAge <= 0 || now.Sub(s.At) <= maxAge
}

// Evaluate fuses the latest samples into a Signal. A sensor that has failed
// or gone stale counts as unknown: under OR the healthy sensor decides alone,
// under AND a single healthy sensor also decides alone, and with both
// unknown the signal is degraded rather than a silent "free".
func (f *Fuser) Evaluate(now time.Time, p Params) Signal {
	f.mu.Lock()
	defer f.mu.Unlock()

	pirOK := usable(f.pir, now, p.SampleMaxAge)
	usOK := usable(f.ultrasonic, now, p.SampleMaxAge)

	movementConfirmed := !f.lastMovement.IsZero() &&
		now.Sub(f.lastMovement) < p.MovementTimeout
	distancePresence := usOK && f.ultrasonic.DistanceCM < p.PresenceThresholdCM

	sig := Signal{
		PIRMovement:  pirOK && f.pir.Motion,
		DistanceCM:   f.ultrasonic.DistanceCM,
		LastMovement: f.lastMovement,
	}

	switch {
	case !pirOK && !usOK:
		sig.Degraded = true
	case pirOK && usOK:
		if p.Mode == ModeAnd {
			sig.Present = distancePresence && (sig.PIRMovement || movementConfirmed)
		} else {
			sig.Present = distancePresence || movementConfirmed
		}
	case usOK:
		sig.Present = distancePresence
	default: // only PIR usable
		sig.Present = sig.PIRMovement || movementConfirmed
	}

	return sig
}
