package store

import (
	"errors"
	"time"
)

// Rejection reasons surfaced synchronously to callers. These never alter
// system state.
var (
	ErrUnknownUser     = errors.New("unknown user code")
	ErrDuplicateUser   = errors.New("user already holds an open queue entry")
	ErrQueueFull       = errors.New("queue is full")
	ErrEntryNotFound   = errors.New("queue entry not found")
	ErrSessionNotFound = errors.New("occupant session not found")
)

// DailyStats aggregates one day of raw session and event records.
type DailyStats struct {
	Date               string           `json:"date"`
	TotalSessions      int64            `json:"total_sessions"`
	AvgDurationMinutes float64          `json:"avg_duration_minutes"`
	TotalMinutes       int64            `json:"total_minutes"`
	NoShows            int64            `json:"no_shows"`
	AccessMethods      map[string]int64 `json:"access_methods"`
}

// RetentionCutoffs bounds the nightly cleanup sweep.
type RetentionCutoffs struct {
	ClosedEntriesBefore time.Time
	EventsBefore        time.Time
}
