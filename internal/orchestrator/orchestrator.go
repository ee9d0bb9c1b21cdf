// Package orchestrator owns the occupancy state machine. One run loop
// evaluates sensors, triggers, and deadlines on a fixed tick; it is the only
// writer of system state. Everything else submits triggers or reads
// snapshots.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"office-queue-backend/internal/deadline"
	"office-queue-backend/internal/fusion"
	"office-queue-backend/internal/model"
	"office-queue-backend/internal/notification"
	"office-queue-backend/internal/store"
)

// Notifier receives typed notification jobs. Delivery is asynchronous; a
// failed notification is logged by the pool and never becomes a
// state-machine fault.
type Notifier interface {
	Dispatch(job notification.Job)
}

// Deadlines are evaluated every tick rather than via per-deadline timers, so
// their firing is serialized with trigger processing.
const (
	tagReservation  deadline.Tag = "reservation"
	tagMaxOccupancy deadline.Tag = "max_occupancy"
	tagDailyReset   deadline.Tag = "daily_reset"
)

type Orchestrator struct {
	store    store.Store
	fuser    *fusion.Fuser
	notifier Notifier
	tick     time.Duration

	triggers chan Trigger
	snap     atomic.Pointer[Snapshot]
	tunSnap  atomic.Pointer[Tunables]

	// Fields below are owned by the run loop. Recover touches them too, but
	// it runs to completion before the loop starts.
	tun         Tunables
	deadlines   *deadline.Set
	state       State
	session     *model.OccupantSession
	pending     *model.QueueEntry
	queue       []model.QueueEntry
	lastSignal  fusion.Signal
	absentSince time.Time
	warned      bool
	failed      bool
	maintenance bool

	avgWait   float64
	avgWaitAt time.Time
}

func New(st store.Store, fuser *fusion.Fuser, notifier Notifier, tun Tunables, tick time.Duration) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		fuser:     fuser,
		notifier:  notifier,
		tick:      tick,
		triggers:  make(chan Trigger, 64),
		deadlines: deadline.NewSet(),
		tun:       tun,
		state:     StateFree,
	}
	o.tunSnap.Store(&tun)
	o.snap.Store(&Snapshot{State: StateFree, Queue: []QueueItem{}})
	return o
}

// Snapshot returns the view published by the last tick. Never nil.
func (o *Orchestrator) Snapshot() *Snapshot {
	return o.snap.Load()
}

// CurrentTunables returns the configuration snapshot in effect.
func (o *Orchestrator) CurrentTunables() Tunables {
	return *o.tunSnap.Load()
}

// ApplySample feeds one raw sensor reading. Samples only take effect at the
// next tick's evaluation, so they bypass the trigger queue safely.
func (o *Orchestrator) ApplySample(s fusion.Sample) {
	o.fuser.Apply(s)
}

// SubmitWait serializes a trigger into the run loop and waits for the
// acknowledgement produced on the next tick. The state transition itself
// remains asynchronous relative to the caller.
func (o *Orchestrator) SubmitWait(ctx context.Context, tr Trigger) (Result, error) {
	tr.reply = make(chan Result, 1)
	select {
	case o.triggers <- tr:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-tr.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Submit enqueues a trigger without waiting for its result.
func (o *Orchestrator) Submit(tr Trigger) {
	select {
	case o.triggers <- tr:
	default:
		log.Printf("trigger queue full, dropping %s", tr.Kind)
	}
}

// Run drives the tick loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	log.Printf("orchestrator started, tick %s", o.tick)
	timer := time.NewTimer(o.tick)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("orchestrator shutting down in state %s", o.state)
			return
		case <-timer.C:
			o.step(ctx, time.Now().UTC())
			timer.Reset(o.tick)
		}
	}
}

// step runs one full evaluation: pending triggers first, then the fused
// sensor signal, then expired deadlines, then snapshot publication. At most
// one transition chain is ever in flight.
func (o *Orchestrator) step(ctx context.Context, now time.Time) {
	o.refreshQueue(ctx)
	o.drainTriggers(ctx, now)

	sig := o.fuser.Evaluate(now, o.tun.FusionParams())
	o.lastSignal = sig
	o.evaluateSignal(ctx, now, sig)

	if o.failed || o.maintenance {
		// Automatic transitions are suspended; only the daily reset still
		// fires. Other deadlines stay armed and fire after recovery.
		if at, ok := o.deadlines.At(tagDailyReset); ok && !at.After(now) {
			o.deadlines.Cancel(tagDailyReset)
			o.dailyReset(ctx, now)
		}
	} else {
		for _, tag := range o.deadlines.Expired(now) {
			o.fireDeadline(ctx, now, tag)
		}
	}

	o.publish(ctx, now)
}

func (o *Orchestrator) drainTriggers(ctx context.Context, now time.Time) {
	for {
		select {
		case tr := <-o.triggers:
			res := o.handle(ctx, now, tr)
			if tr.reply != nil {
				tr.reply <- res
			}
		default:
			return
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, now time.Time, tr Trigger) Result {
	switch tr.Kind {
	case TriggerDirectPress:
		return o.handlePress(ctx, now)
	case TriggerBooking:
		return o.handleBooking(ctx, now, tr)
	case TriggerCancelBooking:
		return o.handleCancel(ctx, now, tr)
	case TriggerReplaceBooking:
		return o.handleReplace(ctx, now, tr)
	case TriggerAdmin:
		return o.handleAdmin(ctx, now, tr)
	default:
		o.diagnostic(ctx, now, fmt.Sprintf("unknown trigger kind %q", tr.Kind), nil)
		return Result{Err: ErrUnavailable}
	}
}

func (o *Orchestrator) refreshQueue(ctx context.Context) {
	queue, err := o.store.Queue(ctx)
	if err != nil {
		log.Printf("failed to refresh queue: %v", err)
		return
	}
	o.queue = queue
}

// record builds an event for a transition that just set o.state.
func (o *Orchestrator) record(now time.Time, typ string, from State, userCode *string) model.EventRecord {
	return model.EventRecord{
		At:        now,
		Type:      typ,
		UserCode:  userCode,
		StateFrom: string(from),
		StateTo:   string(o.state),
		QueueSize: len(o.queue),
	}
}

// diagnostic logs a no-op trigger. The state machine is total: unlisted
// (state, trigger) pairs land here instead of faulting.
func (o *Orchestrator) diagnostic(ctx context.Context, now time.Time, details string, userCode *string) {
	ev := o.record(now, model.EventDiagnostic, o.state, userCode)
	ev.Details = details
	if err := o.store.AppendEvent(ctx, ev); err != nil {
		log.Printf("failed to append diagnostic event: %v", err)
	}
}

// commit persists the post-transition state together with its events. A
// failed write is a persistence fault affecting system state, so the machine
// enters SYSTEM_ERROR rather than continuing on unverified state.
func (o *Orchestrator) commit(ctx context.Context, now time.Time, events ...model.EventRecord) {
	st := &model.SystemState{State: string(o.state), UpdatedAt: now}
	if o.session != nil {
		id := o.session.ID
		st.SessionID = &id
	}
	if o.pending != nil {
		id := o.pending.ID
		st.PendingEntryID = &id
	}
	if !o.lastSignal.LastMovement.IsZero() {
		at := o.lastSignal.LastMovement
		st.LastMovementAt = &at
	}
	if err := o.store.SaveTransition(ctx, st, events...); err != nil {
		log.Printf("failed to persist transition to %s: %v", o.state, err)
		if !o.failed {
			o.failed = true
			o.state = StateSystemError
			o.notifier.Dispatch(notification.Job{Type: notification.EventSystemError})
		}
	}
}

// steadyState derives the label from the ground truth after a period where
// transition history was lost (error recovery, maintenance exit, restart).
func (o *Orchestrator) steadyState() State {
	switch {
	case o.session != nil:
		if o.warned {
			return StateWarningTimeout
		}
		if len(o.queue) > 0 {
			return StateQueueActive
		}
		if o.session.Method == model.MethodReservation {
			return StateOccupiedReserved
		}
		return StateOccupiedDirect
	case o.pending != nil:
		return StateReservedPending
	case len(o.queue) > 0:
		return StateQueueActive
	default:
		return StateFree
	}
}

func (o *Orchestrator) positionOf(entryID int64) int {
	for i := range o.queue {
		if o.queue[i].ID == entryID {
			return i + 1
		}
	}
	return 0
}

// averageWait estimates minutes per queue position from the last week of
// completed sessions, refreshed at most once a minute. With no history it
// assumes a full occupancy slot.
func (o *Orchestrator) averageWait(ctx context.Context, now time.Time) float64 {
	if o.avgWaitAt.IsZero() || now.Sub(o.avgWaitAt) > time.Minute {
		avg, err := o.store.AverageOccupationMinutes(ctx, now.AddDate(0, 0, -7))
		if err != nil {
			log.Printf("failed to compute average occupation: %v", err)
			avg = 0
		}
		if avg <= 0 {
			avg = o.tun.MaxOccupancy.Minutes()
		}
		o.avgWait = avg
		o.avgWaitAt = now
	}
	return o.avgWait
}

func (o *Orchestrator) estimateWait(ctx context.Context, now time.Time, position int) int {
	if position <= 0 {
		return 0
	}
	return int(o.averageWait(ctx, now) * float64(position))
}

func (o *Orchestrator) publish(ctx context.Context, now time.Time) {
	snap := &Snapshot{
		At:          now,
		State:       o.state,
		Queue:       make([]QueueItem, 0, len(o.queue)),
		QueueSize:   len(o.queue),
		Maintenance: o.maintenance,
	}
	if o.session != nil {
		snap.Occupant = &Occupant{
			SessionID:       o.session.ID,
			Method:          o.session.Method,
			UserCode:        o.session.UserCode,
			StartedAt:       o.session.StartedAt,
			DurationMinutes: int(now.Sub(o.session.StartedAt).Minutes()),
		}
	}
	avg := o.averageWait(ctx, now)
	for i := range o.queue {
		e := o.queue[i]
		snap.Queue = append(snap.Queue, QueueItem{
			EntryID:              e.ID,
			Position:             i + 1,
			UserCode:             e.UserCode,
			Status:               e.Status,
			EnqueuedAt:           e.EnqueuedAt,
			Deadline:             e.Deadline,
			EstimatedWaitMinutes: int(avg * float64(i+1)),
		})
	}
	if o.pending != nil {
		snap.ReservationDeadline = o.pending.Deadline
	}
	snap.Sensors = Sensors{
		Present:     o.lastSignal.Present,
		Degraded:    o.lastSignal.Degraded,
		PIRMovement: o.lastSignal.PIRMovement,
		DistanceCM:  o.lastSignal.DistanceCM,
	}
	if !o.lastSignal.LastMovement.IsZero() {
		lm := o.lastSignal.LastMovement
		snap.Sensors.LastMovement = &lm
	}
	o.snap.Store(snap)
}
