package orchestrator

import (
	"context"
	"log"
	"time"

	"office-queue-backend/internal/model"
)

// handlePress arbitrates a physical button press against the current state.
// With a reservation active, pending, or queued, the winner is decided by
// the configured conflict priority.
func (o *Orchestrator) handlePress(ctx context.Context, now time.Time) Result {
	if o.failed || o.maintenance {
		o.diagnostic(ctx, now, "press ignored in "+string(o.state), nil)
		return Result{Err: ErrUnavailable}
	}

	// A repeated press while a direct occupant is inside carries no new
	// information.
	if o.session != nil && o.session.Method != model.MethodReservation {
		o.diagnostic(ctx, now, "press while already occupied", nil)
		return Result{Err: ErrOccupied}
	}

	if o.session == nil && o.pending == nil && len(o.queue) == 0 {
		o.openDirect(ctx, now)
		return Result{Accepted: true}
	}

	return o.resolveConflict(ctx, now)
}

// resolveConflict settles direct-versus-reserved contention.
//
// presence priority: the press always wins and cancels at most one active or
// pending reservation, flagged conflict_occurred. reservation priority: the
// press is rejected with an advisory while a reservation holds or is
// pending; with a non-empty queue and nobody promoted yet, queue order is
// still authoritative and the press is likewise rejected.
func (o *Orchestrator) resolveConflict(ctx context.Context, now time.Time) Result {
	if o.tun.ConflictPriority == PriorityReservation {
		ev := o.record(now, model.EventConflict, o.state, nil)
		ev.Conflict = true
		ev.Details = "press rejected, reservation holds"
		if err := o.store.AppendEvent(ctx, ev); err != nil {
			log.Printf("failed to append conflict event: %v", err)
		}
		return Result{Err: ErrReserved}
	}

	from := o.state
	var displaced *string
	switch {
	case o.session != nil:
		// a reserved occupant is displaced
		sess := o.session
		if err := o.store.CloseSession(ctx, sess.ID, model.OutcomeForcedUnlock, now); err != nil {
			log.Printf("failed to close displaced session %s: %v", sess.ID, err)
		}
		o.session = nil
		o.warned = false
		o.deadlines.Cancel(tagMaxOccupancy)
		displaced = sess.UserCode
	case o.pending != nil:
		entry := o.pending
		if err := o.store.CancelEntry(ctx, entry.ID, now, true); err != nil {
			log.Printf("failed to cancel displaced entry %d: %v", entry.ID, err)
		}
		o.pending = nil
		o.deadlines.Cancel(tagReservation)
		displaced = &entry.UserCode
	}

	sess, err := o.store.OpenSession(ctx, model.MethodDirect, nil, now)
	if err != nil {
		log.Printf("failed to open direct session after conflict: %v", err)
		return Result{Err: ErrUnavailable}
	}
	o.session = sess
	o.absentSince = time.Time{}
	o.deadlines.Schedule(tagMaxOccupancy, now.Add(o.tun.MaxOccupancy))
	o.refreshQueue(ctx)
	o.state = StateOccupiedDirect

	conflict := o.record(now, model.EventConflict, from, displaced)
	conflict.Conflict = true
	conflict.Details = "direct press won over reservation"
	entered := o.record(now, model.EventEntered, from, nil)
	o.commit(ctx, now, conflict, entered)
	return Result{Accepted: true}
}
