package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"office-queue-backend/internal/deadline"
	"office-queue-backend/internal/fusion"
	"office-queue-backend/internal/model"
	"office-queue-backend/internal/notification"
)

// evaluateSignal applies the fused sensor verdict: sustained absence ends a
// session, presence confirms a pending entry, a free room promotes the queue
// head, and a degraded signal parks the machine in SYSTEM_ERROR.
func (o *Orchestrator) evaluateSignal(ctx context.Context, now time.Time, sig fusion.Signal) {
	if o.maintenance {
		return
	}

	if sig.Degraded {
		if !o.failed {
			from := o.state
			o.failed = true
			o.state = StateSystemError
			ev := o.record(now, model.EventSystemError, from, nil)
			ev.Details = "both sensors unusable"
			o.commit(ctx, now, ev)
			o.notifier.Dispatch(notification.Job{Type: notification.EventSystemError})
		}
		return
	}
	if o.failed {
		from := o.state
		o.failed = false
		o.state = o.steadyState()
		ev := o.record(now, model.EventRecovery, from, nil)
		ev.Details = "sensor signal restored"
		o.commit(ctx, now, ev)
		if o.failed {
			// the restore commit itself failed; stay in error
			return
		}
	}

	switch {
	case o.session != nil:
		if sig.Present {
			o.absentSince = time.Time{}
			return
		}
		if o.absentSince.IsZero() {
			o.absentSince = now
			return
		}
		if now.Sub(o.absentSince) >= o.tun.PIRAbsence {
			o.vacate(ctx, now, model.OutcomeCompleted, model.EventLeft, "")
		}
	case o.pending != nil:
		if sig.Present {
			o.confirmEntry(ctx, now)
		}
	case len(o.queue) > 0:
		// promotion tick
		o.promoteNext(ctx, now)
	}
}

// openDirect starts an anonymous direct-access session. A phantom press is
// self-correcting: with nobody inside, the absence path closes the session
// after pir_absence_seconds.
func (o *Orchestrator) openDirect(ctx context.Context, now time.Time) {
	from := o.state
	sess, err := o.store.OpenSession(ctx, model.MethodDirect, nil, now)
	if err != nil {
		log.Printf("failed to open direct session: %v", err)
		return
	}
	o.session = sess
	o.absentSince = time.Time{}
	o.state = StateOccupiedDirect
	o.deadlines.Schedule(tagMaxOccupancy, now.Add(o.tun.MaxOccupancy))
	o.commit(ctx, now, o.record(now, model.EventEntered, from, nil))
}

// vacate closes the active session and returns the room to the queue.
func (o *Orchestrator) vacate(ctx context.Context, now time.Time, outcome, eventType, details string) {
	if o.session == nil {
		return
	}
	from := o.state
	sess := o.session
	if err := o.store.CloseSession(ctx, sess.ID, outcome, now); err != nil {
		log.Printf("failed to close session %s: %v", sess.ID, err)
	}
	o.session = nil
	o.warned = false
	o.absentSince = time.Time{}
	o.deadlines.Cancel(tagMaxOccupancy)
	if len(o.queue) > 0 {
		o.state = StateQueueActive
	} else {
		o.state = StateFree
	}
	ev := o.record(now, eventType, from, sess.UserCode)
	ev.Details = details
	o.commit(ctx, now, ev)
}

// confirmEntry admits the pending candidate once sensors see them inside.
func (o *Orchestrator) confirmEntry(ctx context.Context, now time.Time) {
	from := o.state
	entry := o.pending
	if err := o.store.CompleteEntry(ctx, entry.ID, now); err != nil {
		log.Printf("failed to complete entry %d: %v", entry.ID, err)
	}
	code := entry.UserCode
	sess, err := o.store.OpenSession(ctx, model.MethodReservation, &code, now)
	if err != nil {
		log.Printf("failed to open session for %s: %v", code, err)
		return
	}
	o.pending = nil
	o.session = sess
	o.absentSince = time.Time{}
	o.deadlines.Cancel(tagReservation)
	o.deadlines.Schedule(tagMaxOccupancy, now.Add(o.tun.MaxOccupancy))
	o.refreshQueue(ctx)
	o.state = StateOccupiedReserved
	o.commit(ctx, now, o.record(now, model.EventEntered, from, &code))
}

// promoteNext activates the queue head and opens its entry window.
func (o *Orchestrator) promoteNext(ctx context.Context, now time.Time) {
	head, err := o.store.PeekHead(ctx)
	if err != nil {
		log.Printf("failed to peek queue head: %v", err)
		return
	}
	if head == nil {
		o.refreshQueue(ctx)
		o.state = o.steadyState()
		return
	}
	from := o.state
	activatedAt := now
	deadlineAt := now.Add(o.tun.ReservationTimeout)
	if err := o.store.Promote(ctx, head.ID, activatedAt, deadlineAt); err != nil {
		log.Printf("failed to promote entry %d: %v", head.ID, err)
		return
	}
	head.Status = model.EntryActivated
	head.ActivatedAt = &activatedAt
	head.Deadline = &deadlineAt
	o.pending = head
	o.deadlines.Schedule(tagReservation, deadlineAt)
	o.refreshQueue(ctx)
	o.state = StateReservedPending
	o.commit(ctx, now, o.record(now, model.EventActivated, from, &head.UserCode))
	o.notifier.Dispatch(notification.Job{
		Type:           notification.EventYourTurn,
		UserCode:       head.UserCode,
		TimeoutMinutes: int(o.tun.ReservationTimeout.Minutes()),
	})
}

// expirePending marks the pending candidate a no-show. The next tick
// promotes whoever is behind them.
func (o *Orchestrator) expirePending(ctx context.Context, now time.Time) {
	from := o.state
	entry := o.pending
	if err := o.store.MarkNoShow(ctx, entry.ID, now); err != nil {
		log.Printf("failed to mark entry %d no-show: %v", entry.ID, err)
	}
	o.pending = nil
	o.deadlines.Cancel(tagReservation)
	o.refreshQueue(ctx)
	if len(o.queue) > 0 {
		o.state = StateQueueActive
	} else {
		o.state = StateFree
	}
	ev := o.record(now, model.EventNoShow, from, &entry.UserCode)
	ev.NoShow = true
	o.commit(ctx, now, ev)
	o.notifier.Dispatch(notification.Job{Type: notification.EventNoShow, UserCode: entry.UserCode})
}

func (o *Orchestrator) fireDeadline(ctx context.Context, now time.Time, tag deadline.Tag) {
	switch tag {
	case tagReservation:
		// Idempotent: a tag firing after the entry was already confirmed or
		// cancelled is a no-op.
		if o.pending == nil {
			o.diagnostic(ctx, now, "reservation deadline fired with no pending entry", nil)
			return
		}
		o.expirePending(ctx, now)
	case tagMaxOccupancy:
		if o.session == nil {
			o.diagnostic(ctx, now, "occupancy deadline fired with no session", nil)
			return
		}
		from := o.state
		o.warned = true
		o.state = StateWarningTimeout
		ev := o.record(now, model.EventWarningTimeout, from, o.session.UserCode)
		ev.Details = "occupied beyond max duration; advisory only"
		o.commit(ctx, now, ev)
		job := notification.Job{
			Type:           notification.EventTimeoutWarning,
			TimeoutMinutes: int(o.tun.MaxOccupancy.Minutes()),
		}
		if o.session.UserCode != nil {
			job.UserCode = *o.session.UserCode
		}
		o.notifier.Dispatch(job)
	case tagDailyReset:
		o.dailyReset(ctx, now)
	}
}

// dailyReset wipes queue and session at the configured wall-clock time.
func (o *Orchestrator) dailyReset(ctx context.Context, now time.Time) {
	from := o.state
	cleared, err := o.store.ClearQueue(ctx, now)
	if err != nil {
		log.Printf("failed to clear queue at daily reset: %v", err)
	}
	hadSession := o.session != nil
	if o.session != nil {
		if err := o.store.CloseSession(ctx, o.session.ID, model.OutcomeForcedUnlock, now); err != nil {
			log.Printf("failed to close session at daily reset: %v", err)
		}
		o.session = nil
	}
	o.pending = nil
	o.warned = false
	o.absentSince = time.Time{}
	o.deadlines.Cancel(tagReservation)
	o.deadlines.Cancel(tagMaxOccupancy)
	o.refreshQueue(ctx)
	if !o.failed && !o.maintenance {
		o.state = StateFree
	}
	ev := o.record(now, model.EventDailyReset, from, nil)
	ev.Details = fmt.Sprintf("cancelled %d queue entries", cleared)
	o.commit(ctx, now, ev)
	o.deadlines.Schedule(tagDailyReset, o.tun.NextDailyReset(now))
	if cleared > 0 || hadSession {
		o.notifier.Dispatch(notification.Job{Type: notification.EventSystemReset})
	}
}

// handleBooking admits or enqueues a web reservation. Validation and
// capacity rejections are synchronous and leave system state untouched.
func (o *Orchestrator) handleBooking(ctx context.Context, now time.Time, tr Trigger) Result {
	if o.failed || o.maintenance {
		return Result{Err: ErrUnavailable}
	}
	wasFree := o.state == StateFree && o.session == nil && o.pending == nil && len(o.queue) == 0

	entry, err := o.store.Enqueue(ctx, tr.UserCode, now, o.tun.MaxQueueSize)
	if err != nil {
		return Result{Err: err}
	}
	from := o.state
	code := tr.UserCode

	// An empty queue and a free room admit the booking on the spot.
	if wasFree {
		if err := o.store.CompleteEntry(ctx, entry.ID, now); err != nil {
			log.Printf("failed to complete immediate entry %d: %v", entry.ID, err)
		}
		sess, err := o.store.OpenSession(ctx, model.MethodReservation, &code, now)
		if err != nil {
			log.Printf("failed to open session for %s: %v", code, err)
			return Result{Err: ErrUnavailable}
		}
		o.session = sess
		o.absentSince = time.Time{}
		o.state = StateOccupiedReserved
		o.deadlines.Schedule(tagMaxOccupancy, now.Add(o.tun.MaxOccupancy))
		booked := o.record(now, model.EventBooked, from, &code)
		entered := o.record(now, model.EventEntered, from, &code)
		o.commit(ctx, now, booked, entered)
		return Result{Accepted: true, EntryID: entry.ID}
	}

	o.refreshQueue(ctx)
	switch from {
	case StateFree, StateOccupiedDirect, StateOccupiedReserved:
		o.state = StateQueueActive
	}
	position := o.positionOf(entry.ID)
	wait := o.estimateWait(ctx, now, position)
	o.commit(ctx, now, o.record(now, model.EventBooked, from, &code))
	o.notifier.Dispatch(notification.Job{
		Type:        notification.EventReservationConfirmed,
		UserCode:    code,
		Position:    position,
		WaitMinutes: wait,
	})
	return Result{Accepted: true, EntryID: entry.ID, Position: position, EstimatedWaitMinutes: wait}
}

// handleCancel withdraws a user's own open reservation.
func (o *Orchestrator) handleCancel(ctx context.Context, now time.Time, tr Trigger) Result {
	entry, err := o.store.OpenEntryForUser(ctx, tr.UserCode)
	if err != nil {
		return Result{Err: err}
	}
	if err := o.store.CancelEntry(ctx, entry.ID, now, false); err != nil {
		return Result{Err: err}
	}
	from := o.state
	if o.pending != nil && o.pending.ID == entry.ID {
		o.pending = nil
		o.deadlines.Cancel(tagReservation)
	}
	o.refreshQueue(ctx)
	if !o.failed && !o.maintenance {
		o.state = o.steadyState()
	}
	o.commit(ctx, now, o.record(now, model.EventCancelled, from, &entry.UserCode))
	return Result{Accepted: true, EntryID: entry.ID}
}

// handleReplace swaps the holder of a waiting slot, keeping its position.
func (o *Orchestrator) handleReplace(ctx context.Context, now time.Time, tr Trigger) Result {
	id := tr.EntryID
	if id == 0 {
		entry, err := o.store.OpenEntryForUser(ctx, tr.UserCode)
		if err != nil {
			return Result{Err: err}
		}
		id = entry.ID
	}
	if err := o.store.ReplaceEntry(ctx, id, tr.NewUserCode); err != nil {
		return Result{Err: err}
	}
	o.refreshQueue(ctx)
	ev := o.record(now, model.EventBooked, o.state, &tr.NewUserCode)
	ev.Details = fmt.Sprintf("took over queue slot of entry %d", id)
	if err := o.store.AppendEvent(ctx, ev); err != nil {
		log.Printf("failed to append replace event: %v", err)
	}
	return Result{Accepted: true, EntryID: id, Position: o.positionOf(id)}
}

// handleAdmin applies an administrative action. Admin actions are ordinary
// triggers in the same serialized stream; they do not bypass the machine.
func (o *Orchestrator) handleAdmin(ctx context.Context, now time.Time, tr Trigger) Result {
	switch tr.Admin {
	case AdminForceUnlock:
		if o.session == nil {
			o.diagnostic(ctx, now, "force unlock with no active session", nil)
			return Result{Accepted: true}
		}
		o.vacate(ctx, now, model.OutcomeForcedUnlock, model.EventForcedUnlock, "admin force unlock")
		return Result{Accepted: true}

	case AdminReset:
		from := o.state
		cleared, err := o.store.ClearQueue(ctx, now)
		if err != nil {
			log.Printf("failed to clear queue at admin reset: %v", err)
		}
		if o.session != nil {
			if err := o.store.CloseSession(ctx, o.session.ID, model.OutcomeForcedUnlock, now); err != nil {
				log.Printf("failed to close session at admin reset: %v", err)
			}
			o.session = nil
		}
		o.pending = nil
		o.warned = false
		o.failed = false
		o.absentSince = time.Time{}
		o.deadlines.Cancel(tagReservation)
		o.deadlines.Cancel(tagMaxOccupancy)
		o.refreshQueue(ctx)
		if !o.maintenance {
			o.state = StateFree
		}
		ev := o.record(now, model.EventForcedUnlock, from, nil)
		ev.Details = fmt.Sprintf("admin reset, cancelled %d queue entries", cleared)
		o.commit(ctx, now, ev)
		o.deadlines.Schedule(tagDailyReset, o.tun.NextDailyReset(now))
		o.notifier.Dispatch(notification.Job{Type: notification.EventSystemReset})
		return Result{Accepted: true}

	case AdminClearQueue:
		from := o.state
		cleared, err := o.store.ClearQueue(ctx, now)
		if err != nil {
			return Result{Err: err}
		}
		o.pending = nil
		o.deadlines.Cancel(tagReservation)
		o.refreshQueue(ctx)
		if !o.failed && !o.maintenance {
			o.state = o.steadyState()
		}
		ev := o.record(now, model.EventQueueCleared, from, nil)
		ev.Details = fmt.Sprintf("cancelled %d queue entries", cleared)
		o.commit(ctx, now, ev)
		if cleared > 0 {
			o.notifier.Dispatch(notification.Job{Type: notification.EventQueueCleared})
		}
		return Result{Accepted: true}

	case AdminMaintenanceOn:
		if o.maintenance {
			return Result{Accepted: true}
		}
		from := o.state
		if o.session != nil {
			if err := o.store.CloseSession(ctx, o.session.ID, model.OutcomeForcedUnlock, now); err != nil {
				log.Printf("failed to close session entering maintenance: %v", err)
			}
			o.session = nil
		}
		if o.pending != nil {
			if err := o.store.CancelEntry(ctx, o.pending.ID, now, false); err != nil {
				log.Printf("failed to cancel pending entry entering maintenance: %v", err)
			}
			o.pending = nil
		}
		o.warned = false
		o.absentSince = time.Time{}
		o.deadlines.Cancel(tagReservation)
		o.deadlines.Cancel(tagMaxOccupancy)
		o.maintenance = true
		o.state = StateMaintenance
		o.refreshQueue(ctx)
		ev := o.record(now, model.EventMaintenance, from, nil)
		ev.Details = "entered maintenance"
		o.commit(ctx, now, ev)
		return Result{Accepted: true}

	case AdminMaintenanceOff:
		if !o.maintenance {
			return Result{Accepted: true}
		}
		from := o.state
		o.maintenance = false
		if o.failed {
			o.state = StateSystemError
		} else {
			o.state = o.steadyState()
		}
		ev := o.record(now, model.EventMaintenance, from, nil)
		ev.Details = "exited maintenance"
		o.commit(ctx, now, ev)
		return Result{Accepted: true}

	case AdminUpdateConfig:
		if tr.Config == nil {
			return Result{Err: fmt.Errorf("missing configuration payload")}
		}
		if err := tr.Config.Validate(); err != nil {
			return Result{Err: err}
		}
		o.tun = *tr.Config
		o.tunSnap.Store(tr.Config)
		if err := o.store.PutSettings(ctx, o.tun.Settings(), now); err != nil {
			log.Printf("failed to persist settings: %v", err)
		}
		o.deadlines.Schedule(tagDailyReset, o.tun.NextDailyReset(now))
		ev := o.record(now, model.EventConfigUpdated, o.state, nil)
		if err := o.store.AppendEvent(ctx, ev); err != nil {
			log.Printf("failed to append config event: %v", err)
		}
		return Result{Accepted: true}

	default:
		o.diagnostic(ctx, now, fmt.Sprintf("unknown admin action %q", tr.Admin), nil)
		return Result{Err: fmt.Errorf("unknown admin action %q", tr.Admin)}
	}
}
