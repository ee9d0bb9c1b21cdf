package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"office-queue-backend/internal/model"
	"office-queue-backend/internal/store"
)

// Recover reconciles persisted state with live sensor readings. It runs
// exactly once, before the run loop starts, and is idempotent: a second run
// against the already-reconciled state changes nothing and logs no events.
//
// An unreadable store never silently proceeds; the machine boots into
// SYSTEM_ERROR and waits for an admin instead of guessing.
func (o *Orchestrator) Recover(ctx context.Context, now time.Time) error {
	if settings, err := o.store.Settings(ctx); err != nil {
		return o.bootFail(ctx, now, fmt.Errorf("settings unreadable: %w", err))
	} else if tun, err := FromSettings(settings); err != nil {
		// malformed rows are survivable; run on the compiled-in defaults
		log.Printf("ignoring persisted settings: %v", err)
	} else {
		o.tun = tun
		o.tunSnap.Store(&tun)
	}

	st, err := o.store.LoadState(ctx)
	if err != nil {
		return o.bootFail(ctx, now, fmt.Errorf("system state unreadable: %w", err))
	}

	if st != nil && st.LastMovementAt != nil {
		o.fuser.SeedMovement(*st.LastMovementAt)
	}
	sig := o.fuser.Evaluate(now, o.tun.FusionParams())
	o.lastSignal = sig

	prior := StateFree
	if st != nil {
		prior = State(st.State)
	}
	var events []model.EventRecord

	// Resolve the persisted session claim.
	if st != nil && st.SessionID != nil {
		sess, err := o.store.Session(ctx, *st.SessionID)
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			events = append(events, model.EventRecord{
				At: now, Type: model.EventRecovery,
				StateFrom: string(prior),
				Details:   fmt.Sprintf("persisted session %s missing", *st.SessionID),
			})
		case err != nil:
			return o.bootFail(ctx, now, fmt.Errorf("session %s unreadable: %w", *st.SessionID, err))
		case sess.EndedAt == nil:
			o.session = sess
		}
	}

	if st != nil {
		// Claimed occupied, but the room is observably empty: close the
		// interrupted session as completed, not no-show.
		if o.session != nil && !sig.Degraded && !sig.Present {
			idle := sig.LastMovement.IsZero() || now.Sub(sig.LastMovement) >= o.tun.PIRAbsence
			if idle {
				if err := o.store.CloseSession(ctx, o.session.ID, model.OutcomeCompleted, now); err != nil {
					return o.bootFail(ctx, now, fmt.Errorf("closing interrupted session: %w", err))
				}
				events = append(events, model.EventRecord{
					At: now, Type: model.EventRecovery,
					UserCode:  o.session.UserCode,
					StateFrom: string(prior),
					Details:   "closed interrupted session, room observed empty",
				})
				o.session = nil
			}
		}

		// Claimed free, but the room is observably occupied: open a
		// synthetic session so the queue head is not promoted into an
		// occupied room.
		if o.session == nil && !sig.Degraded && sig.Present {
			sess, err := o.store.OpenSession(ctx, model.MethodRecoveredUnknown, nil, now)
			if err != nil {
				return o.bootFail(ctx, now, fmt.Errorf("opening synthetic session: %w", err))
			}
			o.session = sess
			events = append(events, model.EventRecord{
				At: now, Type: model.EventRecovery,
				StateFrom: string(prior),
				Details:   "opened synthetic session, room observed occupied",
			})
		}
	}

	// Purge entries whose window elapsed during downtime and orphans nobody
	// will ever promote.
	entries, err := o.store.Queue(ctx)
	if err != nil {
		return o.bootFail(ctx, now, fmt.Errorf("queue unreadable: %w", err))
	}
	for i := range entries {
		e := entries[i]
		switch {
		case e.Status == model.EntryActivated && e.Deadline != nil && e.Deadline.Before(now):
			if err := o.store.MarkNoShow(ctx, e.ID, now); err != nil {
				return o.bootFail(ctx, now, fmt.Errorf("purging entry %d: %w", e.ID, err))
			}
			events = append(events, model.EventRecord{
				At: now, Type: model.EventNoShow, NoShow: true,
				UserCode:  &entries[i].UserCode,
				StateFrom: string(prior),
				Details:   "activation window elapsed during downtime",
			})
		case e.Status == model.EntryWaiting && now.Sub(e.EnqueuedAt) >= o.tun.OrphanEntryAge:
			if err := o.store.CancelEntry(ctx, e.ID, now, false); err != nil {
				return o.bootFail(ctx, now, fmt.Errorf("purging entry %d: %w", e.ID, err))
			}
			events = append(events, model.EventRecord{
				At: now, Type: model.EventCancelled,
				UserCode:  &entries[i].UserCode,
				StateFrom: string(prior),
				Details:   "orphaned entry purged at recovery",
			})
		}
	}
	o.refreshQueue(ctx)

	// Restore the pending candidate if its window is still open. With the
	// room occupied the candidate cannot enter; their slot is cancelled
	// rather than left activated forever.
	if st != nil && st.PendingEntryID != nil {
		entry, err := o.store.Entry(ctx, *st.PendingEntryID)
		if err == nil && entry.Status == model.EntryActivated && entry.Deadline != nil {
			if o.session == nil {
				o.pending = entry
				o.deadlines.Schedule(tagReservation, *entry.Deadline)
			} else {
				if err := o.store.CancelEntry(ctx, entry.ID, now, false); err != nil {
					return o.bootFail(ctx, now, fmt.Errorf("cancelling stranded entry %d: %w", entry.ID, err))
				}
				events = append(events, model.EventRecord{
					At: now, Type: model.EventCancelled,
					UserCode:  &entry.UserCode,
					StateFrom: string(prior),
					Details:   "pending entry cancelled, room occupied at recovery",
				})
				o.refreshQueue(ctx)
			}
		}
	}

	o.maintenance = prior == StateMaintenance
	o.warned = prior == StateWarningTimeout && o.session != nil && o.session.Method != model.MethodRecoveredUnknown
	if o.maintenance {
		o.state = StateMaintenance
	} else {
		o.state = o.steadyState()
	}
	if o.session != nil && !o.warned {
		o.deadlines.Schedule(tagMaxOccupancy, o.session.StartedAt.Add(o.tun.MaxOccupancy))
	}
	o.deadlines.Schedule(tagDailyReset, o.tun.NextDailyReset(now))

	for i := range events {
		events[i].StateTo = string(o.state)
		events[i].QueueSize = len(o.queue)
	}
	o.commit(ctx, now, events...)
	o.publish(ctx, now)
	log.Printf("recovery complete: %s -> %s, queue %d, %d repairs", prior, o.state, len(o.queue), len(events))
	return nil
}

func (o *Orchestrator) bootFail(ctx context.Context, now time.Time, err error) error {
	log.Printf("recovery failed: %v", err)
	o.failed = true
	o.state = StateSystemError
	o.publish(ctx, now)
	return err
}
