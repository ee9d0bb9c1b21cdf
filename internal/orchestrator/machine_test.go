package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"office-queue-backend/internal/fusion"
	"office-queue-backend/internal/model"
	"office-queue-backend/internal/notification"
	"office-queue-backend/internal/store"
)

type fakeNotifier struct {
	jobs []notification.Job
}

func (f *fakeNotifier) Dispatch(job notification.Job) {
	f.jobs = append(f.jobs, job)
}

func (f *fakeNotifier) byType(typ notification.EventType) []notification.Job {
	var out []notification.Job
	for _, j := range f.jobs {
		if j.Type == typ {
			out = append(out, j)
		}
	}
	return out
}

func newRig(t *testing.T, tun Tunables) (*Orchestrator, store.Store, *fakeNotifier) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.QueueEntry{},
		&model.OccupantSession{},
		&model.SystemState{},
		&model.EventRecord{},
		&model.Setting{},
	))
	for _, u := range []model.User{
		{Code: "01", Name: "Mario Rossi"},
		{Code: "02", Name: "Luigi Verdi"},
		{Code: "03", Name: "Giuseppe Bianchi"},
	} {
		require.NoError(t, db.Create(&u).Error)
	}
	st := store.NewGormStore(db)
	fn := &fakeNotifier{}
	o := New(st, fusion.NewFuser(), fn, tun, 100*time.Millisecond)
	return o, st, fn
}

// newRigOver builds a second orchestrator over an existing store, as a
// process restart would.
func newRigOver(t *testing.T, st store.Store) (*Orchestrator, *fakeNotifier) {
	t.Helper()
	fn := &fakeNotifier{}
	return New(st, fusion.NewFuser(), fn, Defaults(), 100*time.Millisecond), fn
}

func present(o *Orchestrator, at time.Time) {
	o.ApplySample(fusion.Sample{Kind: fusion.KindPIR, At: at, Motion: true})
	o.ApplySample(fusion.Sample{Kind: fusion.KindUltrasonic, At: at, DistanceCM: 80})
}

func absent(o *Orchestrator, at time.Time) {
	o.ApplySample(fusion.Sample{Kind: fusion.KindPIR, At: at, Motion: false})
	o.ApplySample(fusion.Sample{Kind: fusion.KindUltrasonic, At: at, DistanceCM: 350})
}

// submit pushes a trigger and runs one tick so the acknowledgement is
// produced, mirroring how the transport layer experiences the machine.
func submit(t *testing.T, o *Orchestrator, now time.Time, tr Trigger) Result {
	t.Helper()
	tr.reply = make(chan Result, 1)
	o.triggers <- tr
	o.step(context.Background(), now)
	return <-tr.reply
}

func countEvents(t *testing.T, st store.Store, typ string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, st.DB().Model(&model.EventRecord{}).Where("type = ?", typ).Count(&n).Error)
	return n
}

func TestDirectAccessLifecycle(t *testing.T) {
	ctx := context.Background()
	o, st, _ := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	present(o, base)
	res := submit(t, o, base, Trigger{Kind: TriggerDirectPress})
	require.True(t, res.Accepted)
	assert.Equal(t, StateOccupiedDirect, o.Snapshot().State)
	require.NotNil(t, o.Snapshot().Occupant)
	assert.Equal(t, model.MethodDirect, o.Snapshot().Occupant.Method)

	// A second press carries no information and changes nothing.
	res = submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerDirectPress})
	assert.ErrorIs(t, res.Err, ErrOccupied)
	assert.Equal(t, StateOccupiedDirect, o.Snapshot().State)

	// Absence must be sustained before the session closes.
	t1 := base.Add(time.Minute)
	absent(o, t1)
	o.step(ctx, t1)
	assert.Equal(t, StateOccupiedDirect, o.Snapshot().State)

	t2 := t1.Add(31 * time.Second)
	absent(o, t2)
	o.step(ctx, t2)
	assert.Equal(t, StateFree, o.Snapshot().State)
	assert.Nil(t, o.Snapshot().Occupant)

	var sessions []model.OccupantSession
	require.NoError(t, st.DB().Find(&sessions).Error)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.OutcomeCompleted, sessions[0].Outcome)
	assert.EqualValues(t, 1, countEvents(t, st, model.EventLeft))
}

func TestBookingWhenFreeAdmitsImmediately(t *testing.T) {
	o, _, _ := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	present(o, base)

	res := submit(t, o, base, Trigger{Kind: TriggerBooking, UserCode: "01"})
	require.True(t, res.Accepted)
	assert.Equal(t, StateOccupiedReserved, o.Snapshot().State)
	require.NotNil(t, o.Snapshot().Occupant)
	assert.Equal(t, model.MethodReservation, o.Snapshot().Occupant.Method)
	require.NotNil(t, o.Snapshot().Occupant.UserCode)
	assert.Equal(t, "01", *o.Snapshot().Occupant.UserCode)
	assert.Zero(t, o.Snapshot().QueueSize)
}

func TestBookingWhileOccupiedQueues(t *testing.T) {
	o, _, fn := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerDirectPress})

	res := submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})
	require.True(t, res.Accepted)
	assert.Equal(t, 1, res.Position)
	assert.Positive(t, res.EstimatedWaitMinutes)
	assert.Equal(t, StateQueueActive, o.Snapshot().State)
	require.Len(t, o.Snapshot().Queue, 1)
	assert.Equal(t, model.EntryWaiting, o.Snapshot().Queue[0].Status)

	confirmed := fn.byType(notification.EventReservationConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "01", confirmed[0].UserCode)

	// Duplicate and capacity rejections are synchronous and stateless.
	res = submit(t, o, base.Add(2*time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})
	assert.ErrorIs(t, res.Err, store.ErrDuplicateUser)
	assert.Equal(t, 1, o.Snapshot().QueueSize)
}

func TestPromotionNoShowAndNextInLine(t *testing.T) {
	ctx := context.Background()
	o, st, fn := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerDirectPress})
	submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})
	submit(t, o, base.Add(2*time.Second), Trigger{Kind: TriggerBooking, UserCode: "02"})

	// Occupant leaves; the room returns to the queue.
	t1 := base.Add(10 * time.Second)
	absent(o, t1)
	o.step(ctx, t1)
	t2 := t1.Add(31 * time.Second)
	absent(o, t2)
	o.step(ctx, t2)
	assert.Equal(t, StateQueueActive, o.Snapshot().State)

	// Promotion tick: the head gets a bounded entry window.
	t3 := t2.Add(time.Second)
	absent(o, t3)
	o.step(ctx, t3)
	assert.Equal(t, StateReservedPending, o.Snapshot().State)
	require.NotNil(t, o.Snapshot().ReservationDeadline)
	assert.Equal(t, t3.Add(3*time.Minute), o.Snapshot().ReservationDeadline.UTC())
	turns := fn.byType(notification.EventYourTurn)
	require.Len(t, turns, 1)
	assert.Equal(t, "01", turns[0].UserCode)
	assert.Equal(t, 3, turns[0].TimeoutMinutes)

	// Nobody shows up: entry expires, next in line is promoted.
	t4 := t3.Add(3*time.Minute + time.Second)
	absent(o, t4)
	o.step(ctx, t4)
	assert.Equal(t, StateQueueActive, o.Snapshot().State)
	entry, err := st.OpenEntryForUser(ctx, "01")
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
	assert.Nil(t, entry)
	assert.EqualValues(t, 1, countEvents(t, st, model.EventNoShow))

	t5 := t4.Add(time.Second)
	absent(o, t5)
	o.step(ctx, t5)
	assert.Equal(t, StateReservedPending, o.Snapshot().State)
	require.Len(t, fn.byType(notification.EventYourTurn), 2)
	assert.Equal(t, "02", fn.byType(notification.EventYourTurn)[1].UserCode)

	// The expired window never fires twice.
	t6 := t5.Add(time.Second)
	absent(o, t6)
	o.step(ctx, t6)
	assert.EqualValues(t, 1, countEvents(t, st, model.EventNoShow))
}

func TestPendingEntryConfirmedBySensors(t *testing.T) {
	ctx := context.Background()
	o, st, _ := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerDirectPress})
	submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})

	t1 := base.Add(10 * time.Second)
	absent(o, t1)
	o.step(ctx, t1)
	t2 := t1.Add(31 * time.Second)
	absent(o, t2)
	o.step(ctx, t2)
	t3 := t2.Add(time.Second)
	absent(o, t3)
	o.step(ctx, t3)
	require.Equal(t, StateReservedPending, o.Snapshot().State)

	// The candidate walks in before the deadline.
	t4 := t3.Add(time.Minute)
	present(o, t4)
	o.step(ctx, t4)
	assert.Equal(t, StateOccupiedReserved, o.Snapshot().State)
	require.NotNil(t, o.Snapshot().Occupant.UserCode)
	assert.Equal(t, "01", *o.Snapshot().Occupant.UserCode)

	var entries []model.QueueEntry
	require.NoError(t, st.DB().Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryCompleted, entries[0].Status)
}

func TestConflictPresencePriorityCancelsPending(t *testing.T) {
	ctx := context.Background()
	o, st, _ := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerDirectPress})
	submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})

	t1 := base.Add(10 * time.Second)
	absent(o, t1)
	o.step(ctx, t1)
	t2 := t1.Add(31 * time.Second)
	absent(o, t2)
	o.step(ctx, t2)
	t3 := t2.Add(time.Second)
	absent(o, t3)
	o.step(ctx, t3)
	require.Equal(t, StateReservedPending, o.Snapshot().State)

	// Someone walks up and presses: presence wins, the pending slot is
	// cancelled with the conflict flag.
	t4 := t3.Add(time.Second)
	present(o, t4)
	res := submit(t, o, t4, Trigger{Kind: TriggerDirectPress})
	require.True(t, res.Accepted)
	assert.Equal(t, StateOccupiedDirect, o.Snapshot().State)
	assert.Equal(t, model.MethodDirect, o.Snapshot().Occupant.Method)

	var entries []model.QueueEntry
	require.NoError(t, st.DB().Order("id").Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryCancelled, entries[0].Status)
	assert.True(t, entries[0].Conflict)
	assert.EqualValues(t, 1, countEvents(t, st, model.EventConflict))
}

func TestConflictPresencePriorityDisplacesReservedOccupant(t *testing.T) {
	o, st, _ := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerBooking, UserCode: "01"})
	require.Equal(t, StateOccupiedReserved, o.Snapshot().State)

	res := submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerDirectPress})
	require.True(t, res.Accepted)
	assert.Equal(t, StateOccupiedDirect, o.Snapshot().State)

	var sessions []model.OccupantSession
	require.NoError(t, st.DB().Order("started_at").Find(&sessions).Error)
	require.Len(t, sessions, 2)
	assert.Equal(t, model.OutcomeForcedUnlock, sessions[0].Outcome)
	assert.Nil(t, sessions[1].EndedAt)
}

func TestConflictReservationPriorityRejectsPress(t *testing.T) {
	ctx := context.Background()
	tun := Defaults()
	tun.ConflictPriority = PriorityReservation
	o, st, _ := newRig(t, tun)
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerBooking, UserCode: "01"})
	require.Equal(t, StateOccupiedReserved, o.Snapshot().State)

	res := submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerDirectPress})
	assert.ErrorIs(t, res.Err, ErrReserved)
	assert.Equal(t, StateOccupiedReserved, o.Snapshot().State)

	// Design decision kept deliberately visible: with the queue non-empty
	// but nobody promoted yet, queue order is still authoritative and the
	// press is rejected.
	submit(t, o, base.Add(2*time.Second), Trigger{Kind: TriggerBooking, UserCode: "02"})
	t1 := base.Add(10 * time.Second)
	absent(o, t1)
	o.step(ctx, t1)
	t2 := t1.Add(31 * time.Second)
	absent(o, t2)
	o.step(ctx, t2)
	require.Equal(t, StateQueueActive, o.Snapshot().State)

	res = submit(t, o, t2.Add(time.Millisecond), Trigger{Kind: TriggerDirectPress})
	assert.ErrorIs(t, res.Err, ErrReserved)
	assert.EqualValues(t, 2, countEvents(t, st, model.EventConflict))
}

func TestMaxOccupancyWarningIsAdvisory(t *testing.T) {
	ctx := context.Background()
	o, st, fn := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerDirectPress})

	t1 := base.Add(10*time.Minute + time.Second)
	present(o, t1)
	o.step(ctx, t1)
	assert.Equal(t, StateWarningTimeout, o.Snapshot().State)
	require.NotNil(t, o.Snapshot().Occupant, "warning never evicts the occupant")
	require.Len(t, fn.byType(notification.EventTimeoutWarning), 1)

	// The occupant eventually leaves; the session closes normally.
	t2 := t1.Add(time.Minute)
	absent(o, t2)
	o.step(ctx, t2)
	t3 := t2.Add(31 * time.Second)
	absent(o, t3)
	o.step(ctx, t3)
	assert.Equal(t, StateFree, o.Snapshot().State)

	var sessions []model.OccupantSession
	require.NoError(t, st.DB().Find(&sessions).Error)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.OutcomeCompleted, sessions[0].Outcome)
}

func TestDailyResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	o, st, fn := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 23, 58, 0, 0, time.UTC)

	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerDirectPress})
	submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})
	o.deadlines.Schedule(tagDailyReset, base.Add(time.Minute))

	t1 := base.Add(2 * time.Minute)
	present(o, t1)
	o.step(ctx, t1)
	assert.Equal(t, StateFree, o.Snapshot().State)
	assert.Zero(t, o.Snapshot().QueueSize)
	assert.Nil(t, o.Snapshot().Occupant)
	assert.EqualValues(t, 1, countEvents(t, st, model.EventDailyReset))
	require.Len(t, fn.byType(notification.EventSystemReset), 1)

	// The next reset is re-armed for tomorrow.
	next, ok := o.deadlines.At(tagDailyReset)
	require.True(t, ok)
	assert.True(t, next.After(t1))
}

func TestDegradedSensorsParkInSystemError(t *testing.T) {
	ctx := context.Background()
	o, st, fn := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	// No samples at all: both sensors unknown.
	o.step(ctx, base)
	assert.Equal(t, StateSystemError, o.Snapshot().State)
	require.Len(t, fn.byType(notification.EventSystemError), 1)

	res := submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})
	assert.ErrorIs(t, res.Err, ErrUnavailable)
	res = submit(t, o, base.Add(2*time.Second), Trigger{Kind: TriggerDirectPress})
	assert.ErrorIs(t, res.Err, ErrUnavailable)

	// Sensors come back; the machine resumes and records the restoration.
	t1 := base.Add(3 * time.Second)
	absent(o, t1)
	o.step(ctx, t1)
	assert.Equal(t, StateFree, o.Snapshot().State)
	assert.EqualValues(t, 1, countEvents(t, st, model.EventRecovery))
}

func TestAdminForceUnlockAndClearQueue(t *testing.T) {
	o, st, fn := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerDirectPress})
	submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})
	submit(t, o, base.Add(2*time.Second), Trigger{Kind: TriggerBooking, UserCode: "02"})

	res := submit(t, o, base.Add(3*time.Second), Trigger{Kind: TriggerAdmin, Admin: AdminClearQueue})
	require.True(t, res.Accepted)
	assert.Zero(t, o.Snapshot().QueueSize)
	require.Len(t, fn.byType(notification.EventQueueCleared), 1)

	res = submit(t, o, base.Add(4*time.Second), Trigger{Kind: TriggerAdmin, Admin: AdminForceUnlock})
	require.True(t, res.Accepted)
	assert.Equal(t, StateFree, o.Snapshot().State)

	var sessions []model.OccupantSession
	require.NoError(t, st.DB().Find(&sessions).Error)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.OutcomeForcedUnlock, sessions[0].Outcome)
	assert.EqualValues(t, 1, countEvents(t, st, model.EventForcedUnlock))
}

func TestAdminMaintenanceIsASink(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	present(o, base)
	res := submit(t, o, base, Trigger{Kind: TriggerAdmin, Admin: AdminMaintenanceOn})
	require.True(t, res.Accepted)
	assert.Equal(t, StateMaintenance, o.Snapshot().State)

	// Neither bookings, presses, nor sensor signals move the machine.
	res = submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})
	assert.ErrorIs(t, res.Err, ErrUnavailable)
	t1 := base.Add(2 * time.Second)
	present(o, t1)
	o.step(ctx, t1)
	assert.Equal(t, StateMaintenance, o.Snapshot().State)

	res = submit(t, o, base.Add(3*time.Second), Trigger{Kind: TriggerAdmin, Admin: AdminMaintenanceOff})
	require.True(t, res.Accepted)
	assert.Equal(t, StateFree, o.Snapshot().State)
}

func TestAdminConfigUpdateAppliesBetweenTicks(t *testing.T) {
	ctx := context.Background()
	o, st, _ := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	present(o, base)

	updated := Defaults()
	updated.MaxQueueSize = 1
	updated.ConflictPriority = PriorityReservation
	res := submit(t, o, base, Trigger{Kind: TriggerAdmin, Admin: AdminUpdateConfig, Config: &updated})
	require.True(t, res.Accepted)
	assert.Equal(t, 1, o.CurrentTunables().MaxQueueSize)

	settings, err := st.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", settings[KeyMaxQueueSize])
	assert.Equal(t, "reservation", settings[KeyConflictPriority])

	// The new capacity binds immediately.
	submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerDirectPress})
	submit(t, o, base.Add(2*time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})
	res = submit(t, o, base.Add(3*time.Second), Trigger{Kind: TriggerBooking, UserCode: "02"})
	assert.ErrorIs(t, res.Err, store.ErrQueueFull)

	// Invalid snapshots are rejected atomically.
	bad := Defaults()
	bad.ReservationTimeout = 0
	res = submit(t, o, base.Add(4*time.Second), Trigger{Kind: TriggerAdmin, Admin: AdminUpdateConfig, Config: &bad})
	assert.Error(t, res.Err)
	assert.Equal(t, 1, o.CurrentTunables().MaxQueueSize)
}

func TestCancelBooking(t *testing.T) {
	o, st, _ := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerDirectPress})
	submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})
	submit(t, o, base.Add(2*time.Second), Trigger{Kind: TriggerBooking, UserCode: "02"})

	res := submit(t, o, base.Add(3*time.Second), Trigger{Kind: TriggerCancelBooking, UserCode: "01"})
	require.True(t, res.Accepted)
	assert.Equal(t, 1, o.Snapshot().QueueSize)
	assert.Equal(t, "02", o.Snapshot().Queue[0].UserCode)

	res = submit(t, o, base.Add(4*time.Second), Trigger{Kind: TriggerCancelBooking, UserCode: "01"})
	assert.ErrorIs(t, res.Err, store.ErrEntryNotFound)
	assert.EqualValues(t, 1, countEvents(t, st, model.EventCancelled))
}

func TestReplaceBookingKeepsPosition(t *testing.T) {
	o, _, _ := newRig(t, Defaults())
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	present(o, base)
	submit(t, o, base, Trigger{Kind: TriggerDirectPress})
	submit(t, o, base.Add(time.Second), Trigger{Kind: TriggerBooking, UserCode: "01"})
	submit(t, o, base.Add(2*time.Second), Trigger{Kind: TriggerBooking, UserCode: "02"})

	res := submit(t, o, base.Add(3*time.Second), Trigger{Kind: TriggerReplaceBooking, UserCode: "01", NewUserCode: "03"})
	require.True(t, res.Accepted)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, "03", o.Snapshot().Queue[0].UserCode)
	assert.Equal(t, "02", o.Snapshot().Queue[1].UserCode)
}
