package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"office-queue-backend/internal/model"
)

// Store defines the interface for all database operations. Every mutation is
// committed before the call returns, so an acknowledged operation survives a
// crash on the next tick.
type Store interface {
	DB() *gorm.DB

	// Users
	Users(ctx context.Context) ([]model.User, error)
	UserExists(ctx context.Context, code string) (bool, error)
	AddUser(ctx context.Context, code, name string) error

	// Queue
	Enqueue(ctx context.Context, userCode string, now time.Time, maxSize int) (*model.QueueEntry, error)
	Queue(ctx context.Context) ([]model.QueueEntry, error)
	PeekHead(ctx context.Context) (*model.QueueEntry, error)
	Entry(ctx context.Context, id int64) (*model.QueueEntry, error)
	OpenEntryForUser(ctx context.Context, userCode string) (*model.QueueEntry, error)
	Promote(ctx context.Context, id int64, activatedAt, deadline time.Time) error
	CompleteEntry(ctx context.Context, id int64, now time.Time) error
	MarkNoShow(ctx context.Context, id int64, now time.Time) error
	CancelEntry(ctx context.Context, id int64, now time.Time, conflict bool) error
	ReplaceEntry(ctx context.Context, id int64, newUserCode string) error
	ClearQueue(ctx context.Context, now time.Time) (int64, error)

	// Occupant sessions
	OpenSession(ctx context.Context, method string, userCode *string, startedAt time.Time) (*model.OccupantSession, error)
	CloseSession(ctx context.Context, id, outcome string, endedAt time.Time) error
	Session(ctx context.Context, id string) (*model.OccupantSession, error)
	AverageOccupationMinutes(ctx context.Context, since time.Time) (float64, error)

	// System state and audit log
	SaveTransition(ctx context.Context, state *model.SystemState, events ...model.EventRecord) error
	LoadState(ctx context.Context) (*model.SystemState, error)
	AppendEvent(ctx context.Context, ev model.EventRecord) error

	// Runtime settings
	Settings(ctx context.Context) (map[string]string, error)
	PutSettings(ctx context.Context, values map[string]string, now time.Time) error

	// Analytics and maintenance
	DailyStats(ctx context.Context, day time.Time) (*DailyStats, error)
	Cleanup(ctx context.Context, cutoffs RetentionCutoffs) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// --- Users ---

func (s *gormStore) Users(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("name").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *gormStore) UserExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", code, err)
	}
	return count > 0, nil
}

func (s *gormStore) AddUser(ctx context.Context, code, name string) error {
	user := model.User{Code: code, Name: name}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return fmt.Errorf("failed to create user %s: %w", code, err)
	}
	return nil
}

// --- Queue ---

func openStatuses() []string {
	return []string{model.EntryWaiting, model.EntryActivated}
}

// Enqueue appends a reservation to the queue. The duplicate and capacity
// checks run inside the same transaction as the insert, so the queue
// invariants hold under concurrent callers.
func (s *gormStore) Enqueue(ctx context.Context, userCode string, now time.Time, maxSize int) (*model.QueueEntry, error) {
	entry := &model.QueueEntry{
		UserCode:   userCode,
		EnqueuedAt: now,
		Status:     model.EntryWaiting,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var userCount int64
		if err := tx.Model(&model.User{}).Where("code = ?", userCode).Count(&userCount).Error; err != nil {
			return fmt.Errorf("failed to look up user %s: %w", userCode, err)
		}
		if userCount == 0 {
			return ErrUnknownUser
		}

		var dup int64
		if err := tx.Model(&model.QueueEntry{}).
			Where("user_code = ? AND status IN ?", userCode, openStatuses()).
			Count(&dup).Error; err != nil {
			return fmt.Errorf("failed to check duplicates for %s: %w", userCode, err)
		}
		if dup > 0 {
			return ErrDuplicateUser
		}

		var size int64
		if err := tx.Model(&model.QueueEntry{}).
			Where("status IN ?", openStatuses()).
			Count(&size).Error; err != nil {
			return fmt.Errorf("failed to count queue: %w", err)
		}
		if maxSize > 0 && size >= int64(maxSize) {
			return ErrQueueFull
		}

		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Queue returns all open entries in strict insertion order.
func (s *gormStore) Queue(ctx context.Context) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	if err := s.db.WithContext(ctx).
		Where("status IN ?", openStatuses()).
		Order("enqueued_at, id").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	return entries, nil
}

// PeekHead returns the earliest waiting entry, or nil if none.
func (s *gormStore) PeekHead(ctx context.Context) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := s.db.WithContext(ctx).
		Where("status = ?", model.EntryWaiting).
		Order("enqueued_at, id").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue head: %w", err)
	}
	return &entry, nil
}

func (s *gormStore) Entry(ctx context.Context, id int64) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := s.db.WithContext(ctx).First(&entry, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %d: %w", id, err)
	}
	return &entry, nil
}

func (s *gormStore) OpenEntryForUser(ctx context.Context, userCode string) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := s.db.WithContext(ctx).
		Where("user_code = ? AND status IN ?", userCode, openStatuses()).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load open entry for %s: %w", userCode, err)
	}
	return &entry, nil
}

func (s *gormStore) updateEntry(ctx context.Context, id int64, from []string, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update entry %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *gormStore) Promote(ctx context.Context, id int64, activatedAt, deadline time.Time) error {
	return s.updateEntry(ctx, id, []string{model.EntryWaiting}, map[string]any{
		"status":       model.EntryActivated,
		"activated_at": activatedAt,
		"deadline":     deadline,
	})
}

func (s *gormStore) CompleteEntry(ctx context.Context, id int64, now time.Time) error {
	return s.updateEntry(ctx, id, openStatuses(), map[string]any{
		"status":    model.EntryCompleted,
		"closed_at": now,
	})
}

func (s *gormStore) MarkNoShow(ctx context.Context, id int64, now time.Time) error {
	return s.updateEntry(ctx, id, openStatuses(), map[string]any{
		"status":    model.EntryNoShow,
		"closed_at": now,
	})
}

func (s *gormStore) CancelEntry(ctx context.Context, id int64, now time.Time, conflict bool) error {
	return s.updateEntry(ctx, id, openStatuses(), map[string]any{
		"status":    model.EntryCancelled,
		"closed_at": now,
		"conflict":  conflict,
	})
}

// ReplaceEntry swaps the holder of a waiting slot without losing its queue
// position. The new holder must not already be queued.
func (s *gormStore) ReplaceEntry(ctx context.Context, id int64, newUserCode string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var userCount int64
		if err := tx.Model(&model.User{}).Where("code = ?", newUserCode).Count(&userCount).Error; err != nil {
			return fmt.Errorf("failed to look up user %s: %w", newUserCode, err)
		}
		if userCount == 0 {
			return ErrUnknownUser
		}

		var dup int64
		if err := tx.Model(&model.QueueEntry{}).
			Where("user_code = ? AND status IN ? AND id <> ?", newUserCode, openStatuses(), id).
			Count(&dup).Error; err != nil {
			return fmt.Errorf("failed to check duplicates for %s: %w", newUserCode, err)
		}
		if dup > 0 {
			return ErrDuplicateUser
		}

		res := tx.Model(&model.QueueEntry{}).
			Where("id = ? AND status = ?", id, model.EntryWaiting).
			Update("user_code", newUserCode)
		if res.Error != nil {
			return fmt.Errorf("failed to replace entry %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrEntryNotFound
		}
		return nil
	})
}

// ClearQueue marks every open entry cancelled and returns how many were.
func (s *gormStore) ClearQueue(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("status IN ?", openStatuses()).
		Updates(map[string]any{"status": model.EntryCancelled, "closed_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clear queue: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// --- Occupant sessions ---

func (s *gormStore) OpenSession(ctx context.Context, method string, userCode *string, startedAt time.Time) (*model.OccupantSession, error) {
	session := &model.OccupantSession{
		ID:        uuid.NewString(),
		Method:    method,
		UserCode:  userCode,
		StartedAt: startedAt,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return session, nil
}

// CloseSession sets the outcome of an active session. Closed sessions are
// immutable, so a second close is rejected.
func (s *gormStore) CloseSession(ctx context.Context, id, outcome string, endedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.OccupantSession{}).
		Where("id = ? AND ended_at IS NULL", id).
		Updates(map[string]any{"ended_at": endedAt, "outcome": outcome})
	if res.Error != nil {
		return fmt.Errorf("failed to close session %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *gormStore) Session(ctx context.Context, id string) (*model.OccupantSession, error) {
	var session model.OccupantSession
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return &session, nil
}

// AverageOccupationMinutes averages closed-session durations since the given
// time. Returns 0 when there is no history yet.
func (s *gormStore) AverageOccupationMinutes(ctx context.Context, since time.Time) (float64, error) {
	var sessions []model.OccupantSession
	if err := s.db.WithContext(ctx).
		Where("started_at >= ? AND ended_at IS NOT NULL AND outcome = ?", since, model.OutcomeCompleted).
		Find(&sessions).Error; err != nil {
		return 0, fmt.Errorf("failed to load session history: %w", err)
	}
	if len(sessions) == 0 {
		return 0, nil
	}
	var total float64
	for _, sess := range sessions {
		total += sess.EndedAt.Sub(sess.StartedAt).Minutes()
	}
	return total / float64(len(sessions)), nil
}

// --- System state and audit log ---

// SaveTransition persists the post-transition system state together with its
// event records in one transaction, so a crash never separates a recorded
// transition from the state it produced.
func (s *gormStore) SaveTransition(ctx context.Context, state *model.SystemState, events ...model.EventRecord) error {
	state.ID = 1
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(state).Error; err != nil {
			return fmt.Errorf("failed to save system state: %w", err)
		}
		for i := range events {
			if err := tx.Create(&events[i]).Error; err != nil {
				return fmt.Errorf("failed to append event %s: %w", events[i].Type, err)
			}
		}
		return nil
	})
}

// LoadState returns the persisted system state row, or nil on a cold start.
func (s *gormStore) LoadState(ctx context.Context) (*model.SystemState, error) {
	var state model.SystemState
	err := s.db.WithContext(ctx).First(&state, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load system state: %w", err)
	}
	return &state, nil
}

func (s *gormStore) AppendEvent(ctx context.Context, ev model.EventRecord) error {
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return fmt.Errorf("failed to append event %s: %w", ev.Type, err)
	}
	return nil
}

// --- Runtime settings ---

func (s *gormStore) Settings(ctx context.Context) (map[string]string, error) {
	var rows []model.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	settings := make(map[string]string, len(rows))
	for _, row := range rows {
		settings[row.Key] = row.Value
	}
	return settings, nil
}

func (s *gormStore) PutSettings(ctx context.Context, values map[string]string, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			row := model.Setting{Key: key, Value: value, UpdatedAt: now}
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("failed to save setting %s: %w", key, err)
			}
		}
		return nil
	})
}

// --- Analytics and maintenance ---

func (s *gormStore) DailyStats(ctx context.Context, day time.Time) (*DailyStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	var sessions []model.OccupantSession
	if err := s.db.WithContext(ctx).
		Where("started_at >= ? AND started_at < ? AND ended_at IS NOT NULL", start, end).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to load sessions for stats: %w", err)
	}

	stats := &DailyStats{
		Date:          start.Format("2006-01-02"),
		AccessMethods: make(map[string]int64),
	}
	var totalMinutes float64
	for _, sess := range sessions {
		stats.TotalSessions++
		minutes := sess.EndedAt.Sub(sess.StartedAt).Minutes()
		totalMinutes += minutes
		stats.AccessMethods[sess.Method]++
	}
	stats.TotalMinutes = int64(totalMinutes)
	if stats.TotalSessions > 0 {
		stats.AvgDurationMinutes = totalMinutes / float64(stats.TotalSessions)
	}

	if err := s.db.WithContext(ctx).Model(&model.EventRecord{}).
		Where("at >= ? AND at < ? AND no_show = ?", start, end, true).
		Count(&stats.NoShows).Error; err != nil {
		return nil, fmt.Errorf("failed to count no-shows: %w", err)
	}

	return stats, nil
}

// Cleanup removes old closed queue entries and old events. Sessions are kept
// indefinitely; they feed the wait-time estimate.
func (s *gormStore) Cleanup(ctx context.Context, cutoffs RetentionCutoffs) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("status NOT IN ? AND enqueued_at < ?", openStatuses(), cutoffs.ClosedEntriesBefore).
			Delete(&model.QueueEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete old queue entries: %w", err)
		}
		if err := tx.
			Where("at < ?", cutoffs.EventsBefore).
			Delete(&model.EventRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete old events: %w", err)
		}
		return nil
	})
}
