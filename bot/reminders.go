package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	// MinReminderDuration is the shortest duration a reminder may be
	// scheduled for.
	MinReminderDuration = 30 * time.Second

	// MaxReminderDuration is the longest duration a reminder may be
	// scheduled for.
	MaxReminderDuration = 10 * 365 * 24 * time.Hour
)

var (
	// ErrReminderTooSoon is reported to the user when the requested
	// duration is below MinReminderDuration.
	ErrReminderTooSoon = fmt.Errorf(
		"reminders must be at least %s away", MinReminderDuration,
	)

	// ErrReminderTooFar is reported to the user when the requested
	// duration is above MaxReminderDuration.
	ErrReminderTooFar = errors.New("reminders can be at most 10 years away")
)

// ReminderRunner persists reminders and guarantees at-least-once,
// best-effort delivery across process restarts: every pending row is
// reloaded on startup and re-armed with its original due time, and
// past-due rows fire immediately.
//
// Delivery failures are swallowed by design - a reminder to an
// unreachable user is dropped, never retried.
type ReminderRunner struct {
	session Session
	writeDB DBI
	logger  *slog.Logger

	mu     sync.Mutex
	timers map[uint]*time.Timer
}

// NewReminderRunner creates a runner. Start must be called to arm
// persisted reminders.
func NewReminderRunner(
	session Session,
	writeDB DBI,
	logger *slog.Logger,
) *ReminderRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderRunner{
		session: session,
		writeDB: writeDB,
		logger:  logger.With(loggerNameKey, "reminders"),
		timers:  map[uint]*time.Timer{},
	}
}

// Start loads every persisted reminder and arms a timer for each.
// Reminders already past due fire immediately.
func (r *ReminderRunner) Start(ctx context.Context) error {
	var reminders []Reminder
	if err := r.writeDB.DB().WithContext(ctx).Find(&reminders).Error; err != nil {
		return fmt.Errorf("error loading reminders: %w", err)
	}
	for i := range reminders {
		r.arm(reminders[i])
	}
	r.logger.Info("armed persisted reminders", "count", len(reminders))
	return nil
}

// Stop cancels all armed timers. Persisted rows are untouched and will be
// re-armed on the next Start.
func (r *ReminderRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}

// Pending returns the number of armed timers.
func (r *ReminderRunner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Schedule validates the duration, persists a reminder and arms its
// timer. Validation failures (ErrReminderTooSoon, ErrReminderTooFar) are
// user-facing.
func (r *ReminderRunner) Schedule(
	ctx context.Context,
	ownerUserID string,
	duration time.Duration,
	payload string,
) (*Reminder, error) {
	if duration < MinReminderDuration {
		return nil, ErrReminderTooSoon
	}
	if duration > MaxReminderDuration {
		return nil, ErrReminderTooFar
	}
	reminder := &Reminder{
		PublicID:    uuid.NewString(),
		OwnerUserID: ownerUserID,
		DueAt:       time.Now().Add(duration).UnixMilli(),
		Payload:     payload,
	}
	if _, err := r.writeDB.Create(ctx, reminder); err != nil {
		return nil, fmt.Errorf("error persisting reminder: %w", err)
	}
	r.arm(*reminder)
	return reminder, nil
}

// arm schedules a one-shot timer for the reminder. Durations at or below
// zero fire immediately.
func (r *ReminderRunner) arm(reminder Reminder) {
	wait := time.Until(time.UnixMilli(reminder.DueAt))
	if wait < 0 {
		wait = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, armed := r.timers[reminder.ID]; armed {
		return
	}
	r.timers[reminder.ID] = time.AfterFunc(
		wait,
		func() { r.fire(reminder) },
	)
}

// fire attempts delivery, then deletes the persisted row. Delete is safe
// against duplicate fires (e.g. a reload racing a natural fire): deleting
// an already-deleted row affects zero rows and is not an error.
func (r *ReminderRunner) fire(reminder Reminder) {
	r.mu.Lock()
	delete(r.timers, reminder.ID)
	r.mu.Unlock()

	r.deliver(reminder)

	if _, err := r.writeDB.Delete(
		&Reminder{}, "id = ?", reminder.ID,
	); err != nil {
		r.logger.Error(
			"error deleting delivered reminder",
			tint.Err(err),
			"reminder_id", reminder.PublicID,
		)
	}
}

// deliver DMs the reminder to its owner. Best effort: failures are
// logged and otherwise swallowed, never retried.
func (r *ReminderRunner) deliver(reminder Reminder) {
	channel, err := r.session.UserChannelCreate(reminder.OwnerUserID)
	if err != nil {
		r.logger.Warn(
			"could not open DM channel for reminder",
			tint.Err(err),
			"user_id", reminder.OwnerUserID,
			"reminder_id", reminder.PublicID,
		)
		return
	}
	content, _ := NewMessageBuilder().
		Title("Reminder", "").
		Description(reminder.Payload).
		Build()
	if _, err = r.session.ChannelMessageSend(channel.ID, content); err != nil {
		r.logger.Warn(
			"error delivering reminder",
			tint.Err(err),
			"user_id", reminder.OwnerUserID,
			"reminder_id", reminder.PublicID,
		)
	}
}
