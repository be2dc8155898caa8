// Package reminders – deliver.go implements reminder delivery. Two trigger
// paths feed it — the external scheduler callback and the periodic sweep —
// giving at-least-once semantics; the scheduled→sent compare-and-swap on
// the row keeps notification exactly-once.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenko/sputnik/pkg/sputnik/store"
	"github.com/avdeenko/sputnik/pkg/sputnik/timeutil"
)

// sweepBatchSize bounds how many due rows one sweep processes.
const sweepBatchSize = 50

// DeliveryResult describes what Deliver did for a reminder ID.
type DeliveryResult string

const (
	// ResultDelivered means this call sent the notification.
	ResultDelivered DeliveryResult = "delivered"

	// ResultAlreadyHandled means another deliverer won; nothing was sent.
	ResultAlreadyHandled DeliveryResult = "already_handled"

	// ResultNotDue means the callback arrived early; nothing was sent.
	ResultNotDue DeliveryResult = "not_due"

	// ResultNotFound means no such reminder exists.
	ResultNotFound DeliveryResult = "not_found"
)

// Deliverer fires due reminders and re-arms recurrence.
type Deliverer struct {
	store      store.ReminderStore
	notifier   Notifier
	dispatcher Dispatcher
	logger     *slog.Logger

	// now is the clock, swappable in tests.
	now func() time.Time
}

// NewDeliverer creates a deliverer. dispatcher may be nil; recurrence rows
// are then picked up by the sweep only.
func NewDeliverer(st store.ReminderStore, notifier Notifier, dispatcher Dispatcher, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		store:      st,
		notifier:   notifier,
		dispatcher: dispatcher,
		logger:     logger.With("component", "delivery"),
		now:        time.Now,
	}
}

// Deliver fires one reminder if it is due and still scheduled. The call is
// idempotent per ID: the status compare-and-swap decides a single winner,
// and every loser (late callback, racing sweep) no-ops.
func (dl *Deliverer) Deliver(ctx context.Context, reminderID string) (DeliveryResult, error) {
	r, err := dl.store.GetReminder(ctx, reminderID)
	if errors.Is(err, store.ErrNotFound) {
		return ResultNotFound, nil
	}
	if err != nil {
		return "", err
	}

	if r.Status != store.StatusScheduled {
		return ResultAlreadyHandled, nil
	}
	now := dl.now().UTC()
	if r.ScheduleAtUTC.After(now) {
		return ResultNotDue, nil
	}

	won, err := dl.store.MarkReminderSent(ctx, r.ID, now)
	if err != nil {
		return "", fmt.Errorf("mark reminder sent: %w", err)
	}
	if !won {
		return ResultAlreadyHandled, nil
	}

	if err := dl.notifier.SendMessage(ctx, r.ChatID, dl.notificationText(r, now)); err != nil {
		// The row is already marked sent; a retry would double-notify, so
		// log and move on. The text is lost only if the transport stays
		// down past its own retries.
		dl.logger.Error("failed to send reminder notification",
			"reminder_id", r.ID, "chat_id", r.ChatID, "error", err)
	}

	dl.rearmRecurrence(ctx, r)
	return ResultDelivered, nil
}

// Sweep scans for due scheduled rows and delivers each through the same
// idempotent path. It returns how many notifications this pass sent.
func (dl *Deliverer) Sweep(ctx context.Context) (int, error) {
	due, err := dl.store.ListDueReminders(ctx, dl.now().UTC(), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	sent := 0
	for _, r := range due {
		result, err := dl.Deliver(ctx, r.ID)
		if err != nil {
			dl.logger.Error("sweep delivery failed", "reminder_id", r.ID, "error", err)
			continue
		}
		if result == ResultDelivered {
			sent++
		}
	}
	return sent, nil
}

// notificationText prefixes an overdue marker when the reminder fires past
// its scheduled instant.
func (dl *Deliverer) notificationText(r *store.Reminder, now time.Time) string {
	if r.ScheduleAtUTC.Before(now) {
		if r.OriginalTimePhrase != "" {
			return fmt.Sprintf("Просроченное напоминание (было: %s).\n%s", r.OriginalTimePhrase, r.Text)
		}
		return fmt.Sprintf("Просроченное напоминание.\n%s", r.Text)
	}
	return r.Text
}

// rearmRecurrence inserts the next occurrence as a fresh row and arms a
// callback for it. The old row is never advanced in place.
func (dl *Deliverer) rearmRecurrence(ctx context.Context, r *store.Reminder) {
	if r.Repeat == store.RepeatNone {
		return
	}

	next, ok := timeutil.AdvanceByRecurrence(r.ScheduleAtUTC, string(r.Repeat), r.Timezone)
	if !ok {
		dl.logger.Warn("cannot advance recurrence",
			"reminder_id", r.ID, "repeat", r.Repeat, "tz", r.Timezone)
		return
	}

	nextReminder := &store.Reminder{
		ID:                 uuid.NewString(),
		UserID:             r.UserID,
		ChatID:             r.ChatID,
		Text:               r.Text,
		ScheduleAtUTC:      next,
		Timezone:           r.Timezone,
		Repeat:             r.Repeat,
		Status:             store.StatusScheduled,
		CreatedAt:          dl.now().UTC(),
		OriginalTimePhrase: r.OriginalTimePhrase,
	}
	if err := dl.store.CreateReminder(ctx, nextReminder); err != nil {
		dl.logger.Error("failed to create next occurrence",
			"reminder_id", r.ID, "error", err)
		return
	}

	if dl.dispatcher != nil {
		err := dl.dispatcher.ScheduleCallback(ctx, RemindPath,
			remindPayload{ReminderID: nextReminder.ID}, next)
		if err != nil {
			dl.logger.Warn("failed to arm next occurrence, sweep will pick it up",
				"reminder_id", nextReminder.ID, "error", err)
		}
	}

	dl.logger.Info("recurrence re-armed",
		"reminder_id", r.ID, "next_id", nextReminder.ID,
		"next_at", next, "repeat", r.Repeat)
}
