// Package reminders – dialogue.go implements the reminder dialogue state
// machine. A message either completes a schedule, produces a follow-up
// question, or is rejected back to the normal reply path.
package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenko/sputnik/pkg/sputnik/llm"
	"github.com/avdeenko/sputnik/pkg/sputnik/store"
	"github.com/avdeenko/sputnik/pkg/sputnik/timeutil"
)

// NLU extracts reminder intent from free text. Implemented by llm.Client.
type NLU interface {
	ParseReminder(ctx context.Context, text, tzName, nowLocalISO string) (*llm.ReminderParse, error)
}

// Dispatcher arms a future callback at a specific UTC instant. Arming is a
// latency optimization, not the source of truth: failures are logged and
// the sweep picks the row up later.
type Dispatcher interface {
	ScheduleCallback(ctx context.Context, path string, payload any, at time.Time) error
}

// Notifier sends the reminder text to a chat. Implemented by telegram.Client.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// RemindPath is the callback path armed for due reminders.
const RemindPath = "/tasks/remind"

// remindPayload is the callback body for a single reminder.
type remindPayload struct {
	ReminderID string `json:"reminder_id"`
}

// Fixed dialogue replies. The bot speaks Russian to its owner.
const (
	replyAskTime = "Когда именно напомнить? Например: «завтра в 9» или «2025-06-02 09:00»."

	replyAskTimezone = "В каком часовом поясе? Напишите город или зону вида Region/City, " +
		"например «Тель-Авив» или «Asia/Jerusalem»."

	replyBadTimezone = "Не удалось распознать часовой пояс. Попробуйте название города " +
		"или зону вида Region/City."
)

// Outcome is the dialogue's verdict on one inbound message.
type Outcome struct {
	// Handled is false when the message is not reminder business and the
	// caller should fall through to the normal reply path.
	Handled bool

	// Reply is the text to send back when Handled.
	Reply string
}

func notReminder() Outcome { return Outcome{} }

func answer(text string) Outcome { return Outcome{Handled: true, Reply: text} }

// Dialogue drives the reminder state machine for all users.
type Dialogue struct {
	store      store.Store
	nlu        NLU
	dispatcher Dispatcher
	logger     *slog.Logger

	// confidenceThreshold gates direct scheduling from a fresh intent.
	confidenceThreshold float64

	// now is the clock, swappable in tests.
	now func() time.Time
}

// NewDialogue creates the dialogue state machine. dispatcher may be nil
// when no external scheduler is configured; the sweep then carries
// delivery alone.
func NewDialogue(st store.Store, nlu NLU, dispatcher Dispatcher, confidenceThreshold float64, logger *slog.Logger) *Dialogue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialogue{
		store:               st,
		nlu:                 nlu,
		dispatcher:          dispatcher,
		logger:              logger.With("component", "reminders"),
		confidenceThreshold: confidenceThreshold,
		now:                 time.Now,
	}
}

// Handle runs one message through the state machine. Errors are external
// failures (store, NLU) the caller translates at the reply boundary.
func (d *Dialogue) Handle(ctx context.Context, userID, chatID int64, text string) (Outcome, error) {
	pending, err := d.store.PendingReminder(ctx, userID)
	if err != nil {
		return notReminder(), err
	}
	if pending != nil {
		switch pending.State {
		case store.PendingAwaitingTimezone:
			return d.handleAwaitingTimezone(ctx, pending, text)
		case store.PendingAwaitingTime:
			return d.handleAwaitingTime(ctx, pending, text)
		}
		// Unknown state: drop the slot and fall through to a fresh look.
		d.logger.Warn("dropping pending reminder in unknown state",
			"user_id", userID, "state", pending.State)
		if err := d.store.ClearPendingReminder(ctx, userID); err != nil {
			return notReminder(), err
		}
	}
	return d.handleFreshIntent(ctx, userID, chatID, text)
}

// handleAwaitingTimezone resolves a timezone answer.
func (d *Dialogue) handleAwaitingTimezone(ctx context.Context, pending *store.PendingReminder, text string) (Outcome, error) {
	tzName, ok := timeutil.ResolveTimezoneAlias(text)
	if !ok {
		return answer(replyBadTimezone), nil
	}
	// An explicit Region/City token may still name a zone that doesn't
	// exist; treat it the same as no match.
	if _, err := timeutil.LoadLocation(tzName); err != nil {
		return answer(replyBadTimezone), nil
	}

	if err := d.store.SetUserTimezone(ctx, pending.UserID, tzName); err != nil {
		return notReminder(), err
	}

	if local, ok := timeutil.ParseLocalDateTime(pending.DatetimeLocal); ok {
		return d.finalize(ctx, pending.UserID, pending.ChatID, pending.Text,
			local, tzName, pending.Repeat, pending.OriginalTimePhrase)
	}

	// Timezone settled but no time stored yet: ask for it within the same
	// pending record.
	pending.State = store.PendingAwaitingTime
	if err := d.store.SetPendingReminder(ctx, pending); err != nil {
		return notReminder(), err
	}
	return answer(replyAskTime), nil
}

// handleAwaitingTime resolves a "when exactly?" answer through the NLU.
func (d *Dialogue) handleAwaitingTime(ctx context.Context, pending *store.PendingReminder, text string) (Outcome, error) {
	tzName, err := d.store.UserTimezone(ctx, pending.UserID)
	if err != nil {
		return notReminder(), err
	}

	parsed, err := d.nlu.ParseReminder(ctx, text, tzName, d.nowLocalISO(tzName))
	if err != nil {
		return notReminder(), fmt.Errorf("reminder time extraction: %w", err)
	}
	if parsed.DatetimeLocal == "" {
		return answer(replyAskTime), nil
	}
	local, ok := timeutil.ParseLocalDateTime(parsed.DatetimeLocal)
	if !ok {
		return answer(replyAskTime), nil
	}

	mergeParse(pending, parsed)
	pending.DatetimeLocal = parsed.DatetimeLocal

	if tzName == "" {
		pending.State = store.PendingAwaitingTimezone
		if err := d.store.SetPendingReminder(ctx, pending); err != nil {
			return notReminder(), err
		}
		return answer(replyAskTimezone), nil
	}

	return d.finalize(ctx, pending.UserID, pending.ChatID, pending.Text,
		local, tzName, pending.Repeat, pending.OriginalTimePhrase)
}

// handleFreshIntent looks at a message with no dialogue in progress.
func (d *Dialogue) handleFreshIntent(ctx context.Context, userID, chatID int64, text string) (Outcome, error) {
	if !IsCandidate(text) {
		return notReminder(), nil
	}

	tzName, err := d.store.UserTimezone(ctx, userID)
	if err != nil {
		return notReminder(), err
	}

	parsed, err := d.nlu.ParseReminder(ctx, text, tzName, d.nowLocalISO(tzName))
	if err != nil {
		return notReminder(), fmt.Errorf("reminder intent extraction: %w", err)
	}
	if parsed.Intent != "set_reminder" {
		return notReminder(), nil
	}

	reminderText := parsed.Text
	if reminderText == "" {
		reminderText = text
	}
	repeat := store.Repeat(parsed.Repeat)
	if !store.ValidRepeat(repeat) {
		repeat = store.RepeatNone
	}

	local, hasTime := timeutil.ParseLocalDateTime(parsed.DatetimeLocal)

	// Low confidence or no resolved time: never schedule directly, ask.
	if !hasTime || parsed.Confidence < d.confidenceThreshold {
		pending := &store.PendingReminder{
			UserID:             userID,
			ChatID:             chatID,
			State:              store.PendingAwaitingTime,
			Text:               reminderText,
			Repeat:             repeat,
			OriginalTimePhrase: parsed.OriginalTimePhrase,
		}
		if err := d.store.SetPendingReminder(ctx, pending); err != nil {
			return notReminder(), err
		}
		return answer(replyAskTime), nil
	}

	if tzName == "" {
		pending := &store.PendingReminder{
			UserID:             userID,
			ChatID:             chatID,
			State:              store.PendingAwaitingTimezone,
			Text:               reminderText,
			DatetimeLocal:      parsed.DatetimeLocal,
			Repeat:             repeat,
			OriginalTimePhrase: parsed.OriginalTimePhrase,
		}
		if err := d.store.SetPendingReminder(ctx, pending); err != nil {
			return notReminder(), err
		}
		return answer(replyAskTimezone), nil
	}

	return d.finalize(ctx, userID, chatID, reminderText, local, tzName, repeat, parsed.OriginalTimePhrase)
}

// finalize converts the resolved local time to UTC and either schedules a
// durable reminder or reports that the time is already past. The pending
// slot is cleared in both cases.
func (d *Dialogue) finalize(ctx context.Context, userID, chatID int64, text string,
	local time.Time, tzName string, repeat store.Repeat, phrase string) (Outcome, error) {

	utc, err := timeutil.LocalToUTC(local, tzName)
	if err != nil {
		// The stored zone went bad between turns; re-ask instead of failing.
		d.logger.Warn("stored timezone no longer resolves", "user_id", userID, "tz", tzName)
		return answer(replyBadTimezone), nil
	}

	now := d.now().UTC()
	if !utc.After(now) {
		if err := d.store.ClearPendingReminder(ctx, userID); err != nil {
			return notReminder(), err
		}
		if phrase != "" {
			return answer(fmt.Sprintf("Это время уже прошло (%s). Напоминание не создано.", phrase)), nil
		}
		return answer("Это время уже прошло. Напоминание не создано."), nil
	}

	reminder := &store.Reminder{
		ID:                 uuid.NewString(),
		UserID:             userID,
		ChatID:             chatID,
		Text:               text,
		ScheduleAtUTC:      utc,
		Timezone:           tzName,
		Repeat:             repeat,
		Status:             store.StatusScheduled,
		CreatedAt:          now,
		OriginalTimePhrase: phrase,
	}
	if err := d.store.CreateReminder(ctx, reminder); err != nil {
		return notReminder(), err
	}
	if err := d.store.ClearPendingReminder(ctx, userID); err != nil {
		return notReminder(), err
	}

	d.armDispatch(ctx, reminder)

	loc, _ := timeutil.LoadLocation(tzName)
	when := utc.In(loc).Format("02.01.2006 15:04")
	confirm := fmt.Sprintf("Напомню %s (%s): %s", when, tzName, text)
	if repeat != store.RepeatNone {
		confirm += fmt.Sprintf(" (повтор: %s)", repeat)
	}
	return answer(confirm), nil
}

// armDispatch asks the external scheduler for a callback at the due
// instant. Failure is logged and swallowed; the sweep recovers the row.
func (d *Dialogue) armDispatch(ctx context.Context, r *store.Reminder) {
	if d.dispatcher == nil {
		return
	}
	err := d.dispatcher.ScheduleCallback(ctx, RemindPath, remindPayload{ReminderID: r.ID}, r.ScheduleAtUTC)
	if err != nil {
		d.logger.Warn("failed to arm reminder dispatch, sweep will pick it up",
			"reminder_id", r.ID, "error", err)
	}
}

// nowLocalISO renders the current time in the user's zone (UTC when
// unknown) for anchoring relative phrases in the NLU prompt.
func (d *Dialogue) nowLocalISO(tzName string) string {
	now := d.now()
	if tzName != "" {
		if loc, err := timeutil.LoadLocation(tzName); err == nil {
			now = now.In(loc)
		}
	} else {
		now = now.UTC()
	}
	return now.Format("2006-01-02T15:04")
}

// mergeParse folds a fresh NLU result into an existing pending record,
// keeping earlier answers when the new parse is silent on a field.
func mergeParse(pending *store.PendingReminder, parsed *llm.ReminderParse) {
	if parsed.Text != "" {
		pending.Text = parsed.Text
	}
	if r := store.Repeat(parsed.Repeat); store.ValidRepeat(r) && r != store.RepeatNone {
		pending.Repeat = r
	}
	if parsed.OriginalTimePhrase != "" {
		pending.OriginalTimePhrase = parsed.OriginalTimePhrase
	}
}
