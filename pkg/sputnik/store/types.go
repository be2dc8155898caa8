// Package store defines the persistent data model of the gateway —
// conversation history with a rolling summary, durable reminders, and the
// transient per-user reminder dialogue state — plus two interchangeable
// backends: SQLite and in-memory.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Role tags a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one message in a conversation history.
type Turn struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Summary is the rolling compaction summary of a conversation. At most one
// exists per user; it supersedes the older turns it has absorbed.
type Summary struct {
	Content   string
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Repeat is a reminder recurrence rule.
type Repeat string

const (
	RepeatNone    Repeat = "none"
	RepeatHourly  Repeat = "hourly"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
	RepeatYearly  Repeat = "yearly"
)

// ValidRepeat reports whether a value is a known recurrence rule.
func ValidRepeat(r Repeat) bool {
	switch r {
	case RepeatNone, RepeatHourly, RepeatDaily, RepeatWeekly, RepeatMonthly, RepeatYearly:
		return true
	}
	return false
}

// ReminderStatus is the delivery state of a reminder row.
type ReminderStatus string

const (
	StatusScheduled ReminderStatus = "scheduled"
	StatusSent      ReminderStatus = "sent"
)

// Reminder is one durable scheduled notification. A recurring reminder
// produces a new row per occurrence; rows are never advanced in place, which
// keeps delivery idempotent per ID. Sent rows are kept as history.
type Reminder struct {
	ID                 string
	UserID             int64
	ChatID             int64
	Text               string
	ScheduleAtUTC      time.Time
	Timezone           string
	Repeat             Repeat
	Status             ReminderStatus
	CreatedAt          time.Time
	SentAt             *time.Time
	OriginalTimePhrase string
}

// PendingState is the step an in-progress reminder dialogue is waiting on.
type PendingState string

const (
	PendingAwaitingTime     PendingState = "awaiting_time"
	PendingAwaitingTimezone PendingState = "awaiting_timezone"
)

// PendingReminder is the transient dialogue state for a reminder request
// that is not yet fully specified. One slot exists per user; a new candidate
// intent overwrites it (last writer wins).
type PendingReminder struct {
	UserID             int64
	ChatID             int64
	State              PendingState
	Text               string
	DatetimeLocal      string
	Repeat             Repeat
	OriginalTimePhrase string
	UpdatedAt          time.Time
}

// SummarizeFunc condenses older turns plus the existing summary text into a
// new summary. It is an external, possibly-failing operation and is never
// invoked while a store lock or transaction is held.
type SummarizeFunc func(ctx context.Context, older []Turn, existingSummary string) (string, error)

// ConversationStore is the contract both backends implement for history.
type ConversationStore interface {
	// AppendMessage appends a turn with the current UTC timestamp.
	AppendMessage(ctx context.Context, userID int64, role Role, content string) error

	// RecentHistory returns the current summary (if any, as a synthetic
	// leading system turn) followed by the most recent maxMessages raw
	// turns, oldest first. Expired turns and summaries are pruned first.
	RecentHistory(ctx context.Context, userID int64, maxMessages int) ([]Turn, error)

	// Compact replaces everything but the last maxMessages turns with a
	// single summary once the stored count exceeds summaryTrigger. On
	// summarize failure nothing is committed; the only failure mode is a
	// no-op, never a partial deletion.
	Compact(ctx context.Context, userID int64, maxMessages, summaryTrigger, ttlHours int, summarize SummarizeFunc) error
}

// ReminderStore is the contract both backends implement for reminders and
// the per-user dialogue state.
type ReminderStore interface {
	CreateReminder(ctx context.Context, r *Reminder) error
	GetReminder(ctx context.Context, id string) (*Reminder, error)

	// MarkReminderSent flips status scheduled→sent. It reports whether this
	// call won the transition; a concurrent deliverer that lost observes
	// false and must not notify again.
	MarkReminderSent(ctx context.Context, id string, sentAt time.Time) (bool, error)

	// ListDueReminders returns scheduled rows with ScheduleAtUTC <= now,
	// ordered by due time, at most limit rows.
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)

	PendingReminder(ctx context.Context, userID int64) (*PendingReminder, error)
	SetPendingReminder(ctx context.Context, p *PendingReminder) error
	ClearPendingReminder(ctx context.Context, userID int64) error

	// UserTimezone returns the stored timezone name, or "" when unset.
	UserTimezone(ctx context.Context, userID int64) (string, error)
	SetUserTimezone(ctx context.Context, userID int64, tz string) error
}

// Store is the full backend contract the gateway is wired against.
type Store interface {
	ConversationStore
	ReminderStore
}
