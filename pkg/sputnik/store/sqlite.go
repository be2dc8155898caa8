// Package store – sqlite.go implements the durable backend on a single
// SQLite database file. WAL mode is enabled for concurrent read
// performance; the schema is created idempotently on every open.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

const schema = `
-- Conversation turns (append-only per user).
CREATE TABLE IF NOT EXISTS messages (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    INTEGER NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TEXT NOT NULL,
    expires_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, id);

-- Rolling conversation summary (at most one per user).
CREATE TABLE IF NOT EXISTS summaries (
    user_id    INTEGER PRIMARY KEY,
    content    TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    expires_at TEXT NOT NULL
);

-- Durable reminders. One row per firing occasion; recurring reminders get
-- a fresh row per occurrence, sent rows remain as history.
CREATE TABLE IF NOT EXISTS reminders (
    id                   TEXT PRIMARY KEY,
    user_id              INTEGER NOT NULL,
    chat_id              INTEGER NOT NULL,
    text                 TEXT NOT NULL,
    schedule_at_utc      TEXT NOT NULL,
    timezone             TEXT NOT NULL,
    repeat               TEXT NOT NULL DEFAULT 'none',
    status               TEXT NOT NULL DEFAULT 'scheduled',
    created_at           TEXT NOT NULL,
    sent_at              TEXT,
    original_time_phrase TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, schedule_at_utc);

-- In-progress reminder dialogue state (one slot per user).
CREATE TABLE IF NOT EXISTS pending_reminders (
    user_id              INTEGER PRIMARY KEY,
    chat_id              INTEGER NOT NULL,
    state                TEXT NOT NULL,
    text                 TEXT NOT NULL,
    datetime_local       TEXT DEFAULT '',
    repeat               TEXT NOT NULL DEFAULT 'none',
    original_time_phrase TEXT DEFAULT '',
    updated_at           TEXT NOT NULL
);

-- Resolved user timezones, reused for subsequent reminders.
CREATE TABLE IF NOT EXISTS user_profiles (
    user_id  INTEGER PRIMARY KEY,
    timezone TEXT NOT NULL
);
`

// SQLiteStore is the durable Store backend.
type SQLiteStore struct {
	db *sql.DB

	// ttlHours bounds how long appended turns stay readable.
	ttlHours int

	// now is the clock, swappable in tests.
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and prepares the
// schema. The parent directory is created if needed.
func OpenSQLite(path string, ttlHours int) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if ttlHours <= 0 {
		ttlHours = 24
	}
	return &SQLiteStore{db: db, ttlHours: ttlHours, now: time.Now}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// ---------- ConversationStore ----------

// AppendMessage appends one turn with the current UTC timestamp.
func (s *SQLiteStore) AppendMessage(ctx context.Context, userID int64, role Role, content string) error {
	now := s.now().UTC()
	expires := now.Add(time.Duration(s.ttlHours) * time.Hour)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (user_id, role, content, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, string(role), content, formatTime(now), formatTime(expires),
	)
	if err != nil {
		return fmt.Errorf("append message for user %d: %w", userID, err)
	}
	return nil
}

// RecentHistory returns the unexpired summary as a leading system turn,
// then the last maxMessages raw turns oldest first.
func (s *SQLiteStore) RecentHistory(ctx context.Context, userID int64, maxMessages int) ([]Turn, error) {
	now := s.now().UTC()
	if err := s.pruneExpired(ctx, userID, now); err != nil {
		return nil, err
	}

	var history []Turn

	var content, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT content, updated_at FROM summaries WHERE user_id = ?`, userID,
	).Scan(&content, &updatedAt)
	switch {
	case err == sql.ErrNoRows:
		// No summary yet.
	case err != nil:
		return nil, fmt.Errorf("read summary for user %d: %w", userID, err)
	default:
		history = append(history, Turn{
			Role:      RoleSystem,
			Content:   content,
			CreatedAt: parseTime(updatedAt),
		})
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM messages
			WHERE user_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		userID, maxMessages,
	)
	if err != nil {
		return nil, fmt.Errorf("read history for user %d: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, content, createdAt string
		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		history = append(history, Turn{
			Role:      Role(role),
			Content:   content,
			CreatedAt: parseTime(createdAt),
		})
	}
	return history, rows.Err()
}

// Compact summarizes everything but the recent tail once the stored count
// exceeds summaryTrigger. The summarize call runs outside any transaction;
// the delete-and-replace commits atomically afterwards, bounded to the rows
// that existed when the partition was taken so concurrent appends survive.
func (s *SQLiteStore) Compact(ctx context.Context, userID int64, maxMessages, summaryTrigger, ttlHours int, summarize SummarizeFunc) error {
	now := s.now().UTC()
	if err := s.pruneExpired(ctx, userID, now); err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages WHERE user_id = ? ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("read turns for compaction: %w", err)
	}

	type storedTurn struct {
		id   int64
		turn Turn
	}
	var stored []storedTurn
	for rows.Next() {
		var (
			id                       int64
			role, content, createdAt string
		)
		if err := rows.Scan(&id, &role, &content, &createdAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan turn: %w", err)
		}
		stored = append(stored, storedTurn{id: id, turn: Turn{
			Role:      Role(role),
			Content:   content,
			CreatedAt: parseTime(createdAt),
		}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read turns for compaction: %w", err)
	}

	if len(stored) <= summaryTrigger || len(stored) <= maxMessages {
		return nil
	}

	olderStored := stored[:len(stored)-maxMessages]
	cutoffID := olderStored[len(olderStored)-1].id
	older := make([]Turn, len(olderStored))
	for i, st := range olderStored {
		older[i] = st.turn
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT content FROM summaries WHERE user_id = ?`, userID,
	).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read existing summary: %w", err)
	}

	newSummary, err := summarize(ctx, older, existing)
	if err != nil {
		return fmt.Errorf("summarize history: %w", err)
	}

	if ttlHours <= 0 {
		ttlHours = s.ttlHours
	}
	expires := now.Add(time.Duration(ttlHours) * time.Hour)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin compaction tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE user_id = ? AND id <= ?`, userID, cutoffID,
	); err != nil {
		return fmt.Errorf("discard summarized turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO summaries (user_id, content, updated_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		userID, newSummary, formatTime(now), formatTime(expires),
	); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit compaction: %w", err)
	}
	return nil
}

// pruneExpired drops turns and summaries past their TTL.
func (s *SQLiteStore) pruneExpired(ctx context.Context, userID int64, now time.Time) error {
	cutoff := formatTime(now)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE user_id = ? AND expires_at <= ?`, userID, cutoff,
	); err != nil {
		return fmt.Errorf("prune expired messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM summaries WHERE user_id = ? AND expires_at <= ?`, userID, cutoff,
	); err != nil {
		return fmt.Errorf("prune expired summary: %w", err)
	}
	return nil
}

// ---------- ReminderStore ----------

// CreateReminder inserts a reminder row.
func (s *SQLiteStore) CreateReminder(ctx context.Context, r *Reminder) error {
	var sentAt sql.NullString
	if r.SentAt != nil {
		sentAt = sql.NullString{String: formatTime(*r.SentAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders
			(id, user_id, chat_id, text, schedule_at_utc, timezone,
			 repeat, status, created_at, sent_at, original_time_phrase)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ChatID, r.Text, formatTime(r.ScheduleAtUTC), r.Timezone,
		string(r.Repeat), string(r.Status), formatTime(r.CreatedAt), sentAt,
		r.OriginalTimePhrase,
	)
	if err != nil {
		return fmt.Errorf("create reminder %q: %w", r.ID, err)
	}
	return nil
}

// GetReminder loads a reminder by ID.
func (s *SQLiteStore) GetReminder(ctx context.Context, id string) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, chat_id, text, schedule_at_utc, timezone,
		       repeat, status, created_at, sent_at, original_time_phrase
		FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder %q: %w", id, err)
	}
	return r, nil
}

// MarkReminderSent performs the scheduled→sent compare-and-swap.
func (s *SQLiteStore) MarkReminderSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, sent_at = ? WHERE id = ? AND status = ?`,
		string(StatusSent), formatTime(sentAt.UTC()), id, string(StatusScheduled),
	)
	if err != nil {
		return false, fmt.Errorf("mark reminder %q sent: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reminder %q sent: %w", id, err)
	}
	return n == 1, nil
}

// ListDueReminders returns due scheduled rows ordered by due time.
func (s *SQLiteStore) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, chat_id, text, schedule_at_utc, timezone,
		       repeat, status, created_at, sent_at, original_time_phrase
		FROM reminders
		WHERE status = ? AND schedule_at_utc <= ?
		ORDER BY schedule_at_utc ASC LIMIT ?`,
		string(StatusScheduled), formatTime(now.UTC()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()

	var due []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		due = append(due, r)
	}
	return due, rows.Err()
}

// PendingReminder returns the user's dialogue slot, or nil when empty.
func (s *SQLiteStore) PendingReminder(ctx context.Context, userID int64) (*PendingReminder, error) {
	var (
		p         PendingReminder
		state     string
		repeat    string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, chat_id, state, text, datetime_local, repeat,
		       original_time_phrase, updated_at
		FROM pending_reminders WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.ChatID, &state, &p.Text, &p.DatetimeLocal,
		&repeat, &p.OriginalTimePhrase, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending reminder for user %d: %w", userID, err)
	}
	p.State = PendingState(state)
	p.Repeat = Repeat(repeat)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// SetPendingReminder writes the user's dialogue slot (last writer wins).
func (s *SQLiteStore) SetPendingReminder(ctx context.Context, p *PendingReminder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_reminders
			(user_id, chat_id, state, text, datetime_local, repeat,
			 original_time_phrase, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.ChatID, string(p.State), p.Text, p.DatetimeLocal,
		string(p.Repeat), p.OriginalTimePhrase, formatTime(s.now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("set pending reminder for user %d: %w", p.UserID, err)
	}
	return nil
}

// ClearPendingReminder empties the user's dialogue slot.
func (s *SQLiteStore) ClearPendingReminder(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_reminders WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("clear pending reminder for user %d: %w", userID, err)
	}
	return nil
}

// UserTimezone returns the stored timezone name, or "" when unset.
func (s *SQLiteStore) UserTimezone(ctx context.Context, userID int64) (string, error) {
	var tz string
	err := s.db.QueryRowContext(ctx,
		`SELECT timezone FROM user_profiles WHERE user_id = ?`, userID,
	).Scan(&tz)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get timezone for user %d: %w", userID, err)
	}
	return tz, nil
}

// SetUserTimezone stores the resolved timezone for reuse.
func (s *SQLiteStore) SetUserTimezone(ctx context.Context, userID int64, tz string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO user_profiles (user_id, timezone) VALUES (?, ?)`,
		userID, tz)
	if err != nil {
		return fmt.Errorf("set timezone for user %d: %w", userID, err)
	}
	return nil
}

// ---------- Helpers ----------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*Reminder, error) {
	var (
		r                     Reminder
		scheduleAt, createdAt string
		repeat, status        string
		sentAt                sql.NullString
	)
	err := row.Scan(&r.ID, &r.UserID, &r.ChatID, &r.Text, &scheduleAt,
		&r.Timezone, &repeat, &status, &createdAt, &sentAt, &r.OriginalTimePhrase)
	if err != nil {
		return nil, err
	}
	r.ScheduleAtUTC = parseTime(scheduleAt)
	r.Repeat = Repeat(repeat)
	r.Status = ReminderStatus(status)
	r.CreatedAt = parseTime(createdAt)
	if sentAt.Valid {
		t := parseTime(sentAt.String)
		r.SentAt = &t
	}
	return &r, nil
}

// formatTime renders a UTC RFC3339 timestamp at second precision. Fixed
// width keeps lexicographic comparison in SQL consistent with time order.
func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
