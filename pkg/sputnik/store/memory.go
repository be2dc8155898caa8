// Package store – memory.go implements the in-memory Store backend, used
// when the gateway runs without a database. Mutation is guarded per user;
// locks are held only for the in-memory change itself, never across the
// external summarize call.
package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps all state in process memory.
type MemoryStore struct {
	ttlHours int
	now      func() time.Time

	mu    sync.RWMutex
	users map[int64]*userState

	remindersMu sync.Mutex
	reminders   map[string]*Reminder
}

// userState holds one user's conversation and dialogue state behind its own
// lock, so users never contend with each other.
type userState struct {
	mu       sync.Mutex
	nextSeq  int64
	turns    []memTurn
	summary  *Summary
	pending  *PendingReminder
	timezone string
}

type memTurn struct {
	seq       int64
	turn      Turn
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store with the given history TTL.
func NewMemoryStore(ttlHours int) *MemoryStore {
	if ttlHours <= 0 {
		ttlHours = 24
	}
	return &MemoryStore{
		ttlHours:  ttlHours,
		now:       time.Now,
		users:     make(map[int64]*userState),
		reminders: make(map[string]*Reminder),
	}
}

func (s *MemoryStore) user(userID int64) *userState {
	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok = s.users[userID]; ok {
		return u
	}
	u = &userState{}
	s.users[userID] = u
	return u
}

// ---------- ConversationStore ----------

// AppendMessage appends one turn with the current UTC timestamp.
func (s *MemoryStore) AppendMessage(_ context.Context, userID int64, role Role, content string) error {
	now := s.now().UTC()
	u := s.user(userID)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextSeq++
	u.turns = append(u.turns, memTurn{
		seq:       u.nextSeq,
		turn:      Turn{Role: role, Content: content, CreatedAt: now},
		expiresAt: now.Add(time.Duration(s.ttlHours) * time.Hour),
	})
	u.pruneLocked(now)
	return nil
}

// RecentHistory returns the unexpired summary as a leading system turn,
// then the last maxMessages raw turns oldest first.
func (s *MemoryStore) RecentHistory(_ context.Context, userID int64, maxMessages int) ([]Turn, error) {
	now := s.now().UTC()
	u := s.user(userID)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.pruneLocked(now)

	var history []Turn
	if u.summary != nil {
		history = append(history, Turn{
			Role:      RoleSystem,
			Content:   u.summary.Content,
			CreatedAt: u.summary.UpdatedAt,
		})
	}

	tail := u.turns
	if len(tail) > maxMessages {
		tail = tail[len(tail)-maxMessages:]
	}
	for _, mt := range tail {
		history = append(history, mt.turn)
	}
	return history, nil
}

// Compact snapshots the older partition under the user lock, summarizes
// without holding it, then commits by sequence cutoff so turns appended
// during the summarize call survive. Summarize failure leaves everything
// intact.
func (s *MemoryStore) Compact(ctx context.Context, userID int64, maxMessages, summaryTrigger, ttlHours int, summarize SummarizeFunc) error {
	now := s.now().UTC()
	u := s.user(userID)

	u.mu.Lock()
	u.pruneLocked(now)
	if len(u.turns) <= summaryTrigger || len(u.turns) <= maxMessages {
		u.mu.Unlock()
		return nil
	}
	olderMem := u.turns[:len(u.turns)-maxMessages]
	cutoff := olderMem[len(olderMem)-1].seq
	older := make([]Turn, len(olderMem))
	for i, mt := range olderMem {
		older[i] = mt.turn
	}
	var existing string
	if u.summary != nil {
		existing = u.summary.Content
	}
	u.mu.Unlock()

	newSummary, err := summarize(ctx, older, existing)
	if err != nil {
		return err
	}

	if ttlHours <= 0 {
		ttlHours = s.ttlHours
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	kept := u.turns[:0]
	for _, mt := range u.turns {
		if mt.seq > cutoff {
			kept = append(kept, mt)
		}
	}
	u.turns = kept
	u.summary = &Summary{
		Content:   newSummary,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Duration(ttlHours) * time.Hour),
	}
	return nil
}

// pruneLocked drops expired turns and summary. Caller holds u.mu.
func (u *userState) pruneLocked(now time.Time) {
	kept := u.turns[:0]
	for _, mt := range u.turns {
		if mt.expiresAt.After(now) {
			kept = append(kept, mt)
		}
	}
	u.turns = kept
	if u.summary != nil && !u.summary.ExpiresAt.After(now) {
		u.summary = nil
	}
}

// ---------- ReminderStore ----------

// CreateReminder inserts a reminder row.
func (s *MemoryStore) CreateReminder(_ context.Context, r *Reminder) error {
	s.remindersMu.Lock()
	defer s.remindersMu.Unlock()
	clone := *r
	s.reminders[r.ID] = &clone
	return nil
}

// GetReminder loads a reminder by ID.
func (s *MemoryStore) GetReminder(_ context.Context, id string) (*Reminder, error) {
	s.remindersMu.Lock()
	defer s.remindersMu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

// MarkReminderSent performs the scheduled→sent compare-and-swap.
func (s *MemoryStore) MarkReminderSent(_ context.Context, id string, sentAt time.Time) (bool, error) {
	s.remindersMu.Lock()
	defer s.remindersMu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != StatusScheduled {
		return false, nil
	}
	r.Status = StatusSent
	t := sentAt.UTC()
	r.SentAt = &t
	return true, nil
}

// ListDueReminders returns due scheduled rows ordered by due time.
func (s *MemoryStore) ListDueReminders(_ context.Context, now time.Time, limit int) ([]*Reminder, error) {
	s.remindersMu.Lock()
	defer s.remindersMu.Unlock()

	var due []*Reminder
	for _, r := range s.reminders {
		if r.Status == StatusScheduled && !r.ScheduleAtUTC.After(now) {
			clone := *r
			due = append(due, &clone)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduleAtUTC.Before(due[j].ScheduleAtUTC)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// PendingReminder returns the user's dialogue slot, or nil when empty.
func (s *MemoryStore) PendingReminder(_ context.Context, userID int64) (*PendingReminder, error) {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.pending == nil {
		return nil, nil
	}
	clone := *u.pending
	return &clone, nil
}

// SetPendingReminder writes the user's dialogue slot (last writer wins).
func (s *MemoryStore) SetPendingReminder(_ context.Context, p *PendingReminder) error {
	u := s.user(p.UserID)
	u.mu.Lock()
	defer u.mu.Unlock()
	clone := *p
	clone.UpdatedAt = s.now().UTC()
	u.pending = &clone
	return nil
}

// ClearPendingReminder empties the user's dialogue slot.
func (s *MemoryStore) ClearPendingReminder(_ context.Context, userID int64) error {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = nil
	return nil
}

// UserTimezone returns the stored timezone name, or "" when unset.
func (s *MemoryStore) UserTimezone(_ context.Context, userID int64) (string, error) {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.timezone, nil
}

// SetUserTimezone stores the resolved timezone for reuse.
func (s *MemoryStore) SetUserTimezone(_ context.Context, userID int64, tz string) error {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.timezone = tz
	return nil
}

// Compile-time interface verification.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
