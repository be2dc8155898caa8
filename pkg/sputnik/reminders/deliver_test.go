package reminders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avdeenko/sputnik/pkg/sputnik/store"
)

// fakeNotifier records sent messages.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []sentMessage
	err      error
}

type sentMessage struct {
	chatID int64
	text   string
}

func (f *fakeNotifier) SendMessage(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{chatID: chatID, text: text})
	return f.err
}

func (f *fakeNotifier) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.messages...)
}

func seedReminder(t *testing.T, st store.ReminderStore, r *store.Reminder) *store.Reminder {
	t.Helper()
	if r.ID == "" {
		r.ID = "rem-" + r.Text
	}
	if r.Status == "" {
		r.Status = store.StatusScheduled
	}
	if r.Repeat == "" {
		r.Repeat = store.RepeatNone
	}
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if err := st.CreateReminder(context.Background(), r); err != nil {
		t.Fatalf("seed reminder: %v", err)
	}
	return r
}

func TestDeliver_SendsAndMarks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	r := seedReminder(t, st, &store.Reminder{
		UserID: 1, ChatID: 42, Text: "позвонить маме", ScheduleAtUTC: now,
	})

	notifier := &fakeNotifier{}
	dl := NewDeliverer(st, notifier, nil, nil)
	dl.now = func() time.Time { return now }

	result, err := dl.Deliver(ctx, r.ID)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if result != ResultDelivered {
		t.Fatalf("result = %v, want delivered", result)
	}

	got := notifier.sent()
	if len(got) != 1 || got[0].chatID != 42 || got[0].text != "позвонить маме" {
		t.Errorf("sent = %+v", got)
	}

	stored, err := st.GetReminder(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if stored.Status != store.StatusSent || stored.SentAt == nil {
		t.Errorf("stored = %+v, want status sent with SentAt", stored)
	}
}

func TestDeliver_SecondCallIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	r := seedReminder(t, st, &store.Reminder{
		UserID: 1, ChatID: 42, Text: "x", ScheduleAtUTC: now,
	})

	notifier := &fakeNotifier{}
	dl := NewDeliverer(st, notifier, nil, nil)
	dl.now = func() time.Time { return now }

	first, err := dl.Deliver(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := dl.Deliver(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first != ResultDelivered || second != ResultAlreadyHandled {
		t.Errorf("results = %v, %v", first, second)
	}
	if n := len(notifier.sent()); n != 1 {
		t.Errorf("notifications = %d, want exactly 1", n)
	}
}

func TestDeliver_EarlyCallbackAndMissingID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	r := seedReminder(t, st, &store.Reminder{
		UserID: 1, ChatID: 1, Text: "x", ScheduleAtUTC: now.Add(time.Hour),
	})

	notifier := &fakeNotifier{}
	dl := NewDeliverer(st, notifier, nil, nil)
	dl.now = func() time.Time { return now }

	result, err := dl.Deliver(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result != ResultNotDue {
		t.Errorf("early callback result = %v, want not_due", result)
	}

	result, err = dl.Deliver(ctx, "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if result != ResultNotFound {
		t.Errorf("missing id result = %v, want not_found", result)
	}
	if len(notifier.sent()) != 0 {
		t.Errorf("nothing should have been sent: %+v", notifier.sent())
	}
}

func TestDeliver_OverduePrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	r := seedReminder(t, st, &store.Reminder{
		UserID: 1, ChatID: 1, Text: "позвонить маме",
		ScheduleAtUTC:      now.Add(-3 * time.Hour),
		OriginalTimePhrase: "завтра в 9",
	})

	notifier := &fakeNotifier{}
	dl := NewDeliverer(st, notifier, nil, nil)
	dl.now = func() time.Time { return now }

	if _, err := dl.Deliver(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	got := notifier.sent()
	want := "Просроченное напоминание (было: завтра в 9).\nпозвонить маме"
	if len(got) != 1 || got[0].text != want {
		t.Errorf("sent = %+v, want %q", got, want)
	}
}

func TestDeliver_NotifierFailureStillMarksSent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	r := seedReminder(t, st, &store.Reminder{
		UserID: 1, ChatID: 1, Text: "x", ScheduleAtUTC: now,
	})

	dl := NewDeliverer(st, &fakeNotifier{err: errors.New("telegram down")}, nil, nil)
	dl.now = func() time.Time { return now }

	result, err := dl.Deliver(ctx, r.ID)
	if err != nil {
		t.Fatalf("send failure must not surface: %v", err)
	}
	if result != ResultDelivered {
		t.Errorf("result = %v", result)
	}
	stored, _ := st.GetReminder(ctx, r.ID)
	if stored.Status != store.StatusSent {
		t.Errorf("status = %v, want sent", stored.Status)
	}
}

func TestDeliver_RecurrenceCreatesNextRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	r := seedReminder(t, st, &store.Reminder{
		UserID: 1, ChatID: 42, Text: "зарядка",
		ScheduleAtUTC: now, Repeat: store.RepeatDaily,
		OriginalTimePhrase: "каждый день в 9",
	})

	disp := &fakeDispatcher{}
	dl := NewDeliverer(st, &fakeNotifier{}, disp, nil)
	dl.now = func() time.Time { return now }

	if _, err := dl.Deliver(ctx, r.ID); err != nil {
		t.Fatal(err)
	}

	due, err := st.ListDueReminders(ctx, now.Add(48*time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("next occurrences = %d, want 1", len(due))
	}
	next := due[0]
	if next.ID == r.ID {
		t.Error("recurrence must insert a fresh row, not reuse the old one")
	}
	wantAt := now.Add(24 * time.Hour)
	if !next.ScheduleAtUTC.Equal(wantAt) {
		t.Errorf("next at %v, want %v", next.ScheduleAtUTC, wantAt)
	}
	if next.Repeat != store.RepeatDaily || next.Text != "зарядка" || next.ChatID != 42 {
		t.Errorf("next = %+v", next)
	}
	if len(disp.calls) != 1 || disp.calls[0].path != RemindPath || !disp.calls[0].at.Equal(wantAt) {
		t.Errorf("dispatcher calls = %+v", disp.calls)
	}
}

func TestDeliver_OneShotDoesNotRecur(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	r := seedReminder(t, st, &store.Reminder{
		UserID: 1, ChatID: 1, Text: "x", ScheduleAtUTC: now,
	})

	dl := NewDeliverer(st, &fakeNotifier{}, &fakeDispatcher{}, nil)
	dl.now = func() time.Time { return now }

	if _, err := dl.Deliver(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	due, err := st.ListDueReminders(ctx, now.Add(365*24*time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("one-shot reminder spawned rows: %+v", due)
	}
}

func TestSweep_DeliversDueOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	seedReminder(t, st, &store.Reminder{
		ID: "due-1", UserID: 1, ChatID: 1, Text: "a", ScheduleAtUTC: now.Add(-time.Minute),
	})
	seedReminder(t, st, &store.Reminder{
		ID: "due-2", UserID: 1, ChatID: 1, Text: "b", ScheduleAtUTC: now,
	})
	seedReminder(t, st, &store.Reminder{
		ID: "future", UserID: 1, ChatID: 1, Text: "c", ScheduleAtUTC: now.Add(time.Hour),
	})

	notifier := &fakeNotifier{}
	dl := NewDeliverer(st, notifier, nil, nil)
	dl.now = func() time.Time { return now }

	sent, err := dl.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	if n := len(notifier.sent()); n != 2 {
		t.Errorf("notifications = %d, want 2", n)
	}

	// A second sweep finds nothing left.
	sent, err = dl.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sent != 0 {
		t.Errorf("second sweep sent = %d, want 0", sent)
	}
}

func TestSweep_RacesCallbackWithoutDoubleSend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	r := seedReminder(t, st, &store.Reminder{
		UserID: 1, ChatID: 1, Text: "x", ScheduleAtUTC: now,
	})

	notifier := &fakeNotifier{}
	dl := NewDeliverer(st, notifier, nil, nil)
	dl.now = func() time.Time { return now }

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := dl.Deliver(ctx, r.ID); err != nil {
				t.Errorf("Deliver: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(notifier.sent()); n != 1 {
		t.Errorf("concurrent delivery sent %d notifications, want 1", n)
	}
}

func TestNotificationText_OnTime(t *testing.T) {
	t.Parallel()

	dl := NewDeliverer(store.NewMemoryStore(24), &fakeNotifier{}, nil, nil)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	r := &store.Reminder{Text: "зарядка", ScheduleAtUTC: now}

	if got := dl.notificationText(r, now); got != "зарядка" {
		t.Errorf("on-time text = %q", got)
	}
	if got := dl.notificationText(r, now.Add(time.Minute)); !strings.HasPrefix(got, "Просроченное напоминание") {
		t.Errorf("overdue text = %q", got)
	}
}
