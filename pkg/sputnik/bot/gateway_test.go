package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/avdeenko/sputnik/pkg/sputnik/reminders"
	"github.com/avdeenko/sputnik/pkg/sputnik/store"
	"github.com/avdeenko/sputnik/pkg/sputnik/telegram"
)

const (
	adminID = int64(100)
	botName = "sputnik_bot"
)

// fakeLLM returns canned replies and counts calls.
type fakeLLM struct {
	reply   string
	model   string
	err     error
	summary string

	mu      sync.Mutex
	replies int
}

func (f *fakeLLM) GenerateReply(_ context.Context, _ []store.Turn, _ string) (string, string, error) {
	f.mu.Lock()
	f.replies++
	f.mu.Unlock()
	return f.reply, f.model, f.err
}

func (f *fakeLLM) SummarizeHistory(_ context.Context, _ []store.Turn, _ string) (string, error) {
	return f.summary, nil
}

func (f *fakeLLM) replyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies
}

// fakeMessenger records outbound traffic.
type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
	left []int64
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeMessenger) LeaveChat(_ context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, chatID)
	return nil
}

func (f *fakeMessenger) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeMessenger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeDialogue returns a canned outcome.
type fakeDialogue struct {
	out   reminders.Outcome
	err   error
	calls int
}

func (f *fakeDialogue) Handle(context.Context, int64, int64, string) (reminders.Outcome, error) {
	f.calls++
	return f.out, f.err
}

func adminMessage(text string) *telegram.Message {
	return &telegram.Message{
		From: &telegram.User{ID: adminID},
		Chat: telegram.Chat{ID: 500, Type: "private"},
		Text: text,
	}
}

func newTestGateway(st store.Store, llm *fakeLLM, m *fakeMessenger, d *fakeDialogue) *Gateway {
	return NewGateway(st, llm, m, d, GatewayOptions{
		AdminID:        adminID,
		BotUsername:    botName,
		MaxMessages:    16,
		SummaryTrigger: 20,
		TTLHours:       24,
	}, nil)
}

func TestHandleMessage_IgnoresStrangers(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{reply: "ответ"}
	m := &fakeMessenger{}
	g := newTestGateway(store.NewMemoryStore(24), llm, m, &fakeDialogue{})

	msg := adminMessage("привет")
	msg.From.ID = 999
	g.HandleMessage(context.Background(), msg)

	if m.sentCount() != 0 || llm.replyCalls() != 0 {
		t.Error("stranger message must be dropped silently")
	}
}

func TestHandleMessage_CalcFastPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	llm := &fakeLLM{reply: "ответ"}
	m := &fakeMessenger{}
	g := newTestGateway(st, llm, m, &fakeDialogue{})

	g.HandleMessage(ctx, adminMessage("2+2="))

	if got := m.lastSent(); got != "4" {
		t.Errorf("reply = %q, want 4", got)
	}
	if llm.replyCalls() != 0 {
		t.Error("arithmetic must not reach the model")
	}
	history, _ := st.RecentHistory(ctx, adminID, 10)
	if len(history) != 2 || history[1].Content != "4" {
		t.Errorf("history = %+v", history)
	}
}

func TestHandleMessage_DialogueShortCircuit(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{reply: "ответ"}
	m := &fakeMessenger{}
	d := &fakeDialogue{out: reminders.Outcome{Handled: true, Reply: "Напомню завтра."}}
	g := newTestGateway(store.NewMemoryStore(24), llm, m, d)

	g.HandleMessage(context.Background(), adminMessage("напомни завтра про хлеб"))

	if got := m.lastSent(); got != "Напомню завтра." {
		t.Errorf("reply = %q", got)
	}
	if llm.replyCalls() != 0 {
		t.Error("handled dialogue must not reach the model")
	}
}

func TestHandleMessage_DialogueErrorFallsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	m := &fakeMessenger{}
	d := &fakeDialogue{err: errors.New("nlu down")}
	g := newTestGateway(st, &fakeLLM{}, m, d)

	g.HandleMessage(ctx, adminMessage("напомни завтра про хлеб"))

	if got := m.lastSent(); got != replyFallback {
		t.Errorf("reply = %q, want fallback", got)
	}
	if history, _ := st.RecentHistory(ctx, adminID, 10); len(history) != 0 {
		t.Errorf("failed exchange written to history: %+v", history)
	}
}

func TestHandleMessage_ModelReplyWithAttribution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	llm := &fakeLLM{reply: "Конечно, помогу.", model: "gpt-4o"}
	m := &fakeMessenger{}
	g := newTestGateway(st, llm, m, &fakeDialogue{})

	g.HandleMessage(ctx, adminMessage("помоги с текстом"))
	g.Wait()

	want := "Конечно, помогу.\n\n— model: gpt-4o"
	if got := m.lastSent(); got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	history, _ := st.RecentHistory(ctx, adminID, 10)
	if len(history) != 2 {
		t.Fatalf("history turns = %d, want 2", len(history))
	}
	// Attribution is presentation only, never stored.
	if history[1].Content != "Конечно, помогу." {
		t.Errorf("stored assistant turn = %q", history[1].Content)
	}
}

func TestHandleMessage_NoAttributionWithoutModel(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{reply: "ответ"}
	m := &fakeMessenger{}
	g := newTestGateway(store.NewMemoryStore(24), llm, m, &fakeDialogue{})

	g.HandleMessage(context.Background(), adminMessage("привет"))
	g.Wait()

	if got := m.lastSent(); got != "ответ" {
		t.Errorf("reply = %q", got)
	}
}

func TestHandleMessage_ModelFailureWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	llm := &fakeLLM{err: errors.New("api down")}
	m := &fakeMessenger{}
	g := newTestGateway(st, llm, m, &fakeDialogue{})

	g.HandleMessage(ctx, adminMessage("привет"))

	if got := m.lastSent(); got != replyFallback {
		t.Errorf("reply = %q, want fallback", got)
	}
	if history, _ := st.RecentHistory(ctx, adminID, 10); len(history) != 0 {
		t.Errorf("failed exchange written to history: %+v", history)
	}
}

func TestHandleMessage_TriggersCompaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore(24)
	llm := &fakeLLM{reply: "ответ", summary: "сводка беседы"}
	m := &fakeMessenger{}
	g := NewGateway(st, llm, m, &fakeDialogue{}, GatewayOptions{
		AdminID:        adminID,
		BotUsername:    botName,
		MaxMessages:    4,
		SummaryTrigger: 6,
		TTLHours:       24,
	}, nil)

	for i := 0; i < 10; i++ {
		if err := st.AppendMessage(ctx, adminID, store.RoleUser, "сообщение"); err != nil {
			t.Fatal(err)
		}
	}

	g.HandleMessage(ctx, adminMessage("ещё вопрос"))
	g.Wait()

	history, _ := st.RecentHistory(ctx, adminID, 10)
	if len(history) == 0 || history[0].Role != store.RoleSystem {
		t.Fatalf("history = %+v, want leading summary turn", history)
	}
	if history[0].Content != "сводка беседы" {
		t.Errorf("summary = %q", history[0].Content)
	}
}

func TestHandleMyChatMember(t *testing.T) {
	t.Parallel()

	event := func(actor int64, status string) *telegram.ChatMemberUpdated {
		return &telegram.ChatMemberUpdated{
			Chat:          telegram.Chat{ID: -42, Type: "group"},
			From:          &telegram.User{ID: actor},
			NewChatMember: telegram.ChatMember{Status: status},
		}
	}

	t.Run("stranger add leaves", func(t *testing.T) {
		t.Parallel()
		m := &fakeMessenger{}
		g := newTestGateway(store.NewMemoryStore(24), &fakeLLM{}, m, &fakeDialogue{})
		g.HandleMyChatMember(context.Background(), event(999, "member"))
		if len(m.left) != 1 || m.left[0] != -42 {
			t.Errorf("left = %v", m.left)
		}
	})

	t.Run("admin add stays", func(t *testing.T) {
		t.Parallel()
		m := &fakeMessenger{}
		g := newTestGateway(store.NewMemoryStore(24), &fakeLLM{}, m, &fakeDialogue{})
		g.HandleMyChatMember(context.Background(), event(adminID, "member"))
		if len(m.left) != 0 {
			t.Errorf("left = %v", m.left)
		}
	})

	t.Run("removal events ignored", func(t *testing.T) {
		t.Parallel()
		m := &fakeMessenger{}
		g := newTestGateway(store.NewMemoryStore(24), &fakeLLM{}, m, &fakeDialogue{})
		g.HandleMyChatMember(context.Background(), event(999, "left"))
		g.HandleMyChatMember(context.Background(), event(999, "kicked"))
		if len(m.left) != 0 {
			t.Errorf("left = %v", m.left)
		}
	})
}

func TestHandleUpdate_Routing(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{reply: "ответ"}
	m := &fakeMessenger{}
	g := newTestGateway(store.NewMemoryStore(24), llm, m, &fakeDialogue{})

	g.HandleUpdate(context.Background(), &telegram.Update{Message: adminMessage("привет")})
	g.Wait()
	if m.sentCount() != 1 {
		t.Errorf("message update not routed: sent = %d", m.sentCount())
	}

	g.HandleUpdate(context.Background(), &telegram.Update{})
	if m.sentCount() != 1 {
		t.Error("empty update must be a no-op")
	}

	if strings.Contains(m.lastSent(), replyFallback) {
		t.Errorf("unexpected fallback: %q", m.lastSent())
	}
}
