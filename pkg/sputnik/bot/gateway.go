// Package bot wires the gateway together: inbound Telegram updates flow
// through access control, the arithmetic fast path, the reminder dialogue,
// and finally the model reply path. Background compaction runs detached
// with its own error boundary.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avdeenko/sputnik/pkg/sputnik/access"
	"github.com/avdeenko/sputnik/pkg/sputnik/calc"
	"github.com/avdeenko/sputnik/pkg/sputnik/reminders"
	"github.com/avdeenko/sputnik/pkg/sputnik/store"
	"github.com/avdeenko/sputnik/pkg/sputnik/telegram"
)

// replyFallback is the single user-visible message for any foreground
// failure. Details stay in the logs.
const replyFallback = "Произошла временная ошибка. Попробуйте ещё раз чуть позже."

// LLM is the model backend the gateway replies and summarizes with.
// Implemented by llm.Client.
type LLM interface {
	GenerateReply(ctx context.Context, history []store.Turn, userText string) (reply, model string, err error)
	SummarizeHistory(ctx context.Context, turns []store.Turn, existingSummary string) (string, error)
}

// Messenger is the outbound chat transport. Implemented by telegram.Client.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	LeaveChat(ctx context.Context, chatID int64) error
}

// ReminderDialogue short-circuits reminder business before the reply path.
// Implemented by reminders.Dialogue.
type ReminderDialogue interface {
	Handle(ctx context.Context, userID, chatID int64, text string) (reminders.Outcome, error)
}

// Gateway orchestrates one update end to end.
type Gateway struct {
	store     store.Store
	llm       LLM
	messenger Messenger
	dialogue  ReminderDialogue
	logger    *slog.Logger

	adminID     int64
	botUsername string

	maxMessages    int
	summaryTrigger int
	ttlHours       int

	bg sync.WaitGroup
}

// GatewayOptions carries the gateway's scalar knobs.
type GatewayOptions struct {
	AdminID        int64
	BotUsername    string
	MaxMessages    int
	SummaryTrigger int
	TTLHours       int
}

// NewGateway creates the orchestrator.
func NewGateway(st store.Store, llm LLM, messenger Messenger, dialogue ReminderDialogue, opts GatewayOptions, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:          st,
		llm:            llm,
		messenger:      messenger,
		dialogue:       dialogue,
		logger:         logger.With("component", "gateway"),
		adminID:        opts.AdminID,
		botUsername:    opts.BotUsername,
		maxMessages:    opts.MaxMessages,
		summaryTrigger: opts.SummaryTrigger,
		ttlHours:       opts.TTLHours,
	}
}

// HandleUpdate routes one webhook update to the right handler.
func (g *Gateway) HandleUpdate(ctx context.Context, upd *telegram.Update) {
	switch {
	case upd.Message != nil:
		g.HandleMessage(ctx, upd.Message)
	case upd.MyChatMember != nil:
		g.HandleMyChatMember(ctx, upd.MyChatMember)
	}
}

// HandleMessage runs one inbound message through the pipeline. All errors
// end here: the user sees either a real reply or the fallback line.
func (g *Gateway) HandleMessage(ctx context.Context, msg *telegram.Message) {
	if msg.Text == "" || msg.From == nil {
		return
	}
	if !access.ShouldRespond(msg, g.botUsername, g.adminID) {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	// Pure arithmetic answers locally, no model round-trip.
	if result, ok := calc.Evaluate(msg.Text); ok {
		g.appendExchange(ctx, userID, msg.Text, result)
		g.send(ctx, chatID, result)
		return
	}

	out, err := g.dialogue.Handle(ctx, userID, chatID, msg.Text)
	if err != nil {
		g.logger.Error("reminder dialogue failed", "user_id", userID, "error", err)
		g.send(ctx, chatID, replyFallback)
		return
	}
	if out.Handled {
		g.appendExchange(ctx, userID, msg.Text, out.Reply)
		g.send(ctx, chatID, out.Reply)
		return
	}

	history, err := g.store.RecentHistory(ctx, userID, g.maxMessages)
	if err != nil {
		g.logger.Error("failed to load history", "user_id", userID, "error", err)
		g.send(ctx, chatID, replyFallback)
		return
	}

	reply, model, err := g.llm.GenerateReply(ctx, history, msg.Text)
	if err != nil {
		// No partial state: the failed exchange is not written to history.
		g.logger.Error("model reply failed", "user_id", userID, "error", err)
		g.send(ctx, chatID, replyFallback)
		return
	}

	g.appendExchange(ctx, userID, msg.Text, reply)

	text := reply
	if model != "" {
		text += "\n\n— model: " + model
	}
	g.send(ctx, chatID, text)

	g.compactAsync(userID)
}

// HandleMyChatMember leaves any chat the bot was added to by a stranger.
func (g *Gateway) HandleMyChatMember(ctx context.Context, event *telegram.ChatMemberUpdated) {
	status := event.NewChatMember.Status
	if status != "member" && status != "administrator" {
		return
	}
	if !access.ShouldLeaveChat(event, g.adminID) {
		return
	}
	g.logger.Info("leaving chat added by non-admin", "chat_id", event.Chat.ID)
	if err := g.messenger.LeaveChat(ctx, event.Chat.ID); err != nil {
		g.logger.Error("failed to leave chat", "chat_id", event.Chat.ID, "error", err)
	}
}

// Wait blocks until detached background work finishes.
func (g *Gateway) Wait() {
	g.bg.Wait()
}

// appendExchange writes the user turn and the assistant turn. Store errors
// are logged; the reply was already decided.
func (g *Gateway) appendExchange(ctx context.Context, userID int64, userText, reply string) {
	if err := g.store.AppendMessage(ctx, userID, store.RoleUser, userText); err != nil {
		g.logger.Error("failed to append user turn", "user_id", userID, "error", err)
		return
	}
	if err := g.store.AppendMessage(ctx, userID, store.RoleAssistant, reply); err != nil {
		g.logger.Error("failed to append assistant turn", "user_id", userID, "error", err)
	}
}

func (g *Gateway) send(ctx context.Context, chatID int64, text string) {
	if err := g.messenger.SendMessage(ctx, chatID, text); err != nil {
		g.logger.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

// compactAsync triggers history compaction without blocking the reply. The
// goroutine owns its context and swallows all errors; a failed run is
// retried naturally on a later message.
func (g *Gateway) compactAsync(userID int64) {
	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		err := g.store.Compact(ctx, userID, g.maxMessages, g.summaryTrigger, g.ttlHours, g.llm.SummarizeHistory)
		if err != nil {
			g.logger.Warn("history compaction failed", "user_id", userID, "error", err)
		}
	}()
}
