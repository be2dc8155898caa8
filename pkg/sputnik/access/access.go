// Package access implements the gateway's reply and membership predicates.
// The bot is personal: only the configured admin gets replies, and in group
// chats only when addressed directly.
package access

import (
	"strings"

	"github.com/avdeenko/sputnik/pkg/sputnik/telegram"
)

// IsAdmin reports whether the sender is the configured admin.
func IsAdmin(userID, adminID int64) bool {
	return userID != 0 && userID == adminID
}

// IsGroupChat reports whether the chat type is a group conversation.
func IsGroupChat(chatType string) bool {
	return chatType == "group" || chatType == "supergroup"
}

// IsMention reports whether the text mentions the bot by username.
func IsMention(text, botUsername string) bool {
	if text == "" || botUsername == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(botUsername))
}

// IsReplyToBot reports whether the message replies to one of the bot's own
// messages.
func IsReplyToBot(msg *telegram.Message, botUsername string) bool {
	if msg.ReplyToMessage == nil || botUsername == "" {
		return false
	}
	from := msg.ReplyToMessage.From
	return from != nil && from.Username == botUsername
}

// ShouldRespond decides whether an inbound message gets a reply. Non-admin
// senders never do. In group chats the admin must mention the bot or reply
// to it; in private chats every admin message is answered.
func ShouldRespond(msg *telegram.Message, botUsername string, adminID int64) bool {
	var senderID int64
	if msg.From != nil {
		senderID = msg.From.ID
	}
	if !IsAdmin(senderID, adminID) {
		return false
	}

	if IsGroupChat(msg.Chat.Type) {
		return IsMention(msg.Text, botUsername) || IsReplyToBot(msg, botUsername)
	}
	return true
}

// ShouldLeaveChat decides whether the bot should leave after a membership
// change: any chat it was added to by someone other than the admin.
func ShouldLeaveChat(event *telegram.ChatMemberUpdated, adminID int64) bool {
	var actorID int64
	if event.From != nil {
		actorID = event.From.ID
	}
	return !IsAdmin(actorID, adminID)
}
