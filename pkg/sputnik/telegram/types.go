// Package telegram – types.go defines the Bot API wire types the webhook
// receives. Only the fields the gateway reads are declared.
package telegram

// Update is one webhook payload from the Bot API.
type Update struct {
	UpdateID     int64              `json:"update_id"`
	Message      *Message           `json:"message"`
	MyChatMember *ChatMemberUpdated `json:"my_chat_member"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID      int64    `json:"message_id"`
	From           *User    `json:"from"`
	Chat           Chat     `json:"chat"`
	Date           int64    `json:"date"`
	Text           string   `json:"text"`
	ReplyToMessage *Message `json:"reply_to_message"`
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat is the conversation the message belongs to.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

// ChatMemberUpdated reports a change of the bot's membership in a chat.
type ChatMemberUpdated struct {
	Chat          Chat       `json:"chat"`
	From          *User      `json:"from"`
	NewChatMember ChatMember `json:"new_chat_member"`
}

// ChatMember is the new membership state carried by a my_chat_member update.
type ChatMember struct {
	Status string `json:"status"` // "member", "administrator", "left", "kicked", ...
	User   User   `json:"user"`
}
