// Package telegram implements the chat transport for the gateway using the
// Telegram Bot API directly via HTTP. The gateway receives updates through
// a webhook, so this client only covers the outbound surface: sending
// messages, leaving chats, and webhook registration.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Client is a thin Telegram Bot API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for the given bot token.
func New(token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    "https://api.telegram.org/bot" + token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "telegram"),
	}
}

// SendMessage sends a text message to the chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.apiCall(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	return err
}

// LeaveChat makes the bot leave the given chat.
func (c *Client) LeaveChat(ctx context.Context, chatID int64) error {
	_, err := c.apiCall(ctx, "leaveChat", map[string]any{"chat_id": chatID})
	return err
}

// GetMe returns the bot's own account info.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	data, err := c.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

// SetWebhook registers the webhook URL and drops updates queued while the
// gateway was down. A non-empty secret makes Telegram echo it in the
// X-Telegram-Bot-Api-Secret-Token header on every update.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	payload := map[string]any{
		"url":                  url,
		"drop_pending_updates": true,
		"allowed_updates":      []string{"message", "my_chat_member"},
	}
	if secret != "" {
		payload["secret_token"] = secret
	}
	_, err := c.apiCall(ctx, "setWebhook", payload)
	return err
}

// apiCall makes a POST request to the Telegram Bot API.
func (c *Client) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}
