// Package llm implements the language-model client used for replies,
// history summarization, and reminder intent extraction. It speaks the
// OpenAI-compatible chat completions format, which works with OpenAI and
// any compatible endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avdeenko/sputnik/pkg/sputnik/store"
)

// Client handles communication with the LLM provider API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	fastModel  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Options configures a Client.
type Options struct {
	// BaseURL is the API base URL; defaults to the OpenAI endpoint.
	BaseURL string

	// APIKey is the bearer token.
	APIKey string

	// Model is the full-quality model.
	Model string

	// FastModel, when set, is used for short prompts with little history.
	FastModel string
}

// New creates a client from options.
func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     opts.APIKey,
		model:      model,
		fastModel:  opts.FastModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger.With("component", "llm"),
	}
}

// ---------- Wire Types (OpenAI-compatible) ----------

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ---------- Reminder parsing ----------

// ReminderParse is the structured output of reminder intent extraction.
type ReminderParse struct {
	// Intent is "set_reminder" when the text asks for a reminder.
	Intent string `json:"intent"`

	// Text is the reminder body with the time phrase stripped.
	Text string `json:"text"`

	// DatetimeLocal is the resolved local time, ISO without zone, or "".
	DatetimeLocal string `json:"datetime_local"`

	// Repeat is none/hourly/daily/weekly/monthly/yearly.
	Repeat string `json:"repeat"`

	// Confidence is the model's self-reported extraction confidence, 0..1.
	Confidence float64 `json:"confidence"`

	// OriginalTimePhrase is the time phrase as the user wrote it.
	OriginalTimePhrase string `json:"original_time_phrase"`
}

// deepPhrases force the full-quality model even for short prompts.
var deepPhrases = []string{
	"think hard", "think carefully", "think step by step",
	"подумай как следует", "подумай хорошенько", "думай шаг за шагом",
	"подробно",
}

const (
	// shortPromptLimit is the max rune count for the fast-model path.
	shortPromptLimit = 200

	// shortHistoryLimit is the max raw turns for the fast-model path.
	shortHistoryLimit = 4
)

// pickModel selects the fast model for short prompts with little history,
// unless the user explicitly asked for deeper reasoning.
func (c *Client) pickModel(history []store.Turn, userText string) string {
	if c.fastModel == "" {
		return c.model
	}
	if len([]rune(userText)) > shortPromptLimit || len(history) > shortHistoryLimit {
		return c.model
	}
	lower := strings.ToLower(userText)
	for _, phrase := range deepPhrases {
		if strings.Contains(lower, phrase) {
			return c.model
		}
	}
	return c.fastModel
}

// ---------- Public Methods ----------

const replySystemPrompt = "Ты персональный ассистент. Отвечай кратко и по делу, " +
	"на языке собеседника."

// GenerateReply produces an assistant reply for the given history and user
// message. The second return value is the model that produced it, used for
// the attribution line appended to outgoing messages.
func (c *Client) GenerateReply(ctx context.Context, history []store.Turn, userText string) (string, string, error) {
	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: replySystemPrompt})
	for _, turn := range history {
		messages = append(messages, chatMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userText})

	model := c.pickModel(history, userText)
	content, err := c.complete(ctx, chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(content), model, nil
}

const summarySystemPrompt = "Сожми диалог в короткую сводку фактов и договорённостей. " +
	"Сохрани имена, даты и незакрытые вопросы. Не более 10 предложений."

// SummarizeHistory condenses older turns plus the previous summary into a
// new rolling summary.
func (c *Client) SummarizeHistory(ctx context.Context, turns []store.Turn, existingSummary string) (string, error) {
	var b strings.Builder
	if existingSummary != "" {
		b.WriteString("Предыдущая сводка:\n")
		b.WriteString(existingSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Диалог:\n")
	for _, turn := range turns {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}

	content, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

const reminderSystemPrompt = `Extract a reminder request from the user message.
Respond with JSON only:
{"intent": "set_reminder" or "other",
 "text": reminder body without the time phrase,
 "datetime_local": "YYYY-MM-DDTHH:MM" local time or "",
 "repeat": "none"|"hourly"|"daily"|"weekly"|"monthly"|"yearly",
 "confidence": 0.0-1.0,
 "original_time_phrase": the time phrase as written}`

// ParseReminder asks the model to extract a schedule from free text.
// tzName may be empty when the user's timezone is not yet known; nowLocal
// anchors relative phrases like "tomorrow".
func (c *Client) ParseReminder(ctx context.Context, text, tzName, nowLocalISO string) (*ReminderParse, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Current local time: %s\n", nowLocalISO)
	if tzName != "" {
		fmt.Fprintf(&b, "User timezone: %s\n", tzName)
	}
	b.WriteString("Message: ")
	b.WriteString(text)

	content, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: reminderSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	var parsed ReminderParse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("parse reminder response: %w", err)
	}
	return &parsed, nil
}

// ---------- Internal ----------

// complete sends a chat completion request and returns the first choice.
func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat API error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices (status %d)", resp.StatusCode)
	}
	return parsed.Choices[0].Message.Content, nil
}
