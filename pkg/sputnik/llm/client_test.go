package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/avdeenko/sputnik/pkg/sputnik/store"
)

// newTestServer returns a client pointed at a fake chat completions
// endpoint, plus a pointer to the last request it saw.
func newTestServer(t *testing.T, content string) (*Client, *chatRequest) {
	t.Helper()

	var last chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&last); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c := New(Options{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		Model:     "full-model",
		FastModel: "fast-model",
	}, nil)
	return c, &last
}

func TestGenerateReply(t *testing.T) {
	c, last := newTestServer(t, "  привет!  ")

	history := []store.Turn{
		{Role: store.RoleSystem, Content: "summary"},
		{Role: store.RoleUser, Content: "раньше"},
	}
	reply, model, err := c.GenerateReply(context.Background(), history, "привет")
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if reply != "привет!" {
		t.Errorf("reply = %q, want trimmed привет!", reply)
	}
	if model != "fast-model" {
		t.Errorf("model = %q, want fast-model for a short prompt", model)
	}
	// system prompt + 2 history turns + user message.
	if len(last.Messages) != 4 {
		t.Fatalf("sent %d messages, want 4", len(last.Messages))
	}
	if last.Messages[3].Role != "user" || last.Messages[3].Content != "привет" {
		t.Errorf("last message = %+v", last.Messages[3])
	}
}

func TestPickModel(t *testing.T) {
	t.Parallel()

	c := New(Options{Model: "full", FastModel: "fast"}, nil)
	longHistory := make([]store.Turn, 10)

	tests := []struct {
		name    string
		history []store.Turn
		text    string
		want    string
	}{
		{"short prompt", nil, "2+2?", "fast"},
		{"long prompt", nil, strings.Repeat("слово ", 50), "full"},
		{"long history", longHistory, "hi", "full"},
		{"deep phrase english", nil, "think hard about this", "full"},
		{"deep phrase russian", nil, "Подумай как следует", "full"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.pickModel(tt.history, tt.text); got != tt.want {
				t.Errorf("pickModel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPickModel_NoFastModelConfigured(t *testing.T) {
	t.Parallel()

	c := New(Options{Model: "full"}, nil)
	if got := c.pickModel(nil, "hi"); got != "full" {
		t.Errorf("pickModel = %q, want full", got)
	}
}

func TestSummarizeHistory_IncludesExistingSummary(t *testing.T) {
	c, last := newTestServer(t, "новая сводка")

	turns := []store.Turn{
		{Role: store.RoleUser, Content: "купи молоко"},
		{Role: store.RoleAssistant, Content: "хорошо"},
	}
	got, err := c.SummarizeHistory(context.Background(), turns, "старая сводка")
	if err != nil {
		t.Fatalf("SummarizeHistory: %v", err)
	}
	if got != "новая сводка" {
		t.Errorf("summary = %q", got)
	}
	if last.Model != "full-model" {
		t.Errorf("summaries must use the full model, got %q", last.Model)
	}
	prompt := last.Messages[1].Content
	if !strings.Contains(prompt, "старая сводка") || !strings.Contains(prompt, "купи молоко") {
		t.Errorf("prompt missing context: %q", prompt)
	}
}

func TestParseReminder(t *testing.T) {
	c, last := newTestServer(t, `{
		"intent": "set_reminder",
		"text": "позвонить маме",
		"datetime_local": "2025-06-02T09:00",
		"repeat": "none",
		"confidence": 0.93,
		"original_time_phrase": "завтра в 9"
	}`)

	parsed, err := c.ParseReminder(context.Background(),
		"напомни завтра в 9 позвонить маме", "Asia/Jerusalem", "2025-06-01T20:00")
	if err != nil {
		t.Fatalf("ParseReminder: %v", err)
	}
	if parsed.Intent != "set_reminder" || parsed.DatetimeLocal != "2025-06-02T09:00" {
		t.Errorf("parsed = %+v", parsed)
	}
	if parsed.Confidence != 0.93 || parsed.OriginalTimePhrase != "завтра в 9" {
		t.Errorf("parsed = %+v", parsed)
	}
	if last.ResponseFormat == nil || last.ResponseFormat.Type != "json_object" {
		t.Error("reminder extraction must request JSON output")
	}
	if !strings.Contains(last.Messages[1].Content, "Asia/Jerusalem") {
		t.Error("timezone not passed to the model")
	}
}

func TestParseReminder_MalformedJSON(t *testing.T) {
	c, _ := newTestServer(t, "sorry, I can't")

	if _, err := c.ParseReminder(context.Background(), "напомни", "", "2025-06-01T20:00"); err == nil {
		t.Fatal("expected error for malformed model output")
	}
}

func TestComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	t.Cleanup(srv.Close)

	c := New(Options{BaseURL: srv.URL, Model: "m"}, nil)
	_, _, err := c.GenerateReply(context.Background(), nil, "hi")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected API error, got %v", err)
	}
}
