// Package dispatch talks to the external task scheduler that calls the
// gateway back when a reminder is due. The scheduler is a latency
// optimization only; the periodic sweep remains the durability backstop,
// so every error here is safe to log and drop.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when the scheduler endpoint or queue routing
// is not set. Callers treat it like any other dispatch failure: the sweep
// picks the work up.
var ErrNotConfigured = errors.New("task scheduler not configured")

// TokenHeader carries the shared secret the scheduler echoes back on
// callbacks.
const TokenHeader = "X-Tasks-Token"

// Config identifies the scheduler endpoint and the queue tasks go to.
type Config struct {
	// BaseURL is the scheduler's API endpoint.
	BaseURL string

	// Project, Location, Queue route the task to a queue.
	Project  string
	Location string
	Queue    string

	// TargetBase is the public base URL of this gateway that callbacks
	// are addressed to.
	TargetBase string

	// Token is stamped on callbacks as the shared secret.
	Token string
}

// Client schedules one-shot HTTP callbacks through an external scheduler.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a scheduler client. An incomplete config leaves the client
// unconfigured rather than failing.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.TargetBase = strings.TrimRight(cfg.TargetBase, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With("component", "dispatch"),
	}
}

// Configured reports whether the client can actually reach a scheduler.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.TargetBase != "" &&
		c.cfg.Project != "" && c.cfg.Location != "" && c.cfg.Queue != ""
}

// taskRequest is the scheduler's task creation body.
type taskRequest struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Body         json.RawMessage   `json:"body,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	ScheduleTime string            `json:"schedule_time"`
}

// ScheduleCallback asks the scheduler to POST payload to path on this
// gateway at the given UTC instant.
func (c *Client) ScheduleCallback(ctx context.Context, path string, payload any, at time.Time) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	task := taskRequest{
		URL:          c.cfg.TargetBase + path,
		Method:       http.MethodPost,
		Body:         body,
		ScheduleTime: at.UTC().Format(time.RFC3339),
	}
	if c.cfg.Token != "" {
		task.Headers = map[string]string{TokenHeader: c.cfg.Token}
	}

	reqBody, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queueURL(), bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create task request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("schedule callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("scheduler returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	c.logger.Debug("callback scheduled", "path", path, "at", at.UTC())
	return nil
}

func (c *Client) queueURL() string {
	return fmt.Sprintf("%s/projects/%s/locations/%s/queues/%s/tasks",
		c.cfg.BaseURL, c.cfg.Project, c.cfg.Location, c.cfg.Queue)
}
