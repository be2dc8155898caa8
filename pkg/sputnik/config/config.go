// Package config – config.go defines all configuration structures for the
// sputnik gateway.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all gateway configuration.
type Config struct {
	// Telegram configures the bot transport.
	Telegram TelegramConfig `yaml:"telegram"`

	// API configures the LLM backend.
	API APIConfig `yaml:"api"`

	// History configures conversation retention and compaction.
	History HistoryConfig `yaml:"history"`

	// Reminders configures the reminder subsystem.
	Reminders RemindersConfig `yaml:"reminders"`

	// Tasks configures the external callback scheduler.
	Tasks TasksConfig `yaml:"tasks"`

	// Storage configures the persistence backend.
	Storage StorageConfig `yaml:"storage"`

	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// TelegramConfig configures the bot transport and its single owner.
type TelegramConfig struct {
	// BotToken is the Bot API token.
	BotToken string `yaml:"bot_token"`

	// AdminUserID is the only user the bot talks to.
	AdminUserID int64 `yaml:"admin_user_id"`

	// WebhookBase is the public base URL updates are delivered to.
	WebhookBase string `yaml:"webhook_base"`

	// WebhookSecret is the secret_token passed to setWebhook and checked
	// on every incoming update. Empty disables the check.
	WebhookSecret string `yaml:"webhook_secret"`
}

// APIConfig configures the LLM backend.
type APIConfig struct {
	// BaseURL is the chat completions endpoint base.
	BaseURL string `yaml:"base_url"`

	// APIKey is the bearer token. Prefer ${SPUTNIK_API_KEY} over plaintext.
	APIKey string `yaml:"api_key"`

	// Model is the main model for replies and summaries.
	Model string `yaml:"model"`

	// FastModel serves short prompts when set.
	FastModel string `yaml:"fast_model"`
}

// HistoryConfig configures conversation retention and compaction.
type HistoryConfig struct {
	// MaxMessages is the raw-turn window sent to the model.
	MaxMessages int `yaml:"max_messages"`

	// SummaryTrigger is the turn count past which compaction runs.
	SummaryTrigger int `yaml:"summary_trigger"`

	// TTLDays is how long turns and summaries live.
	TTLDays int `yaml:"ttl_days"`
}

// RemindersConfig configures the reminder subsystem.
type RemindersConfig struct {
	// ConfidenceThreshold gates direct scheduling from a fresh intent.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// SweepIntervalSeconds is how often the due-reminder sweep runs.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// SweepInterval returns the sweep period as a duration.
func (r RemindersConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalSeconds) * time.Second
}

// TasksConfig configures the external callback scheduler.
type TasksConfig struct {
	// BaseURL is the scheduler API endpoint. Empty disables dispatch and
	// leaves delivery to the sweep.
	BaseURL string `yaml:"base_url"`

	// Project, Location, Queue route created tasks to a queue.
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
	Queue    string `yaml:"queue"`

	// TargetBase is the public base URL callbacks are addressed to.
	// Defaults to the webhook base.
	TargetBase string `yaml:"target_base"`

	// Token is the shared secret checked on /tasks/* callbacks. Empty
	// disables the check.
	Token string `yaml:"token"`
}

// StorageConfig configures the persistence backend.
type StorageConfig struct {
	// Type is "sqlite" or "memory".
	Type string `yaml:"type"`

	// Path is the database file path (sqlite only).
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Listen is the bind address.
	Listen string `yaml:"listen"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o",
			FastModel: "gpt-4o-mini",
		},
		History: HistoryConfig{
			MaxMessages:    16,
			SummaryTrigger: 20,
			TTLDays:        7,
		},
		Reminders: RemindersConfig{
			ConfidenceThreshold:  0.7,
			SweepIntervalSeconds: 60,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			Path: "./data/sputnik.db",
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the config for fatal mistakes and applies the remaining
// cross-field defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("telegram.bot_token is required"))
	}
	if c.Telegram.AdminUserID == 0 {
		errs = append(errs, errors.New("telegram.admin_user_id is required"))
	}
	if c.API.APIKey == "" {
		errs = append(errs, errors.New("api.api_key is required (set SPUTNIK_API_KEY)"))
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.type %q is not supported", c.Storage.Type))
	}

	if c.History.MaxMessages <= 0 || c.History.SummaryTrigger <= 0 || c.History.TTLDays <= 0 {
		errs = append(errs, errors.New("history values must be positive"))
	}
	if c.Reminders.ConfidenceThreshold <= 0 || c.Reminders.ConfidenceThreshold > 1 {
		errs = append(errs, errors.New("reminders.confidence_threshold must be in (0, 1]"))
	}

	if c.Tasks.BaseURL != "" && (c.Tasks.Project == "" || c.Tasks.Location == "" || c.Tasks.Queue == "") {
		errs = append(errs, errors.New("tasks.project, tasks.location and tasks.queue are required when tasks.base_url is set"))
	}

	// Callbacks go to the webhook host unless pointed elsewhere.
	if c.Tasks.TargetBase == "" {
		c.Tasks.TargetBase = c.Telegram.WebhookBase
	}

	return errors.Join(errs...)
}
