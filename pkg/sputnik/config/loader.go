// Package config – loader.go reads YAML configuration with environment
// variable expansion and .env support.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadFromFile reads and parses a YAML configuration file. .env files are
// loaded first and ${VAR} references in the YAML are expanded.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse([]byte(expandEnvVars(string(data))))
	if err != nil {
		return nil, err
	}
	resolveSecrets(cfg)
	return cfg, nil
}

// Load builds a config without a YAML file, from defaults plus environment
// variables only.
func Load() *Config {
	loadEnvFiles()
	cfg := DefaultConfig()
	resolveSecrets(cfg)
	return cfg
}

// Parse parses YAML bytes into a Config, overlaying the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"sputnik.yaml",
		"sputnik.yml",
		"configs/config.yaml",
		"configs/sputnik.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from standard locations.
func loadEnvFiles() {
	envFiles := []string{
		".env",
		".env.local",
	}

	for _, f := range envFiles {
		// godotenv.Load does NOT overwrite existing env vars.
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and $VAR references in a string with their
// environment variable values. Unset variables are left as-is.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// resolveSecrets fills in secrets from environment variables when the
// config value is empty or an unexpanded placeholder.
func resolveSecrets(cfg *Config) {
	if cfg.Telegram.BotToken == "" || IsEnvReference(cfg.Telegram.BotToken) {
		if v := os.Getenv("SPUTNIK_BOT_TOKEN"); v != "" {
			cfg.Telegram.BotToken = v
		} else if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
			cfg.Telegram.BotToken = v
		}
	}

	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		if v := os.Getenv("SPUTNIK_API_KEY"); v != "" {
			cfg.API.APIKey = v
		} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.API.APIKey = v
		}
	}

	if cfg.Tasks.Token == "" || IsEnvReference(cfg.Tasks.Token) {
		if v := os.Getenv("SPUTNIK_TASKS_TOKEN"); v != "" {
			cfg.Tasks.Token = v
		}
	}

	if cfg.Telegram.WebhookSecret == "" || IsEnvReference(cfg.Telegram.WebhookSecret) {
		if v := os.Getenv("SPUTNIK_WEBHOOK_SECRET"); v != "" {
			cfg.Telegram.WebhookSecret = v
		}
	}
}
