package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avdeenko/sputnik/pkg/sputnik/bot"
	"github.com/avdeenko/sputnik/pkg/sputnik/config"
	"github.com/avdeenko/sputnik/pkg/sputnik/dispatch"
	"github.com/avdeenko/sputnik/pkg/sputnik/llm"
	"github.com/avdeenko/sputnik/pkg/sputnik/reminders"
	"github.com/avdeenko/sputnik/pkg/sputnik/store"
	"github.com/avdeenko/sputnik/pkg/sputnik/telegram"
)

// newServeCmd creates the `sputnik serve` command that starts the gateway.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the webhook server, the reminder sweep, and the Telegram
integration.

Examples:
  sputnik serve
  sputnik serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := newLogger(cfg.Logging, verbose)

	config.ResolveAPIKey(cfg, logger)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tg := telegram.New(cfg.Telegram.BotToken, logger)
	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram handshake failed: %w", err)
	}
	logger.Info("telegram connected", "username", me.Username)

	llmClient := llm.New(llm.Options{
		BaseURL:   cfg.API.BaseURL,
		APIKey:    cfg.API.APIKey,
		Model:     cfg.API.Model,
		FastModel: cfg.API.FastModel,
	}, logger)

	var dispatcher reminders.Dispatcher
	schedulerClient := dispatch.New(dispatch.Config{
		BaseURL:    cfg.Tasks.BaseURL,
		Project:    cfg.Tasks.Project,
		Location:   cfg.Tasks.Location,
		Queue:      cfg.Tasks.Queue,
		TargetBase: cfg.Tasks.TargetBase,
		Token:      cfg.Tasks.Token,
	}, logger)
	if schedulerClient.Configured() {
		dispatcher = schedulerClient
		logger.Info("external task scheduler enabled")
	} else {
		logger.Info("no task scheduler configured, sweep-only delivery")
	}

	dialogue := reminders.NewDialogue(st, llmClient, dispatcher, cfg.Reminders.ConfidenceThreshold, logger)
	deliverer := reminders.NewDeliverer(st, tg, dispatcher, logger)

	gateway := bot.NewGateway(st, llmClient, tg, dialogue, bot.GatewayOptions{
		AdminID:        cfg.Telegram.AdminUserID,
		BotUsername:    me.Username,
		MaxMessages:    cfg.History.MaxMessages,
		SummaryTrigger: cfg.History.SummaryTrigger,
		TTLHours:       cfg.History.TTLDays * 24,
	}, logger)

	server := bot.NewServer(gateway, deliverer, cfg.Tasks.Token, cfg.Telegram.WebhookSecret, logger)

	sweep := dispatch.NewSweepRunner(deliverer, cfg.Reminders.SweepInterval(), logger)
	if err := sweep.Start(ctx); err != nil {
		return err
	}

	if cfg.Telegram.WebhookBase != "" {
		url := cfg.Telegram.WebhookBase + bot.DefaultWebhookPath
		if err := tg.SetWebhook(ctx, url, cfg.Telegram.WebhookSecret); err != nil {
			return fmt.Errorf("registering webhook: %w", err)
		}
		logger.Info("webhook registered", "url", url)
	}

	logger.Info("sputnik running. Press Ctrl+C to stop.",
		"listen", cfg.Server.Listen,
		"storage", cfg.Storage.Type,
	)

	err = server.Run(ctx, cfg.Server.Listen)

	sweep.Stop()
	gateway.Wait()
	logger.Info("shutdown complete")
	return err
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose || cfg.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// openStore builds the configured persistence backend.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Storage.Type {
	case "memory":
		logger.Warn("using in-memory storage, state is lost on restart")
		return store.NewMemoryStore(cfg.History.TTLDays * 24), func() {}, nil
	default:
		s, err := store.OpenSQLite(cfg.Storage.Path, cfg.History.TTLDays*24)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		logger.Info("sqlite store opened", "path", cfg.Storage.Path)
		return s, func() { _ = s.Close() }, nil
	}
}

// resolveConfig loads config from an explicit path, a discovered file, or
// environment variables alone.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	return config.Load(), nil
}
