// Package bot – server.go exposes the HTTP surface: the Telegram webhook
// and the scheduler callback endpoints.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/avdeenko/sputnik/pkg/sputnik/dispatch"
	"github.com/avdeenko/sputnik/pkg/sputnik/reminders"
	"github.com/avdeenko/sputnik/pkg/sputnik/telegram"
)

// DefaultWebhookPath is where Telegram posts updates.
const DefaultWebhookPath = "/telegram/webhook"

// webhookSecretHeader is echoed by Telegram when setWebhook registered a
// secret_token.
const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Deliverer is the reminder delivery side the callback endpoints drive.
// Implemented by reminders.Deliverer.
type Deliverer interface {
	Deliver(ctx context.Context, reminderID string) (reminders.DeliveryResult, error)
	Sweep(ctx context.Context) (int, error)
}

// Server is the gateway's HTTP front.
type Server struct {
	gateway       *Gateway
	deliverer     Deliverer
	tasksToken    string
	webhookSecret string
	logger        *slog.Logger
	router        chi.Router
}

// NewServer builds the router. An empty tasksToken leaves the /tasks/*
// endpoints open; an empty webhookSecret leaves the webhook unguarded.
func NewServer(gateway *Gateway, deliverer Deliverer, tasksToken, webhookSecret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		gateway:       gateway,
		deliverer:     deliverer,
		tasksToken:    tasksToken,
		webhookSecret: webhookSecret,
		logger:        logger.With("component", "http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post(DefaultWebhookPath, s.handleWebhook)
	r.Route("/tasks", func(r chi.Router) {
		r.Use(s.requireTasksToken)
		r.Post("/remind", s.handleRemind)
		r.Post("/sweep", s.handleSweep)
	})

	s.router = r
}

// Handler returns the HTTP handler for mounting or serving.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("http server listening", "addr", listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleWebhook accepts a Telegram update. Valid JSON always gets a 200 so
// Telegram does not redeliver; processing failures are internal.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret != "" && r.Header.Get(webhookSecretHeader) != s.webhookSecret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}
	s.gateway.HandleUpdate(r.Context(), &upd)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// remindRequest is the scheduler callback body for one reminder.
type remindRequest struct {
	ReminderID string `json:"reminder_id"`
}

func (s *Server) handleRemind(w http.ResponseWriter, r *http.Request) {
	var req remindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReminderID == "" {
		http.Error(w, "reminder_id required", http.StatusBadRequest)
		return
	}

	result, err := s.deliverer.Deliver(r.Context(), req.ReminderID)
	if err != nil {
		s.logger.Error("reminder delivery failed", "reminder_id", req.ReminderID, "error", err)
		http.Error(w, "delivery failed", http.StatusInternalServerError)
		return
	}
	if result == reminders.ResultNotFound {
		http.Error(w, "unknown reminder", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(result)})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	sent, err := s.deliverer.Sweep(r.Context())
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

// requireTasksToken enforces the shared callback secret. No configured
// token means no check.
func (s *Server) requireTasksToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tasksToken != "" && r.Header.Get(dispatch.TokenHeader) != s.tasksToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
