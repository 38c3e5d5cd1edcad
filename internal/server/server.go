// Package server receives issue events from the tracker over HTTP and feeds
// them to the listener table.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Fullex26/autowatch/internal/analysers"
	"github.com/Fullex26/autowatch/internal/eventbus"
	"github.com/Fullex26/autowatch/internal/registration"
)

const (
	secretHeader   = "X-Autowatch-Secret"
	deliveryHeader = "X-Atlassian-Webhook-Identifier"
	maxBodyBytes   = 1 << 20
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	Secret       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server routes webhooks into the listener table.
type Server struct {
	router chi.Router
	cfg    Config
	bus    *eventbus.Bus
	dedup  *analysers.Deduplicator
	shim   *registration.Shim
}

// New creates a Server. dedup may be nil to process every delivery.
func New(cfg Config, bus *eventbus.Bus, dedup *analysers.Deduplicator, shim *registration.Shim) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if bus == nil || shim == nil {
		return nil, fmt.Errorf("bus and shim are required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:   cfg,
		bus:   bus,
		dedup: dedup,
		shim:  shim,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/webhooks/jira", s.handleJira)

	s.router = r
	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("webhook server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	return <-errCh
}

type statusBody struct {
	Listener  string   `json:"listener"`
	State     string   `json:"state"`
	Listeners []string `json:"listeners"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{
		Listener:  s.shim.Name(),
		State:     s.shim.State().String(),
		Listeners: s.bus.Listeners(),
	})
}

func (s *Server) handleJira(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid secret"})
		return
	}

	var hook jiraWebhook
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&hook); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed webhook body"})
		return
	}

	event, ok := hook.toEvent(r.Header.Get(deliveryHeader))
	if !ok {
		slog.Debug("webhook ignored", "webhook_event", hook.WebhookEvent)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	// With no listener the delivery is refused and its id stays unseen
	if len(s.bus.Listeners()) == 0 {
		slog.Warn("webhook refused, no listener registered", "id", event.ID)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no listener registered"})
		return
	}

	if s.dedup != nil && !s.dedup.ShouldProcess(event) {
		slog.Debug("webhook redelivery dropped", "id", event.ID)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "duplicate"})
		return
	}

	s.bus.Publish(r.Context(), event)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Secret == "" {
		return true
	}
	got := r.Header.Get(secretHeader)
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Secret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
