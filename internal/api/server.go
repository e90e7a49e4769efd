package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/LaporKota/LaporBot/internal/flow"
	"github.com/LaporKota/LaporBot/internal/messaging"
	"github.com/LaporKota/LaporBot/internal/mode"
	"github.com/LaporKota/LaporBot/internal/models"
	"github.com/LaporKota/LaporBot/internal/notify"
	"github.com/LaporKota/LaporBot/internal/store"
)

// Default configuration values for the API server.
const (
	DefaultAPIAddr         = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	WebhookHandler http.HandlerFunc
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTwilioWebhook mounts an inbound Twilio webhook handler at
// /webhook/twilio. Used when the Twilio channel is active; the Whatsmeow
// channel receives messages over its own socket instead.
func WithTwilioWebhook(handler http.HandlerFunc) Option {
	return func(o *Opts) {
		o.WebhookHandler = handler
	}
}

// Server hosts the admin endpoints over the shared store, mode arbiter and
// dialogue engine. Citizen-facing traffic never goes through this server.
type Server struct {
	store          store.Store
	arbiter        *mode.Arbiter
	engine         *flow.Engine
	msgService     messaging.Service
	notifier       notify.Notifier
	addr           string
	webhookHandler http.HandlerFunc
}

// NewServer creates an API server over the given collaborators.
func NewServer(st store.Store, arbiter *mode.Arbiter, engine *flow.Engine, msgService messaging.Service, notifier notify.Notifier, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAPIAddr
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Server{
		store:          st,
		arbiter:        arbiter,
		engine:         engine,
		msgService:     msgService,
		notifier:       notifier,
		addr:           cfg.Addr,
		webhookHandler: cfg.WebhookHandler,
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux through httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.listSessionsHandler)
	mux.HandleFunc("/api/sessions/", s.sessionResourceHandler)
	mux.HandleFunc("/api/reports/", s.getReportHandler)
	mux.HandleFunc("/api/tindakan/", s.tindakanResourceHandler)
	mux.HandleFunc("/api/citizens/", s.eraseCitizenHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if s.webhookHandler != nil {
		mux.HandleFunc("/webhook/twilio", s.webhookHandler)
	}
	return mux
}

// Run serves the admin API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: admin API listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin API shutdown failed: %w", err)
	}
	slog.Info("Server.Run: admin API stopped")
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "up"}))
}

// sessionPath splits "/api/sessions/{identity}/{action}" into its parts.
// action is empty for the bare identity resource.
func sessionPath(r *http.Request) (identity, action string) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	identity = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return identity, action
}

// sessionResourceHandler dispatches the per-identity session endpoints:
//
//	GET  /api/sessions/{identity}/mode
//	POST /api/sessions/{identity}/mode
//	GET  /api/sessions/{identity}/status
//	POST /api/sessions/{identity}/force
//	POST /api/sessions/{identity}/manual-timeout
func (s *Server) sessionResourceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	identity, action := sessionPath(r)
	if identity == "" {
		slog.Warn("Server.sessionResourceHandler: missing identity", "path", r.URL.Path)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing identity in path"))
		return
	}

	switch action {
	case "mode":
		switch r.Method {
		case http.MethodGet:
			s.getEffectiveModeHandler(w, r, identity)
		case http.MethodPost:
			s.setModeHandler(w, r, identity)
		default:
			w.Header().Set("Allow", "GET, POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "status":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.getDetailedStatusHandler(w, r, identity)
	case "force":
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.setForceModeHandler(w, r, identity)
	case "manual-timeout":
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.setManualTimeoutHandler(w, r, identity)
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session resource"))
	}
}
