// ABOUTME: chi router for health, metrics, and operator session endpoints
// ABOUTME: Session reads and resets go through the bot's per-address lock

package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/2389/coven-paybot/internal/auth"
	"github.com/2389/coven-paybot/internal/identity"
	"github.com/2389/coven-paybot/internal/metrics"
	"github.com/2389/coven-paybot/internal/session"
	"github.com/2389/coven-paybot/internal/store"
)

// SessionRunner runs fn with the loaded session for address, serialized
// with inbound event handling.
type SessionRunner interface {
	WithSession(ctx context.Context, address string, fn func(*session.Session) error) error
}

// Config configures the router.
type Config struct {
	Sessions SessionRunner
	Threads  *session.Registry
	Verifier auth.TokenVerifier // nil leaves /api unmounted
	Metrics  bool               // serve /metrics
	Logger   *slog.Logger
}

// Snapshot is the JSON view of one session.
type Snapshot struct {
	Address   string         `json:"address"`
	State     string         `json:"state,omitempty"`
	Thread    string         `json:"thread,omitempty"`
	Timestamp any            `json:"timestamp,omitempty"`
	Record    store.Record   `json:"record"`
	User      *identity.User `json:"user"`
}

type handlers struct {
	sessions SessionRunner
	threads  *session.Registry
	logger   *slog.Logger
}

// NewRouter builds the admin HTTP handler.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{
		sessions: cfg.Sessions,
		threads:  cfg.Threads,
		logger:   logger.With("component", "admin"),
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if cfg.Metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	if cfg.Verifier == nil {
		h.logger.Warn("admin api disabled - no jwt_secret configured")
		return r
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Verifier))
		r.Get("/threads", h.listThreads)
		r.Get("/sessions/{address}", h.showSession)
		r.With(auth.RequireAdmin).Delete("/sessions/{address}", h.resetSession)
	})
	return r
}

func (h *handlers) listThreads(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.threads != nil {
		names = h.threads.Names()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"threads": names})
}

func (h *handlers) showSession(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	var snap Snapshot
	err := h.sessions.WithSession(r.Context(), address, func(s *session.Session) error {
		snap = Snapshot{
			Address:   s.Address(),
			State:     s.State(),
			Thread:    s.ThreadName(),
			Timestamp: s.Get(store.KeyTimestamp),
			Record:    s.Record(),
			User:      s.User(),
		}
		return nil
	})
	if err != nil {
		h.logger.Error("failed to load session", "address", address, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) resetSession(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	err := h.sessions.WithSession(r.Context(), address, func(s *session.Session) error {
		s.Reset(r.Context())
		return nil
	})
	if err != nil {
		h.logger.Error("failed to reset session", "address", address, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reset session")
		return
	}

	h.logger.Info("session reset by operator", "address", address, "operator", auth.FromContext(r.Context()).Name)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
