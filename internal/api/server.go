package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/telefonbuch-scraper/internal/metrics"
	"github.com/JakeFAU/telefonbuch-scraper/internal/progress/sinks"
	"github.com/JakeFAU/telefonbuch-scraper/internal/store"
)

// ProgressSource returns the latest run snapshot.
type ProgressSource interface {
	Snapshot() sinks.Snapshot
}

// StoreReader is the read-only view of the store used by the status routes.
type StoreReader interface {
	HasKey(ctx context.Context, key string) (bool, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Config controls the status server.
type Config struct {
	// APIKey protects the /v1 routes when set.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the run snapshot and the store.
type Server struct {
	router   chi.Router
	progress *ProgressHandler
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. st may be nil,
// in which case the store routes answer 503.
func NewServer(cfg Config, src ProgressSource, st StoreReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		progress: NewProgressHandler(src, st, logger),
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/progress", s.progress.GetProgress)
		r.Get("/store", s.progress.GetStoreStats)
		r.Get("/keys/{key}", s.progress.GetKey)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz fails once the run has ended in an error.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.progress.src != nil && s.progress.src.Snapshot().Status == sinks.StatusError {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
