package api

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// storeTimeout bounds store lookups. With SQLite the single connection is
// held by the open batch, so lookups may wait until the current key commits.
const storeTimeout = 3 * time.Second

// ProgressHandler exposes the run snapshot and read-only store lookups.
type ProgressHandler struct {
	src     ProgressSource
	store   StoreReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the snapshot source, the store and the logger.
func NewProgressHandler(src ProgressSource, st StoreReader, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		src:     src,
		store:   st,
		timeout: storeTimeout,
		logger:  logger,
	}
}

// GetProgress handles GET /v1/progress and returns the current snapshot.
func (h *ProgressHandler) GetProgress(w http.ResponseWriter, _ *http.Request) {
	if h.src == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.src.Snapshot())
}

// GetStoreStats handles GET /v1/store. It returns 503 when the store is
// missing or busy past the lookup timeout.
func (h *ProgressHandler) GetStoreStats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		h.storeError(w, "store stats failed", err)
		return
	}
	writeJSON(w, http.StatusOK, statsDTO{Keys: stats.Keys, Records: stats.Records, MaxID: stats.MaxID})
}

// GetKey handles GET /v1/keys/{key} and reports whether key is committed.
func (h *ProgressHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	key := chi.URLParam(r, "key")
	if key == "" || !utf8.ValidString(key) {
		writeError(w, http.StatusBadRequest, "invalid key")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stored, err := h.store.HasKey(ctx, key)
	if err != nil {
		h.storeError(w, "key lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, keyDTO{Key: key, Stored: stored})
}

func (h *ProgressHandler) storeError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, "store busy")
		return
	}
	h.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

type statsDTO struct {
	Keys    int64 `json:"keys"`
	Records int64 `json:"records"`
	MaxID   int64 `json:"max_id"`
}

type keyDTO struct {
	Key    string `json:"key"`
	Stored bool   `json:"stored"`
}
