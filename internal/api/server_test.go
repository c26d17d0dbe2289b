package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/telefonbuch-scraper/internal/progress/sinks"
	"github.com/JakeFAU/telefonbuch-scraper/internal/store"
)

type fakeSource struct {
	snap sinks.Snapshot
}

func (f fakeSource) Snapshot() sinks.Snapshot { return f.snap }

type fakeStore struct {
	keys  map[string]bool
	stats store.Stats
	err   error
	block bool
}

func (f *fakeStore) HasKey(ctx context.Context, key string) (bool, error) {
	if err := f.wait(ctx); err != nil {
		return false, err
	}
	return f.keys[key], f.err
}

func (f *fakeStore) Stats(ctx context.Context) (store.Stats, error) {
	if err := f.wait(ctx); err != nil {
		return store.Stats{}, err
	}
	return f.stats, f.err
}

func (f *fakeStore) wait(ctx context.Context) error {
	if !f.block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func serve(t *testing.T, s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{}, nil, nil, zap.NewNop())
	rec := serve(t, s, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_RequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{}, nil, nil, nil)
	rec := serve(t, s, http.MethodGet, "/healthz", http.Header{"X-Request-Id": {"req-1"}})
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	running := NewServer(Config{}, fakeSource{snap: sinks.Snapshot{Status: sinks.StatusRunning}}, nil, nil)
	require.Equal(t, http.StatusOK, serve(t, running, http.MethodGet, "/readyz", nil).Code)

	failed := NewServer(Config{}, fakeSource{snap: sinks.Snapshot{Status: sinks.StatusError}}, nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, failed, http.MethodGet, "/readyz", nil).Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{}, nil, nil, nil)
	serve(t, s, http.MethodGet, "/healthz", nil)
	rec := serve(t, s, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "scraper_http_requests_total")
}

func TestServer_Progress(t *testing.T) {
	t.Parallel()

	src := fakeSource{snap: sinks.Snapshot{
		RunID:         "01890a5d-ac96-774b-bcce-b302099a8057",
		Status:        sinks.StatusRunning,
		CurrentKey:    "ab",
		KeyIndex:      1,
		KeyCount:      40,
		KeysCommitted: 1,
		Records:       30,
	}}
	s := NewServer(Config{}, src, nil, nil)
	rec := serve(t, s, http.MethodGet, "/v1/progress", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body sinks.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, src.snap, body)
}

func TestServer_ProgressUnavailable(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{}, nil, nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/v1/progress", nil).Code)
}

func TestServer_StoreStats(t *testing.T) {
	t.Parallel()

	st := &fakeStore{stats: store.Stats{Keys: 3, Records: 120, MaxID: 120}}
	s := NewServer(Config{}, nil, st, nil)
	rec := serve(t, s, http.MethodGet, "/v1/store", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"keys":3,"records":120,"max_id":120}`, rec.Body.String())
}

func TestServer_StoreErrors(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{}, nil, &fakeStore{err: errors.New("disk I/O error")}, nil)
	rec := serve(t, s, http.MethodGet, "/v1/store", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "disk")

	missing := NewServer(Config{}, nil, nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, missing, http.MethodGet, "/v1/store", nil).Code)
}

func TestProgressHandler_StoreBusy(t *testing.T) {
	t.Parallel()

	h := NewProgressHandler(nil, &fakeStore{block: true}, zap.NewNop())
	h.timeout = 10 * time.Millisecond

	rec := httptest.NewRecorder()
	h.GetStoreStats(rec, httptest.NewRequest(http.MethodGet, "/v1/store", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "store busy")
}

func TestServer_Key(t *testing.T) {
	t.Parallel()

	st := &fakeStore{keys: map[string]bool{"äb": true}}
	s := NewServer(Config{}, nil, st, nil)

	rec := serve(t, s, http.MethodGet, "/v1/keys/%C3%A4b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"key":"äb","stored":true}`, rec.Body.String())

	rec = serve(t, s, http.MethodGet, "/v1/keys/zz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"key":"zz","stored":false}`, rec.Body.String())
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{APIKey: "secret"}, fakeSource{snap: sinks.Snapshot{Status: sinks.StatusIdle}}, nil, nil)

	require.Equal(t, http.StatusForbidden, serve(t, s, http.MethodGet, "/v1/progress", nil).Code)
	require.Equal(t, http.StatusOK,
		serve(t, s, http.MethodGet, "/v1/progress", http.Header{"X-Api-Key": {"secret"}}).Code)
	require.Equal(t, http.StatusOK, serve(t, s, http.MethodGet, "/v1/progress?api_key=secret", nil).Code)
	// probes stay open
	require.Equal(t, http.StatusOK, serve(t, s, http.MethodGet, "/healthz", nil).Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "internal server error"))
}
