package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/telefonbuch-scraper/internal/session"
)

func TestFetchReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/xml; charset=ISO-8859-1")
		_, _ = w.Write([]byte("<x>K\xf6ln</x>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "scraper-test", Accept: "application/xml", Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// bytes pass through untouched
	require.Equal(t, []byte("<x>K\xf6ln</x>"), resp.Body)
	require.Equal(t, "text/xml", resp.Headers.Get("Content-Type"))
	headers := <-seen
	require.Equal(t, "application/xml", headers.Get("Accept"))
	require.Equal(t, "scraper-test", headers.Get("User-Agent"))
}

func TestFetchAllowsRevisitAndErrorStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), srv.URL+"/telefonbuch.cgi?name=aa")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = f.Fetch(context.Background(), srv.URL+"/telefonbuch.cgi?name=aa")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(resp.Body))
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionRetriesRequestTimeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(400 * time.Millisecond):
			}
			return
		}
		_, _ = w.Write([]byte("<telefonbuch><hitcount>3</hitcount><perpage>15</perpage></telefonbuch>"))
	}))
	defer srv.Close()

	client, err := session.New(session.Config{
		BaseURL:  srv.URL,
		PageSize: 15,
		Retry:    session.RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond},
	}, New(Config{Timeout: 100 * time.Millisecond}), nil, nil)
	require.NoError(t, err)

	res, err := client.Search(context.Background(), "aa", 0)
	require.NoError(t, err)
	require.Equal(t, 3, res.TotalResults)
	require.Equal(t, int32(2), calls.Load())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Accept: "text/xml"})
	start := time.Unix(0, 0)
	var result session.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "text/xml", collyReq.Headers.Get("Accept"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "http://localhost:1780"),
		},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestStripCharset(t *testing.T) {
	t.Parallel()

	h := http.Header{"Content-Type": {"text/xml; charset=latin1"}}
	stripCharset(h)
	require.Equal(t, "text/xml", h.Get("Content-Type"))

	h = http.Header{"Content-Type": {"text/html"}}
	stripCharset(h)
	require.Equal(t, "text/html", h.Get("Content-Type"))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
