package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// fakeDirectory answers the session, preferences and search requests of the
// directory service with 15 results per page.
type fakeDirectory struct {
	totals   map[string]int
	requests atomic.Int64
}

func (f *fakeDirectory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	q := r.URL.Query()
	switch {
	case r.URL.Path == "/":
		fmt.Fprint(w, "<telefonbuch><sessionid>4711</sessionid></telefonbuch>")
	case q.Get("mask") == "preferences" || q.Has("btnpreferences"):
		fmt.Fprint(w, "<telefonbuch><preferences/></telefonbuch>")
	default:
		key := q.Get("name")
		offset := 0
		if page, err := strconv.Atoi(q.Get("btnpage")); err == nil {
			offset = (page - 1) * 15
		}
		total := f.totals[key]
		var b strings.Builder
		fmt.Fprintf(&b, "<telefonbuch><hitcount>%d</hitcount><perpage>15</perpage><entries>", total)
		for i := offset; i < total && i < offset+15; i++ {
			fmt.Fprintf(&b, "<address><name0>%s %d</name0><recordtype>single</recordtype></address>", key, i)
		}
		b.WriteString("</entries></telefonbuch>")
		fmt.Fprint(w, b.String())
	}
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`service:
  base_url: %q
  command: ""
retry:
  max_attempts: 2
  initial_delay: 1ms
  max_delay: 2ms
poll:
  interval: 1ms
query:
  alphabet: "ab1"
  length: 2
store:
  driver: sqlite
  path: %q
logging:
  development: false
  level: error
`, baseURL, filepath.Join(dir, "scrape.db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	progressRegisterer = prometheus.NewRegistry()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestKeysCommand(t *testing.T) {
	path := writeConfig(t, "http://127.0.0.1:1")

	out := execute(t, "--config", path, "keys")
	require.Equal(t, "aa\nab\na1\nba\nbb\nb1\n", out)

	out = execute(t, "--config", path, "keys", "--count")
	require.Equal(t, "6\n", out)
}

func TestScrapeAndStatus(t *testing.T) {
	dir := &fakeDirectory{totals: map[string]int{"aa": 17, "ab": 3, "b1": 1}}
	srv := httptest.NewServer(dir)
	defer srv.Close()
	path := writeConfig(t, srv.URL)

	execute(t, "--config", path, "scrape")
	require.Positive(t, dir.requests.Load())

	out := execute(t, "--config", path, "status")
	require.Contains(t, out, "keys:    3 of 6")
	require.Contains(t, out, "records: 21")

	// Every key with results is stored; only the empty keys are asked again.
	before := dir.requests.Load()
	execute(t, "--config", path, "scrape", "--only-keys", "aa,ab,b1")
	require.Equal(t, before, dir.requests.Load())
}

func TestScrapeLimitKeys(t *testing.T) {
	dir := &fakeDirectory{totals: map[string]int{"aa": 2, "ab": 2, "a1": 2}}
	srv := httptest.NewServer(dir)
	defer srv.Close()
	path := writeConfig(t, srv.URL)

	execute(t, "--config", path, "scrape", "--limit-keys", "2")
	out := execute(t, "--config", path, "status")
	require.Contains(t, out, "keys:    2 of 6")
	require.Contains(t, out, "records: 4")
}

func TestRootRejectsBadConfig(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "keys"})
	require.Error(t, root.ExecuteContext(context.Background()))
}
