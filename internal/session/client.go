package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/telefonbuch-scraper/internal/metrics"
)

const (
	searchPath = "/telefonbuch.cgi"
	database   = "whitepages"

	opSession     = "session"
	opPreferences = "preferences"
	opSearch      = "search"
)

var (
	sessionIDPattern = regexp.MustCompile(`<sessionid>([0-9]+)</sessionid>`)
	hitCountPattern  = regexp.MustCompile(`<hitcount>([0-9]+)</hitcount>`)
	perPagePattern   = regexp.MustCompile(`<perpage>([0-9]+)</perpage>`)

	// Present while the service is still computing a result set, e.g.
	// <refresh><percentcomplete>0,0</percentcomplete><seconds>16</seconds></refresh>
	loadingMarker = []byte("<refresh><percentcomplete>")
)

// Client is a session against the directory service. It is not safe for
// concurrent use; the service itself is single-session.
type Client struct {
	cfg       Config
	fetcher   Fetcher
	limiter   Limiter
	retry     *ExponentialRetryPolicy
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	sessionID int64
}

// request identifies a call for logging and error reporting.
type request struct {
	op     string
	key    string
	offset int
}

// New builds a Client. limiter may be nil.
func New(cfg Config, fetcher Fetcher, limiter Limiter, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("session: fetcher is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("session: base url is required")
	}
	if cfg.PageSize <= 0 {
		return nil, errors.New("session: page size must be > 0")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 1000
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: limiter,
		retry:   NewExponentialRetryPolicy(cfg.Retry),
		logger:  logger,
		sleep:   sleepContext,
	}, nil
}

// SessionID returns the token of the current session, 0 before AcquireSession.
func (c *Client) SessionID() int64 {
	return c.sessionID
}

// AcquireSession opens a new session and stores its token on the client.
func (c *Client) AcquireSession(ctx context.Context) (int64, error) {
	req := request{op: opSession}
	body, err := c.get(ctx, req, c.cfg.BaseURL+"/")
	if err != nil {
		return 0, err
	}
	m := sessionIDPattern.FindSubmatch(body)
	if m == nil {
		return 0, &ProtocolError{Op: opSession, Reason: "no session token in response"}
	}
	id, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0, &ProtocolError{Op: opSession, Reason: fmt.Sprintf("bad session token %q", m[1])}
	}
	c.sessionID = id
	c.logger.Info("session acquired", zap.Int64("session_id", id))
	return id, nil
}

// ConfigurePageSize asks the service to use the configured page size. The
// service accepts the call but keeps its own page size, so callers treat
// errors as non-fatal and validate the reported size on each page instead.
func (c *Client) ConfigurePageSize(ctx context.Context) error {
	req := request{op: opPreferences}
	sid := strconv.FormatInt(c.sessionID, 10)

	mask := url.Values{}
	mask.Set("sessionid", sid)
	mask.Set("mask", "preferences")
	if _, err := c.get(ctx, req, c.searchURL(mask)); err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}

	// Parameter order and the duplicated button mirror the service's own form.
	save := strings.Join([]string{
		"sessionid=" + sid,
		"database=" + database,
		"lastdatabase=" + database,
		"btnpreferences=Speichern",
		"stylesheet=standard.css",
		"results_per_page=" + strconv.Itoa(c.cfg.PageSize),
		"defaultcity=",
		"refresh=on",
		"showmask=on",
		"btnpreferences=Speichern",
	}, "&")
	if _, err := c.get(ctx, req, c.cfg.BaseURL+searchPath+"?"+save); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	c.logger.Debug("page size requested", zap.Int("page_size", c.cfg.PageSize))
	return nil
}

// Search fetches the result page of key starting at offset. It polls while
// the service reports that results are still loading.
func (c *Client) Search(ctx context.Context, key string, offset int) (SearchResult, error) {
	req := request{op: opSearch, key: key, offset: offset}
	target := c.searchURL(c.searchParams(key, offset))

	var body []byte
	for polls := 0; ; polls++ {
		b, err := c.get(ctx, req, target)
		if err != nil {
			return SearchResult{}, err
		}
		if !bytes.Contains(b, loadingMarker) {
			body = b
			break
		}
		if polls+1 >= c.cfg.PollAttempts {
			return SearchResult{}, &StallError{Key: key, Offset: offset, Polls: polls + 1}
		}
		metrics.ObservePoll()
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return SearchResult{}, fmt.Errorf("search key=%q offset=%d: %w", key, offset, err)
		}
	}

	m := hitCountPattern.FindSubmatch(body)
	if m == nil {
		return SearchResult{}, &ParseError{Key: key, Offset: offset, Field: "hitcount"}
	}
	total, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return SearchResult{}, &ParseError{Key: key, Offset: offset, Field: "hitcount"}
	}
	pageSize := 0
	if m := perPagePattern.FindSubmatch(body); m != nil {
		pageSize, _ = strconv.Atoi(string(m[1]))
	}
	return SearchResult{
		Key:          key,
		Offset:       offset,
		TotalResults: total,
		PageSize:     pageSize,
		Body:         body,
	}, nil
}

func (c *Client) searchParams(key string, offset int) url.Values {
	params := url.Values{}
	params.Set("sessionid", strconv.FormatInt(c.sessionID, 10))
	params.Set("database", database)
	params.Set("lastdatabase", database)
	params.Set("city", "")
	params.Set("name", key)
	params.Set("firstname", "")
	if offset == 0 {
		params.Set("btnhidden", "Suchen")
	} else {
		params.Set("startrecord", "0")
		params.Set("btnpage", strconv.Itoa(1+offset/c.cfg.PageSize))
	}
	return params
}

func (c *Client) searchURL(params url.Values) string {
	return c.cfg.BaseURL + searchPath + "?" + params.Encode()
}

// get issues one logical request, retrying transient failures.
func (c *Client) get(ctx context.Context, req request, target string) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		body, err := c.attempt(ctx, req, target)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s key=%q offset=%d: %w", req.op, req.key, req.offset, ctxErr)
		}
		if !c.retry.ShouldRetry(err, attempt) {
			var se *statusError
			if errors.As(err, &se) && !c.retry.retryableStatus(se.code) {
				return nil, &ProtocolError{Op: req.op, Key: req.key, Offset: req.offset, Reason: se.Error()}
			}
			return nil, &TransportError{Op: req.op, Key: req.key, Offset: req.offset, Attempts: attempt, Err: err}
		}

		delay := c.retry.Backoff(attempt)
		metrics.ObserveRetry(req.op)
		c.logger.Warn("request failed, retrying",
			zap.String("op", req.op),
			zap.String("key", req.key),
			zap.Int("offset", req.offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%s key=%q offset=%d: %w", req.op, req.key, req.offset, err)
		}
	}
}

func (c *Client) attempt(ctx context.Context, req request, target string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return nil, err
		}
	}
	resp, err := c.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	metrics.ObserveRequest(req.op, resp.StatusCode, resp.Duration)
	if resp.StatusCode != 200 {
		return nil, &statusError{code: resp.StatusCode}
	}
	return resp.Body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
