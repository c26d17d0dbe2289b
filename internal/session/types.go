// Package session talks to the directory service: it acquires a session
// token, configures the page size and runs paginated searches, polling
// while the service is still computing and retrying transient failures.
package session

import (
	"context"
	"net/http"
	"time"
)

// FetchResponse captures the raw outcome of one HTTP GET.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs a single HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// Limiter paces outgoing requests.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// SearchResult is one page of search output.
type SearchResult struct {
	Key          string
	Offset       int
	TotalResults int
	// PageSize is the page size reported by the service, 0 when the page omits it.
	PageSize int
	Body     []byte
}

// Config holds the session client settings.
type Config struct {
	BaseURL      string
	PageSize     int
	PollInterval time.Duration
	PollAttempts int
	Retry        RetryConfig
}

// RetryConfig configures exponential backoff for transient failures.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Statuses lists the HTTP status codes treated as transient.
	Statuses []int
}
