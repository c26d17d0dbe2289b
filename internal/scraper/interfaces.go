package scraper

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/telefonbuch-scraper/internal/session"
)

// SessionClient talks to the directory service.
type SessionClient interface {
	AcquireSession(ctx context.Context) (int64, error)
	ConfigurePageSize(ctx context.Context) error
	Search(ctx context.Context, key string, offset int) (session.SearchResult, error)
}

// Restarter restarts the directory service process.
type Restarter interface {
	Restart(ctx context.Context) error
	// Exited reports whether the service process died on its own.
	Exited() bool
}

// PageArchive keeps raw result pages.
type PageArchive interface {
	PutPage(ctx context.Context, key string, offset int, body []byte) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RunIDGenerator creates run identifiers.
type RunIDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
