// Package scraper drives a full scrape: it walks the key space, fetches every
// result page of each key, flattens the pages into records and commits each
// key atomically so an interrupted run resumes at the first incomplete key.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/telefonbuch-scraper/internal/address"
	"github.com/JakeFAU/telefonbuch-scraper/internal/clock/system"
	iduuid "github.com/JakeFAU/telefonbuch-scraper/internal/id/uuid"
	"github.com/JakeFAU/telefonbuch-scraper/internal/metrics"
	"github.com/JakeFAU/telefonbuch-scraper/internal/progress"
	"github.com/JakeFAU/telefonbuch-scraper/internal/queryspace"
	"github.com/JakeFAU/telefonbuch-scraper/internal/session"
	"github.com/JakeFAU/telefonbuch-scraper/internal/store"
)

// Key outcomes, also used as metric labels.
const (
	outcomeSkipped   = "skipped"
	outcomeEmpty     = "empty"
	outcomeCommitted = "committed"
)

// Config controls a run.
type Config struct {
	// PageSize is the page size the service must report on every page.
	PageSize int
	// MaxRestarts bounds service restarts per page; 0 disables restarts.
	MaxRestarts int
	// OnlyKeys replaces the key space when set.
	OnlyKeys []string
	// LimitKeys stops the run after this many non-skipped keys; 0 means no limit.
	LimitKeys int
}

// Deps are the collaborators of an Engine. Keys, Client and Store are required.
type Deps struct {
	Keys       queryspace.Space
	Client     SessionClient
	Store      store.Store
	Supervisor Restarter
	Archive    PageArchive
	Progress   progress.Emitter
	Clock      Clock
	IDs        RunIDGenerator
	Logger     *zap.Logger
}

// Engine runs scrapes. It is not safe for concurrent use.
type Engine struct {
	cfg        Config
	keys       queryspace.Space
	client     SessionClient
	store      store.Store
	supervisor Restarter
	archive    PageArchive
	events     progress.Emitter
	clock      Clock
	ids        RunIDGenerator
	logger     *zap.Logger

	runID      [16]byte
	keyCount   int
	hasSession bool
}

// New validates cfg and deps and builds an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.PageSize <= 0 {
		return nil, errors.New("scraper: page size must be > 0")
	}
	if deps.Client == nil {
		return nil, errors.New("scraper: session client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("scraper: store is required")
	}
	if deps.Keys.Len() == 0 && len(cfg.OnlyKeys) == 0 {
		return nil, errors.New("scraper: key space is empty")
	}
	e := &Engine{
		cfg:        cfg,
		keys:       deps.Keys,
		client:     deps.Client,
		store:      deps.Store,
		supervisor: deps.Supervisor,
		archive:    deps.Archive,
		events:     deps.Progress,
		clock:      deps.Clock,
		ids:        deps.IDs,
		logger:     deps.Logger,
	}
	if e.events == nil {
		e.events = progress.Discard
	}
	if e.clock == nil {
		e.clock = system.New()
	}
	if e.ids == nil {
		e.ids = iduuid.New()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

// Run scrapes every key that is not yet in the store. Any error aborts the
// run; the batch of the key in flight is rolled back.
func (e *Engine) Run(ctx context.Context) error {
	id, err := e.ids.NewRunID()
	if err != nil {
		return err
	}
	e.runID = progress.UUIDToBytes(id)
	e.hasSession = false

	keys, count := e.keySeq()
	e.keyCount = count
	start := e.clock.Now()
	e.logger.Info("scrape started", zap.String("run_id", id.String()), zap.Int("keys", count))
	e.emit(progress.Event{Stage: progress.StageRunStart, KeyCount: count})

	err = e.run(ctx, keys)
	dur := e.clock.Now().Sub(start)
	if err != nil {
		e.logger.Error("scrape failed", zap.String("run_id", id.String()), zap.Duration("dur", dur), zap.Error(err))
		e.emit(progress.Event{Stage: progress.StageRunError, Dur: dur, Note: err.Error()})
		return err
	}
	e.logger.Info("scrape finished", zap.String("run_id", id.String()), zap.Duration("dur", dur))
	e.emit(progress.Event{Stage: progress.StageRunDone, Dur: dur})
	return nil
}

func (e *Engine) run(ctx context.Context, keys iter.Seq[string]) error {
	processed, idx := 0, -1
	for key := range keys {
		idx++
		if e.cfg.LimitKeys > 0 && processed >= e.cfg.LimitKeys {
			e.logger.Info("key limit reached", zap.Int("limit", e.cfg.LimitKeys))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scrape interrupted before key %q: %w", key, err)
		}
		outcome, err := e.scrapeKey(ctx, idx, key)
		if err != nil {
			return err
		}
		metrics.ObserveKey(outcome)
		if outcome != outcomeSkipped {
			processed++
		}
	}
	return nil
}

func (e *Engine) keySeq() (iter.Seq[string], int) {
	if len(e.cfg.OnlyKeys) > 0 {
		return slices.Values(e.cfg.OnlyKeys), len(e.cfg.OnlyKeys)
	}
	return e.keys.All(), e.keys.Len()
}

// scrapeKey stores all pages of key in one batch and reports the outcome.
func (e *Engine) scrapeKey(ctx context.Context, idx int, key string) (string, error) {
	base := progress.Event{Key: key, KeyIndex: idx, KeyCount: e.keyCount}

	done, err := e.store.HasKey(ctx, key)
	if err != nil {
		return "", err
	}
	if done {
		e.logger.Debug("key already stored", zap.String("key", key))
		e.emit(with(base, progress.StageKeySkipped))
		return outcomeSkipped, nil
	}

	start := e.clock.Now()
	e.emit(with(base, progress.StageKeyStart))

	first, err := e.fetch(ctx, key, 0)
	if err != nil {
		return "", err
	}
	total := first.TotalResults
	if total == 0 {
		e.logger.Debug("key has no results", zap.String("key", key))
		e.emit(with(base, progress.StageKeyEmpty))
		return outcomeEmpty, nil
	}
	e.logger.Info("scraping key",
		zap.String("key", key),
		zap.Int("key_index", idx+1),
		zap.Int("key_count", e.keyCount),
		zap.Int("total", total),
	)

	batch, err := e.store.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("open batch for key %q: %w", key, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := batch.Rollback(ctx); rbErr != nil {
			e.logger.Error("rollback failed", zap.String("key", key), zap.Error(rbErr))
		}
	}()

	records := 0
	// The bound is fixed by the first page; later pages may report another
	// total, which is logged but not acted on.
	for offset := 0; offset <= total; offset += e.cfg.PageSize {
		page := first
		if offset > 0 {
			if page, err = e.fetch(ctx, key, offset); err != nil {
				return "", err
			}
			if page.TotalResults != total {
				e.logger.Warn("total results drifted",
					zap.String("key", key),
					zap.Int("offset", offset),
					zap.Int("first_total", total),
					zap.Int("total", page.TotalResults),
				)
			}
		}
		n, err := e.storePage(ctx, batch, page)
		if err != nil {
			return "", err
		}
		records += n
		pageEvt := with(base, progress.StagePageStored)
		pageEvt.Offset, pageEvt.Total, pageEvt.Records = offset, page.TotalResults, n
		e.emit(pageEvt)
	}

	if err := batch.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit key %q: %w", key, err)
	}
	committed = true

	dur := e.clock.Now().Sub(start)
	e.logger.Info("key committed", zap.String("key", key), zap.Int("records", records), zap.Duration("dur", dur))
	doneEvt := with(base, progress.StageKeyCommitted)
	doneEvt.Total, doneEvt.Records, doneEvt.Dur = total, records, dur
	e.emit(doneEvt)
	return outcomeCommitted, nil
}

// storePage validates, archives, flattens and inserts one page.
func (e *Engine) storePage(ctx context.Context, batch store.Batch, page session.SearchResult) (int, error) {
	// Requesting a page size is best effort; the size the page reports is authoritative.
	if page.PageSize != 0 && page.PageSize != e.cfg.PageSize {
		return 0, &session.ProtocolError{
			Op:     "validate",
			Key:    page.Key,
			Offset: page.Offset,
			Reason: fmt.Sprintf("page size %d, expected %d", page.PageSize, e.cfg.PageSize),
		}
	}
	if e.archive != nil {
		if _, err := e.archive.PutPage(ctx, page.Key, page.Offset, page.Body); err != nil {
			return 0, fmt.Errorf("archive key=%q offset=%d: %w", page.Key, page.Offset, err)
		}
	}
	nodes, err := address.Parse(page.Body)
	if err != nil {
		return 0, fmt.Errorf("key=%q offset=%d: %w", page.Key, page.Offset, err)
	}
	records := address.Flatten(nodes, page.Key, page.Offset, batch.Sequence())
	if err := batch.Insert(ctx, records); err != nil {
		return 0, fmt.Errorf("store key=%q offset=%d: %w", page.Key, page.Offset, err)
	}
	metrics.ObservePage(len(records))
	return len(records), nil
}

// ErrServiceExited is reported when the supervised service process died.
var ErrServiceExited = errors.New("scraper: service process exited")

// fetch searches one page, restarting the service on transport failures and
// stalls when a supervisor is available.
func (e *Engine) fetch(ctx context.Context, key string, offset int) (session.SearchResult, error) {
	reissue := false
	for restarts := 0; ; restarts++ {
		page, err := e.search(ctx, key, offset, reissue)
		if err == nil {
			return page, nil
		}
		if !e.restartable(err) || restarts >= e.cfg.MaxRestarts || ctx.Err() != nil {
			return session.SearchResult{}, err
		}
		e.logger.Warn("service unresponsive, restarting",
			zap.String("key", key),
			zap.Int("offset", offset),
			zap.Int("restart", restarts+1),
			zap.Int("max_restarts", e.cfg.MaxRestarts),
			zap.Error(err),
		)
		if err := e.restart(ctx, key, offset); err != nil {
			return session.SearchResult{}, err
		}
		// Jumping to a later page only works after the search was started
		// in the same session.
		reissue = offset > 0
	}
}

// search requests one page, first re-issuing the first page of key when
// reissue is set.
func (e *Engine) search(ctx context.Context, key string, offset int, reissue bool) (session.SearchResult, error) {
	if e.supervisor != nil && e.supervisor.Exited() {
		return session.SearchResult{}, ErrServiceExited
	}
	if err := e.ensureSession(ctx); err != nil {
		return session.SearchResult{}, err
	}
	if reissue {
		if _, err := e.client.Search(ctx, key, 0); err != nil {
			return session.SearchResult{}, fmt.Errorf("restart search for key %q: %w", key, err)
		}
	}
	return e.client.Search(ctx, key, offset)
}

func (e *Engine) restartable(err error) bool {
	if e.supervisor == nil {
		return false
	}
	var (
		transportErr *session.TransportError
		stallErr     *session.StallError
	)
	return errors.Is(err, ErrServiceExited) || errors.As(err, &transportErr) || errors.As(err, &stallErr)
}

// restart brings up a fresh service. The next search opens a new session.
func (e *Engine) restart(ctx context.Context, key string, offset int) error {
	if err := e.supervisor.Restart(ctx); err != nil {
		return fmt.Errorf("restart service: %w", err)
	}
	metrics.ObserveRestart()
	e.emit(progress.Event{Stage: progress.StageServiceRestart, Key: key, Offset: offset})
	e.hasSession = false
	return nil
}

// ensureSession opens a session on first use, so a run over a complete
// store sends no requests at all.
func (e *Engine) ensureSession(ctx context.Context) error {
	if e.hasSession {
		return nil
	}
	if _, err := e.client.AcquireSession(ctx); err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	if err := e.client.ConfigurePageSize(ctx); err != nil {
		e.logger.Warn("configure page size failed", zap.Error(err))
	}
	e.hasSession = true
	return nil
}

func (e *Engine) emit(evt progress.Event) {
	evt.RunID = e.runID
	evt.TS = e.clock.Now()
	e.events.Emit(evt)
}

func with(base progress.Event, stage progress.Stage) progress.Event {
	base.Stage = stage
	return base
}

// RunID returns the id of the current or last run.
func (e *Engine) RunID() uuid.UUID {
	return uuid.UUID(e.runID)
}
