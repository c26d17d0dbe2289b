// Package postgres implements store.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/telefonbuch-scraper/internal/address"
	"github.com/JakeFAU/telefonbuch-scraper/internal/store"
)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool used by the store.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store writes records into a Postgres table.
type Store struct {
	pool  pool
	table string

	mu     sync.Mutex
	active bool
}

var _ store.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = store.DefaultTable
	}
	if err := store.ValidateTable(table); err != nil {
		return nil, err
	}
	return &Store{pool: p, table: table}, nil
}

// Init creates the table and the unique index when absent.
func (s *Store) Init(ctx context.Context) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.table)
	b.WriteString("  id BIGINT PRIMARY KEY,\n")
	fmt.Fprintf(&b, "  parent_id BIGINT REFERENCES %s (id),\n", s.table)
	b.WriteString("  query_name TEXT NOT NULL,\n")
	b.WriteString("  query_offset INTEGER NOT NULL,\n")
	b.WriteString("  query_child_num INTEGER NOT NULL")
	for _, col := range address.Columns {
		fmt.Fprintf(&b, ",\n  %s TEXT", col)
	}
	b.WriteString("\n)")

	if _, err := s.pool.Exec(ctx, b.String()); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	index := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (query_name, query_offset, query_child_num)",
		store.UniqueIndexName(s.table), s.table,
	)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("create unique index: %w", err)
	}
	return nil
}

// HasKey reports whether key has committed rows.
func (s *Store) HasKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE query_name = $1)", s.table), key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup key %q: %w", key, err)
	}
	return exists, nil
}

// CountKeys returns the number of distinct committed keys.
func (s *Store) CountKeys(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(DISTINCT query_name) FROM %s", s.table),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count keys: %w", err)
	}
	return n, nil
}

// Stats summarizes the table.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT COUNT(DISTINCT query_name), COUNT(*), COALESCE(MAX(id), 0) FROM %s", s.table,
	)).Scan(&st.Keys, &st.Records, &st.MaxID)
	if err != nil {
		return store.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Begin opens a transaction holding an exclusive table lock, so concurrent
// writers cannot interleave ids.
func (s *Store) Begin(ctx context.Context) (store.Batch, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, errors.New("postgres: a batch is already open")
	}
	s.active = true
	s.mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("LOCK TABLE %s IN EXCLUSIVE MODE", s.table)); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		s.release()
		return nil, fmt.Errorf("lock table: %w", err)
	}
	var maxID int64
	if err := tx.QueryRow(ctx, fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", s.table)).Scan(&maxID); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		s.release()
		return nil, fmt.Errorf("read max id: %w", err)
	}
	return &batch{store: s, tx: tx, seq: address.NewIDSequence(maxID + 1)}, nil
}

func (s *Store) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type batch struct {
	store  *Store
	tx     pgx.Tx
	seq    *address.IDSequence
	closed bool
}

func (b *batch) Sequence() *address.IDSequence {
	return b.seq
}

func (b *batch) Insert(ctx context.Context, records []address.Record) error {
	if b.closed {
		return store.ErrBatchClosed
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = store.Values(rec)
	}
	n, err := b.tx.CopyFrom(ctx, pgx.Identifier{b.store.table}, store.InsertColumns(), pgx.CopyFromRows(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert key=%q offset=%d: %w: %w",
				records[0].QueryKey, records[0].QueryOffset, store.ErrDuplicate, err)
		}
		return fmt.Errorf("copy records: %w", err)
	}
	if n != int64(len(records)) {
		return fmt.Errorf("copy records: wrote %d of %d rows", n, len(records))
	}
	return nil
}

func (b *batch) Commit(ctx context.Context) error {
	if b.closed {
		return store.ErrBatchClosed
	}
	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	b.finish()
	return nil
}

func (b *batch) Rollback(ctx context.Context) error {
	if b.closed {
		return nil
	}
	defer b.finish()
	if err := b.tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (b *batch) finish() {
	b.closed = true
	b.store.release()
}
