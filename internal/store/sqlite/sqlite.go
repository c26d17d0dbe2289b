// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	sqlitedrv "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/JakeFAU/telefonbuch-scraper/internal/address"
	"github.com/JakeFAU/telefonbuch-scraper/internal/store"
)

// Config controls the SQLite store.
type Config struct {
	Path  string
	Table string
}

// Store writes records into a single SQLite table. All access goes through
// one connection; while a batch is open, other calls wait for it to finish.
type Store struct {
	db        *sql.DB
	table     string
	insertSQL string

	mu     sync.Mutex
	active bool
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database file at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store.path is required")
	}
	dsn := cfg.Path
	if dsn != ":memory:" {
		// Wait instead of failing when another process (e.g. status) holds the lock.
		dsn = "file:" + cfg.Path + "?_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s, err := NewWithDB(db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing handle. The handle is limited to one open
// connection, which also keeps ":memory:" databases consistent.
func NewWithDB(db *sql.DB, table string) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if table == "" {
		table = store.DefaultTable
	}
	if err := store.ValidateTable(table); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	cols := store.InsertColumns()
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)
	return &Store{db: db, table: table, insertSQL: insertSQL}, nil
}

// Init creates the table and the unique index when absent. SQLite does not
// enforce the parent_id foreign key unless foreign_keys is switched on.
func (s *Store) Init(ctx context.Context) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.table)
	b.WriteString("  id INTEGER PRIMARY KEY,\n")
	b.WriteString("  parent_id INTEGER,\n")
	b.WriteString("  query_name TEXT,\n")
	b.WriteString("  query_offset INTEGER,\n")
	b.WriteString("  query_child_num INTEGER,\n")
	for _, col := range address.Columns {
		fmt.Fprintf(&b, "  %s TEXT,\n", col)
	}
	fmt.Fprintf(&b, "  FOREIGN KEY (parent_id) REFERENCES %s (id)\n)", s.table)

	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	index := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (query_name, query_offset, query_child_num)",
		store.UniqueIndexName(s.table), s.table,
	)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create unique index: %w", err)
	}
	return nil
}

// HasKey reports whether key has committed rows.
func (s *Store) HasKey(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE query_name = ? LIMIT 1", s.table), key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup key %q: %w", key, err)
	}
	return true, nil
}

// CountKeys returns the number of distinct committed keys.
func (s *Store) CountKeys(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
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
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(DISTINCT query_name), COUNT(*), COALESCE(MAX(id), 0) FROM %s", s.table,
	)).Scan(&st.Keys, &st.Records, &st.MaxID)
	if err != nil {
		return store.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Begin takes the connection and opens an exclusive transaction.
func (s *Store) Begin(ctx context.Context) (store.Batch, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, errors.New("sqlite: a batch is already open")
	}
	s.active = true
	s.mu.Unlock()

	b, err := s.begin(ctx)
	if err != nil {
		s.release()
		return nil, err
	}
	return b, nil
}

func (s *Store) begin(ctx context.Context) (*batch, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("begin exclusive: %w", err)
	}
	var maxID int64
	err = conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", s.table),
	).Scan(&maxID)
	if err != nil {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		_ = conn.Close()
		return nil, fmt.Errorf("read max id: %w", err)
	}
	return &batch{store: s, conn: conn, seq: address.NewIDSequence(maxID + 1)}, nil
}

func (s *Store) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

type batch struct {
	store  *Store
	conn   *sql.Conn
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
	stmt, err := b.conn.PrepareContext(ctx, b.store.insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, store.Values(rec)...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert key=%q offset=%d child=%d: %w: %w",
					rec.QueryKey, rec.QueryOffset, rec.QueryChildNum, store.ErrDuplicate, err)
			}
			return fmt.Errorf("insert record %d: %w", rec.ID, err)
		}
	}
	return nil
}

func (b *batch) Commit(ctx context.Context) error {
	if b.closed {
		return store.ErrBatchClosed
	}
	if _, err := b.conn.ExecContext(ctx, "COMMIT"); err != nil {
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
	// The caller's context is often already canceled here.
	if _, err := b.conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK"); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (b *batch) finish() {
	b.closed = true
	_ = b.conn.Close()
	b.store.release()
}

func isUniqueViolation(err error) bool {
	var serr *sqlitedrv.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
