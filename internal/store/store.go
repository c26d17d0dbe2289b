package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/JakeFAU/telefonbuch-scraper/internal/address"
)

// DefaultTable is the table written by the scraper and read by the export tools.
const DefaultTable = "telefonbuch_scrape"

var (
	// ErrDuplicate signals a (query key, offset, child number) that already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrBatchClosed is returned when a committed or rolled back batch is reused.
	ErrBatchClosed = errors.New("batch already closed")
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateTable rejects table names that cannot be interpolated safely.
func ValidateTable(table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// Stats summarizes the stored data.
type Stats struct {
	Keys    int64
	Records int64
	MaxID   int64
}

// Store persists flattened records with per-key atomicity.
type Store interface {
	// Init creates the table and its unique index when absent.
	Init(ctx context.Context) error
	// HasKey reports whether any record for key was committed.
	HasKey(ctx context.Context, key string) (bool, error)
	// Begin opens an exclusive batch. Only one batch may be open at a time.
	Begin(ctx context.Context) (Batch, error)
	// CountKeys returns the number of distinct committed keys.
	CountKeys(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Batch is one exclusive transaction covering all pages of a key.
type Batch interface {
	// Sequence hands out row ids, seeded from the largest id visible when
	// the batch opened.
	Sequence() *address.IDSequence
	Insert(ctx context.Context, records []address.Record) error
	Commit(ctx context.Context) error
	// Rollback discards the batch. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// Metadata columns precede the payload columns in every row.
var metaColumns = []string{"id", "parent_id", "query_name", "query_offset", "query_child_num"}

// InsertColumns lists the columns written for each record, in value order.
func InsertColumns() []string {
	cols := make([]string, 0, len(metaColumns)+address.NumColumns)
	cols = append(cols, metaColumns...)
	cols = append(cols, address.Columns[:]...)
	return cols
}

// Values returns the row of rec in InsertColumns order. Absent fields are nil.
func Values(rec address.Record) []any {
	vals := make([]any, 0, len(metaColumns)+address.NumColumns)
	var parent any
	if rec.ParentID != nil {
		parent = *rec.ParentID
	}
	vals = append(vals, rec.ID, parent, rec.QueryKey, rec.QueryOffset, rec.QueryChildNum)
	for _, f := range rec.Fields {
		if f == nil {
			vals = append(vals, nil)
			continue
		}
		vals = append(vals, *f)
	}
	return vals
}

// UniqueIndexName is the name of the (query_name, query_offset, query_child_num) index.
func UniqueIndexName(table string) string {
	return table + "_query_name_query_offset"
}
