package storage

import (
	"context"
	"time"
)

// WideRow is one materialized row of the wide table, keyed by timestamp.
//
// Values holds the columns this batch supplies; on conflict with an existing
// row they overwrite what is stored. Defaults holds columns that are known at
// write time but absent from the batch; they apply only when the row is first
// inserted, so values written at the same timestamp by earlier batches are
// never clobbered back to the sentinel.
type WideRow struct {
	Timestamp time.Time
	Values    map[string]float64
	Defaults  map[string]float64
}

// Store is the local wide-table cache the mirror writes into.
// Implementations: sqlite (production), memory (testing).
type Store interface {
	// ListColumns returns the tag columns physically present in the wide
	// table, excluding the timestamp key column.
	ListColumns(ctx context.Context) (map[string]struct{}, error)

	// AddColumn adds a new tag column to the wide table.
	AddColumn(ctx context.Context, name string) error

	// UpsertBatch writes rows keyed by timestamp. Existing rows have their
	// supplied columns overwritten; new rows are inserted with defaults for
	// the columns the batch did not supply.
	UpsertBatch(ctx context.Context, rows []WideRow) error

	// DeleteBefore removes rows with timestamp strictly before cutoff and
	// returns how many were deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RowCount returns the total number of wide rows stored.
	RowCount(ctx context.Context) (int64, error)

	// MaxTimestamp returns the newest stored timestamp. The bool is false
	// when the table is empty.
	MaxTimestamp(ctx context.Context) (time.Time, bool, error)

	// Close cleanly shuts down the store.
	Close() error
}
