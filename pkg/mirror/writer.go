package mirror

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nicktill/tagcache/pkg/storage"
)

// Writer persists merged wide rows, batched for throughput and idempotent
// under replay: the timestamp is the natural key, so re-applying a batch
// overwrites rather than duplicates.
type Writer struct {
	store       storage.Store
	evolver     *Evolver
	batchSize   int
	defaultFill float64
}

// NewWriter creates a writer. batchSize bounds how many rows go into one
// store transaction; defaultFill is the sentinel written for tags that are
// known at write time but absent from a new row.
func NewWriter(store storage.Store, evolver *Evolver, batchSize int, defaultFill float64) *Writer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Writer{
		store:       store,
		evolver:     evolver,
		batchSize:   batchSize,
		defaultFill: defaultFill,
	}
}

// Upsert writes merged rows to the store and returns how many rows were
// written. Columns are ensured for the union of batch tags and allKnownTags
// before any write, so every stored row has a value for every tag known at
// write time.
func (w *Writer) Upsert(ctx context.Context, rows map[time.Time]map[string]float64, allKnownTags map[string]struct{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	union := Tags(rows)
	for tag := range allKnownTags {
		union[tag] = struct{}{}
	}
	if err := w.evolver.EnsureColumns(ctx, union); err != nil {
		return 0, fmt.Errorf("ensure columns: %w", err)
	}

	knownCols := make(map[string]struct{}, len(union))
	for tag := range union {
		knownCols[SanitizeColumnName(tag)] = struct{}{}
	}

	wide := make([]storage.WideRow, 0, len(rows))
	for ts, tagValues := range rows {
		values := make(map[string]float64, len(tagValues))
		for tag, v := range tagValues {
			// Colliding sanitized names share a column; last write wins.
			values[SanitizeColumnName(tag)] = v
		}

		defaults := make(map[string]float64)
		for col := range knownCols {
			if _, ok := values[col]; !ok {
				defaults[col] = w.defaultFill
			}
		}

		wide = append(wide, storage.WideRow{Timestamp: ts, Values: values, Defaults: defaults})
	}

	// Oldest first keeps batches aligned with the cursor's forward motion.
	sort.Slice(wide, func(i, j int) bool { return wide[i].Timestamp.Before(wide[j].Timestamp) })

	written := 0
	for start := 0; start < len(wide); start += w.batchSize {
		end := start + w.batchSize
		if end > len(wide) {
			end = len(wide)
		}
		if err := w.store.UpsertBatch(ctx, wide[start:end]); err != nil {
			return written, fmt.Errorf("upsert batch: %w", err)
		}
		written += end - start
	}
	return written, nil
}
