package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/tagcache/pkg/storage"
)

// Store keeps the wide table in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	mu      sync.RWMutex
	columns map[string]struct{}
	rows    map[int64]map[string]float64 // unix-nano timestamp -> column -> value
}

// New creates an in-memory store.
func New() *Store {
	return &Store{
		columns: make(map[string]struct{}),
		rows:    make(map[int64]map[string]float64),
	}
}

// ListColumns returns the registered tag columns.
func (s *Store) ListColumns(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cols := make(map[string]struct{}, len(s.columns))
	for c := range s.columns {
		cols[c] = struct{}{}
	}
	return cols, nil
}

// AddColumn registers a tag column. Adding an existing column is a no-op,
// matching ALTER TABLE semantics guarded by the schema evolver.
func (s *Store) AddColumn(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.columns[name] = struct{}{}
	return nil
}

// UpsertBatch writes rows keyed by timestamp. Supplied values overwrite,
// defaults apply only on first insert.
func (s *Store) UpsertBatch(ctx context.Context, rows []storage.WideRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		key := row.Timestamp.UTC().UnixNano()
		stored, exists := s.rows[key]
		if !exists {
			stored = make(map[string]float64, len(row.Values)+len(row.Defaults))
			for col, v := range row.Defaults {
				stored[col] = v
			}
			s.rows[key] = stored
		}
		for col, v := range row.Values {
			stored[col] = v
		}
	}
	return nil
}

// DeleteBefore removes rows older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := cutoff.UTC().UnixNano()
	var deleted int64
	for key := range s.rows {
		if key < limit {
			delete(s.rows, key)
			deleted++
		}
	}
	return deleted, nil
}

// RowCount returns the number of stored rows.
func (s *Store) RowCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.rows)), nil
}

// MaxTimestamp returns the newest stored timestamp, or false when empty.
func (s *Store) MaxTimestamp(ctx context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.rows) == 0 {
		return time.Time{}, false, nil
	}

	var max int64
	first := true
	for key := range s.rows {
		if first || key > max {
			max = key
			first = false
		}
	}
	return time.Unix(0, max).UTC(), true, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}

// Row returns a copy of the stored row at ts, for test assertions.
func (s *Store) Row(ts time.Time) (map[string]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.rows[ts.UTC().UnixNano()]
	if !ok {
		return nil, false
	}
	row := make(map[string]float64, len(stored))
	for col, v := range stored {
		row[col] = v
	}
	return row, true
}
