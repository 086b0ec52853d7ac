package source

import (
	"context"
	"time"
)

// Reading is one narrow historian row: a single sampled value for one tag.
// Readings are transient; they only exist between a fetch and the merge that
// folds them into wide rows.
type Reading struct {
	Tag       string
	Timestamp time.Time
	Value     float64
}

// Source is the remote historian the mirror pulls from.
// Implementations: postgres (production), stub sources in tests.
type Source interface {
	// FetchSince returns all readings with timestamp >= ts, oldest first.
	FetchSince(ctx context.Context, ts time.Time) ([]Reading, error)

	// FetchRange returns readings with start <= timestamp < end, oldest first.
	FetchRange(ctx context.Context, start, end time.Time) ([]Reading, error)

	// FetchCurrentSnapshot returns the latest value of every known tag,
	// stamped with the fetch time.
	FetchCurrentSnapshot(ctx context.Context) ([]Reading, error)

	// FetchDistinctTags returns the set of tag names currently present
	// at the source.
	FetchDistinctTags(ctx context.Context) (map[string]struct{}, error)

	// Close releases the underlying connection pool.
	Close()
}
