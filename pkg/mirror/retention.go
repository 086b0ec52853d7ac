package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/tagcache/pkg/storage"
)

// Trimmer bounds storage growth by deleting wide rows older than a rolling
// cutoff. Trimming is destructive; there is no archival.
type Trimmer struct {
	store storage.Store
}

// NewTrimmer creates a retention trimmer backed by store.
func NewTrimmer(store storage.Store) *Trimmer {
	return &Trimmer{store: store}
}

// Trim deletes rows with timestamp strictly before cutoff and returns how
// many were removed.
func (t *Trimmer) Trim(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := t.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trim before %v: %w", cutoff, err)
	}
	return deleted, nil
}
