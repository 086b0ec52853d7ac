package mirror

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/nicktill/tagcache/pkg/storage"
)

// Evolver keeps the wide table's physical schema a superset of every tag set
// it has been asked about. Columns are only ever added, never dropped.
type Evolver struct {
	store storage.Store

	mu      sync.Mutex
	ensured map[string]struct{} // sanitized column names known to exist
	loaded  bool
}

// NewEvolver creates a schema evolver backed by store.
func NewEvolver(store storage.Store) *Evolver {
	return &Evolver{
		store:   store,
		ensured: make(map[string]struct{}),
	}
}

// EnsureColumns guarantees a physical column exists for every tag in tags.
// Re-ensuring an existing column is a no-op. Errors are surfaced, not retried;
// the caller's cycle loop handles retry.
func (e *Evolver) EnsureColumns(ctx context.Context, tags map[string]struct{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		cols, err := e.store.ListColumns(ctx)
		if err != nil {
			return fmt.Errorf("list existing columns: %w", err)
		}
		for c := range cols {
			e.ensured[c] = struct{}{}
		}
		e.loaded = true
	}

	// Sorted so DDL is issued in a deterministic order.
	missing := make([]string, 0, len(tags))
	for tag := range tags {
		col := SanitizeColumnName(tag)
		if _, ok := e.ensured[col]; !ok {
			missing = append(missing, col)
		}
	}
	sort.Strings(missing)

	for _, col := range missing {
		if _, ok := e.ensured[col]; ok {
			continue // two tags in this batch collapsed to the same column
		}
		if err := e.store.AddColumn(ctx, col); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
		e.ensured[col] = struct{}{}
		log.Printf("Added wide-table column: %s", col)
	}
	return nil
}

// SanitizeColumnName derives a storage-safe column identifier from a tag name:
// every character outside [A-Za-z0-9_] becomes an underscore, leading and
// trailing underscores are trimmed, a "tag_" prefix is added when the result
// starts with a digit, and an empty result becomes "unknown_tag".
//
// Distinct tag names that sanitize to the same identifier share one column.
// That collapse is a documented limitation, not resolved automatically.
func SanitizeColumnName(tag string) string {
	out := make([]byte, 0, len(tag))
	for _, r := range tag {
		switch {
		case r == '_',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9':
			out = append(out, byte(r))
		default:
			// One underscore per character, multi-byte runes included.
			out = append(out, '_')
		}
	}

	name := trimUnderscores(string(out))
	if name == "" {
		return "unknown_tag"
	}
	if first := rune(name[0]); first >= '0' && first <= '9' {
		name = "tag_" + name
	}
	return name
}

func trimUnderscores(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == '_' {
		start++
	}
	for end > start && s[end-1] == '_' {
		end--
	}
	return s[start:end]
}
