package mirror

import "sync"

// TagSet is the process-wide set of tags currently considered live. It is
// mutated by the sync loop when the detector reports changes and read by
// writes and status reporting, so access is guarded by a mutex. The lock is
// held only across the read or update, never across I/O.
//
// Removing a tag retires it from the live baseline; its column and stored
// history remain in the wide table.
type TagSet struct {
	mu   sync.Mutex
	live map[string]struct{}
}

// NewTagSet creates an empty tag set. Construct once at startup and inject
// wherever the live baseline is needed.
func NewTagSet() *TagSet {
	return &TagSet{live: make(map[string]struct{})}
}

// Add marks tags as live.
func (t *TagSet) Add(tags ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tag := range tags {
		t.live[tag] = struct{}{}
	}
}

// Remove retires tags from the live baseline.
func (t *TagSet) Remove(tags ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tag := range tags {
		delete(t.live, tag)
	}
}

// Contains reports whether tag is live.
func (t *TagSet) Contains(tag string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.live[tag]
	return ok
}

// Len returns the number of live tags.
func (t *TagSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Snapshot returns a copy of the live set.
func (t *TagSet) Snapshot() map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]struct{}, len(t.live))
	for tag := range t.live {
		out[tag] = struct{}{}
	}
	return out
}
