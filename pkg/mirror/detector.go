package mirror

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/tagcache/pkg/source"
)

// Delta is the result of one change-detection pass against the source.
type Delta struct {
	Added   []string // in source, not in the known baseline
	Removed []string // in the known baseline, gone from the source
	Current map[string]struct{}
}

// Empty reports whether the pass found no changes.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Detector compares the source's distinct tag set against the locally known
// baseline. Matching xxhash fingerprints of the two sorted sets short-circuit
// the set difference, which is the common case on a quiet source.
type Detector struct {
	source source.Source
}

// NewDetector creates a tag change detector reading from src.
func NewDetector(src source.Source) *Detector {
	return &Detector{source: src}
}

// Detect fetches the source's current tag set and returns the delta against
// known. Added and Removed are sorted for stable logging; no ordering beyond
// that is implied.
func (d *Detector) Detect(ctx context.Context, known map[string]struct{}) (Delta, error) {
	current, err := d.source.FetchDistinctTags(ctx)
	if err != nil {
		return Delta{}, fmt.Errorf("fetch distinct tags: %w", err)
	}

	if fingerprint(current) == fingerprint(known) {
		return Delta{Current: current}, nil
	}

	delta := Delta{Current: current}
	for tag := range current {
		if _, ok := known[tag]; !ok {
			delta.Added = append(delta.Added, tag)
		}
	}
	for tag := range known {
		if _, ok := current[tag]; !ok {
			delta.Removed = append(delta.Removed, tag)
		}
	}
	sort.Strings(delta.Added)
	sort.Strings(delta.Removed)
	return delta, nil
}

// fingerprint hashes the sorted tag set. NUL separators keep adjacent names
// from aliasing.
func fingerprint(tags map[string]struct{}) uint64 {
	names := make([]string, 0, len(tags))
	for tag := range tags {
		names = append(names, tag)
	}
	sort.Strings(names)
	return xxhash.Sum64String(strings.Join(names, "\x00"))
}
