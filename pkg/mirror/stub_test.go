package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/tagcache/pkg/source"
)

// stubSource is a scriptable historian for tests. Safe for concurrent use so
// tests can mutate it while a sync loop is running.
type stubSource struct {
	mu       sync.Mutex
	history  []source.Reading
	snapshot []source.Reading
	tags     map[string]struct{}

	fetchSinceErr error
	snapshotErr   error
	tagsErr       error

	fetchSinceCalls []time.Time
}

func (s *stubSource) FetchSince(ctx context.Context, ts time.Time) ([]source.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchSinceCalls = append(s.fetchSinceCalls, ts)
	if s.fetchSinceErr != nil {
		return nil, s.fetchSinceErr
	}
	var out []source.Reading
	for _, r := range s.history {
		if !r.Timestamp.Before(ts) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubSource) FetchRange(ctx context.Context, start, end time.Time) ([]source.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []source.Reading
	for _, r := range s.history {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubSource) FetchCurrentSnapshot(ctx context.Context) ([]source.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshotErr != nil {
		return nil, s.snapshotErr
	}
	return append([]source.Reading(nil), s.snapshot...), nil
}

func (s *stubSource) FetchDistinctTags(ctx context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tagsErr != nil {
		return nil, s.tagsErr
	}
	out := make(map[string]struct{}, len(s.tags))
	for tag := range s.tags {
		out[tag] = struct{}{}
	}
	return out, nil
}

func (s *stubSource) Close() {}

func (s *stubSource) setSnapshot(readings []source.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = readings
}

func (s *stubSource) addTag(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags == nil {
		s.tags = make(map[string]struct{})
	}
	s.tags[name] = struct{}{}
}

func tagSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}
