package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tagcache/pkg/source"
	"github.com/nicktill/tagcache/pkg/storage/memory"
)

func testConfig() Config {
	return Config{
		UpdateInterval:     10 * time.Millisecond,
		RetentionWindow:    24 * time.Hour,
		InitialLookback:    time.Hour,
		BatchSize:          100,
		MaxInMemoryRecords: 1000,
		StatusInterval:     time.Minute,
	}
}

func TestInitialLoad_EndToEnd(t *testing.T) {
	t1 := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Millisecond)
	t2 := t1.Add(time.Minute)

	src := &stubSource{
		history: []source.Reading{
			{Tag: "TagA", Timestamp: t1, Value: 1.0},
			{Tag: "TagB", Timestamp: t1, Value: 2.0},
			{Tag: "TagA", Timestamp: t2, Value: 3.0},
		},
		tags: tagSet("TagA", "TagB"),
	}
	store := memory.New()
	tags := NewTagSet()
	svc := New(testConfig(), store, src, tags)

	require.NoError(t, svc.InitialLoad(context.Background()))

	count, err := store.RowCount(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	row1, ok := store.Row(t1)
	require.True(t, ok)
	require.Equal(t, 1.0, row1["TagA"])
	require.Equal(t, 2.0, row1["TagB"])

	row2, ok := store.Row(t2)
	require.True(t, ok)
	require.Equal(t, 3.0, row2["TagA"])
	require.Equal(t, 0.0, row2["TagB"], "unseen known tag defaults to the sentinel")

	max, hasMax, err := store.MaxTimestamp(context.Background())
	require.NoError(t, err)
	require.True(t, hasMax)
	require.True(t, max.Equal(t2))

	// Baseline seeded, cursor set.
	require.Equal(t, 2, tags.Len())
	_, hasCursor := svc.Cursor()
	require.True(t, hasCursor)
}

func TestInitialLoad_ChunkedCoverage(t *testing.T) {
	t1 := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Millisecond)
	t2 := t1.Add(time.Minute)

	src := &stubSource{
		history: []source.Reading{
			{Tag: "TagA", Timestamp: t1, Value: 1.0},
			{Tag: "TagB", Timestamp: t1, Value: 2.0},
			{Tag: "TagA", Timestamp: t2, Value: 3.0},
		},
		tags: tagSet("TagA", "TagB"),
	}
	store := memory.New()

	cfg := testConfig()
	cfg.MaxInMemoryRecords = 1 // force one reading per chunk
	svc := New(cfg, store, src, NewTagSet())

	require.NoError(t, svc.InitialLoad(context.Background()))

	// Coverage must not depend on how readings split across chunks.
	row2, ok := store.Row(t2)
	require.True(t, ok)
	require.Equal(t, 0.0, row2["TagB"])
}

func TestInitialLoad_SourceFailureIsFatal(t *testing.T) {
	src := &stubSource{fetchSinceErr: errors.New("historian down")}
	svc := New(testConfig(), memory.New(), src, NewTagSet())

	require.Error(t, svc.InitialLoad(context.Background()))
}

func TestInitialLoad_TrimsOldHistory(t *testing.T) {
	old := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Millisecond)

	src := &stubSource{
		history: []source.Reading{{Tag: "TagA", Timestamp: old, Value: 1.0}},
		tags:    tagSet("TagA"),
	}
	store := memory.New()

	cfg := testConfig()
	cfg.InitialLookback = 72 * time.Hour
	cfg.RetentionWindow = 24 * time.Hour
	svc := New(cfg, store, src, NewTagSet())

	require.NoError(t, svc.InitialLoad(context.Background()))

	count, err := store.RowCount(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, count, "rows beyond the retention window are trimmed at startup")
}

func TestRun_CycleMergesSnapshotAndAdvancesCursor(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	src := &stubSource{tags: tagSet("TagA")}
	store := memory.New()
	svc := New(testConfig(), store, src, NewTagSet())

	require.NoError(t, svc.InitialLoad(context.Background()))
	before, _ := svc.Cursor()

	// The snapshot appears only after the initial load, so seeing it stored
	// proves a steady-state cycle merged it.
	src.setSnapshot([]source.Reading{{Tag: "TagA", Timestamp: now, Value: 42}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		row, ok := store.Row(now)
		return ok && row["TagA"] == 42
	}, time.Second, 5*time.Millisecond, "snapshot reading should be merged")

	require.Eventually(t, func() bool {
		after, ok := svc.Cursor()
		return ok && after.After(before)
	}, time.Second, 5*time.Millisecond, "cursor should advance")

	cancel()
	<-done
}

func TestRun_CycleFailureIsSwallowed(t *testing.T) {
	src := &stubSource{
		tagsErr: errors.New("historian down"),
	}
	svc := New(testConfig(), memory.New(), src, NewTagSet())

	failures := &countingObserver{}
	svc.SetObserver(failures)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	// The loop must keep ticking through repeated failures.
	require.Eventually(t, func() bool {
		return failures.failuresSeen() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRun_DetectsNewTag(t *testing.T) {
	src := &stubSource{tags: tagSet("TagA")}
	store := memory.New()
	tags := NewTagSet()
	svc := New(testConfig(), store, src, tags)

	require.NoError(t, svc.InitialLoad(context.Background()))
	require.Equal(t, 1, tags.Len())

	src.addTag("TagB")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return tags.Contains("TagB")
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	cols, err := store.ListColumns(context.Background())
	require.NoError(t, err)
	require.Contains(t, cols, "TagB", "new tag's column is ensured before writes")
}

func TestStatus(t *testing.T) {
	t1 := time.Now().UTC().Add(-5 * time.Minute).Truncate(time.Millisecond)
	src := &stubSource{
		history: []source.Reading{{Tag: "TagA", Timestamp: t1, Value: 1}},
		tags:    tagSet("TagA"),
	}
	store := memory.New()
	svc := New(testConfig(), store, src, NewTagSet())

	require.NoError(t, svc.InitialLoad(context.Background()))

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, status.TotalRows)
	require.NotNil(t, status.MaxTimestamp)
	require.NotNil(t, status.Cursor)
	require.Equal(t, 1, status.LiveTags)
	require.NotEmpty(t, status.String())
}

type countingObserver struct {
	mu       sync.Mutex
	failures int
}

func (c *countingObserver) RecordSuccess() {}

func (c *countingObserver) RecordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}

func (c *countingObserver) failuresSeen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}
