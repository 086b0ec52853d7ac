package mirror

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nicktill/tagcache/pkg/source"
	"github.com/nicktill/tagcache/pkg/storage"
)

// Config holds the engine's tuning knobs.
type Config struct {
	// UpdateInterval is the steady-state poll period.
	UpdateInterval time.Duration

	// RetentionWindow is how much history the wide table keeps.
	RetentionWindow time.Duration

	// InitialLookback bounds the bulk load at startup. Intentionally
	// independent of RetentionWindow: bulk history is expensive, so only a
	// short recent slice is backfilled while retention keeps the longer
	// rolling window of newly streamed data.
	InitialLookback time.Duration

	// BatchSize bounds rows per store transaction.
	BatchSize int

	// MaxInMemoryRecords bounds readings merged per chunk during initial load.
	MaxInMemoryRecords int

	// DefaultFill is the sentinel stored for known tags absent from a new
	// row. 0.0 conflates "known zero" with "unknown"; it is kept explicit
	// and configurable rather than silently baked in.
	DefaultFill float64

	// StatusInterval is the period of the status-logging task.
	StatusInterval time.Duration
}

// CycleObserver is notified after every steady-state cycle, successful or not.
type CycleObserver interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Service drives the sync state machine: InitialLoad, then the steady-state
// poll loop until its context is cancelled. A crash-restart re-enters
// InitialLoad from scratch; the store's existing window is extended forward,
// never re-validated.
type Service struct {
	cfg      Config
	store    storage.Store
	source   source.Source
	tags     *TagSet
	evolver  *Evolver
	writer   *Writer
	trimmer  *Trimmer
	detector *Detector
	observer CycleObserver

	mu        sync.Mutex
	cursor    time.Time // high-water mark of merged data
	hasCursor bool
}

// New creates a sync service. tags must be the shared, injected TagSet; the
// service never constructs its own.
func New(cfg Config, store storage.Store, src source.Source, tags *TagSet) *Service {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 30 * time.Second
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = 7 * 24 * time.Hour
	}
	if cfg.InitialLookback <= 0 {
		cfg.InitialLookback = 24 * time.Hour
	}
	if cfg.MaxInMemoryRecords <= 0 {
		cfg.MaxInMemoryRecords = 100000
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Minute
	}

	evolver := NewEvolver(store)
	return &Service{
		cfg:      cfg,
		store:    store,
		source:   src,
		tags:     tags,
		evolver:  evolver,
		writer:   NewWriter(store, evolver, cfg.BatchSize, cfg.DefaultFill),
		trimmer:  NewTrimmer(store),
		detector: NewDetector(src),
	}
}

// SetObserver registers a cycle observer. Call before Run.
func (s *Service) SetObserver(o CycleObserver) {
	s.observer = o
}

// InitialLoad performs the one-time bulk load: a bounded look-back fetch
// merged in memory-bounded chunks, the current snapshot, the first tag
// baseline, and one retention pass. Any failure is fatal to startup.
func (s *Service) InitialLoad(ctx context.Context) error {
	now := time.Now().UTC()
	start := now.Add(-s.cfg.InitialLookback)
	log.Printf("Initial load: fetching history since %v", start)

	readings, err := s.source.FetchSince(ctx, start)
	if err != nil {
		return fmt.Errorf("initial history fetch: %w", err)
	}

	// The whole load shares one tag universe so every chunk's rows get full
	// column coverage, no matter how the readings split across chunks.
	allTags := s.tags.Snapshot()
	for _, r := range readings {
		if r.Tag != "" {
			allTags[r.Tag] = struct{}{}
		}
	}

	loaded := 0
	for chunkStart := 0; chunkStart < len(readings); chunkStart += s.cfg.MaxInMemoryRecords {
		chunkEnd := chunkStart + s.cfg.MaxInMemoryRecords
		if chunkEnd > len(readings) {
			chunkEnd = len(readings)
		}
		rows := Merge(readings[chunkStart:chunkEnd])
		written, err := s.writer.Upsert(ctx, rows, allTags)
		if err != nil {
			return fmt.Errorf("initial load upsert: %w", err)
		}
		loaded += written
	}
	log.Printf("Initial load: %d readings merged into %d wide rows", len(readings), loaded)

	snapshot, err := s.source.FetchCurrentSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("initial snapshot fetch: %w", err)
	}
	if _, err := s.writer.Upsert(ctx, Merge(snapshot), s.tags.Snapshot()); err != nil {
		return fmt.Errorf("initial snapshot upsert: %w", err)
	}

	// Seed the live-tag baseline.
	delta, err := s.detector.Detect(ctx, s.tags.Snapshot())
	if err != nil {
		return fmt.Errorf("seed tag baseline: %w", err)
	}
	if err := s.applyDelta(ctx, delta); err != nil {
		return fmt.Errorf("apply tag baseline: %w", err)
	}
	log.Printf("Tag baseline seeded: %d live tags", s.tags.Len())

	if _, err := s.trimmer.Trim(ctx, now.Add(-s.cfg.RetentionWindow)); err != nil {
		return fmt.Errorf("initial trim: %w", err)
	}

	s.setCursor(now)
	return nil
}

// Run executes the steady-state poll loop until ctx is cancelled. A cycle's
// failure is logged and swallowed; the next tick tries again.
func (s *Service) Run(ctx context.Context) {
	log.Printf("Sync loop started (interval %v)", s.cfg.UpdateInterval)

	ticker := time.NewTicker(s.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sync loop stopped")
			return
		case <-ticker.C:
			if err := s.cycle(ctx); err != nil {
				if ctx.Err() != nil {
					continue // shutdown in flight, not a cycle failure
				}
				log.Printf("Sync cycle failed (will retry next tick): %v", err)
				if s.observer != nil {
					s.observer.RecordFailure(err)
				}
				continue
			}
			if s.observer != nil {
				s.observer.RecordSuccess()
			}
		}
	}
}

// cycle runs one poll: detect tag changes, fetch and merge incremental data
// and the current snapshot, advance the cursor, trim retention. Schema
// evolution always precedes writes; writes always precede the trim.
func (s *Service) cycle(ctx context.Context) error {
	now := time.Now().UTC()

	delta, err := s.detector.Detect(ctx, s.tags.Snapshot())
	if err != nil {
		return err
	}
	if err := s.applyDelta(ctx, delta); err != nil {
		return err
	}

	known := s.tags.Snapshot()

	// Incremental readings bounded below by the cursor.
	readings, err := s.source.FetchSince(ctx, s.cursorOr(now.Add(-s.cfg.UpdateInterval)))
	if err != nil {
		return fmt.Errorf("incremental fetch: %w", err)
	}
	if len(readings) > 0 {
		written, err := s.writer.Upsert(ctx, Merge(readings), known)
		if err != nil {
			return fmt.Errorf("incremental upsert: %w", err)
		}
		log.Printf("Merged %d incremental readings into %d wide rows", len(readings), written)
	}

	snapshot, err := s.source.FetchCurrentSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot fetch: %w", err)
	}
	if len(snapshot) > 0 {
		if _, err := s.writer.Upsert(ctx, Merge(snapshot), known); err != nil {
			return fmt.Errorf("snapshot upsert: %w", err)
		}
	}

	// The cursor only moves forward, and only after a fully merged cycle.
	s.setCursor(now)

	// Trim runs last; its failure must not fail the cycle's other work.
	if deleted, err := s.trimmer.Trim(ctx, now.Add(-s.cfg.RetentionWindow)); err != nil {
		log.Printf("Retention trim failed: %v", err)
	} else if deleted > 0 {
		log.Printf("Retention trim removed %d rows", deleted)
	}

	return nil
}

// applyDelta reconciles a detector delta: columns for new tags are ensured
// before the baseline is updated, so writes that follow never reference a
// column that does not exist. Removed tags are retired from the baseline;
// their columns and history stay.
func (s *Service) applyDelta(ctx context.Context, delta Delta) error {
	if delta.Empty() {
		return nil
	}

	if len(delta.Added) > 0 {
		added := make(map[string]struct{}, len(delta.Added))
		for _, tag := range delta.Added {
			added[tag] = struct{}{}
		}
		if err := s.evolver.EnsureColumns(ctx, added); err != nil {
			return fmt.Errorf("ensure columns for new tags: %w", err)
		}
		s.tags.Add(delta.Added...)
		log.Printf("Tags added: %v", delta.Added)
	}

	if len(delta.Removed) > 0 {
		s.tags.Remove(delta.Removed...)
		log.Printf("Tags retired (columns retained): %v", delta.Removed)
	}

	return nil
}

// RunStatusReporter logs a status snapshot on its own, longer-period timer.
func (s *Service) RunStatusReporter(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := s.Status(ctx)
			if err != nil {
				log.Printf("Status snapshot failed: %v", err)
				continue
			}
			log.Printf("Status: %s", status)
		}
	}
}

// Status computes a read-only snapshot from the store; nothing is cached.
type Status struct {
	TotalRows       int64         `json:"total_rows"`
	MaxTimestamp    *time.Time    `json:"max_timestamp,omitempty"`
	Cursor          *time.Time    `json:"cursor,omitempty"`
	LiveTags        int           `json:"live_tags"`
	RetentionWindow time.Duration `json:"retention_window_ns"`
	UpdateInterval  time.Duration `json:"update_interval_ns"`
}

// Status returns the current service status.
func (s *Service) Status(ctx context.Context) (Status, error) {
	rows, err := s.store.RowCount(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("row count: %w", err)
	}

	status := Status{
		TotalRows:       rows,
		LiveTags:        s.tags.Len(),
		RetentionWindow: s.cfg.RetentionWindow,
		UpdateInterval:  s.cfg.UpdateInterval,
	}

	max, ok, err := s.store.MaxTimestamp(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("max timestamp: %w", err)
	}
	if ok {
		status.MaxTimestamp = &max
	}

	if cursor, ok := s.Cursor(); ok {
		status.Cursor = &cursor
	}

	return status, nil
}

func (st Status) String() string {
	maxTS, cursor := "none", "none"
	if st.MaxTimestamp != nil {
		maxTS = st.MaxTimestamp.Format(time.RFC3339)
	}
	if st.Cursor != nil {
		cursor = st.Cursor.Format(time.RFC3339)
	}
	return fmt.Sprintf("rows=%d latest=%s cursor=%s live_tags=%d retention=%v interval=%v",
		st.TotalRows, maxTS, cursor, st.LiveTags, st.RetentionWindow, st.UpdateInterval)
}

// Cursor returns the high-water mark, or false if no cycle has completed.
func (s *Service) Cursor() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasCursor
}

func (s *Service) setCursor(ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasCursor && ts.Before(s.cursor) {
		return // never rewind
	}
	s.cursor = ts
	s.hasCursor = true
}

func (s *Service) cursorOr(fallback time.Time) time.Time {
	if cursor, ok := s.Cursor(); ok {
		return cursor
	}
	return fallback
}
