// Package postgres implements the historian source on PostgreSQL.
//
// Two tables are read: a history table holding narrow (tag, timestamp, value)
// rows, and a tag table holding each tag's current value. Table names are
// configurable to match whatever the historian exposes.
package postgres

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nicktill/tagcache/pkg/source"
)

// Config holds connection and query settings.
type Config struct {
	// URL is the PostgreSQL connection string.
	URL string

	// HistoryTable holds narrow readings (tag_name, ts, value).
	HistoryTable string

	// TagTable holds each tag's current value (tag_name, tag_val).
	TagTable string

	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration

	// MaxRetries and RetryDelay drive the fixed-delay connect retry loop.
	MaxRetries int
	RetryDelay time.Duration

	// DefaultFill is substituted for NULL values so a row's presence is
	// preserved. It conflates "known zero" with "unknown" when left at 0.0,
	// which is why it is explicit here rather than baked into the queries.
	DefaultFill float64
}

// Source reads the historian over a pgx connection pool.
type Source struct {
	pool *pgxpool.Pool
	cfg  Config
}

// Connect builds the pool and verifies connectivity, retrying a bounded
// number of times with a fixed delay. Exhausting the retries returns the last
// error; the caller decides whether that is fatal.
func Connect(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.HistoryTable == "" {
		cfg.HistoryTable = "tag_history"
	}
	if cfg.TagTable == "" {
		cfg.TagTable = "tag_database"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("build source pool: %w", err)
	}

	err = source.Attempt(ctx, cfg.MaxRetries, cfg.RetryDelay, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to historian: %w", err)
	}

	log.Printf("Connected to historian (history=%s tags=%s)", cfg.HistoryTable, cfg.TagTable)
	return &Source{pool: pool, cfg: cfg}, nil
}

// FetchSince returns all readings with timestamp >= ts, oldest first.
func (s *Source) FetchSince(ctx context.Context, ts time.Time) ([]source.Reading, error) {
	query := fmt.Sprintf(
		`SELECT tag_name, ts, value FROM %s WHERE ts >= $1 ORDER BY ts`,
		pgx.Identifier{s.cfg.HistoryTable}.Sanitize())

	rows, err := s.pool.Query(ctx, query, ts.UTC())
	if err != nil {
		return nil, fmt.Errorf("fetch since %v: %w", ts, err)
	}
	defer rows.Close()

	return s.scanReadings(rows)
}

// FetchRange returns readings with start <= timestamp < end, oldest first.
func (s *Source) FetchRange(ctx context.Context, start, end time.Time) ([]source.Reading, error) {
	query := fmt.Sprintf(
		`SELECT tag_name, ts, value FROM %s WHERE ts >= $1 AND ts < $2 ORDER BY ts`,
		pgx.Identifier{s.cfg.HistoryTable}.Sanitize())

	rows, err := s.pool.Query(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("fetch range %v..%v: %w", start, end, err)
	}
	defer rows.Close()

	return s.scanReadings(rows)
}

// FetchCurrentSnapshot returns the latest value of every tag in the tag
// table, stamped with the fetch time. Tags with a NULL current value are
// kept at the default fill so row coverage is preserved.
func (s *Source) FetchCurrentSnapshot(ctx context.Context) ([]source.Reading, error) {
	query := fmt.Sprintf(
		`SELECT tag_name, tag_val FROM %s WHERE tag_name IS NOT NULL`,
		pgx.Identifier{s.cfg.TagTable}.Sanitize())

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var readings []source.Reading
	for rows.Next() {
		var tag *string
		var value *float64
		if err := rows.Scan(&tag, &value); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if tag == nil || *tag == "" {
			continue
		}
		readings = append(readings, source.Reading{
			Tag:       *tag,
			Timestamp: now,
			Value:     s.fillValue(value),
		})
	}
	return readings, rows.Err()
}

// FetchDistinctTags returns the distinct tag names present in the tag table.
func (s *Source) FetchDistinctTags(ctx context.Context) (map[string]struct{}, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT tag_name FROM %s WHERE tag_name IS NOT NULL`,
		pgx.Identifier{s.cfg.TagTable}.Sanitize())

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch distinct tags: %w", err)
	}
	defer rows.Close()

	tags := make(map[string]struct{})
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag name: %w", err)
		}
		if tag != "" {
			tags[tag] = struct{}{}
		}
	}
	return tags, rows.Err()
}

// Close releases the pool.
func (s *Source) Close() {
	s.pool.Close()
}

// scanReadings converts narrow rows into readings. Rows missing the tag or
// timestamp are dropped with a warning; NULL values are filled rather than
// dropped so the row still counts toward coverage.
func (s *Source) scanReadings(rows pgx.Rows) ([]source.Reading, error) {
	var readings []source.Reading
	dropped := 0

	for rows.Next() {
		var tag *string
		var ts *time.Time
		var value *float64
		if err := rows.Scan(&tag, &ts, &value); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if tag == nil || *tag == "" || ts == nil {
			dropped++
			continue
		}
		readings = append(readings, source.Reading{
			Tag:       *tag,
			Timestamp: ts.UTC(),
			Value:     s.fillValue(value),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	if dropped > 0 {
		log.Printf("Dropped %d incomplete historian rows (missing tag or timestamp)", dropped)
	}
	return readings, nil
}

func (s *Source) fillValue(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return s.cfg.DefaultFill
	}
	return *v
}
