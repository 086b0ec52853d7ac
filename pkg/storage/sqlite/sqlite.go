package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nicktill/tagcache/pkg/storage"

	// Pure Go SQLite driver, no cgo required
	_ "modernc.org/sqlite"
)

// Config holds SQLite store configuration.
type Config struct {
	// Path to the database file
	Path string

	// BusyTimeoutMS is the lock acquisition timeout in milliseconds
	BusyTimeoutMS int
}

// Store implements storage.Store on a single SQLite file.
//
// The wide table keys rows by unix-millisecond timestamp; one REAL column per
// tag is added as tags appear. Millisecond resolution matches the historian's
// timestamp precision.
type Store struct {
	db *sql.DB
}

const tableName = "ts_wide"

// New opens (or creates) the SQLite store at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = 5000
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
		cfg.Path, cfg.BusyTimeoutMS)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// Single connection: the sync loop is the only writer and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ` + tableName + ` (ts INTEGER PRIMARY KEY)`)
	return err
}

// ListColumns returns the tag columns of the wide table, excluding the
// timestamp key.
func (s *Store) ListColumns(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, tableName)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		if name == "ts" {
			continue
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

// AddColumn adds a nullable REAL column for a tag.
func (s *Store) AddColumn(ctx context.Context, name string) error {
	if !validIdent(name) {
		return fmt.Errorf("add column: invalid identifier %q", name)
	}
	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s REAL`, tableName, quoteIdent(name))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s: %w", name, err)
	}
	return nil
}

// UpsertBatch writes one batch of wide rows in a single transaction.
// Supplied columns overwrite on conflict; default columns are written only
// when the row is first inserted.
func (s *Store) UpsertBatch(ctx context.Context, rows []storage.WideRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert batch: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		stmt, args, err := buildUpsert(row)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("upsert row at %v: %w", row.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert batch: %w", err)
	}
	return nil
}

// buildUpsert renders one timestamp-keyed upsert. Column order is sorted so
// the generated SQL is deterministic.
func buildUpsert(row storage.WideRow) (string, []any, error) {
	supplied := make([]string, 0, len(row.Values))
	for col := range row.Values {
		supplied = append(supplied, col)
	}
	sort.Strings(supplied)

	defaulted := make([]string, 0, len(row.Defaults))
	for col := range row.Defaults {
		if _, ok := row.Values[col]; ok {
			continue
		}
		defaulted = append(defaulted, col)
	}
	sort.Strings(defaulted)

	cols := []string{"ts"}
	args := []any{row.Timestamp.UTC().UnixMilli()}

	for _, col := range supplied {
		if !validIdent(col) {
			return "", nil, fmt.Errorf("upsert: invalid column %q", col)
		}
		cols = append(cols, quoteIdent(col))
		args = append(args, row.Values[col])
	}
	for _, col := range defaulted {
		if !validIdent(col) {
			return "", nil, fmt.Errorf("upsert: invalid column %q", col)
		}
		cols = append(cols, quoteIdent(col))
		args = append(args, row.Defaults[col])
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(cols)), ",")

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", tableName, strings.Join(cols, ", "), placeholders)

	if len(supplied) == 0 {
		b.WriteString(" ON CONFLICT(ts) DO NOTHING")
		return b.String(), args, nil
	}

	b.WriteString(" ON CONFLICT(ts) DO UPDATE SET ")
	for i, col := range supplied {
		if i > 0 {
			b.WriteString(", ")
		}
		q := quoteIdent(col)
		fmt.Fprintf(&b, "%s = excluded.%s", q, q)
	}
	return b.String(), args, nil
}

// DeleteBefore removes rows strictly older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+tableName+` WHERE ts < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete before %v: %w", cutoff, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

// RowCount returns the total number of wide rows.
func (s *Store) RowCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tableName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return count, nil
}

// MaxTimestamp returns the newest stored timestamp, or false when empty.
func (s *Store) MaxTimestamp(ctx context.Context) (time.Time, bool, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM `+tableName).Scan(&max)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("max timestamp: %w", err)
	}
	if !max.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(max.Int64).UTC(), true, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// validIdent accepts the identifiers the sanitizer produces: alphanumerics
// and underscores, not starting with a digit.
func validIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
