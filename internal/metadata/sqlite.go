package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const (
	// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
	timeFormat = "2006-01-02T15:04:05.000Z"

	// schemaVersion is bumped whenever the records table changes shape.
	schemaVersion = 1
)

// SQLiteStore implements the Store interface using SQLite as the backing
// database. It provides durable metadata storage suitable for single-node
// deployments.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLiteStore with the given DSN and initializes
// the database schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}
	// PRAGMAs are per connection and SQLite allows one writer at a time, so
	// the pool holds a single connection and concurrent writers queue on it.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: dsn}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the records table. This is safe to call
// multiple times (idempotent via IF NOT EXISTS).
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS records (
			s3objectkey TEXT PRIMARY KEY,
			bucket      TEXT NOT NULL,
			key         TEXT NOT NULL,
			size        INTEGER NOT NULL,
			updated_at  TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		schemaVersion, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) TableName() string {
	return "records"
}

// PutRecord upserts the record. A second put for the same content hash
// replaces every column.
func (s *SQLiteStore) PutRecord(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (s3objectkey, bucket, key, size, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (s3objectkey) DO UPDATE SET
			bucket = excluded.bucket,
			key = excluded.key,
			size = excluded.size,
			updated_at = excluded.updated_at`,
		rec.ContentHash, rec.Bucket, rec.Key, rec.Size, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("putting record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, contentHash string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		"SELECT s3objectkey, bucket, key, size FROM records WHERE s3objectkey = ?",
		contentHash,
	).Scan(&rec.ContentHash, &rec.Bucket, &rec.Key, &rec.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return &rec, nil
}

// ScanRecords pages through the table in content-hash order. It fetches one
// extra row to decide whether another page exists.
func (s *SQLiteStore) ScanRecords(ctx context.Context, opts ScanOptions) (*ScanPage, error) {
	limit := scanLimit(opts)

	rows, err := s.db.QueryContext(ctx,
		"SELECT s3objectkey, bucket, key, size FROM records WHERE s3objectkey > ? ORDER BY s3objectkey LIMIT ?",
		opts.Cursor, limit+1,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}
	defer rows.Close()

	page := &ScanPage{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ContentHash, &rec.Bucket, &rec.Key, &rec.Size); err != nil {
			return nil, fmt.Errorf("reading record row: %w", err)
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	if len(page.Records) > limit {
		page.Records = page.Records[:limit]
		page.NextCursor = page.Records[limit-1].ContentHash
	}
	return page, nil
}

var _ Store = (*SQLiteStore)(nil)
