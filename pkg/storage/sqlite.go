package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteKV persists entries in a single SQLite table.
type sqliteKV struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) a durable SQLite-backed store at dbPath.
func NewSQLiteBackend(dbPath string) (*KVBackend, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	kv := &sqliteKV{db: db}
	if err := kv.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return NewKVBackend("sqlite", kv), nil
}

func (s *sqliteKV) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS artifacts (
			path TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_artifacts_updated ON artifacts(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteKV) Get(ctx context.Context, path string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT content, metadata, created_at, updated_at FROM artifacts WHERE path = ?`, path)

	var (
		entry            Entry
		metadata         string
		created, updated int64
	)
	if err := row.Scan(&entry.Content, &metadata, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := decodeMetadata(metadata, &entry); err != nil {
		return nil, err
	}
	entry.CreatedAt = time.Unix(0, created).UTC()
	entry.UpdatedAt = time.Unix(0, updated).UTC()
	return &entry, nil
}

func (s *sqliteKV) Put(ctx context.Context, path string, entry Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (path, content, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		path, entry.Content, string(metadata), entry.CreatedAt.UnixNano(), entry.UpdatedAt.UnixNano())
	return err
}

func (s *sqliteKV) Remove(ctx context.Context, path string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE path = ?`, path)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteKV) Scan(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, content, metadata, created_at, updated_at
		FROM artifacts
		WHERE ? = '' OR instr(path, ?) = 1`, prefix, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			r                Record
			metadata         string
			created, updated int64
		)
		if err := rows.Scan(&r.Path, &r.Entry.Content, &metadata, &created, &updated); err != nil {
			return nil, err
		}
		if err := decodeMetadata(metadata, &r.Entry); err != nil {
			return nil, err
		}
		r.Entry.CreatedAt = time.Unix(0, created).UTC()
		r.Entry.UpdatedAt = time.Unix(0, updated).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *sqliteKV) Close() error {
	return s.db.Close()
}

func decodeMetadata(raw string, entry *Entry) error {
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &entry.Metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}
