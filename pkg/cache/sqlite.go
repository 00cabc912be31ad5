package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetupSchema creates the plan cache table in the provided database. It is
// idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {
	const schemaCache = `
CREATE TABLE IF NOT EXISTS plan_cache (
    cache_key TEXT PRIMARY KEY,
    payload BLOB NOT NULL,
    written_at INTEGER NOT NULL
);
`
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaCache); err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// SQLiteStore keeps entries in a SQLite table. The caller owns the database
// handle and must call SetupSchema before NewSQLiteStore.
type SQLiteStore struct {
	stmtRead   *sql.Stmt
	stmtWrite  *sql.Stmt
	stmtRemove *sql.Stmt
	stmtPurge  *sql.Stmt
}

// NewSQLiteStore prepares the statements the store needs.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	stmtRead, err := db.Prepare(`SELECT payload, written_at FROM plan_cache WHERE cache_key = ?;`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare read statement: %w", err)
	}
	stmtWrite, err := db.Prepare(`INSERT INTO plan_cache (cache_key, payload, written_at) VALUES (?, ?, ?) ON CONFLICT(cache_key) DO UPDATE SET payload=excluded.payload, written_at=excluded.written_at;`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare write statement: %w", err)
	}
	stmtRemove, err := db.Prepare(`DELETE FROM plan_cache WHERE cache_key = ?;`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare remove statement: %w", err)
	}
	stmtPurge, err := db.Prepare(`DELETE FROM plan_cache;`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare purge statement: %w", err)
	}
	return &SQLiteStore{
		stmtRead:   stmtRead,
		stmtWrite:  stmtWrite,
		stmtRemove: stmtRemove,
		stmtPurge:  stmtPurge,
	}, nil
}

func (s *SQLiteStore) Read(ctx context.Context, key string) (Entry, error) {
	var (
		payload []byte
		written int64
	)
	err := s.stmtRead.QueryRowContext(ctx, key).Scan(&payload, &written)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Entry{}, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return Entry{Key: key, Payload: payload, WrittenAt: time.Unix(0, written)}, nil
}

func (s *SQLiteStore) Write(ctx context.Context, entry Entry) error {
	if _, err := s.stmtWrite.ExecContext(ctx, entry.Key, entry.Payload, entry.WrittenAt.UnixNano()); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.stmtRemove.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Purge(ctx context.Context) error {
	if _, err := s.stmtPurge.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	return nil
}

// Close releases the prepared statements. The database handle stays open.
func (s *SQLiteStore) Close() error {
	_ = s.stmtRead.Close()
	_ = s.stmtWrite.Close()
	_ = s.stmtRemove.Close()
	_ = s.stmtPurge.Close()
	return nil
}
