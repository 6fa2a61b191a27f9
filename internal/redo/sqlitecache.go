package redo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chainvault/chainvault/internal/eventmodel"
	_ "modernc.org/sqlite"
)

// SQLiteIndexCache is an optional, persistent hash→offset lookup index
// backed by modernc.org/sqlite (pure Go, no CGo) for deployments where
// replaying every segment on every restart is too slow. It is never the
// system of record — losing this file only costs a replay, never data —
// mirroring how this stack's store package treats RocksDB/sqlite as
// pluggable backends behind the same small interface.
type SQLiteIndexCache struct {
	db *sql.DB
}

// OpenSQLiteIndexCache opens (or creates) the lookup cache at path.
func OpenSQLiteIndexCache(path string) (*SQLiteIndexCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("redo: open sqlite index cache: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS lookups (
		hash BLOB PRIMARY KEY,
		segment INTEGER NOT NULL,
		offset INTEGER NOT NULL,
		length INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("redo: init sqlite index cache: %w", err)
	}
	return &SQLiteIndexCache{db: db}, nil
}

// Put records hash's location, overwriting any prior entry.
func (c *SQLiteIndexCache) Put(ctx context.Context, hash eventmodel.Hash, lookup LogLookup) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO lookups (hash, segment, offset, length) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET segment=excluded.segment, offset=excluded.offset, length=excluded.length`,
		hash.Bytes(), lookup.SegmentIndex, lookup.Offset, lookup.Length)
	return err
}

// Get resolves hash to its last-known location, if cached.
func (c *SQLiteIndexCache) Get(ctx context.Context, hash eventmodel.Hash) (LogLookup, bool, error) {
	row := c.db.QueryRowContext(ctx, `SELECT segment, offset, length FROM lookups WHERE hash = ?`, hash.Bytes())
	var lookup LogLookup
	err := row.Scan(&lookup.SegmentIndex, &lookup.Offset, &lookup.Length)
	if err == sql.ErrNoRows {
		return LogLookup{}, false, nil
	}
	if err != nil {
		return LogLookup{}, false, err
	}
	return lookup, true, nil
}

// Truncate drops every entry for segments at or above fromSegment,
// called after a flip replaces the on-disk segment numbering.
func (c *SQLiteIndexCache) Truncate(ctx context.Context, fromSegment int) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM lookups WHERE segment >= ?`, fromSegment)
	return err
}

// Close releases the underlying database handle.
func (c *SQLiteIndexCache) Close() error {
	return c.db.Close()
}
