// Package sqlstate keeps snapshot buckets as rows of one SQL table. The
// sqlite and postgres drivers share it and differ only in Dialect.
package sqlstate

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"segtag/internal/persistence/core"
)

// Table is the name of the snapshot table.
const Table = "segtag_state"

// Dialect captures what differs between SQL engines.
type Dialect struct {
	Driver core.Driver
	// BlobType stores payloads verbatim. JSON column types are avoided since
	// they may reorder object members.
	BlobType string
	bind     func(n int) string
}

var (
	SQLite   = Dialect{Driver: core.DriverSQLite, BlobType: "BLOB", bind: func(int) string { return "?" }}
	Postgres = Dialect{Driver: core.DriverPostgres, BlobType: "BYTEA", bind: func(n int) string { return "$" + strconv.Itoa(n) }}
)

// CreateTable returns the idempotent DDL for the snapshot table.
func (d Dialect) CreateTable() string {
	return "CREATE TABLE IF NOT EXISTS " + Table + " (bucket TEXT PRIMARY KEY, payload " + d.BlobType + " NOT NULL)"
}

// Upsert returns the statement writing one bucket.
func (d Dialect) Upsert() string {
	return "INSERT INTO " + Table + " (bucket, payload) VALUES (" + d.bind(1) + ", " + d.bind(2) +
		") ON CONFLICT (bucket) DO UPDATE SET payload = excluded.payload"
}

// Store implements core.Store over an open database handle.
type Store struct {
	db      *sql.DB
	dialect Dialect
	// serializes Save so concurrent snapshots cannot interleave bucket rows
	mu sync.Mutex
}

// Open pings db and ensures the table exists. db is closed when Open fails.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", dialect.Driver, err)
	}
	if _, err := db.ExecContext(ctx, dialect.CreateTable()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: create %s: %w", dialect.Driver, Table, err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

func (s *Store) Driver() core.Driver { return s.dialect.Driver }

// DB is the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Save writes every bucket in one transaction, so a reader sees either the
// previous snapshot or this one.
func (s *Store) Save(ctx context.Context, snap core.Snapshot) error {
	buckets, err := core.EncodeBuckets(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect.Driver, err)
	}
	upsert := s.dialect.Upsert()
	for _, name := range core.Buckets {
		if _, err := tx.ExecContext(ctx, upsert, name, buckets[name]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: write %s: %w", s.dialect.Driver, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect.Driver, err)
	}
	return nil
}

// Load reads all buckets back. An empty table means nothing was saved.
func (s *Store) Load(ctx context.Context) (core.Snapshot, bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT bucket, payload FROM "+Table)
	if err != nil {
		return core.Snapshot{}, false, fmt.Errorf("%s: query: %w", s.dialect.Driver, err)
	}
	defer func() { _ = rows.Close() }()
	buckets := make(map[string][]byte, len(core.Buckets))
	for rows.Next() {
		var (
			name    string
			payload []byte
		)
		if err := rows.Scan(&name, &payload); err != nil {
			return core.Snapshot{}, false, fmt.Errorf("%s: scan: %w", s.dialect.Driver, err)
		}
		buckets[name] = payload
	}
	if err := rows.Err(); err != nil {
		return core.Snapshot{}, false, fmt.Errorf("%s: rows: %w", s.dialect.Driver, err)
	}
	return core.DecodeBuckets(buckets)
}
