// Package sqlite persists the session snapshot to an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"segtag/internal/infra/persistence/sqlstate"
)

// DefaultPath is used when no file is configured.
const DefaultPath = "segtag.db"

// Store is a snapshot table inside one SQLite file.
type Store struct {
	*sqlstate.Store
	path string
}

// NewStore opens the file at path, creating it and its directory as needed.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	// busy_timeout lets a second process wait out a write instead of failing.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	st, err := sqlstate.Open(ctx, db, sqlstate.SQLite)
	if err != nil {
		return nil, err
	}
	return &Store{Store: st, path: path}, nil
}

// Path is the database file.
func (s *Store) Path() string { return s.path }
