// Package badger persists the session snapshot in an embedded BadgerDB
// directory, one key per bucket.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"segtag/internal/persistence/core"
)

const keyPrefix = "segtag/state/"

// Config controls where and how the database is opened.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// Store implements core.Store on BadgerDB.
type Store struct {
	db   *badger.DB
	path string
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewStore opens the database described by cfg.
func NewStore(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, path: cfg.Path}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverBadger }

// Save writes every bucket in one update transaction.
func (s *Store) Save(ctx context.Context, snap core.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buckets, err := core.EncodeBuckets(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, bucket := range core.Buckets {
			if err := txn.Set([]byte(keyPrefix+bucket), buckets[bucket]); err != nil {
				return fmt.Errorf("set %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// Load reads every bucket in one view transaction.
func (s *Store) Load(ctx context.Context) (core.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, false, err
	}
	buckets := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, bucket := range core.Buckets {
			item, err := txn.Get([]byte(keyPrefix + bucket))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get %s: %w", bucket, err)
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", bucket, err)
			}
			buckets[bucket] = val
		}
		return nil
	})
	if err != nil {
		return core.Snapshot{}, false, err
	}
	return core.DecodeBuckets(buckets)
}

func (s *Store) Close() error { return s.db.Close() }

// Path returns the database directory, empty when in memory.
func (s *Store) Path() string { return s.path }
