// Package memory keeps the session snapshot in process memory.
package memory

import (
	"context"
	"sync"

	"segtag/internal/persistence/core"
)

// Store implements core.Store with a bucket map guarded by a mutex. It mirrors
// the SQL drivers' bucket layout so tests exercise the same codec.
type Store struct {
	mu      sync.RWMutex
	buckets map[string][]byte
	saves   int
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{buckets: make(map[string][]byte)} }

func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Save replaces the stored snapshot.
func (s *Store) Save(_ context.Context, snap core.Snapshot) error {
	buckets, err := core.EncodeBuckets(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range buckets {
		s.buckets[k] = append([]byte(nil), v...)
	}
	s.saves++
	return nil
}

// Load returns the stored snapshot.
func (s *Store) Load(_ context.Context) (core.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.DecodeBuckets(s.buckets)
}

// Saves reports how many snapshots were written.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *Store) Close() error { return nil }
