// Package core defines the session snapshot shared by persistence backends.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Driver identifies a concrete snapshot storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
	DriverBadger   Driver = "badger"   // embedded badger key-value directory
)

// Selection is the persisted part of the navigation state.
type Selection struct {
	ImageKey   string `json:"image"`
	SplitIndex int    `json:"split"`
	Position   int    `json:"position"`
}

// Snapshot is everything needed to resume a labeling session: the exported
// document and where the user was. SplitBase is the split numbering the
// selection was recorded under; nil means it was not recorded.
type Snapshot struct {
	Document        []byte    `json:"-"`
	Selection       Selection `json:"selection"`
	SplitBase       *int      `json:"split_base,omitempty"`
	CategoryVersion string    `json:"category_version,omitempty"`
	SavedAt         time.Time `json:"saved_at"`
}

// Store saves and restores the latest snapshot.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load reports false when nothing was saved yet.
	Load(ctx context.Context) (Snapshot, bool, error)
	Close() error
	Driver() Driver
}

// Bucket names used by every backend.
const (
	BucketDocument = "document"
	BucketSession  = "session"
)

// Buckets lists bucket names in write order.
var Buckets = []string{BucketDocument, BucketSession}

// ErrCorrupt wraps decode failures of stored buckets.
var ErrCorrupt = errors.New("persistence: corrupt snapshot")

// EncodeBuckets splits a snapshot into its stored payloads. The document is
// kept byte for byte so member order survives.
func EncodeBuckets(s Snapshot) (map[string][]byte, error) {
	meta, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	doc := s.Document
	if doc == nil {
		doc = []byte{}
	}
	return map[string][]byte{BucketDocument: doc, BucketSession: meta}, nil
}

// DecodeBuckets is the inverse of EncodeBuckets. Missing session metadata
// means no snapshot was saved.
func DecodeBuckets(buckets map[string][]byte) (Snapshot, bool, error) {
	meta, ok := buckets[BucketSession]
	if !ok || len(meta) == 0 {
		return Snapshot{}, false, nil
	}
	var s Snapshot
	if err := json.Unmarshal(meta, &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: decode session: %v", ErrCorrupt, err)
	}
	if doc := buckets[BucketDocument]; len(doc) > 0 {
		s.Document = append([]byte(nil), doc...)
	}
	return s, true, nil
}
