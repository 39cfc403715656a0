// Package persistence re-exports the snapshot abstractions and selects a
// backend from configuration.
package persistence

import "segtag/internal/persistence/core"

type (
	// Driver identifies a snapshot backend.
	Driver = core.Driver
	// Selection is the persisted navigation state.
	Selection = core.Selection
	// Snapshot is a resumable labeling session.
	Snapshot = core.Snapshot
	// Store saves and restores snapshots.
	Store = core.Store
)

const (
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
	DriverBadger   = core.DriverBadger
)

// ErrCorrupt wraps undecodable stored snapshots.
var ErrCorrupt = core.ErrCorrupt
