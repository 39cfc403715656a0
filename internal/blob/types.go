// Package blob re-exports core blob abstractions for stable external imports
// and selects a backend from configuration.
package blob

import (
	"errors"

	"segtag/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Reader is the read side every backend serves.
	Reader = core.Reader
	// Store is a Reader that also accepts create-only writes.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound indicates a missing key.
	ErrNotFound = core.ErrNotFound
	// ErrExists indicates a create-only Put hit an existing key.
	ErrExists = core.ErrExists
	// ErrInvalidKey rejects keys that could escape the store root.
	ErrInvalidKey = core.ErrInvalidKey
)

// IsNotFound reports whether err signals a missing key.
func IsNotFound(err error) bool { return errors.Is(err, core.ErrNotFound) }
