// Package core holds the contracts shared by the blob drivers.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Driver names a blob backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory (default)
	DriverS3         Driver = "s3"     // S3 or MinIO bucket
	DriverMemory     Driver = "memory" // process memory
)

// PutOptions configures a write.
type PutOptions struct {
	ContentType string
}

// Info describes a stored object.
type Info struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	ModTime     time.Time `json:"mod_time"`
}

// Reader is the read-only view an asset root needs.
type Reader interface {
	// Get returns an error wrapping ErrNotFound when key is missing. The
	// caller closes the body.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Stat(ctx context.Context, key string) (Info, error)
	// List returns every object under prefix sorted by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Store adds create-only writes, used for export artifacts.
type Store interface {
	Reader
	// Put fails with ErrExists when key is already present.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
}

var (
	ErrNotFound   = errors.New("blob: not found")
	ErrExists     = errors.New("blob: already exists")
	ErrInvalidKey = errors.New("blob: invalid key")
)

// CleanKey validates a slash separated key relative to the store root.
// Absolute keys and keys that climb out of the root are rejected.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	clean := path.Clean(key)
	if clean == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

// NotFound wraps ErrNotFound for key, keeping cause for errors.Is checks.
func NotFound(key string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", key, errors.Join(ErrNotFound, cause))
}
