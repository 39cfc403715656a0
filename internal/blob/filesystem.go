package blob

import (
	"segtag/internal/infra/blob/fs"
)

// NewFilesystem constructs a filesystem-backed blob.Store rooted at the provided path,
// creating the directory when needed.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// OpenFilesystem wraps an existing directory without creating it.
func OpenFilesystem(root string) (Store, error) {
	return fs.Open(root)
}
