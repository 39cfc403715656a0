// Package fs serves a local directory tree as a blob store.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"segtag/internal/blob/core"
)

const tmpPrefix = ".segtag-tmp-"

// Store maps keys onto files below root. Files placed by other tools are
// served as they are; content types come from the file extension.
type Store struct {
	root string
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("fs root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// Open wraps an existing directory. A missing root is reported as
// core.ErrNotFound so callers can surface it as "no such folder".
func Open(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("fs root required")
	}
	st, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.NotFound(root, err)
	}
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}
	return &Store{root: root}, nil
}

// Root returns the backing directory.
func (s *Store) Root() string { return s.root }

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

func (s *Store) file(key string) (string, string, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, nil, err
	}
	clean, p, err := s.file(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return core.Info{}, nil, mapErr(clean, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return core.Info{}, nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return core.Info{}, nil, core.NotFound(clean, nil)
	}
	return describe(clean, st), f, nil
}

func (s *Store) Stat(ctx context.Context, key string) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	clean, p, err := s.file(key)
	if err != nil {
		return core.Info{}, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return core.Info{}, mapErr(clean, err)
	}
	if st.IsDir() {
		return core.Info{}, core.NotFound(clean, nil)
	}
	return describe(clean, st), nil
}

// List walks only the directory that can hold keys with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	start := s.root
	if dir := path.Dir(prefix); prefix != "" && dir != "." {
		if _, err := core.CleanKey(dir); err != nil {
			return nil, err
		}
		start = filepath.Join(s.root, filepath.FromSlash(dir))
	}
	var out []core.Info
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == start {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, describe(key, st))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Put writes to a temp file and hard-links it into place, so a concurrent
// writer of the same key loses with ErrExists instead of clobbering.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, _ core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	clean, p, err := s.file(key)
	if err != nil {
		return core.Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return core.Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), tmpPrefix+"*")
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return core.Info{}, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return core.Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return core.Info{}, err
	}
	if err := os.Link(tmp.Name(), p); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return core.Info{}, fmt.Errorf("%s: %w", clean, core.ErrExists)
		}
		return core.Info{}, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return core.Info{}, err
	}
	return describe(clean, st), nil
}

func describe(key string, st fs.FileInfo) core.Info {
	return core.Info{
		Key:         key,
		Size:        st.Size(),
		ContentType: mime.TypeByExtension(path.Ext(key)),
		ModTime:     st.ModTime().UTC(),
	}
}

func mapErr(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return core.NotFound(key, err)
	}
	return err
}
