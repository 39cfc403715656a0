// Package memory keeps blobs in process memory. Tests use it as an asset
// root; the server can use it for artifacts that need not outlive the process.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"segtag/internal/blob/core"
)

type object struct {
	info core.Info
	data []byte
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{objects: make(map[string]object), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Driver() core.Driver { return core.DriverMemory }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	clean, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[clean]; ok {
		return core.Info{}, fmt.Errorf("%s: %w", clean, core.ErrExists)
	}
	info := core.Info{Key: clean, Size: int64(len(data)), ContentType: opts.ContentType, ModTime: s.now()}
	s.objects[clean] = object{info: info, data: data}
	return info, nil
}

// Get returns a reader over a private copy of the bytes.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	obj, err := s.lookup(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return obj.info, io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

func (s *Store) Stat(ctx context.Context, key string) (core.Info, error) {
	obj, err := s.lookup(ctx, key)
	return obj.info, err
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]core.Info, 0, len(s.objects))
	for k, obj := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj.info)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) lookup(ctx context.Context, key string) (object, error) {
	if err := ctx.Err(); err != nil {
		return object{}, err
	}
	clean, err := core.CleanKey(key)
	if err != nil {
		return object{}, err
	}
	s.mu.RLock()
	obj, ok := s.objects[clean]
	s.mu.RUnlock()
	if !ok {
		return object{}, core.NotFound(clean, nil)
	}
	return obj, nil
}
