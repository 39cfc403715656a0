// Package asset resolves split and mask images from a directory root and
// hands them out as caller-owned handles.
package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"segtag/internal/blob"
	"segtag/internal/labelset"
)

var (
	// ErrNoRoot means no directory root has been granted yet. Callers treat it
	// as a state, not a failure.
	ErrNoRoot = errors.New("asset: no root selected")
	// ErrReleased is returned by a second Release of the same handle.
	ErrReleased = errors.New("asset: handle already released")
)

// NotFoundError reports a missing asset together with the path the resolver
// expected to find it at.
type NotFoundError struct {
	ExpectedPath string
	Err          error
}

func (e *NotFoundError) Error() string { return "asset not found: " + e.ExpectedPath }

func (e *NotFoundError) Unwrap() error { return e.Err }

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Ref identifies one asset. A nil MaskIndex selects the split's main image.
type Ref struct {
	ImageKey   string
	SplitIndex int
	MaskIndex  *int
}

// MainRef refers to the main image of a split.
func MainRef(imageKey string, splitIndex int) Ref {
	return Ref{ImageKey: imageKey, SplitIndex: splitIndex}
}

// MaskRef refers to one mask image of a split.
func MaskRef(imageKey string, splitIndex, maskIndex int) Ref {
	return Ref{ImageKey: imageKey, SplitIndex: splitIndex, MaskIndex: &maskIndex}
}

// Resolver maps Refs onto keys of a read-only blob store. It holds no mutable
// state, so concurrent Resolve calls are independent.
type Resolver struct {
	store     blob.Reader
	splitBase int
	tracker   *Tracker
}

// NewResolver returns a resolver over store. A nil store yields ErrNoRoot from
// every Resolve. splitBase is the folder suffix of the first split (1 means
// the UI index is used as is). tracker may be nil.
func NewResolver(store blob.Reader, splitBase int, tracker *Tracker) *Resolver {
	return &Resolver{store: store, splitBase: splitBase, tracker: tracker}
}

// HasRoot reports whether a root was granted.
func (r *Resolver) HasRoot() bool { return r != nil && r.store != nil }

// Key returns the store key for ref: imageKey/split_N/split_N.jpg or
// imageKey/split_N/mask_M.jpg.
func (r *Resolver) Key(ref Ref) (string, error) {
	if ref.ImageKey == "" {
		return "", fmt.Errorf("asset: empty image key")
	}
	if ref.SplitIndex < 1 {
		return "", fmt.Errorf("asset: split index %d out of range", ref.SplitIndex)
	}
	base := 1
	if r != nil {
		base = r.splitBase
	}
	dir := labelset.SplitKey(ref.SplitIndex, base)
	file := dir + ".jpg"
	if ref.MaskIndex != nil {
		if *ref.MaskIndex < 0 {
			return "", fmt.Errorf("asset: mask index %d out of range", *ref.MaskIndex)
		}
		file = labelset.MaskKey(*ref.MaskIndex) + ".jpg"
	}
	return ref.ImageKey + "/" + dir + "/" + file, nil
}

// Resolve reads the asset into a new handle. The caller owns the handle and
// must Release it exactly once. A missing object yields *NotFoundError; other
// store failures are wrapped.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (*Handle, error) {
	if !r.HasRoot() {
		return nil, ErrNoRoot
	}
	key, err := r.Key(ref)
	if err != nil {
		return nil, err
	}
	info, rc, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, resolveError(key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if info.Size == 0 {
		info.Size = int64(len(data))
	}
	return newHandle(key, info, data, r.tracker), nil
}

// Stat reports the stored metadata for ref without reading its content.
func (r *Resolver) Stat(ctx context.Context, ref Ref) (blob.Info, error) {
	if !r.HasRoot() {
		return blob.Info{}, ErrNoRoot
	}
	key, err := r.Key(ref)
	if err != nil {
		return blob.Info{}, err
	}
	info, err := r.store.Stat(ctx, key)
	if err != nil {
		return blob.Info{}, resolveError(key, err)
	}
	return info, nil
}

// Inventory lists every object stored in the folder of one split, main image
// and masks alike, sorted by key.
func (r *Resolver) Inventory(ctx context.Context, imageKey string, splitIndex int) ([]blob.Info, error) {
	if !r.HasRoot() {
		return nil, ErrNoRoot
	}
	key, err := r.Key(MainRef(imageKey, splitIndex))
	if err != nil {
		return nil, err
	}
	dir := key[:strings.LastIndex(key, "/")+1]
	infos, err := r.store.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func resolveError(key string, err error) error {
	if blob.IsNotFound(err) {
		return &NotFoundError{ExpectedPath: "/" + key, Err: err}
	}
	return fmt.Errorf("resolve %s: %w", key, err)
}
