// Package session owns the labeling state of one user: the current dataset,
// the selection and traversal cursor, the asset root and the snapshot store.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"segtag/internal/asset"
	"segtag/internal/blob"
	"segtag/internal/category"
	"segtag/internal/geometry"
	"segtag/internal/labelset"
	"segtag/internal/persistence"
	"segtag/internal/traverse"
)

var (
	// ErrNoDataset is returned by operations that need a loaded document.
	ErrNoDataset = errors.New("session: no document loaded")
	// ErrImageNotFound is returned when selecting an image the dataset lacks.
	ErrImageNotFound = errors.New("session: image not found")
	// ErrInvalidSplit is returned for split indexes below 1.
	ErrInvalidSplit = errors.New("session: split index must be at least 1")
	// ErrNoMask means the current split has no mask at the cursor.
	ErrNoMask = errors.New("session: no mask selected")
	// ErrNoTags is returned by ExportTags when nothing is labeled yet.
	ErrNoTags = errors.New("session: no tags to export yet")
	// ErrInvalidDisplay rejects negative display sizes.
	ErrInvalidDisplay = errors.New("session: invalid display size")
	// ErrSelectionChanged means the selection moved while an asset was read.
	ErrSelectionChanged = errors.New("session: selection changed during read")
	// ErrSplitBaseMismatch refuses a snapshot written under another split base.
	ErrSplitBaseMismatch = errors.New("session: snapshot split base differs")
)

// Notices shown to the user after an operation.
const (
	NoticeAllTagged  = "All masks in this split have been tagged!"
	NoticeTagsLoaded = "Tags loaded successfully!"
	NoticeNoTags     = "No tags to export yet!"
)

// Options configures a Session. Zero values select defaults.
type Options struct {
	// Categories defaults to category.Default().
	Categories *category.Table
	// SplitBase is the folder suffix of the first split: 1 for current
	// datasets, 0 for legacy ones. Defaults to 1.
	SplitBase *int
	Policy    traverse.Policy
	// Store receives a snapshot after every successful mutation. Optional.
	Store   persistence.Store
	Tracker *asset.Tracker
	Logger  *slog.Logger
}

// Selection is the navigation state.
type Selection struct {
	ImageKey   string `json:"image"`
	SplitIndex int    `json:"split"`
	Position   int    `json:"position"`
}

type display struct {
	natural  geometry.Size
	rendered geometry.Size
}

// Session is safe for concurrent use. The dataset pointer is swapped
// atomically; selection, cursor and root are guarded by mu.
type Session struct {
	log       *slog.Logger
	table     *category.Table
	splitBase int
	store     persistence.Store
	tracker   *asset.Tracker
	loader    *asset.Loader

	dataset atomic.Pointer[labelset.Dataset]

	mu        sync.Mutex
	imageKey  string
	split     int
	policy    traverse.Policy
	cursor    traverse.Cursor
	display   display
	resolver  *asset.Resolver
	rootName  string
	requested asset.Selection
	notice    string
	revision  uint64

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}

	saveMu    sync.Mutex
	savedRev  uint64
	labels    atomic.Uint64
	saves     atomic.Uint64
	saveFails atomic.Uint64
}

var validate = validator.New()

// New returns an empty session with no document and no root.
func New(opts Options) *Session {
	table := opts.Categories
	if table == nil {
		table = category.Default()
	}
	base := 1
	if opts.SplitBase != nil {
		base = *opts.SplitBase
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = asset.NewTracker()
	}
	s := &Session{
		log:       logger,
		table:     table,
		splitBase: base,
		store:     opts.Store,
		tracker:   tracker,
		loader:    asset.NewLoader(logger),
		split:     1,
		policy:    opts.Policy,
		subs:      make(map[chan struct{}]struct{}),
	}
	s.resolver = asset.NewResolver(nil, base, tracker)
	s.loader.OnApply(func(res asset.Result) {
		s.notify()
		s.log.Debug("assets loaded", "image", res.Selection.ImageKey, "split", res.Selection.SplitIndex,
			"mask", res.Selection.MaskKey, "main", res.Main.Status(), "mask_status", res.Mask.Status())
	})
	return s
}

// Close releases every held asset. The persistence store is owned by the
// caller.
func (s *Session) Close() {
	s.loader.Close()
}

// Categories returns the category table in use.
func (s *Session) Categories() *category.Table { return s.table }

// SplitBase returns the configured split folder base.
func (s *Session) SplitBase() int { return s.splitBase }

// Dataset returns the current dataset, nil before the first load. The value
// is immutable and may be retained.
func (s *Session) Dataset() *labelset.Dataset { return s.dataset.Load() }

// Tracker returns the handle tracker shared with the resolver.
func (s *Session) Tracker() *asset.Tracker { return s.tracker }

// Stats are monotonic counters exposed as metrics.
type Stats struct {
	Labels       uint64            `json:"labels"`
	Saves        uint64            `json:"saves"`
	SaveFailures uint64            `json:"save_failures"`
	Outstanding  int64             `json:"outstanding_handles"`
	Loader       asset.LoaderStats `json:"loader"`
}

// Stats returns a copy of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		Labels:       s.labels.Load(),
		Saves:        s.saves.Load(),
		SaveFailures: s.saveFails.Load(),
		Outstanding:  s.tracker.Outstanding(),
		Loader:       s.loader.Stats(),
	}
}

// WaitAssets blocks until in-flight asset loads have been delivered.
func (s *Session) WaitAssets() { s.loader.Wait() }

// SetRoot grants a directory root. A nil store is the "no root selected"
// state and is not an error.
func (s *Session) SetRoot(store blob.Reader, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver = asset.NewResolver(store, s.splitBase, s.tracker)
	s.rootName = name
	if store == nil {
		s.rootName = ""
	}
	s.loader.Clear()
	s.requested = asset.Selection{}
	s.requestAssetsLocked()
	s.notify()
	s.log.Info("asset root changed", "root", s.rootName, "selected", store != nil)
}

// ClearRoot drops the root grant.
func (s *Session) ClearRoot() { s.SetRoot(nil, "") }

// Resolver returns the resolver for the current root.
func (s *Session) Resolver() *asset.Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver
}

// AssetKind picks the main split image or the current mask image.
type AssetKind int

const (
	AssetMain AssetKind = iota
	AssetMask
)

// ReadAsset returns a copy of the requested asset of the current selection.
// Bytes come from the loader's installed result. While that load is pending
// the asset is resolved directly, and the bytes are dropped with
// ErrSelectionChanged if the selection moved in the meantime.
func (s *Session) ReadAsset(ctx context.Context, kind AssetKind) ([]byte, blob.Info, error) {
	s.mu.Lock()
	r := s.resolver
	ref, err := s.refLocked(kind)
	sel := s.requested
	s.mu.Unlock()
	if err != nil {
		return nil, blob.Info{}, err
	}
	if c, ok, err := s.loader.Read(sel, kind == AssetMask); ok {
		return c.Data, c.Info, err
	}

	h, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, blob.Info{}, err
	}
	defer func() { _ = h.Release() }()
	s.mu.Lock()
	moved := s.requested != sel || s.resolver != r
	s.mu.Unlock()
	if moved {
		return nil, blob.Info{}, ErrSelectionChanged
	}
	return append([]byte(nil), h.Bytes()...), h.Info(), nil
}

func (s *Session) refLocked(kind AssetKind) (asset.Ref, error) {
	if s.dataset.Load() == nil || s.imageKey == "" {
		return asset.Ref{}, ErrNoDataset
	}
	if kind == AssetMain {
		return asset.MainRef(s.imageKey, s.split), nil
	}
	key, ok := s.cursor.Current()
	if !ok {
		return asset.Ref{}, ErrNoMask
	}
	n, ok := labelset.MaskNumber(key)
	if !ok {
		return asset.Ref{}, ErrNoMask
	}
	return asset.MaskRef(s.imageKey, s.split, n), nil
}

// requestAssetsLocked asks the loader for the current triple when it differs
// from the last request.
func (s *Session) requestAssetsLocked() {
	sel := s.assetSelectionLocked()
	if sel == s.requested {
		return
	}
	s.requested = sel
	if sel.ImageKey == "" {
		s.loader.Clear()
		return
	}
	s.loader.Request(s.resolver, sel)
}

func (s *Session) assetSelectionLocked() asset.Selection {
	if s.dataset.Load() == nil || s.imageKey == "" {
		return asset.Selection{}
	}
	mask, _ := s.cursor.Current()
	return asset.Selection{ImageKey: s.imageKey, SplitIndex: s.split, MaskKey: mask}
}
