package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"segtag/internal/blob"
	"segtag/internal/labelset"
)

// Selection is the (image, split, mask) triple a load was requested for.
type Selection struct {
	ImageKey   string `json:"image"`
	SplitIndex int    `json:"split"`
	MaskKey    string `json:"mask,omitempty"`
}

// Slot is the outcome for one asset of a load.
type Slot struct {
	Handle *Handle
	Key    string
	Err    error
}

// Status summarizes a slot for views.
func (s Slot) Status() string {
	switch {
	case s.Handle != nil:
		return "ready"
	case s.Err == nil:
		return "none"
	case errors.Is(s.Err, ErrNoRoot):
		return "no-root"
	case IsNotFound(s.Err):
		return "missing"
	default:
		return "error"
	}
}

// Result pairs the main and mask assets of one selection.
type Result struct {
	Selection  Selection
	Generation uint64
	Main       Slot
	Mask       Slot
}

func (r *Result) release() {
	if r == nil {
		return
	}
	_ = r.Main.Handle.Release()
	_ = r.Mask.Handle.Release()
}

// LoaderStats counts load outcomes.
type LoaderStats struct {
	Requested uint64 `json:"requested"`
	Applied   uint64 `json:"applied"`
	Stale     uint64 `json:"stale"`
}

// Loader resolves the assets of the current selection in the background. Each
// request captures the selection and a generation number; a result whose
// capture no longer matches the latest request is released instead of
// applied. The loader releases the handles it replaces and, on Close, the
// handles it still holds.
type Loader struct {
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	gen     uint64
	want    Selection
	current *Result
	closed  bool
	stats   LoaderStats
	notify  func(Result)
}

// NewLoader returns an idle loader. logger may be nil.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{log: logger, ctx: ctx, cancel: cancel}
}

// OnApply registers a callback invoked, outside the loader lock, after a
// fresh result has been installed.
func (l *Loader) OnApply(fn func(Result)) {
	l.mu.Lock()
	l.notify = fn
	l.mu.Unlock()
}

// Request starts resolving sel against r and returns its generation. Any
// earlier in-flight request becomes stale.
func (l *Loader) Request(r *Resolver, sel Selection) uint64 {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0
	}
	l.gen++
	gen := l.gen
	l.want = sel
	l.stats.Requested++
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		res := resolvePair(l.ctx, r, sel)
		res.Generation = gen
		l.deliver(res)
	}()
	return gen
}

// Load is the synchronous form of Request: it resolves sel, installs the
// result when it is still current and reports whether it was applied.
func (l *Loader) Load(ctx context.Context, r *Resolver, sel Selection) (Result, bool) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Result{Selection: sel}, false
	}
	l.gen++
	gen := l.gen
	l.want = sel
	l.stats.Requested++
	l.mu.Unlock()

	res := resolvePair(ctx, r, sel)
	res.Generation = gen
	return res, l.deliver(res)
}

// Clear forgets the current result, releasing its handles, and marks every
// in-flight request stale. Used when the root or the dataset goes away.
func (l *Loader) Clear() {
	l.mu.Lock()
	l.gen++
	l.want = Selection{}
	old := l.current
	l.current = nil
	l.mu.Unlock()
	old.release()
}

// Current returns the installed result.
func (l *Loader) Current() (Result, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return Result{}, false
	}
	return *l.current, true
}

// Content is a caller-owned copy of one installed asset.
type Content struct {
	Key  string
	Info blob.Info
	Data []byte
}

// Read copies the main or mask asset out of the installed result. ok is false
// when nothing is installed for sel, either because its load is still pending
// or because a newer selection superseded it. When ok is true err is the
// slot's resolution error, if any.
func (l *Loader) Read(sel Selection, mask bool) (c Content, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil || l.current.Selection != sel || sel != l.want {
		return Content{}, false, nil
	}
	slot := l.current.Main
	if mask {
		slot = l.current.Mask
	}
	if slot.Handle == nil {
		err := slot.Err
		if err == nil {
			err = fmt.Errorf("asset: nothing loaded for %s", slot.Key)
		}
		return Content{Key: slot.Key}, true, err
	}
	return Content{
		Key:  slot.Key,
		Info: slot.Handle.Info(),
		Data: append([]byte(nil), slot.Handle.Bytes()...),
	}, true, nil
}

// Pending reports whether the latest request has not produced a result yet.
func (l *Loader) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen > 0 && (l.current == nil || l.current.Generation != l.gen) && l.want != (Selection{})
}

// Stats returns a copy of the counters.
func (l *Loader) Stats() LoaderStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Wait blocks until every background request has been delivered.
func (l *Loader) Wait() { l.wg.Wait() }

// Close cancels in-flight work, waits for it and releases everything held.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.wg.Wait()
	l.mu.Lock()
	old := l.current
	l.current = nil
	l.mu.Unlock()
	old.release()
}

func (l *Loader) deliver(res Result) bool {
	l.mu.Lock()
	if l.closed || res.Generation != l.gen || res.Selection != l.want {
		l.stats.Stale++
		l.mu.Unlock()
		res.release()
		l.log.Debug("discarded stale asset load", "generation", res.Generation, "image", res.Selection.ImageKey, "split", res.Selection.SplitIndex, "mask", res.Selection.MaskKey)
		return false
	}
	old := l.current
	installed := res
	l.current = &installed
	l.stats.Applied++
	notify := l.notify
	l.mu.Unlock()
	old.release()
	if notify != nil {
		notify(res)
	}
	return true
}

// resolvePair resolves the main image and, when a mask is selected, the mask
// image concurrently. Failures land in the slots; the group itself never
// fails so one missing asset does not cancel the other.
func resolvePair(ctx context.Context, r *Resolver, sel Selection) Result {
	res := Result{Selection: sel}
	var g errgroup.Group
	g.Go(func() error {
		res.Main = resolveSlot(ctx, r, MainRef(sel.ImageKey, sel.SplitIndex))
		return nil
	})
	if sel.MaskKey != "" {
		g.Go(func() error {
			n, ok := labelset.MaskNumber(sel.MaskKey)
			if !ok {
				res.Mask = Slot{Err: fmt.Errorf("asset: mask key %q has no numeric suffix", sel.MaskKey)}
				return nil
			}
			res.Mask = resolveSlot(ctx, r, MaskRef(sel.ImageKey, sel.SplitIndex, n))
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func resolveSlot(ctx context.Context, r *Resolver, ref Ref) Slot {
	key, _ := r.Key(ref)
	h, err := r.Resolve(ctx, ref)
	return Slot{Handle: h, Key: key, Err: err}
}
