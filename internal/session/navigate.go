package session

import (
	"context"
	"fmt"

	"segtag/internal/geometry"
	"segtag/internal/labelset"
	"segtag/internal/progress"
	"segtag/internal/traverse"
)

func (s *Session) splitKeyLocked() string {
	return labelset.SplitKey(s.split, s.splitBase)
}

func (s *Session) orderLocked(ds *labelset.Dataset) []string {
	if ds == nil || s.imageKey == "" {
		return nil
	}
	return traverse.Filter(ds, s.imageKey, s.splitKeyLocked(), s.policy)
}

// resetLocked recomputes the order and moves to its first item. The display
// scale belongs to the previous split image and is dropped.
func (s *Session) resetLocked(ds *labelset.Dataset) {
	s.cursor.Reset(s.orderLocked(ds))
	s.display = display{}
	s.notice = ""
}

func (s *Session) selectionLocked() Selection {
	return Selection{ImageKey: s.imageKey, SplitIndex: s.split, Position: s.cursor.Position()}
}

// Select moves to image and split in one step and resets the position.
func (s *Session) Select(ctx context.Context, imageKey string, splitIndex int) (Selection, error) {
	if splitIndex < 1 {
		return Selection{}, ErrInvalidSplit
	}
	s.mu.Lock()
	ds := s.dataset.Load()
	if ds == nil {
		s.mu.Unlock()
		return Selection{}, ErrNoDataset
	}
	if !ds.HasImage(imageKey) {
		s.mu.Unlock()
		return Selection{}, fmt.Errorf("%w: %q", ErrImageNotFound, imageKey)
	}
	s.imageKey = imageKey
	s.split = splitIndex
	s.resetLocked(ds)
	s.requestAssetsLocked()
	snap := s.snapshotLocked(ds)
	sel := s.selectionLocked()
	s.mu.Unlock()
	s.commit(ctx, snap)
	return sel, nil
}

// SelectImage switches image and keeps the split index.
func (s *Session) SelectImage(ctx context.Context, imageKey string) (Selection, error) {
	s.mu.Lock()
	split := s.split
	s.mu.Unlock()
	return s.Select(ctx, imageKey, split)
}

// SelectSplit switches split within the current image. A split the image
// lacks yields an empty order.
func (s *Session) SelectSplit(ctx context.Context, splitIndex int) (Selection, error) {
	s.mu.Lock()
	imageKey := s.imageKey
	s.mu.Unlock()
	if imageKey == "" {
		return Selection{}, ErrNoDataset
	}
	return s.Select(ctx, imageKey, splitIndex)
}

// SetPolicy changes the traversal filter and moves to the first item.
func (s *Session) SetPolicy(ctx context.Context, p traverse.Policy) Selection {
	s.mu.Lock()
	ds := s.dataset.Load()
	s.policy = p
	s.resetLocked(ds)
	s.requestAssetsLocked()
	snap := s.snapshotLocked(ds)
	sel := s.selectionLocked()
	s.mu.Unlock()
	s.commit(ctx, snap)
	return sel
}

// Next advances the cursor and reports whether it moved.
func (s *Session) Next(ctx context.Context) bool { return s.step(ctx, (*traverse.Cursor).Next) }

// Prev moves the cursor back and reports whether it moved.
func (s *Session) Prev(ctx context.Context) bool { return s.step(ctx, (*traverse.Cursor).Prev) }

func (s *Session) step(ctx context.Context, move func(*traverse.Cursor) bool) bool {
	s.mu.Lock()
	if !move(&s.cursor) {
		s.mu.Unlock()
		return false
	}
	s.notice = ""
	s.requestAssetsLocked()
	snap := s.snapshotLocked(s.dataset.Load())
	s.mu.Unlock()
	s.commit(ctx, snap)
	return true
}

// LabelResult describes the outcome of Label.
type LabelResult struct {
	Applied   bool              `json:"applied"`
	Mask      string            `json:"mask,omitempty"`
	Category  string            `json:"category,omitempty"`
	AllTagged bool              `json:"all_tagged"`
	Progress  progress.Progress `json:"progress"`
	Notice    string            `json:"notice,omitempty"`
}

// Label assigns name to the mask under the cursor. name may be a canonical
// category or its display string. The order is recomputed and the position
// kept, so the next unlabeled mask takes the labeled one's place. An unknown
// category or an empty split leaves everything unchanged and returns the
// corresponding error.
func (s *Session) Label(ctx context.Context, name string) (LabelResult, error) {
	canonical := name
	if !s.table.Contains(name) {
		if c, ok := s.table.Canonical(name); ok {
			canonical = c
		}
	}
	s.mu.Lock()
	ds := s.dataset.Load()
	if ds == nil {
		s.mu.Unlock()
		return LabelResult{}, ErrNoDataset
	}
	maskKey, ok := s.cursor.Current()
	if !ok {
		s.mu.Unlock()
		return LabelResult{}, ErrNoMask
	}
	splitKey := s.splitKeyLocked()
	next, err := labelset.ApplyLabel(ds, s.imageKey, splitKey, maskKey, canonical, s.table)
	if err != nil {
		s.mu.Unlock()
		return LabelResult{Mask: maskKey}, err
	}
	s.dataset.Store(next)
	s.revision++
	s.cursor.Refresh(s.orderLocked(next))
	p := progress.ForSplit(next, s.imageKey, splitKey)
	res := LabelResult{Applied: true, Mask: maskKey, Category: canonical, AllTagged: p.Done(), Progress: p}
	s.notice = ""
	if res.AllTagged {
		s.notice = NoticeAllTagged
		res.Notice = NoticeAllTagged
	}
	s.requestAssetsLocked()
	snap := s.snapshotLocked(next)
	imageKey := s.imageKey
	s.mu.Unlock()

	s.labels.Add(1)
	s.log.Debug("mask labeled", "image", imageKey, "split", splitKey, "mask", maskKey, "category", canonical)
	s.commit(ctx, snap)
	return res, nil
}

// SetDisplay records the natural and rendered size of the main image so the
// current mask's box can be mapped.
func (s *Session) SetDisplay(natural, rendered geometry.Size) (geometry.Scale, error) {
	for _, sz := range []geometry.Size{natural, rendered} {
		if err := validate.Struct(sz); err != nil {
			return geometry.Scale{}, fmt.Errorf("%w: %v", ErrInvalidDisplay, err)
		}
	}
	s.mu.Lock()
	s.display = display{natural: natural, rendered: rendered}
	s.mu.Unlock()
	s.notify()
	return geometry.ScaleFor(natural, rendered), nil
}
