package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"segtag/internal/labelset"
	"segtag/internal/persistence"
)

// LoadDocument replaces the dataset with data and selects the first image,
// split 1, position 0. When data does not load the previous dataset stays in
// place and the *labelset.LoadError is returned.
func (s *Session) LoadDocument(ctx context.Context, data []byte) (Selection, error) {
	ds, err := labelset.Load(data)
	if err != nil {
		s.log.Warn("document rejected", "error", err)
		return s.Selection(), err
	}
	s.mu.Lock()
	s.install(ds)
	s.imageKey = ""
	if keys := ds.Keys(); len(keys) > 0 {
		s.imageKey = keys[0]
	}
	s.split = 1
	s.resetLocked(ds)
	s.requestAssetsLocked()
	snap := s.snapshotLocked(ds)
	sel := s.selectionLocked()
	s.mu.Unlock()
	s.log.Info("document loaded", "images", ds.Len())
	s.commit(ctx, snap)
	return sel, nil
}

// ReloadDocument replaces the dataset with an updated version of the same
// document. The selection survives when its image still exists and the
// position is clamped into the recomputed order; otherwise the first image is
// selected.
func (s *Session) ReloadDocument(ctx context.Context, data []byte) (Selection, error) {
	ds, err := labelset.Load(data)
	if err != nil {
		s.log.Warn("document reload rejected", "error", err)
		return s.Selection(), err
	}
	s.mu.Lock()
	s.install(ds)
	if s.imageKey != "" && ds.HasImage(s.imageKey) {
		s.cursor.Refresh(s.orderLocked(ds))
	} else {
		s.imageKey = ""
		if keys := ds.Keys(); len(keys) > 0 {
			s.imageKey = keys[0]
		}
		s.split = 1
		s.resetLocked(ds)
	}
	s.requestAssetsLocked()
	snap := s.snapshotLocked(ds)
	sel := s.selectionLocked()
	s.mu.Unlock()
	s.log.Info("document reloaded", "images", ds.Len(), "image", sel.ImageKey, "split", sel.SplitIndex, "position", sel.Position)
	s.commit(ctx, snap)
	return sel, nil
}

func (s *Session) install(ds *labelset.Dataset) {
	s.dataset.Store(ds)
	s.revision++
}

// MergeTags applies a standalone tag file ({"image/split_n/mask_m": category})
// on top of the current dataset.
func (s *Session) MergeTags(ctx context.Context, data []byte) (labelset.MergeReport, error) {
	tags, err := labelset.ParseTags(data)
	if err != nil {
		return labelset.MergeReport{}, err
	}
	s.mu.Lock()
	ds := s.dataset.Load()
	if ds == nil {
		s.mu.Unlock()
		return labelset.MergeReport{}, ErrNoDataset
	}
	merged, report := labelset.MergeTags(ds, tags, s.table)
	if report.Applied > 0 {
		s.install(merged)
		s.cursor.Refresh(s.orderLocked(merged))
		s.requestAssetsLocked()
	}
	s.notice = NoticeTagsLoaded
	snap := s.snapshotLocked(merged)
	s.mu.Unlock()
	s.log.Info("tags merged", "applied", report.Applied, "skipped", len(report.Skipped))
	if report.Applied == 0 {
		snap = nil
	}
	s.commit(ctx, snap)
	return report, nil
}

// Export serializes the current dataset.
func (s *Session) Export() ([]byte, error) {
	ds := s.dataset.Load()
	if ds == nil {
		return nil, ErrNoDataset
	}
	return labelset.Export(ds)
}

// ExportTags serializes every labeled mask as a flat tag file.
func (s *Session) ExportTags() ([]byte, error) {
	ds := s.dataset.Load()
	if ds == nil {
		return nil, ErrNoDataset
	}
	return EncodeTags(labelset.Tags(ds))
}

// EncodeTags renders a tag map the way ExportTags does. An empty map is
// ErrNoTags.
func EncodeTags(tags map[string]string) ([]byte, error) {
	if len(tags) == 0 {
		return nil, ErrNoTags
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", labelset.ExportIndent)
	if err := enc.Encode(tags); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Selection returns the current navigation state.
func (s *Session) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectionLocked()
}

// Restore loads the latest snapshot from the configured store. It reports
// false when there is no store or nothing was saved. A snapshot whose split
// base is missing or differs from the configured one is refused with
// ErrSplitBaseMismatch.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	snap, ok, err := s.store.Load(ctx)
	if err != nil || !ok {
		return false, err
	}
	if snap.SplitBase == nil {
		return false, fmt.Errorf("%w: not recorded, configured %d", ErrSplitBaseMismatch, s.splitBase)
	}
	if *snap.SplitBase != s.splitBase {
		return false, fmt.Errorf("%w: saved %d, configured %d", ErrSplitBaseMismatch, *snap.SplitBase, s.splitBase)
	}
	ds, err := labelset.Load(snap.Document)
	if err != nil {
		return false, fmt.Errorf("restore snapshot: %w", err)
	}
	if snap.CategoryVersion != "" && snap.CategoryVersion != s.table.Version() {
		s.log.Warn("snapshot saved with another category version", "saved", snap.CategoryVersion, "current", s.table.Version())
	}
	s.mu.Lock()
	s.install(ds)
	s.imageKey = snap.Selection.ImageKey
	s.split = snap.Selection.SplitIndex
	if s.split < 1 {
		s.split = 1
	}
	if !ds.HasImage(s.imageKey) {
		s.imageKey = ""
		if keys := ds.Keys(); len(keys) > 0 {
			s.imageKey = keys[0]
		}
		s.split = 1
	}
	s.resetLocked(ds)
	s.cursor.Seek(snap.Selection.Position)
	s.requestAssetsLocked()
	sel := s.selectionLocked()
	s.mu.Unlock()
	s.notify()
	s.log.Info("session restored", "driver", s.store.Driver(), "image", sel.ImageKey, "split", sel.SplitIndex, "position", sel.Position)
	return true, nil
}

type pendingSave struct {
	rev  uint64
	snap persistence.Snapshot
	ds   *labelset.Dataset
}

// snapshotLocked captures what persist will write. Encoding happens outside
// the lock.
func (s *Session) snapshotLocked(ds *labelset.Dataset) *pendingSave {
	if s.store == nil || ds == nil {
		return nil
	}
	s.revision++
	base := s.splitBase
	return &pendingSave{
		rev: s.revision,
		ds:  ds,
		snap: persistence.Snapshot{
			Selection: persistence.Selection{
				ImageKey:   s.imageKey,
				SplitIndex: s.split,
				Position:   s.cursor.Position(),
			},
			SplitBase:       &base,
			CategoryVersion: s.table.Version(),
		},
	}
}

// persist writes p unless a newer snapshot has already been written. Save
// failures are logged and counted; the in-memory session stays authoritative.
func (s *Session) persist(ctx context.Context, p *pendingSave) {
	if p == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if p.rev <= s.savedRev {
		return
	}
	doc, err := labelset.Export(p.ds)
	if err != nil {
		s.saveFails.Add(1)
		s.log.Error("encode snapshot", "error", err)
		return
	}
	p.snap.Document = doc
	p.snap.SavedAt = time.Now().UTC()
	if err := s.store.Save(ctx, p.snap); err != nil {
		s.saveFails.Add(1)
		s.log.Warn("snapshot save failed", "driver", s.store.Driver(), "error", err)
		return
	}
	s.savedRev = p.rev
	s.saves.Add(1)
}
