package session

import (
	"errors"

	"segtag/internal/asset"
	"segtag/internal/geometry"
	"segtag/internal/labelset"
	"segtag/internal/progress"
)

// MaskView describes the mask under the cursor.
type MaskView struct {
	Key     string          `json:"key"`
	Label   string          `json:"label"`
	Display string          `json:"display"`
	BBox    *labelset.BBox  `json:"bbox,omitempty"`
	Rect    *geometry.Rect  `json:"rect,omitempty"`
	Scale   *geometry.Scale `json:"scale,omitempty"`
}

// AssetView is the state of one image slot.
type AssetView struct {
	Status       string `json:"status"`
	Key          string `json:"key,omitempty"`
	ExpectedPath string `json:"expected_path,omitempty"`
	Size         int64  `json:"size,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	Message      string `json:"message,omitempty"`
}

// AssetsView pairs the main and mask slots.
type AssetsView struct {
	RootSelected bool      `json:"root_selected"`
	Root         string    `json:"root,omitempty"`
	Pending      bool      `json:"pending"`
	Main         AssetView `json:"main"`
	Mask         AssetView `json:"mask"`
}

// View is a consistent read of everything a rendering client shows.
type View struct {
	Loaded    bool              `json:"loaded"`
	Revision  uint64            `json:"revision"`
	Images    int               `json:"images"`
	Selection Selection         `json:"selection"`
	SplitKey  string            `json:"split_key,omitempty"`
	Policy    string            `json:"policy"`
	Order     []string          `json:"order"`
	Mask      *MaskView         `json:"mask,omitempty"`
	Progress  progress.Progress `json:"progress"`
	Assets    AssetsView        `json:"assets"`
	Notice    string            `json:"notice,omitempty"`
}

// Placeholder messages for empty image slots.
const (
	placeholderNoRoot = "Select your main image data folder."
	placeholderError  = "Could not load image file."
)

// View snapshots the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.dataset.Load()
	v := View{
		Loaded:    ds != nil,
		Revision:  s.revision,
		Images:    ds.Len(),
		Selection: s.selectionLocked(),
		Policy:    s.policy.String(),
		Order:     s.cursor.Keys(),
		Notice:    s.notice,
		Assets: AssetsView{
			RootSelected: s.resolver.HasRoot(),
			Root:         s.rootName,
		},
	}
	if ds == nil || s.imageKey == "" {
		return v
	}
	v.SplitKey = s.splitKeyLocked()
	v.Progress = progress.ForSplit(ds, s.imageKey, v.SplitKey)
	if key, ok := s.cursor.Current(); ok {
		if m, ok := ds.Mask(s.imageKey, v.SplitKey, key); ok {
			mv := &MaskView{Key: key, Label: m.Label(), Display: m.Label(), BBox: m.BBox()}
			if d, ok := s.table.Display(m.Label()); ok {
				mv.Display = d
			}
			scale := geometry.ScaleFor(s.display.natural, s.display.rendered)
			if rect, ok := geometry.MapBox(mv.BBox, scale); ok {
				mv.Rect = &rect
				mv.Scale = &scale
			}
			v.Mask = mv
		}
	}
	v.Assets.Pending = s.loader.Pending()
	if res, ok := s.loader.Current(); ok && res.Selection == s.requested {
		v.Assets.Main = slotView(res.Main)
		v.Assets.Mask = slotView(res.Mask)
	} else if !v.Assets.RootSelected {
		v.Assets.Main = AssetView{Status: "no-root", Message: placeholderNoRoot}
		v.Assets.Mask = AssetView{Status: "no-root", Message: placeholderNoRoot}
	} else {
		v.Assets.Main = AssetView{Status: "loading"}
		v.Assets.Mask = AssetView{Status: "loading"}
	}
	return v
}

func slotView(slot asset.Slot) AssetView {
	av := AssetView{Status: slot.Status(), Key: slot.Key}
	if slot.Handle != nil {
		info := slot.Handle.Info()
		av.Size = info.Size
		av.ContentType = info.ContentType
		return av
	}
	var nf *asset.NotFoundError
	switch {
	case errors.As(slot.Err, &nf):
		av.ExpectedPath = nf.ExpectedPath
		av.Message = "Could not find image file. Expected path: " + nf.ExpectedPath
	case errors.Is(slot.Err, asset.ErrNoRoot):
		av.Message = placeholderNoRoot
	case slot.Err != nil:
		av.Message = placeholderError
	}
	return av
}
