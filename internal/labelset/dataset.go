// Package labelset holds the in-memory image → split → mask hierarchy loaded
// from a labeling document.
//
// A Dataset is an immutable value. ApplyLabel returns a new Dataset that shares
// every image, split and mask with its input except those along the mutated
// path, so readers holding an older pointer never observe a partial update.
package labelset

import (
	"encoding/json"

	"segtag/internal/category"
)

// BBox is a bounding box [x1, y1, x2, y2] in original split-image pixels.
type BBox [4]float64

// member is one key of a JSON object in document order. Placeholders for
// nested splits and masks carry a nil raw value; their content lives in the
// typed maps.
type member struct {
	key string
	raw json.RawMessage
}

// Mask is one labeled region within a split.
type Mask struct {
	label  string
	bbox   *BBox
	fields []member
}

// Label returns the canonical label, or category.Unknown.
func (m *Mask) Label() string { return m.label }

// Labeled reports whether the mask carries a label other than the sentinel.
func (m *Mask) Labeled() bool { return m.label != category.Unknown }

// BBox returns a copy of the bounding box, or nil when the mask has none.
func (m *Mask) BBox() *BBox {
	if m.bbox == nil {
		return nil
	}
	b := *m.bbox
	return &b
}

// Field returns the raw JSON of a pass-through member.
func (m *Mask) Field(name string) (json.RawMessage, bool) {
	for _, f := range m.fields {
		if f.key == name {
			return append(json.RawMessage(nil), f.raw...), true
		}
	}
	return nil, false
}

// Split groups the masks of one spatial tile.
type Split struct {
	masks   map[string]*Mask
	keys    []string
	members []member
}

// Image groups the splits of one source image.
type Image struct {
	splits  map[string]*Split
	keys    []string
	members []member
}

// Dataset maps image keys to images, retaining document order.
type Dataset struct {
	images map[string]*Image
	keys   []string
}

// Empty returns a dataset with no images.
func Empty() *Dataset {
	return &Dataset{images: map[string]*Image{}}
}

// Len returns the number of images.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the image keys in document order.
func (d *Dataset) Keys() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.keys...)
}

// HasImage reports whether imageKey exists.
func (d *Dataset) HasImage(imageKey string) bool {
	if d == nil {
		return false
	}
	_, ok := d.images[imageKey]
	return ok
}

// Splits returns the split keys of an image in document order.
func (d *Dataset) Splits(imageKey string) []string {
	if d == nil {
		return nil
	}
	img, ok := d.images[imageKey]
	if !ok {
		return nil
	}
	return append([]string(nil), img.keys...)
}

// Masks returns the mask keys of a split in document order.
func (d *Dataset) Masks(imageKey, splitKey string) []string {
	split, ok := d.split(imageKey, splitKey)
	if !ok {
		return nil
	}
	return append([]string(nil), split.keys...)
}

// Mask returns one mask.
func (d *Dataset) Mask(imageKey, splitKey, maskKey string) (*Mask, bool) {
	split, ok := d.split(imageKey, splitKey)
	if !ok {
		return nil, false
	}
	m, ok := split.masks[maskKey]
	return m, ok
}

// Label is a shortcut for Mask(...).Label(); missing masks report false.
func (d *Dataset) Label(imageKey, splitKey, maskKey string) (string, bool) {
	m, ok := d.Mask(imageKey, splitKey, maskKey)
	if !ok {
		return "", false
	}
	return m.label, true
}

func (d *Dataset) split(imageKey, splitKey string) (*Split, bool) {
	if d == nil {
		return nil, false
	}
	img, ok := d.images[imageKey]
	if !ok {
		return nil, false
	}
	split, ok := img.splits[splitKey]
	return split, ok
}
