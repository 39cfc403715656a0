package labelset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"segtag/internal/category"
)

var (
	// ErrUnknownCategory is returned for labels outside the category table.
	ErrUnknownCategory = errors.New("labelset: unknown category")
	// ErrMaskNotFound is returned when the image/split/mask path does not exist.
	ErrMaskNotFound = errors.New("labelset: mask not found")
)

// ApplyLabel returns a dataset in which exactly one mask carries label.
// Images, splits and masks off the mutated path are shared with d. On error
// d itself is returned so callers can treat invalid input as a no-op.
func ApplyLabel(d *Dataset, imageKey, splitKey, maskKey, label string, table *category.Table) (*Dataset, error) {
	if !table.Contains(label) {
		return d, fmt.Errorf("%w: %q", ErrUnknownCategory, label)
	}
	if d == nil {
		return d, fmt.Errorf("%w: %s/%s/%s", ErrMaskNotFound, imageKey, splitKey, maskKey)
	}
	img, ok := d.images[imageKey]
	if !ok {
		return d, fmt.Errorf("%w: %s/%s/%s", ErrMaskNotFound, imageKey, splitKey, maskKey)
	}
	split, ok := img.splits[splitKey]
	if !ok {
		return d, fmt.Errorf("%w: %s/%s/%s", ErrMaskNotFound, imageKey, splitKey, maskKey)
	}
	mask, ok := split.masks[maskKey]
	if !ok {
		return d, fmt.Errorf("%w: %s/%s/%s", ErrMaskNotFound, imageKey, splitKey, maskKey)
	}
	relabeled, err := mask.withLabel(label)
	if err != nil {
		return d, err
	}
	return d.withImage(imageKey, img.withSplit(splitKey, split.withMask(maskKey, relabeled))), nil
}

func (m *Mask) withLabel(label string) (*Mask, error) {
	raw, err := quote(label)
	if err != nil {
		return nil, err
	}
	fields := make([]member, len(m.fields))
	copy(fields, m.fields)
	for i := range fields {
		if fields[i].key == "label" {
			fields[i].raw = raw
		}
	}
	return &Mask{label: label, bbox: m.bbox, fields: fields}, nil
}

func (s *Split) withMask(key string, m *Mask) *Split {
	masks := make(map[string]*Mask, len(s.masks))
	for k, v := range s.masks {
		masks[k] = v
	}
	masks[key] = m
	return &Split{masks: masks, keys: s.keys, members: s.members}
}

func (img *Image) withSplit(key string, s *Split) *Image {
	splits := make(map[string]*Split, len(img.splits))
	for k, v := range img.splits {
		splits[k] = v
	}
	splits[key] = s
	return &Image{splits: splits, keys: img.keys, members: img.members}
}

func (d *Dataset) withImage(key string, img *Image) *Dataset {
	images := make(map[string]*Image, len(d.images))
	for k, v := range d.images {
		images[k] = v
	}
	images[key] = img
	return &Dataset{images: images, keys: d.keys}
}

// TagKey is the flat identifier used by standalone tag files.
func TagKey(imageKey, splitKey, maskKey string) string {
	return imageKey + "/" + splitKey + "/" + maskKey
}

// ParseTagKey splits a TagKey. Image keys may themselves contain slashes, so
// the split and mask keys are taken from the right.
func ParseTagKey(key string) (imageKey, splitKey, maskKey string, ok bool) {
	last := strings.LastIndex(key, "/")
	if last <= 0 {
		return "", "", "", false
	}
	prev := strings.LastIndex(key[:last], "/")
	if prev <= 0 {
		return "", "", "", false
	}
	return key[:prev], key[prev+1 : last], key[last+1:], true
}

// Tags flattens every labeled mask into a tag file map.
func Tags(d *Dataset) map[string]string {
	out := make(map[string]string)
	if d == nil {
		return out
	}
	for _, ik := range d.keys {
		img := d.images[ik]
		for _, sk := range img.keys {
			split := img.splits[sk]
			for _, mk := range split.keys {
				if m := split.masks[mk]; m.Labeled() {
					out[TagKey(ik, sk, mk)] = m.label
				}
			}
		}
	}
	return out
}

// ParseTags decodes a standalone tag file: one JSON object mapping tag keys
// to category names.
func ParseTags(data []byte) (map[string]string, error) {
	var tags map[string]string
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("parse tag file: %w", err)
	}
	if tags == nil {
		return nil, fmt.Errorf("parse tag file: not an object")
	}
	return tags, nil
}

// MergeReport summarizes a tag merge.
type MergeReport struct {
	Applied int      `json:"applied"`
	Skipped []string `json:"skipped,omitempty"`
}

// MergeTags applies a standalone tag file on top of d. Entries naming a
// missing mask or an unknown category are skipped and listed in the report.
func MergeTags(d *Dataset, tags map[string]string, table *category.Table) (*Dataset, MergeReport) {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var report MergeReport
	out := d
	for _, k := range keys {
		ik, sk, mk, ok := ParseTagKey(k)
		if !ok {
			report.Skipped = append(report.Skipped, k)
			continue
		}
		next, err := ApplyLabel(out, ik, sk, mk, tags[k], table)
		if err != nil {
			report.Skipped = append(report.Skipped, k)
			continue
		}
		out = next
		report.Applied++
	}
	return out, report
}
