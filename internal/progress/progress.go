// Package progress counts labeled masks per split.
package progress

import "segtag/internal/labelset"

// Progress is the labeling completion of one split.
type Progress struct {
	Tagged     int     `json:"tagged"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Remaining is the number of masks still carrying the sentinel label.
func (p Progress) Remaining() int { return p.Total - p.Tagged }

// Done reports whether a non-empty split is fully labeled.
func (p Progress) Done() bool { return p.Total > 0 && p.Tagged == p.Total }

// Compute counts labeled masks among ordered. Keys missing from the dataset
// count toward Total but never toward Tagged.
func Compute(ds *labelset.Dataset, imageKey, splitKey string, ordered []string) Progress {
	p := Progress{Total: len(ordered)}
	for _, k := range ordered {
		if m, ok := ds.Mask(imageKey, splitKey, k); ok && m.Labeled() {
			p.Tagged++
		}
	}
	p.Percentage = percentage(p.Tagged, p.Total)
	return p
}

// ForSplit computes progress over every mask of a split.
func ForSplit(ds *labelset.Dataset, imageKey, splitKey string) Progress {
	return Compute(ds, imageKey, splitKey, ds.Masks(imageKey, splitKey))
}

// SplitSummary is the progress of one split.
type SplitSummary struct {
	Split string `json:"split"`
	Progress
}

// ImageSummary aggregates the splits of one image.
type ImageSummary struct {
	Image  string         `json:"image"`
	Splits []SplitSummary `json:"splits"`
	Progress
}

// Summary is dataset-wide progress in document order.
type Summary struct {
	Images []ImageSummary `json:"images"`
	Progress
}

// Summarize walks the whole dataset.
func Summarize(ds *labelset.Dataset) Summary {
	var s Summary
	for _, ik := range ds.Keys() {
		img := ImageSummary{Image: ik}
		for _, sk := range ds.Splits(ik) {
			p := ForSplit(ds, ik, sk)
			img.Splits = append(img.Splits, SplitSummary{Split: sk, Progress: p})
			img.Tagged += p.Tagged
			img.Total += p.Total
		}
		img.Percentage = percentage(img.Tagged, img.Total)
		s.Images = append(s.Images, img)
		s.Tagged += img.Tagged
		s.Total += img.Total
	}
	s.Percentage = percentage(s.Tagged, s.Total)
	return s
}

func percentage(tagged, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(tagged) / float64(total)
}
