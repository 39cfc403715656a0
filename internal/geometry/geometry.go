// Package geometry maps bounding boxes from original split-image pixels into
// the coordinate space of the rendered image.
package geometry

import (
	"math"

	"segtag/internal/labelset"
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  float64 `json:"width" validate:"gte=0"`
	Height float64 `json:"height" validate:"gte=0"`
}

// Scale is the per-axis factor displayed/natural.
type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Valid reports whether both components are usable.
func (s Scale) Valid() bool {
	return usable(s.X) && usable(s.Y)
}

// Rect is a display rectangle.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ScaleFor returns displayed/natural per axis. An axis with zero natural size
// gets a zero factor, which MapBox treats as unknown.
func ScaleFor(natural, displayed Size) Scale {
	var s Scale
	if natural.Width > 0 {
		s.X = displayed.Width / natural.Width
	}
	if natural.Height > 0 {
		s.Y = displayed.Height / natural.Height
	}
	return s
}

// MapBox projects bbox through scale. It reports false when the box is absent
// or the scale is not yet known.
func MapBox(bbox *labelset.BBox, scale Scale) (Rect, bool) {
	if bbox == nil || !scale.Valid() {
		return Rect{}, false
	}
	x1, y1, x2, y2 := bbox[0], bbox[1], bbox[2], bbox[3]
	return Rect{
		Left:   x1 * scale.X,
		Top:    y1 * scale.Y,
		Width:  (x2 - x1) * scale.X,
		Height: (y2 - y1) * scale.Y,
	}, true
}

func usable(f float64) bool {
	return f != 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}
