package transform

import (
	"math"

	"github.com/menta2k/cropframe/pkg/geom"
)

// Bounds is the legal offset range for one scale.
type Bounds struct {
	Min geom.Vector `json:"min"`
	Max geom.Vector `json:"max"`
}

// Contains reports whether v lies inside the bounds.
func (b Bounds) Contains(v geom.Vector) bool {
	return v.DX >= b.Min.DX && v.DX <= b.Max.DX && v.DY >= b.Min.DY && v.DY <= b.Max.DY
}

// OffsetBounds returns the offsets for which an image of base*scale, centered
// in viewport and then shifted, still covers frame. The range is centered on
// the displacement of the frame center from the viewport center, which is zero
// for a centered frame. When the scaled image is smaller than the frame the
// range collapses to that displacement.
func OffsetBounds(scale float64, base geom.Size, frame geom.Rect, viewport geom.Size) Bounds {
	scaled := base.Scale(scale)
	maxX := math.Max(0, (scaled.Width-frame.Size.Width)/2)
	maxY := math.Max(0, (scaled.Height-frame.Size.Height)/2)

	fc := frame.Center()
	cx := fc.X - viewport.Width/2
	cy := fc.Y - viewport.Height/2

	return Bounds{
		Min: geom.Vec(cx-maxX, cy-maxY),
		Max: geom.Vec(cx+maxX, cy+maxY),
	}
}

// Clamp projects s into the legal region: the offset is clamped to the bounds
// for its scale, and a scale under the minimum is raised to it before the
// offset is clamped again against the corrected bounds. Clamp is idempotent.
func Clamp(s State, base geom.Size, frame geom.Rect, viewport geom.Size) State {
	s.Offset = clampOffset(s.Offset, OffsetBounds(s.Scale, base, frame, viewport))

	if minScale := MinScale(base, frame.Size); s.Scale < minScale {
		s.Scale = minScale
		// stale bounds from the first pass would leave the frame uncovered
		s.Offset = clampOffset(s.Offset, OffsetBounds(s.Scale, base, frame, viewport))
	}
	return s
}

// Covers reports whether the image displayed with s contains every corner of
// frame, allowing tol of numerical slack.
func Covers(s State, base geom.Size, frame geom.Rect, viewport geom.Size, tol float64) bool {
	scaled := base.Scale(s.Scale)
	origin := geom.Pt(
		(viewport.Width-scaled.Width)/2+s.Offset.DX,
		(viewport.Height-scaled.Height)/2+s.Offset.DY,
	)
	return geom.Rect{Origin: origin, Size: scaled}.Contains(frame, tol)
}

func clampOffset(v geom.Vector, b Bounds) geom.Vector {
	return geom.Vec(
		geom.Clamp(v.DX, b.Min.DX, b.Max.DX),
		geom.Clamp(v.DY, b.Min.DY, b.Max.DY),
	)
}
