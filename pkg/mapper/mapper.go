// Package mapper converts points and rectangles between the three coordinate
// spaces of a crop session: viewport space, displayed-image space (the scaled,
// panned image, origin at its top-left corner) and source-pixel space of the
// upright image.
package mapper

import (
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/transform"
)

// SlackTolerance is how far, in source pixels, a mapped edge may fall outside
// the image before it stops counting as rounding noise.
const SlackTolerance = 1e-6

// ScaledDisplaySize is the on-screen size of the image at state's scale.
func ScaledDisplaySize(state transform.State, base geom.Size) geom.Size {
	return base.Scale(state.Scale)
}

// ImageOrigin is the top-left corner of the displayed image in viewport space.
func ImageOrigin(state transform.State, base, viewport geom.Size) geom.Point {
	scaled := ScaledDisplaySize(state, base)
	return geom.Pt(
		(viewport.Width-scaled.Width)/2+state.Offset.DX,
		(viewport.Height-scaled.Height)/2+state.Offset.DY,
	)
}

// DisplayedImageRect is the displayed image in viewport space.
func DisplayedImageRect(state transform.State, base, viewport geom.Size) geom.Rect {
	return geom.Rect{
		Origin: ImageOrigin(state, base, viewport),
		Size:   ScaledDisplaySize(state, base),
	}
}

// ViewportToSource returns the affine matrix taking viewport coordinates to
// source pixel coordinates.
func ViewportToSource(state transform.State, base, sourcePixelSize, viewport geom.Size) f64.Aff3 {
	scaled := ScaledDisplaySize(state, base)
	origin := ImageOrigin(state, base, viewport)
	sx := sourcePixelSize.Width / scaled.Width
	sy := sourcePixelSize.Height / scaled.Height
	return f64.Aff3{
		sx, 0, -origin.X * sx,
		0, sy, -origin.Y * sy,
	}
}

// SourceToViewport is the inverse of ViewportToSource.
func SourceToViewport(state transform.State, base, sourcePixelSize, viewport geom.Size) f64.Aff3 {
	scaled := ScaledDisplaySize(state, base)
	origin := ImageOrigin(state, base, viewport)
	sx := scaled.Width / sourcePixelSize.Width
	sy := scaled.Height / sourcePixelSize.Height
	return f64.Aff3{
		sx, 0, origin.X,
		0, sy, origin.Y,
	}
}

// Apply transforms p by m.
func Apply(m f64.Aff3, p geom.Point) geom.Point {
	return geom.Pt(
		m[0]*p.X+m[1]*p.Y+m[2],
		m[3]*p.X+m[4]*p.Y+m[5],
	)
}

// ApplyRect transforms both corners of an axis-aligned rectangle by m. m must
// not rotate or shear.
func ApplyRect(m f64.Aff3, r geom.Rect) geom.Rect {
	lo := Apply(m, r.Origin)
	hi := Apply(m, geom.Pt(r.MaxX(), r.MaxY()))
	return geom.RectXYWH(lo.X, lo.Y, hi.X-lo.X, hi.Y-lo.Y)
}

// Unclamped maps rect from viewport space into source pixels without
// clamping it to the image.
func Unclamped(rect geom.Rect, state transform.State, base, sourcePixelSize, viewport geom.Size) geom.Rect {
	return ApplyRect(ViewportToSource(state, base, sourcePixelSize, viewport), rect)
}

// ViewportRectToSourcePixels maps rect (usually the crop frame) from viewport
// space into source pixels and clamps the result to the image. Edges within
// SlackTolerance of a bound are snapped onto it; larger excursions are clamped
// the same way, leaving a smaller or empty rectangle.
func ViewportRectToSourcePixels(rect geom.Rect, state transform.State, base, sourcePixelSize, viewport geom.Size) geom.Rect {
	r := Unclamped(rect, state, base, sourcePixelSize, viewport)

	x0 := clampEdge(r.MinX(), sourcePixelSize.Width)
	y0 := clampEdge(r.MinY(), sourcePixelSize.Height)
	x1 := clampEdge(r.MaxX(), sourcePixelSize.Width)
	y1 := clampEdge(r.MaxY(), sourcePixelSize.Height)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return geom.RectXYWH(x0, y0, x1-x0, y1-y0)
}

// SourcePointToViewport maps a source pixel location to viewport space.
func SourcePointToViewport(p geom.Point, state transform.State, base, sourcePixelSize, viewport geom.Size) geom.Point {
	return Apply(SourceToViewport(state, base, sourcePixelSize, viewport), p)
}

func clampEdge(v, limit float64) float64 {
	switch {
	case scalar.EqualWithinAbs(v, 0, SlackTolerance):
		return 0
	case scalar.EqualWithinAbs(v, limit, SlackTolerance):
		return limit
	}
	return geom.Clamp(v, 0, limit)
}
