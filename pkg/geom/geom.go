// Package geom holds the value types shared by the crop engine: sizes, points,
// vectors, rectangles and insets. All of them are plain values; nothing in this
// package keeps state.
package geom

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidGeometry is returned for zero, negative or non-finite dimensions.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Size is a width/height pair in whatever unit the caller works in
// (viewport points or source pixels).
type Size struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Point is a location in a 2D coordinate space.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Vector is a displacement, used for pan offsets and drag translations.
type Vector struct {
	DX float64 `json:"dx" yaml:"dx"`
	DY float64 `json:"dy" yaml:"dy"`
}

// Rect is an axis-aligned rectangle given by its top-left origin and size.
type Rect struct {
	Origin Point `json:"origin" yaml:"origin"`
	Size   Size  `json:"size" yaml:"size"`
}

// Insets are the safe-area margins of a viewport.
type Insets struct {
	Top    float64 `json:"top" yaml:"top"`
	Left   float64 `json:"left" yaml:"left"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
	Right  float64 `json:"right" yaml:"right"`
}

// Sz is shorthand for Size{w, h}.
func Sz(w, h float64) Size { return Size{Width: w, Height: h} }

// Pt is shorthand for Point{x, y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// Vec is shorthand for Vector{dx, dy}.
func Vec(dx, dy float64) Vector { return Vector{DX: dx, DY: dy} }

// RectXYWH builds a rectangle from its origin and size components.
func RectXYWH(x, y, w, h float64) Rect {
	return Rect{Origin: Point{X: x, Y: y}, Size: Size{Width: w, Height: h}}
}

// Validate reports an error wrapping ErrInvalidGeometry unless both
// dimensions are finite and strictly positive.
func (s Size) Validate() error {
	if !finite(s.Width) || !finite(s.Height) || s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: size %gx%g", ErrInvalidGeometry, s.Width, s.Height)
	}
	return nil
}

// Aspect returns width/height. The caller must have validated the size.
func (s Size) Aspect() float64 {
	return s.Width / s.Height
}

// Scale multiplies both dimensions by k.
func (s Size) Scale(k float64) Size {
	return Size{Width: s.Width * k, Height: s.Height * k}
}

// Area returns width*height.
func (s Size) Area() float64 {
	return s.Width * s.Height
}

func (s Size) String() string {
	return fmt.Sprintf("%gx%g", s.Width, s.Height)
}

// Add translates the point by v.
func (p Point) Add(v Vector) Point {
	return Point{X: p.X + v.DX, Y: p.Y + v.DY}
}

// Sub returns the vector from q to p.
func (p Point) Sub(q Point) Vector {
	return Vector{DX: p.X - q.X, DY: p.Y - q.Y}
}

// Add returns the component-wise sum.
func (v Vector) Add(w Vector) Vector {
	return Vector{DX: v.DX + w.DX, DY: v.DY + w.DY}
}

// Neg flips both components.
func (v Vector) Neg() Vector {
	return Vector{DX: -v.DX, DY: -v.DY}
}

func (v Vector) String() string {
	return fmt.Sprintf("(%g,%g)", v.DX, v.DY)
}

// MinX returns the left edge.
func (r Rect) MinX() float64 { return r.Origin.X }

// MinY returns the top edge.
func (r Rect) MinY() float64 { return r.Origin.Y }

// MaxX returns the right edge.
func (r Rect) MaxX() float64 { return r.Origin.X + r.Size.Width }

// MaxY returns the bottom edge.
func (r Rect) MaxY() float64 { return r.Origin.Y + r.Size.Height }

// Center returns the midpoint of the rectangle.
func (r Rect) Center() Point {
	return Point{X: r.Origin.X + r.Size.Width/2, Y: r.Origin.Y + r.Size.Height/2}
}

// Translate moves the rectangle by v.
func (r Rect) Translate(v Vector) Rect {
	return Rect{Origin: r.Origin.Add(v), Size: r.Size}
}

// ScaleXY scales origin and size independently per axis.
func (r Rect) ScaleXY(sx, sy float64) Rect {
	return Rect{
		Origin: Point{X: r.Origin.X * sx, Y: r.Origin.Y * sy},
		Size:   Size{Width: r.Size.Width * sx, Height: r.Size.Height * sy},
	}
}

// Area returns the rectangle's area; degenerate rectangles report 0.
func (r Rect) Area() float64 {
	if r.Size.Width <= 0 || r.Size.Height <= 0 {
		return 0
	}
	return r.Size.Area()
}

// Corners returns the four corners clockwise from the top-left.
func (r Rect) Corners() [4]Point {
	return [4]Point{
		{X: r.MinX(), Y: r.MinY()},
		{X: r.MaxX(), Y: r.MinY()},
		{X: r.MaxX(), Y: r.MaxY()},
		{X: r.MinX(), Y: r.MaxY()},
	}
}

// ContainsPoint reports whether p lies inside r, edges inclusive, allowing
// tol of slack on every side.
func (r Rect) ContainsPoint(p Point, tol float64) bool {
	return p.X >= r.MinX()-tol && p.X <= r.MaxX()+tol &&
		p.Y >= r.MinY()-tol && p.Y <= r.MaxY()+tol
}

// Contains reports whether every corner of inner lies inside r.
func (r Rect) Contains(inner Rect, tol float64) bool {
	for _, c := range inner.Corners() {
		if !r.ContainsPoint(c, tol) {
			return false
		}
	}
	return true
}

func (r Rect) String() string {
	return fmt.Sprintf("[%g,%g %gx%g]", r.Origin.X, r.Origin.Y, r.Size.Width, r.Size.Height)
}

// Clamp limits v to [lo, hi]. When lo > hi the result is lo.
func Clamp(v, lo, hi float64) float64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
