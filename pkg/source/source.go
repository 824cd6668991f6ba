// Package source describes the decoded image handed to the crop engine and
// re-lays its pixels out in upright order before extraction.
package source

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/menta2k/cropframe/pkg/geom"
)

// Orientation is the EXIF orientation tag describing how the raw pixel rows
// have to be rotated or flipped to reach the upright visual image.
type Orientation int

// EXIF orientation values. Zero is treated as Upright.
const (
	Upright     Orientation = 1
	FlipH       Orientation = 2
	Rotate180   Orientation = 3
	FlipV       Orientation = 4
	Transpose   Orientation = 5 // mirror across the top-left/bottom-right diagonal
	Rotate90CW  Orientation = 6
	Transverse  Orientation = 7 // mirror across the top-right/bottom-left diagonal
	Rotate270CW Orientation = 8
)

var orientationNames = map[Orientation]string{
	Upright:     "upright",
	FlipH:       "flip-h",
	Rotate180:   "rotate-180",
	FlipV:       "flip-v",
	Transpose:   "transpose",
	Rotate90CW:  "rotate-90-cw",
	Transverse:  "transverse",
	Rotate270CW: "rotate-270-cw",
}

func (o Orientation) String() string {
	if name, ok := orientationNames[o.normalized()]; ok {
		return name
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// Valid reports whether o is 0 or one of the eight EXIF values.
func (o Orientation) Valid() bool {
	return o >= 0 && o <= Rotate270CW
}

// SwapsAxes reports whether the upright image has width and height swapped
// relative to the raw buffer.
func (o Orientation) SwapsAxes() bool {
	switch o {
	case Transpose, Rotate90CW, Transverse, Rotate270CW:
		return true
	}
	return false
}

func (o Orientation) normalized() Orientation {
	if o == 0 {
		return Upright
	}
	return o
}

// ImageSource is the decoded source image. Pixels hold the raw buffer exactly
// as decoded; Orientation says how to reach the upright picture.
type ImageSource struct {
	Pixels      image.Image
	Orientation Orientation
}

// New wraps a raw buffer and its orientation tag.
func New(pixels image.Image, orientation Orientation) ImageSource {
	return ImageSource{Pixels: pixels, Orientation: orientation}
}

// RawSize returns the dimensions of the raw buffer.
func (s ImageSource) RawSize() geom.Size {
	if s.Pixels == nil {
		return geom.Size{}
	}
	b := s.Pixels.Bounds()
	return geom.Sz(float64(b.Dx()), float64(b.Dy()))
}

// PixelSize returns the nominal upright size of the image.
func (s ImageSource) PixelSize() geom.Size {
	raw := s.RawSize()
	if s.Orientation.SwapsAxes() {
		return geom.Sz(raw.Height, raw.Width)
	}
	return raw
}

// Validate checks that the source carries a non-empty buffer and a known
// orientation tag.
func (s ImageSource) Validate() error {
	if s.Pixels == nil {
		return fmt.Errorf("%w: image source has no pixels", geom.ErrInvalidGeometry)
	}
	if !s.Orientation.Valid() {
		return fmt.Errorf("%w: unknown orientation %d", geom.ErrInvalidGeometry, int(s.Orientation))
	}
	if err := s.RawSize().Validate(); err != nil {
		return fmt.Errorf("image source: %w", err)
	}
	return nil
}

// Normalize returns an upright copy of the source with Orientation set to
// Upright. The pixel bounds of the result always start at (0,0).
func Normalize(s ImageSource) ImageSource {
	if s.Orientation.normalized() == Upright && s.Pixels.Bounds().Min == (image.Point{}) {
		return ImageSource{Pixels: s.Pixels, Orientation: Upright}
	}
	return ImageSource{Pixels: Reorient(s.Pixels, s.Orientation), Orientation: Upright}
}

// Reorient re-lays img out according to o.
func Reorient(img image.Image, o Orientation) *image.NRGBA {
	switch o.normalized() {
	case FlipH:
		return imaging.FlipH(img)
	case Rotate180:
		return imaging.Rotate180(img)
	case FlipV:
		return imaging.FlipV(img)
	case Transpose:
		return imaging.Transpose(img)
	case Rotate90CW:
		// imaging rotates counter-clockwise
		return imaging.Rotate270(img)
	case Transverse:
		return imaging.Transverse(img)
	case Rotate270CW:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}
