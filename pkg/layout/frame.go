// Package layout derives the crop frame and the base display size from the
// viewport and the source image. Everything here is a pure function of its
// inputs and is recomputed from scratch on every viewport or image change.
package layout

import (
	"fmt"
	"math"

	"github.com/menta2k/cropframe/pkg/geom"
)

// DefaultMargin is the UI chrome margin kept on every side of the usable area.
const DefaultMargin = 16.0

// Viewport is the outer drawable area hosting the crop UI.
type Viewport struct {
	Size       geom.Size   `json:"size" yaml:"size"`
	SafeInsets geom.Insets `json:"safe_insets" yaml:"safe_insets"`
}

// CropFrame is the fixed hole the user fills with image content. AspectRatio
// is width/height, or 0 when the frame is unconstrained (square).
type CropFrame struct {
	Rect        geom.Rect `json:"rect" yaml:"rect"`
	AspectRatio float64   `json:"aspect_ratio,omitempty" yaml:"aspect_ratio,omitempty"`
}

// Validate checks the viewport size and that no inset is negative.
func (v Viewport) Validate() error {
	if err := v.Size.Validate(); err != nil {
		return fmt.Errorf("viewport: %w", err)
	}
	in := v.SafeInsets
	for _, x := range []float64{in.Top, in.Left, in.Bottom, in.Right} {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: viewport insets %+v", geom.ErrInvalidGeometry, in)
		}
	}
	return nil
}

// UsableRect is the viewport minus safe insets minus margin on every side.
func (v Viewport) UsableRect(margin float64) geom.Rect {
	in := v.SafeInsets
	return geom.RectXYWH(
		in.Left+margin,
		in.Top+margin,
		v.Size.Width-in.Left-in.Right-2*margin,
		v.Size.Height-in.Top-in.Bottom-2*margin,
	)
}

// ComputeCropFrame sizes the largest rectangle of aspectRatio (square when 0)
// that fits the usable area and centers it there.
func ComputeCropFrame(viewport Viewport, aspectRatio, margin float64) (CropFrame, error) {
	if err := viewport.Validate(); err != nil {
		return CropFrame{}, err
	}
	if aspectRatio < 0 || math.IsNaN(aspectRatio) || math.IsInf(aspectRatio, 0) {
		return CropFrame{}, fmt.Errorf("%w: aspect ratio %g", geom.ErrInvalidGeometry, aspectRatio)
	}
	if margin < 0 || math.IsNaN(margin) {
		return CropFrame{}, fmt.Errorf("%w: margin %g", geom.ErrInvalidGeometry, margin)
	}

	usable := viewport.UsableRect(margin)
	if err := usable.Size.Validate(); err != nil {
		return CropFrame{}, fmt.Errorf("usable area: %w", err)
	}

	var w, h float64
	if aspectRatio == 0 {
		w = math.Min(usable.Size.Width, usable.Size.Height)
		h = w
	} else {
		w = math.Min(usable.Size.Width, usable.Size.Height*aspectRatio)
		h = w / aspectRatio
	}

	c := usable.Center()
	return CropFrame{
		Rect:        geom.RectXYWH(c.X-w/2, c.Y-h/2, w, h),
		AspectRatio: aspectRatio,
	}, nil
}
