package layout

import (
	"fmt"

	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/source"
)

// DisplayGeometry is the unzoomed layout of the image inside the viewport.
type DisplayGeometry struct {
	BaseSize geom.Size `json:"base_size" yaml:"base_size"`
}

// ComputeBaseDisplaySize aspect-fits an image of imagePixelSize into
// outerSize: the result is fully contained and matches outerSize exactly in
// the binding dimension.
func ComputeBaseDisplaySize(imagePixelSize, outerSize geom.Size) (geom.Size, error) {
	if err := imagePixelSize.Validate(); err != nil {
		return geom.Size{}, fmt.Errorf("image pixel size: %w", err)
	}
	if err := outerSize.Validate(); err != nil {
		return geom.Size{}, fmt.Errorf("outer size: %w", err)
	}

	imageAspect := imagePixelSize.Aspect()
	if imageAspect > outerSize.Aspect() {
		// Width binds
		return geom.Sz(outerSize.Width, outerSize.Width/imageAspect), nil
	}
	return geom.Sz(outerSize.Height*imageAspect, outerSize.Height), nil
}

// ComputeDisplayGeometry fits the upright source into the full viewport.
func ComputeDisplayGeometry(src source.ImageSource, viewport Viewport) (DisplayGeometry, error) {
	if err := src.Validate(); err != nil {
		return DisplayGeometry{}, err
	}
	base, err := ComputeBaseDisplaySize(src.PixelSize(), viewport.Size)
	if err != nil {
		return DisplayGeometry{}, err
	}
	return DisplayGeometry{BaseSize: base}, nil
}
