package cropper

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/mapper"
	"github.com/menta2k/cropframe/pkg/source"
	"github.com/menta2k/cropframe/pkg/transform"
)

// ErrDegenerateCropRegion is returned when the crop frame maps to a source
// rectangle with no pixels in it.
var ErrDegenerateCropRegion = errors.New("degenerate crop region")

// Extractor turns a finished crop session into output pixels
type Extractor struct {
	config CropConfig
	filter imaging.ResampleFilter
}

// CropConfig holds configuration for extraction
type CropConfig struct {
	// Width and Height are the fixed output size; zero disables resizing.
	Width  int
	Height int
	// AllowUpscaling lets a crop smaller than the output size be enlarged.
	AllowUpscaling bool
	// Filter names the resampling filter (see ParseFilter); empty means
	// Lanczos.
	Filter string
}

// New creates an Extractor that returns crops at source resolution
func New() *Extractor {
	return &Extractor{
		config: CropConfig{AllowUpscaling: true},
		filter: imaging.Lanczos,
	}
}

// NewWithConfig creates an Extractor with custom configuration. An unknown
// filter name falls back to Lanczos.
func NewWithConfig(config CropConfig) *Extractor {
	filter, err := ParseFilter(config.Filter)
	if err != nil {
		filter = imaging.Lanczos
	}
	return &Extractor{config: config, filter: filter}
}

// Config returns the extractor configuration.
func (e *Extractor) Config() CropConfig {
	return e.config
}

// Plan is an immutable snapshot of everything extraction needs from a
// session. It is passed by value so extraction can run on another goroutine.
type Plan struct {
	Frame    geom.Rect       `json:"frame"`
	State    transform.State `json:"state"`
	BaseSize geom.Size       `json:"base_size"`
	Viewport geom.Size       `json:"viewport"`
}

// SourceRect maps the plan's crop frame into the pixels of an upright image of
// the given size.
func (p Plan) SourceRect(pixelSize geom.Size) geom.Rect {
	return mapper.ViewportRectToSourcePixels(p.Frame, p.State, p.BaseSize, pixelSize, p.Viewport)
}

// PixelRect rounds r to whole pixels.
func PixelRect(r geom.Rect) image.Rectangle {
	return image.Rect(
		int(math.Round(r.MinX())),
		int(math.Round(r.MinY())),
		int(math.Round(r.MaxX())),
		int(math.Round(r.MaxY())),
	)
}

// CropResult contains the result of an extraction
type CropResult struct {
	Image image.Image
	// Region is the cropped rectangle in upright source pixels.
	Region      image.Rectangle
	AspectRatio float64
	Resized     bool
}

// Extract normalizes src to upright pixel order, maps the crop frame into it,
// crops and optionally resizes to the configured output size.
func (e *Extractor) Extract(ctx context.Context, src source.ImageSource, plan Plan) (CropResult, error) {
	if err := src.Validate(); err != nil {
		return CropResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return CropResult{}, err
	}

	// pixel math below assumes row/column order matches the nominal size
	upright := source.Normalize(src)
	bounds := upright.Pixels.Bounds()
	pixelSize := geom.Sz(float64(bounds.Dx()), float64(bounds.Dy()))

	sourceRect := plan.SourceRect(pixelSize)
	region := PixelRect(sourceRect).Intersect(bounds)
	if region.Empty() {
		return CropResult{}, fmt.Errorf("%w: frame %v maps to %v in %v image",
			ErrDegenerateCropRegion, plan.Frame, sourceRect, pixelSize)
	}

	cropped := imaging.Crop(upright.Pixels, region)
	result := CropResult{
		Image:       cropped,
		Region:      region,
		AspectRatio: float64(region.Dx()) / float64(region.Dy()),
	}

	if e.config.Width <= 0 || e.config.Height <= 0 {
		return result, nil
	}
	if region.Dx() == e.config.Width && region.Dy() == e.config.Height {
		return result, nil
	}
	if !e.config.AllowUpscaling && (region.Dx() < e.config.Width || region.Dy() < e.config.Height) {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return CropResult{}, err
	}

	// the frame already has the output ratio; Fill only absorbs rounding
	result.Image = imaging.Fill(cropped, e.config.Width, e.config.Height, imaging.Center, e.filter)
	result.Resized = true
	return result, nil
}

var filters = map[string]imaging.ResampleFilter{
	"nearest":    imaging.NearestNeighbor,
	"box":        imaging.Box,
	"linear":     imaging.Linear,
	"catmullrom": imaging.CatmullRom,
	"mitchell":   imaging.MitchellNetravali,
	"lanczos":    imaging.Lanczos,
}

// ParseFilter returns the resampling filter with the given name. The empty
// string selects Lanczos.
func ParseFilter(name string) (imaging.ResampleFilter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return imaging.Lanczos, nil
	}
	f, ok := filters[name]
	if !ok {
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter %q", name)
	}
	return f, nil
}
