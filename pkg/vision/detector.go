package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/cropframe/pkg/geom"
)

// SaliencyFocuser locates the most salient region of an image using local
// edge strength and brightness. It needs no model and is deterministic.
type SaliencyFocuser struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for saliency detection
type DetectionConfig struct {
	// AnalysisSize is the longest side of the downscaled analysis image.
	AnalysisSize   int
	ContrastWeight float64
	ColorWeight    float64
	// WindowRatio is the search window side relative to the shorter side.
	WindowRatio float64
	// CenterBias in [0,1] penalizes windows far from the image center.
	CenterBias float64
	// MinScore below which the image counts as featureless.
	MinScore float64
}

// New creates a SaliencyFocuser with default configuration
func New() *SaliencyFocuser {
	return &SaliencyFocuser{
		config: DetectionConfig{
			AnalysisSize:   128,
			ContrastWeight: 0.7,
			ColorWeight:    0.3,
			WindowRatio:    0.25,
			CenterBias:     0.2,
			MinScore:       0.005,
		},
	}
}

// NewWithConfig creates a SaliencyFocuser with custom configuration
func NewWithConfig(config DetectionConfig) *SaliencyFocuser {
	if config.AnalysisSize <= 0 {
		config.AnalysisSize = 128
	}
	if config.WindowRatio <= 0 || config.WindowRatio > 1 {
		config.WindowRatio = 0.25
	}
	return &SaliencyFocuser{config: config}
}

// Region represents a rectangular region of interest in normalized
// coordinates
type Region struct {
	Rect  geom.Rect
	Score float64
}

// Center returns the center point of the region
func (r Region) Center() geom.Point {
	return r.Rect.Center()
}

// Focus returns the normalized center of the most salient window, or the
// image center for featureless images.
func (d *SaliencyFocuser) Focus(ctx context.Context, img image.Image) (geom.Point, error) {
	regions, err := d.DetectSubjects(ctx, img, 1)
	if err != nil {
		return geom.Pt(0.5, 0.5), err
	}
	if len(regions) == 0 {
		return geom.Pt(0.5, 0.5), nil
	}
	return regions[0].Center(), nil
}

// DetectSubjects returns up to limit non-overlapping salient windows, best
// first.
func (d *SaliencyFocuser) DetectSubjects(ctx context.Context, img image.Image, limit int) ([]Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, nil
	}

	small := imaging.Fit(img, d.config.AnalysisSize, d.config.AnalysisSize, imaging.Box)
	saliency := d.SaliencyMap(small)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := small.Bounds().Dx(), small.Bounds().Dy()
	win := int(math.Max(1, math.Round(d.config.WindowRatio*float64(min(w, h)))))
	integral := newIntegral(saliency, w, h)

	step := max(1, win/8)
	var candidates []Region
	for y := 0; y+win <= h; y += step {
		for x := 0; x+win <= w; x += step {
			mean := integral.sum(x, y, win, win) / float64(win*win)
			if mean < d.config.MinScore {
				continue
			}
			cx := (float64(x) + float64(win)/2) / float64(w)
			cy := (float64(y) + float64(win)/2) / float64(h)
			dist := math.Hypot(cx-0.5, cy-0.5) / math.Sqrt2
			candidates = append(candidates, Region{
				Rect:  geom.RectXYWH(float64(x)/float64(w), float64(y)/float64(h), float64(win)/float64(w), float64(win)/float64(h)),
				Score: mean * (1 - d.config.CenterBias*dist),
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	var picked []Region
	for _, c := range candidates {
		if limit > 0 && len(picked) == limit {
			break
		}
		overlaps := false
		for _, p := range picked {
			if intersects(p.Rect, c.Rect) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			picked = append(picked, c)
		}
	}
	return picked, nil
}

// SaliencyMap scores every pixel by its color difference to its 8
// neighbours plus its brightness. Border pixels score zero.
func (d *SaliencyFocuser) SaliencyMap(img *image.NRGBA) [][]float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	m := make([][]float64, h)
	for i := range m {
		m[i] = make([]float64, w)
	}

	at := func(x, y int) (float64, float64, float64) {
		i := img.PixOffset(x+b.Min.X, y+b.Min.Y)
		p := img.Pix[i : i+3 : i+3]
		return float64(p[0]), float64(p[1]), float64(p[2])
	}

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			r1, g1, b1 := at(x, y)

			var edge float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					r2, g2, b2 := at(x+dx, y+dy)
					edge += math.Sqrt((r1-r2)*(r1-r2) + (g1-g2)*(g1-g2) + (b1-b2)*(b1-b2))
				}
			}
			edge /= 8 * 255 * math.Sqrt(3)
			brightness := (r1 + g1 + b1) / (3 * 255)

			m[y][x] = d.config.ContrastWeight*edge + d.config.ColorWeight*brightness
		}
	}
	return m
}

// integral is a summed-area table over a saliency map
type integral struct {
	w, h int
	s    []float64
}

func newIntegral(m [][]float64, w, h int) integral {
	s := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += m[y][x]
			s[(y+1)*(w+1)+x+1] = s[y*(w+1)+x+1] + row
		}
	}
	return integral{w: w, h: h, s: s}
}

func (in integral) sum(x, y, w, h int) float64 {
	stride := in.w + 1
	return in.s[(y+h)*stride+x+w] - in.s[y*stride+x+w] - in.s[(y+h)*stride+x] + in.s[y*stride+x]
}

func intersects(a, b geom.Rect) bool {
	return a.MinX() < b.MaxX() && b.MinX() < a.MaxX() && a.MinY() < b.MaxY() && b.MinY() < a.MaxY()
}
