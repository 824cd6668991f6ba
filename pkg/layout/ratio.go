package layout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/menta2k/cropframe/pkg/geom"
)

// AspectRatio represents a named crop frame shape
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Common aspect ratios
var (
	Square     = AspectRatio{1, 1, "square"}
	Portrait   = AspectRatio{3, 4, "portrait"}
	Landscape  = AspectRatio{4, 3, "landscape"}
	Widescreen = AspectRatio{16, 9, "widescreen"}
	Instagram  = AspectRatio{4, 5, "instagram"}
	Story      = AspectRatio{9, 16, "story"}
)

// CommonAspectRatios returns a list of commonly used aspect ratios
func CommonAspectRatios() []AspectRatio {
	return []AspectRatio{Square, Portrait, Landscape, Widescreen, Instagram, Story}
}

// Value returns width/height, or 0 for the zero AspectRatio.
func (a AspectRatio) Value() float64 {
	if a.Width <= 0 || a.Height <= 0 {
		return 0
	}
	return float64(a.Width) / float64(a.Height)
}

func (a AspectRatio) String() string {
	if a.Name != "" {
		return a.Name
	}
	return fmt.Sprintf("%d:%d", a.Width, a.Height)
}

// ParseAspectRatio accepts a preset name ("instagram"), a "W:H" pair or a
// decimal ratio ("1.5"). The empty string and "free" mean unconstrained and
// yield 0.
func ParseAspectRatio(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "free" || s == "none" {
		return 0, nil
	}

	for _, ar := range CommonAspectRatios() {
		if ar.Name == s {
			return ar.Value(), nil
		}
	}

	if w, h, ok := strings.Cut(s, ":"); ok {
		wi, err1 := strconv.Atoi(strings.TrimSpace(w))
		hi, err2 := strconv.Atoi(strings.TrimSpace(h))
		if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
			return 0, fmt.Errorf("%w: aspect ratio %q", geom.ErrInvalidGeometry, s)
		}
		return float64(wi) / float64(hi), nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: aspect ratio %q", geom.ErrInvalidGeometry, s)
	}
	return v, nil
}
