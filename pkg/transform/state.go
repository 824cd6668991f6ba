// Package transform owns the live (scale, offset) pair of a crop session: the
// minimum-scale rule, the clamp solver and the application of gesture deltas.
//
// Offsets are measured in viewport units from the position where the scaled
// image is centered in the viewport. Scale is relative to the base display
// size produced by the fit calculator.
package transform

import (
	"fmt"
	"math"

	"github.com/menta2k/cropframe/pkg/geom"
)

// Default tuning constants.
const (
	DefaultMarginFactor = 1.2
	DefaultEpsilon      = 0.05
	DefaultHardMin      = 0.5
	DefaultHardMax      = 5.0
)

// State is the user-controlled transform of the displayed image.
type State struct {
	Scale  float64     `json:"scale" yaml:"scale"`
	Offset geom.Vector `json:"offset" yaml:"offset"`
}

func (s State) String() string {
	return fmt.Sprintf("scale=%g offset=%v", s.Scale, s.Offset)
}

// MinScale is the smallest scale at which base*scale covers frame in both
// axes.
func MinScale(base, frame geom.Size) float64 {
	return math.Max(frame.Width/base.Width, frame.Height/base.Height)
}

// InitParams tunes the starting scale of a session.
type InitParams struct {
	// MarginFactor multiplies the minimum scale to leave pan headroom.
	MarginFactor float64 `json:"margin_factor" yaml:"margin_factor"`
	// Epsilon is the smallest headroom added to the minimum scale.
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`
}

// DefaultInitParams returns the stock headroom settings.
func DefaultInitParams() InitParams {
	return InitParams{MarginFactor: DefaultMarginFactor, Epsilon: DefaultEpsilon}
}

// Initial returns the starting state for a session: a scale above minScale
// with the image centered.
func Initial(minScale float64, p InitParams) State {
	return State{
		Scale:  math.Max(minScale*p.MarginFactor, minScale+p.Epsilon),
		Offset: geom.Vector{},
	}
}
