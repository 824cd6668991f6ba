package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/menta2k/cropframe/pkg/geom"
)

// ErrInvalidSample is returned for samples with an unknown kind or phase.
var ErrInvalidSample = errors.New("invalid gesture sample")

// Policy selects how the scale is bounded while a pinch is in progress.
type Policy int

const (
	// Coverage never lets the scale drop under the minimum, even mid-gesture.
	Coverage Policy = iota
	// HardRange bounds the scale by fixed constants during the gesture; the
	// minimum is enforced again when the gesture ends.
	HardRange
)

func (p Policy) String() string {
	switch p {
	case Coverage:
		return "coverage"
	case HardRange:
		return "hard-range"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps "coverage" and "hard-range" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "coverage":
		return Coverage, nil
	case "hard-range", "hard", "range":
		return HardRange, nil
	}
	return Coverage, fmt.Errorf("unknown scale policy %q", s)
}

// Limits configures the live scale clamping.
type Limits struct {
	Policy  Policy
	HardMin float64
	HardMax float64
}

// DefaultLimits returns the coverage policy with the stock hard range.
func DefaultLimits() Limits {
	return Limits{Policy: Coverage, HardMin: DefaultHardMin, HardMax: DefaultHardMax}
}

// Geometry bundles the derived inputs the clamp solver needs.
type Geometry struct {
	Base     geom.Size
	Frame    geom.Rect
	Viewport geom.Size
}

// MinScale is MinScale(Base, Frame.Size).
func (g Geometry) MinScale() float64 {
	return MinScale(g.Base, g.Frame.Size)
}

// Clamp is Clamp(s, Base, Frame, Viewport).
func (g Geometry) Clamp(s State) State {
	return Clamp(s, g.Base, g.Frame, g.Viewport)
}

// Covers is Covers(s, Base, Frame, Viewport, tol).
func (g Geometry) Covers(s State, tol float64) bool {
	return Covers(s, g.Base, g.Frame, g.Viewport, tol)
}

// Result describes what a sample did.
type Result struct {
	// Dropped is set for samples carrying a non-finite or non-positive value.
	Dropped bool
	// Ended is set when a gesture finished and the state was re-clamped.
	Ended bool
	// Clamped is set when that re-clamp changed the state.
	Clamped bool
}

// Tracker applies gesture samples to a State. Each continuous gesture keeps
// its own baseline: pinches divide by the previous magnification sample,
// drags add the translation to the offset captured when the drag began.
type Tracker struct {
	state  State
	limits Limits

	pinching        bool
	dragging        bool
	lastScaleSample float64
	lastOffset      geom.Vector
}

// NewTracker starts tracking from initial.
func NewTracker(initial State, limits Limits) *Tracker {
	return &Tracker{
		state:           initial,
		limits:          limits,
		lastScaleSample: 1,
		lastOffset:      initial.Offset,
	}
}

// State returns the current transform.
func (t *Tracker) State() State {
	return t.state
}

// Limits returns the scale policy in use.
func (t *Tracker) Limits() Limits {
	return t.limits
}

// Active reports whether any gesture is in progress.
func (t *Tracker) Active() bool {
	return t.pinching || t.dragging
}

// Reset replaces the state and aborts every gesture in progress.
func (t *Tracker) Reset(s State) {
	t.state = s
	t.pinching = false
	t.dragging = false
	t.lastScaleSample = 1
	t.lastOffset = s.Offset
}

// Apply feeds one sample into the tracker.
func (t *Tracker) Apply(s Sample, g Geometry) (Result, error) {
	if err := s.Validate(); err != nil {
		return Result{}, err
	}
	switch s.Kind {
	case Pinch:
		return t.applyPinch(s, g), nil
	default:
		return t.applyDrag(s, g), nil
	}
}

func (t *Tracker) applyPinch(s Sample, g Geometry) Result {
	switch s.Phase {
	case Began:
		t.pinching = true
		t.lastScaleSample = 1
		if validMagnification(s.Value) {
			t.lastScaleSample = s.Value
		}
		return Result{}
	case Changed:
		if !validMagnification(s.Value) {
			return Result{Dropped: true}
		}
		if !t.pinching {
			t.pinching = true
			t.lastScaleSample = 1
		}
		scale := t.state.Scale * (s.Value / t.lastScaleSample)
		t.lastScaleSample = s.Value
		t.state.Scale = t.limitScale(scale, g)
		return Result{}
	default:
		t.pinching = false
		t.lastScaleSample = 1
		return t.end(g)
	}
}

func (t *Tracker) applyDrag(s Sample, g Geometry) Result {
	switch s.Phase {
	case Began:
		t.dragging = true
		t.lastOffset = t.state.Offset
		return Result{}
	case Changed:
		if !finite(s.Translation.DX) || !finite(s.Translation.DY) {
			return Result{Dropped: true}
		}
		if !t.dragging {
			t.dragging = true
			t.lastOffset = t.state.Offset
		}
		t.state.Offset = t.lastOffset.Add(s.Translation)
		return Result{}
	default:
		t.dragging = false
		res := t.end(g)
		t.lastOffset = t.state.Offset
		return res
	}
}

func (t *Tracker) end(g Geometry) Result {
	clamped := g.Clamp(t.state)
	changed := clamped != t.state
	t.state = clamped
	return Result{Ended: true, Clamped: changed}
}

func (t *Tracker) limitScale(scale float64, g Geometry) float64 {
	if t.limits.Policy == HardRange {
		return geom.Clamp(scale, t.limits.HardMin, t.limits.HardMax)
	}
	return math.Max(scale, g.MinScale())
}

func validMagnification(v float64) bool {
	return finite(v) && v > 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
