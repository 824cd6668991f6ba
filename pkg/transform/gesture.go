package transform

import (
	"fmt"

	"github.com/menta2k/cropframe/pkg/geom"
)

// Kind names the gesture that produced a sample.
type Kind string

// Gesture kinds.
const (
	Pinch Kind = "pinch"
	Drag  Kind = "drag"
)

// Phase marks where a sample sits in its continuous gesture.
type Phase string

// Gesture phases.
const (
	Began   Phase = "began"
	Changed Phase = "changed"
	Ended   Phase = "ended"
)

// Sample is one gesture event. Value is the pinch magnification relative to
// the start of the gesture; Translation is the drag distance from the start
// of the gesture.
type Sample struct {
	Kind        Kind        `json:"kind" yaml:"kind"`
	Phase       Phase       `json:"phase" yaml:"phase"`
	Value       float64     `json:"value,omitempty" yaml:"value,omitempty"`
	Translation geom.Vector `json:"translation,omitempty" yaml:"translation,omitempty"`
}

// PinchSample builds a pinch sample.
func PinchSample(phase Phase, magnification float64) Sample {
	return Sample{Kind: Pinch, Phase: phase, Value: magnification}
}

// DragSample builds a drag sample.
func DragSample(phase Phase, dx, dy float64) Sample {
	return Sample{Kind: Drag, Phase: phase, Translation: geom.Vec(dx, dy)}
}

// Validate checks kind and phase.
func (s Sample) Validate() error {
	switch s.Kind {
	case Pinch, Drag:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSample, s.Kind)
	}
	switch s.Phase {
	case Began, Changed, Ended:
	default:
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidSample, s.Phase)
	}
	return nil
}

func (s Sample) String() string {
	if s.Kind == Pinch {
		return fmt.Sprintf("pinch/%s %g", s.Phase, s.Value)
	}
	return fmt.Sprintf("%s/%s %v", s.Kind, s.Phase, s.Translation)
}
