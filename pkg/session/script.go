package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/layout"
	"github.com/menta2k/cropframe/pkg/transform"
)

// ErrInvalidScript is returned for scripts that cannot be parsed or contain
// an empty step.
var ErrInvalidScript = errors.New("invalid gesture script")

// Format is a script encoding.
type Format string

// Script formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Step is one scripted interaction. Exactly one field is set.
type Step struct {
	Sample   *transform.Sample `json:"sample,omitempty" yaml:"sample,omitempty"`
	Viewport *layout.Viewport  `json:"viewport,omitempty" yaml:"viewport,omitempty"`
	Focus    *geom.Point       `json:"focus,omitempty" yaml:"focus,omitempty"`
}

func (st Step) validate() error {
	n := 0
	for _, set := range []bool{st.Sample != nil, st.Viewport != nil, st.Focus != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: step must set exactly one of sample, viewport, focus", ErrInvalidScript)
	}
	return nil
}

// Script is a recorded sequence of interactions replayed against a session.
type Script struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

// ParseScript decodes a script in the given format.
func ParseScript(r io.Reader, format Format) (Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Script{}, fmt.Errorf("failed to read script: %w", err)
	}

	var sc Script
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return Script{}, fmt.Errorf("%w: %v", ErrInvalidScript, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &sc); err != nil {
			return Script{}, fmt.Errorf("%w: %v", ErrInvalidScript, err)
		}
	default:
		return Script{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidScript, format)
	}

	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			return Script{}, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return sc, nil
}

// LoadScript reads a script file, picking the format from its extension.
func LoadScript(path string) (Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return Script{}, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()

	return ParseScript(f, FormatForPath(path))
}

// FormatForPath maps .json to JSON and everything else to YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Replay applies every step in order and stops at the first error.
func (sc Script) Replay(s *Session) error {
	for i, st := range sc.Steps {
		var err error
		switch {
		case st.Sample != nil:
			_, err = s.Apply(*st.Sample)
		case st.Viewport != nil:
			err = s.SetViewport(*st.Viewport)
		case st.Focus != nil:
			err = s.FocusOn(*st.Focus)
		default:
			err = ErrInvalidScript
		}
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Append adds steps to the end of the script.
func (sc *Script) Append(steps ...Step) {
	sc.Steps = append(sc.Steps, steps...)
}

// Pinch returns a complete pinch gesture ramping from 1 to magnification in
// the given number of changed samples.
func Pinch(magnification float64, samples int) []Step {
	if samples < 1 {
		samples = 1
	}
	steps := []Step{sampleStep(transform.PinchSample(transform.Began, 1))}
	for i := 1; i <= samples; i++ {
		v := 1 + (magnification-1)*float64(i)/float64(samples)
		steps = append(steps, sampleStep(transform.PinchSample(transform.Changed, v)))
	}
	return append(steps, sampleStep(transform.PinchSample(transform.Ended, magnification)))
}

// Drag returns a complete drag gesture moving by (dx, dy) in the given number
// of changed samples.
func Drag(dx, dy float64, samples int) []Step {
	if samples < 1 {
		samples = 1
	}
	steps := []Step{sampleStep(transform.DragSample(transform.Began, 0, 0))}
	for i := 1; i <= samples; i++ {
		k := float64(i) / float64(samples)
		steps = append(steps, sampleStep(transform.DragSample(transform.Changed, dx*k, dy*k)))
	}
	return append(steps, sampleStep(transform.DragSample(transform.Ended, dx, dy)))
}

// FocusStep returns a step panning to the normalized image point p.
func FocusStep(p geom.Point) Step {
	return Step{Focus: &p}
}

func sampleStep(s transform.Sample) Step {
	return Step{Sample: &s}
}
