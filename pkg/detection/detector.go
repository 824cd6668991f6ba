package detection

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/cropframe/pkg/client"
	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/processing"
	"github.com/menta2k/cropframe/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt is the default prompt for subject detection
const DefaultPrompt = `You are an image subject locator.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (≤ 20 words)",
  "tags": ["tag1", "tag2", "tag3", "tag4", "tag5"]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- The box should tightly include the visually dominant subject (prefer faces, then people/animals/vehicles; else the most salient object).
- cx, cy is the point a square crop should be centered on (for people: the face).
- Description must be brief and factual. Do not guess real identities.
- Tags: lowercase, concise, no punctuation or duplicates.
- If no subject is found, return:
  {
    "primary":{"label":"none","confidence":0.0,"box":{"x":0.25,"y":0.25,"w":0.50,"h":0.50},"cx":0.5,"cy":0.5},
    "description":"generic scene",
    "tags":["generic","scene"]
  }
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Focuser finds the point of an upright image a crop should center on, in
// normalized [0,1] coordinates.
type Focuser interface {
	Focus(ctx context.Context, img image.Image) (geom.Point, error)
}

// Center is the focus point used when nothing better is known.
var Center = geom.Pt(0.5, 0.5)

// Detector handles image subject detection using vision models
type Detector struct {
	client client.VisionClient
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient) *Detector {
	return &Detector{client: client}
}

// DetectSubject analyzes an image and detects the primary subject
func (d *Detector) DetectSubject(ctx context.Context, model, imageB64 string) (*types.AnalysisResult, error) {
	result, err := d.DetectSubjectWithPrompt(ctx, model, imageB64, DefaultPrompt)
	if err != nil {
		return nil, err
	}
	return markFallback(result), nil
}

// DetectSubjectWithPrompt analyzes an image with a custom prompt
func (d *Detector) DetectSubjectWithPrompt(ctx context.Context, model, imageB64, prompt string) (*types.AnalysisResult, error) {
	result, err := d.client.AnalyzeImage(ctx, model, prompt, imageB64)
	if err != nil {
		return nil, err
	}

	result.Primary.Box = normalizeBox(result.Primary.Box)
	result.Primary.Cx = geom.Clamp(result.Primary.Cx, 0, 1)
	result.Primary.Cy = geom.Clamp(result.Primary.Cy, 0, 1)
	result.Tags = normalizeTags(result.Tags)
	return result, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, model, imageB64 string) (string, error) {
	return d.client.SimpleQuery(ctx, model, SimpleTestPrompt, imageB64)
}

// markFallback turns placeholder answers into the "none" label so callers
// only have to check one thing.
func markFallback(result *types.AnalysisResult) *types.AnalysisResult {
	if strings.EqualFold(result.Primary.Label, "none") {
		result.Primary.Label = "none"
		return result
	}

	fallbackIndicators := []string{"unclear", "empty", "parse", "error", "fallback", "non-json", "generic"}
	label := strings.ToLower(result.Primary.Label)
	desc := strings.ToLower(result.Description)
	for _, indicator := range fallbackIndicators {
		if strings.Contains(label, indicator) || strings.Contains(desc, indicator) {
			result.Primary.Label = "none"
			result.Primary.Confidence = 0
			break
		}
	}
	return result
}

// ModelFocuser asks a vision model where the subject is
type ModelFocuser struct {
	detector  *Detector
	processor *processing.Processor
	config    ModelFocuserConfig
}

// ModelFocuserConfig controls how the image is sent to the model
type ModelFocuserConfig struct {
	Model string
	// SendSize is the longest side of the image sent to the model.
	SendSize int
	// SendFormat is jpg or png.
	SendFormat  string
	SendQuality int
	// MinConfidence below which the answer is ignored and Center returned.
	MinConfidence float64
}

// DefaultModelFocuserConfig returns defaults suited to llava-class models
func DefaultModelFocuserConfig(model string) ModelFocuserConfig {
	return ModelFocuserConfig{
		Model:         model,
		SendSize:      768,
		SendFormat:    "jpg",
		SendQuality:   85,
		MinConfidence: 0.2,
	}
}

// NewModelFocuser creates a focuser backed by a vision client
func NewModelFocuser(c client.VisionClient, config ModelFocuserConfig) *ModelFocuser {
	return &ModelFocuser{
		detector:  NewDetector(c),
		processor: processing.NewProcessor(),
		config:    config,
	}
}

// Focus returns the model's crop center, or Center when the model found no
// subject or is not confident.
func (f *ModelFocuser) Focus(ctx context.Context, img image.Image) (geom.Point, error) {
	b64, err := f.processor.PrepareImageForModel(img, f.config.SendFormat, f.config.SendSize, f.config.SendQuality)
	if err != nil {
		return Center, fmt.Errorf("failed to prepare image: %w", err)
	}

	result, err := f.detector.DetectSubject(ctx, f.config.Model, b64)
	if err != nil {
		return Center, fmt.Errorf("subject detection failed: %w", err)
	}
	return FocusPoint(result, f.config.MinConfidence), nil
}

// FocusPoint picks the crop center from a detection result: the model's
// center when it lies inside the box, the box center otherwise.
func FocusPoint(result *types.AnalysisResult, minConfidence float64) geom.Point {
	if result.Fallback() || result.Primary.Confidence < minConfidence {
		return Center
	}
	p := result.Primary
	if p.Box.Empty() {
		return geom.Pt(p.Cx, p.Cy)
	}
	inside := p.Cx >= p.Box.X && p.Cx <= p.Box.X+p.Box.W && p.Cy >= p.Box.Y && p.Cy <= p.Box.Y+p.Box.H
	if inside && (p.Cx != 0 || p.Cy != 0) {
		return geom.Pt(p.Cx, p.Cy)
	}
	return p.Box.Center()
}

// normalizeBox clamps the box into the unit square
func normalizeBox(b types.Box) types.Box {
	x := geom.Clamp(b.X, 0, 1)
	y := geom.Clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: geom.Clamp(b.W, 0, 1-x),
		H: geom.Clamp(b.H, 0, 1-y),
	}
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
