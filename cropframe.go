// Package cropframe provides a bounded pan-zoom crop engine.
//
// A crop session shows an image behind a fixed crop frame. The user pinches
// and drags the image, and the engine guarantees the frame is always fully
// covered by image content. On confirm the frame is mapped back to source
// pixels, with EXIF orientation applied, and the region is extracted and
// optionally resized.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		"github.com/menta2k/cropframe"
//		"github.com/menta2k/cropframe/pkg/transform"
//		"github.com/rs/zerolog"
//	)
//
//	func main() {
//		engine, err := cropframe.NewEngine(cropframe.DefaultConfig(), zerolog.Nop())
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		src, err := engine.LoadSource(context.Background(), "photo.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		s, err := engine.NewSession(src, engine.DefaultViewport(), "")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		s.Apply(transform.PinchSample(transform.Began, 1))
//		s.Apply(transform.PinchSample(transform.Changed, 1.5))
//		s.Apply(transform.PinchSample(transform.Ended, 1.5))
//
//		result, err := s.Confirm(context.Background())
//		if err != nil {
//			log.Fatal(err)
//		}
//		if err := engine.Save(result.Image, "photo_square.jpg"); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package ties together:
//
// 1. Layout (pkg/layout): fit calculation and crop frame geometry
// 2. Transform (pkg/transform): scale and offset tracking with the clamp solver
// 3. Session (pkg/session): the interactive lifecycle up to confirm or cancel
// 4. Cropper (pkg/cropper): coordinate mapping and pixel extraction
//
// Focus detection (pkg/vision for saliency, pkg/detection with pkg/ollama or
// pkg/llamacpp for vision models) can pan a fresh session onto the subject.
package cropframe

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/rs/zerolog"

	"github.com/menta2k/cropframe/internal/config"
	"github.com/menta2k/cropframe/internal/utils"
	"github.com/menta2k/cropframe/pkg/cropper"
	"github.com/menta2k/cropframe/pkg/detection"
	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/layout"
	"github.com/menta2k/cropframe/pkg/llamacpp"
	"github.com/menta2k/cropframe/pkg/ollama"
	"github.com/menta2k/cropframe/pkg/processing"
	"github.com/menta2k/cropframe/pkg/session"
	"github.com/menta2k/cropframe/pkg/source"
	"github.com/menta2k/cropframe/pkg/vision"
)

// Version of the cropframe library
const Version = "1.0.0"

// DefaultConfig returns the stock configuration
func DefaultConfig() *config.Config {
	return config.Default()
}

// LoadConfig reads a JSON or YAML configuration file
func LoadConfig(path string) (*config.Config, error) {
	return config.LoadFromFile(path)
}

// Engine builds sessions, focusers and outputs from one configuration
type Engine struct {
	config    *config.Config
	processor *processing.Processor
	extractor *cropper.Extractor
	focuser   detection.Focuser
	logger    zerolog.Logger
}

// NewEngine validates cfg and wires the configured focus backend
func NewEngine(cfg *config.Config, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config:    cfg,
		processor: processing.NewProcessor(),
		extractor: cropper.NewWithConfig(cfg.CropConfig()),
		logger:    logger,
	}

	switch cfg.Focus.Backend {
	case "saliency":
		e.focuser = vision.New()
	case "ollama":
		client, err := ollama.NewClient(cfg.Focus.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		if cfg.Focus.TimeoutSeconds > 0 {
			client = client.WithTimeout(cfg.FocusTimeout())
		}
		e.focuser = detection.NewModelFocuser(client, modelFocuserConfig(cfg))
	case "llamacpp":
		client, err := llamacpp.NewClient(cfg.Focus.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		if cfg.Focus.TimeoutSeconds > 0 {
			client = client.WithTimeout(cfg.FocusTimeout())
		}
		e.focuser = detection.NewModelFocuser(client, modelFocuserConfig(cfg))
	}

	return e, nil
}

func modelFocuserConfig(cfg *config.Config) detection.ModelFocuserConfig {
	return detection.ModelFocuserConfig{
		Model:         cfg.Focus.Model,
		SendSize:      cfg.Focus.SendSize,
		SendFormat:    "jpg",
		SendQuality:   cfg.Focus.SendQuality,
		MinConfidence: cfg.Focus.MinConfidence,
	}
}

// WithFocuser replaces the configured focus backend
func (e *Engine) WithFocuser(f detection.Focuser) *Engine {
	e.focuser = f
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() *config.Config {
	return e.config
}

// LoadSource loads an image from a path or http(s) URL, keeping its raw
// pixel order and orientation tag
func (e *Engine) LoadSource(ctx context.Context, ref string) (source.ImageSource, error) {
	return e.processor.LoadSourceSmart(ctx, ref)
}

// DecodeSource decodes an in-memory image
func (e *Engine) DecodeSource(data []byte) (source.ImageSource, error) {
	return e.processor.DecodeSource(data)
}

// DefaultViewport is the configured viewport for non-interactive crops
func (e *Engine) DefaultViewport() layout.Viewport {
	return layout.Viewport{Size: geom.Sz(e.config.Session.ViewportWidth, e.config.Session.ViewportHeight)}
}

// SessionOptions returns the configured session options. A non-empty aspect
// overrides the configured aspect ratio.
func (e *Engine) SessionOptions(aspect string) ([]session.Option, error) {
	if aspect == "" {
		aspect = e.config.Session.AspectRatio
	}
	ratio, err := layout.ParseAspectRatio(aspect)
	if err != nil {
		return nil, err
	}
	limits, err := e.config.Limits()
	if err != nil {
		return nil, err
	}

	return []session.Option{
		session.WithAspectRatio(ratio),
		session.WithMargin(e.config.Session.Margin),
		session.WithInitParams(e.config.InitParams()),
		session.WithLimits(limits),
		session.WithExtractor(e.extractor),
		session.WithLogger(e.logger),
	}, nil
}

// NewSession starts a crop session for src with the configured options
func (e *Engine) NewSession(src source.ImageSource, viewport layout.Viewport, aspect string) (*session.Session, error) {
	opts, err := e.SessionOptions(aspect)
	if err != nil {
		return nil, err
	}
	return session.New(src, viewport, opts...)
}

// HasFocuser reports whether a focus backend is configured
func (e *Engine) HasFocuser() bool {
	return e.focuser != nil
}

// Detect returns the subject point of the upright image, or the center when
// no backend is configured
func (e *Engine) Detect(ctx context.Context, src source.ImageSource) (geom.Point, error) {
	if e.focuser == nil {
		return detection.Center, nil
	}
	return e.focuser.Focus(ctx, source.Normalize(src).Pixels)
}

// AutoFocus detects the subject of the session image and pans onto it. A
// failing backend leaves the session centered and returns the error.
func (e *Engine) AutoFocus(ctx context.Context, s *session.Session) (geom.Point, error) {
	p, err := e.Detect(ctx, s.Source())
	if err != nil {
		e.logger.Warn().Err(err).Msg("focus detection failed, keeping center")
		return detection.Center, err
	}
	if err := s.FocusOn(p); err != nil {
		return p, err
	}
	return p, nil
}

// Encode writes img in the configured output format
func (e *Engine) Encode(w io.Writer, img image.Image) error {
	o := e.config.Output
	return e.processor.EncodeImage(w, img, o.Format, o.Quality, o.Lossless)
}

// ContentType is the MIME type of Encode's output
func (e *Engine) ContentType() string {
	return processing.ContentType(e.config.Output.Format)
}

// Save writes img to path in the configured output format
func (e *Engine) Save(img image.Image, path string) error {
	o := e.config.Output
	return e.processor.SaveImage(img, path, o.Format, o.Quality, o.Lossless)
}

// OutputPath returns where the crop of input is written
func (e *Engine) OutputPath(input string) string {
	o := e.config.Output
	return utils.OutputPath(input, o.Dir, o.Prefix, o.Suffix, processing.NormalizeFormat(o.Format))
}

// Overlay draws the session's mapped source rectangle and focus point on the
// upright image
func (e *Engine) Overlay(s *session.Session, focus *geom.Point) image.Image {
	upright := source.Normalize(s.Source()).Pixels
	return e.processor.CreateDebugOverlay(upright, s.Snapshot().SourceRect, focus)
}

// CropFile runs a non-interactive crop of input: a fresh session on the
// default viewport, auto focus when configured, confirm and save. It returns
// the output path.
func (e *Engine) CropFile(ctx context.Context, input string) (string, error) {
	src, err := e.LoadSource(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", input, err)
	}

	s, err := e.NewSession(src, e.DefaultViewport(), "")
	if err != nil {
		return "", fmt.Errorf("failed to start session for %s: %w", input, err)
	}

	if e.HasFocuser() {
		if _, err := e.AutoFocus(ctx, s); errors.Is(err, context.Canceled) {
			return "", err
		}
	}

	result, err := s.Confirm(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to crop %s: %w", input, err)
	}

	if err := utils.EnsureDir(e.config.Output.Dir); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	out := e.OutputPath(input)
	if err := e.Save(result.Image, out); err != nil {
		return "", err
	}

	e.logger.Info().
		Str("input", input).
		Str("output", out).
		Str("region", result.Region.String()).
		Msg("cropped")
	return out, nil
}
