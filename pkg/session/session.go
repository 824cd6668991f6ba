// Package session drives one interactive crop: it owns the derived layout,
// the live transform and the lifecycle from the first frame to confirm or
// cancel.
//
// A Session is not safe for concurrent use. Hosts that share one across
// goroutines must serialize calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/felixgeelhaar/statekit"
	"github.com/rs/zerolog"

	"github.com/menta2k/cropframe/pkg/cropper"
	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/layout"
	"github.com/menta2k/cropframe/pkg/mapper"
	"github.com/menta2k/cropframe/pkg/source"
	"github.com/menta2k/cropframe/pkg/transform"
)

var (
	// ErrClosed is returned by every mutating call after confirm or cancel.
	ErrClosed = errors.New("session closed")
	// ErrNotReady is returned when an operation is not legal in the current
	// phase.
	ErrNotReady = errors.New("session not ready")
)

// Option configures a Session.
type Option func(*Session)

// WithAspectRatio fixes the crop frame ratio (width/height). Zero gives a
// square frame.
func WithAspectRatio(ratio float64) Option {
	return func(s *Session) { s.aspectRatio = ratio }
}

// WithMargin sets the UI margin kept around the crop frame.
func WithMargin(margin float64) Option {
	return func(s *Session) { s.margin = margin }
}

// WithInitParams tunes the starting zoom headroom.
func WithInitParams(p transform.InitParams) Option {
	return func(s *Session) { s.params = p }
}

// WithLimits selects the live scale policy.
func WithLimits(l transform.Limits) Option {
	return func(s *Session) { s.limits = l }
}

// WithLogger sets the logger used for lifecycle and clamp events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithExtractor sets the extractor used at confirm.
func WithExtractor(e *cropper.Extractor) Option {
	return func(s *Session) { s.extractor = e }
}

// Session is one crop interaction.
type Session struct {
	aspectRatio float64
	margin      float64
	params      transform.InitParams
	limits      transform.Limits
	extractor   *cropper.Extractor
	logger      zerolog.Logger

	src      source.ImageSource
	viewport layout.Viewport
	frame    layout.CropFrame
	display  layout.DisplayGeometry
	tracker  *transform.Tracker

	lc     *lifecycle
	interp *statekit.Interpreter[*lifecycle]
}

// New validates the inputs, derives the crop frame and base display size and
// starts the session in the ready phase. Invalid geometry returns an error
// wrapping geom.ErrInvalidGeometry and no session.
func New(src source.ImageSource, viewport layout.Viewport, opts ...Option) (*Session, error) {
	s := &Session{
		margin:    layout.DefaultMargin,
		params:    transform.DefaultInitParams(),
		limits:    transform.DefaultLimits(),
		extractor: cropper.New(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	frame, display, err := s.derive(src, viewport)
	if err != nil {
		return nil, err
	}
	s.src, s.viewport, s.frame, s.display = src, viewport, frame, display

	s.lc = &lifecycle{logger: s.logger}
	machine, err := newLifecycleMachine(s.lc)
	if err != nil {
		return nil, fmt.Errorf("failed to build session lifecycle: %w", err)
	}
	s.interp = statekit.NewInterpreter(machine)
	lc := s.lc
	s.interp.UpdateContext(func(c **lifecycle) {
		*c = lc
	})
	s.interp.Start()

	s.tracker = transform.NewTracker(s.initialState(), s.limits)
	s.lc.tracker = s.tracker
	s.send(eventInit)

	s.logger.Debug().
		Stringer("image", src.PixelSize()).
		Stringer("frame", s.frame.Rect).
		Stringer("base", s.display.BaseSize).
		Stringer("state", s.tracker.State()).
		Msg("session started")
	return s, nil
}

func (s *Session) derive(src source.ImageSource, viewport layout.Viewport) (layout.CropFrame, layout.DisplayGeometry, error) {
	if err := src.Validate(); err != nil {
		return layout.CropFrame{}, layout.DisplayGeometry{}, err
	}
	frame, err := layout.ComputeCropFrame(viewport, s.aspectRatio, s.margin)
	if err != nil {
		return layout.CropFrame{}, layout.DisplayGeometry{}, fmt.Errorf("crop frame: %w", err)
	}
	display, err := layout.ComputeDisplayGeometry(src, viewport)
	if err != nil {
		return layout.CropFrame{}, layout.DisplayGeometry{}, fmt.Errorf("display geometry: %w", err)
	}
	return frame, display, nil
}

func (s *Session) geometry() transform.Geometry {
	return transform.Geometry{
		Base:     s.display.BaseSize,
		Frame:    s.frame.Rect,
		Viewport: s.viewport.Size,
	}
}

func (s *Session) initialState() transform.State {
	g := s.geometry()
	return g.Clamp(transform.Initial(g.MinScale(), s.params))
}

// Phase returns the lifecycle phase.
func (s *Session) Phase() Phase {
	return Phase(s.interp.State().Value)
}

// State returns the live transform.
func (s *Session) State() transform.State {
	return s.tracker.State()
}

// Frame returns the current crop frame.
func (s *Session) Frame() layout.CropFrame {
	return s.frame
}

// Viewport returns the current viewport.
func (s *Session) Viewport() layout.Viewport {
	return s.viewport
}

// Source returns the image being cropped.
func (s *Session) Source() source.ImageSource {
	return s.src
}

func (s *Session) send(e statekit.EventType) {
	if !s.Phase().accepts(e) {
		return
	}
	s.interp.Send(statekit.Event{Type: e})
}

func (s *Session) open() error {
	if s.Phase().Closed() {
		return fmt.Errorf("%w: %s", ErrClosed, s.Phase())
	}
	return nil
}

// Apply feeds one gesture sample. The session enters the gesturing phase on
// the first live sample and returns to ready once every gesture has ended.
func (s *Session) Apply(sample transform.Sample) (transform.Result, error) {
	if err := s.open(); err != nil {
		return transform.Result{}, err
	}
	res, err := s.tracker.Apply(sample, s.geometry())
	if err != nil {
		return transform.Result{}, err
	}

	if res.Dropped {
		s.logger.Debug().Stringer("sample", sample).Msg("dropped gesture sample")
	}
	if res.Clamped {
		s.logger.Debug().Stringer("state", s.tracker.State()).Msg("clamped transform at gesture end")
	}

	switch {
	case s.tracker.Active() && s.Phase() == PhaseReady:
		s.send(eventBegin)
	case !s.tracker.Active() && s.Phase() == PhaseGesturing:
		s.send(eventEnd)
	}
	return res, nil
}

// abortGestures ends any gesture in progress and re-clamps the state.
func (s *Session) abortGestures(next transform.State) {
	s.tracker.Reset(s.geometry().Clamp(next))
	if s.Phase() == PhaseGesturing {
		s.send(eventAbort)
	}
}

// SetViewport replaces the viewport (rotation, resize, inset change). The
// frame and base size are recomputed from scratch, gestures in progress are
// aborted and the state is clamped to the new geometry. On error nothing
// changes.
func (s *Session) SetViewport(viewport layout.Viewport) error {
	if err := s.open(); err != nil {
		return err
	}
	frame, display, err := s.derive(s.src, viewport)
	if err != nil {
		return err
	}
	s.viewport, s.frame, s.display = viewport, frame, display
	s.abortGestures(s.tracker.State())

	s.logger.Debug().
		Stringer("viewport", viewport.Size).
		Stringer("frame", frame.Rect).
		Stringer("state", s.tracker.State()).
		Msg("viewport changed")
	return nil
}

// SetImage swaps the source image and restarts the transform from the
// initial zoom.
func (s *Session) SetImage(src source.ImageSource) error {
	if err := s.open(); err != nil {
		return err
	}
	frame, display, err := s.derive(src, s.viewport)
	if err != nil {
		return err
	}
	s.src, s.frame, s.display = src, frame, display
	s.abortGestures(s.initialState())

	s.logger.Debug().
		Stringer("image", src.PixelSize()).
		Stringer("state", s.tracker.State()).
		Msg("image changed")
	return nil
}

// FocusOn pans so that p, given in normalized upright image coordinates
// (0..1 on both axes), sits at the center of the crop frame as far as the
// clamp allows. Only legal while ready.
func (s *Session) FocusOn(p geom.Point) error {
	if err := s.open(); err != nil {
		return err
	}
	if s.Phase() != PhaseReady {
		return fmt.Errorf("%w: cannot focus while %s", ErrNotReady, s.Phase())
	}
	if !unit(p.X) || !unit(p.Y) {
		return fmt.Errorf("%w: focus point %v outside the unit square", geom.ErrInvalidGeometry, p)
	}

	state := s.tracker.State()
	displayed := mapper.DisplayedImageRect(state, s.display.BaseSize, s.viewport.Size)
	target := geom.Pt(
		displayed.MinX()+p.X*displayed.Size.Width,
		displayed.MinY()+p.Y*displayed.Size.Height,
	)
	state.Offset = state.Offset.Add(s.frame.Rect.Center().Sub(target))
	s.tracker.Reset(s.geometry().Clamp(state))

	s.logger.Debug().
		Float64("x", p.X).
		Float64("y", p.Y).
		Stringer("state", s.tracker.State()).
		Msg("focused")
	return nil
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Snapshot is a read-only view of the session for hosts.
type Snapshot struct {
	Phase      Phase            `json:"phase"`
	State      transform.State  `json:"state"`
	MinScale   float64          `json:"min_scale"`
	Frame      layout.CropFrame `json:"frame"`
	BaseSize   geom.Size        `json:"base_size"`
	Viewport   layout.Viewport  `json:"viewport"`
	ImageRect  geom.Rect        `json:"image_rect"`
	SourceRect geom.Rect        `json:"source_rect"`
	SourceSize geom.Size        `json:"source_size"`
	Gesturing  bool             `json:"gesturing"`
	LastEvent  string           `json:"last_event,omitempty"`
}

// Snapshot reports the current derived geometry and transform.
func (s *Session) Snapshot() Snapshot {
	state := s.tracker.State()
	pixelSize := s.src.PixelSize()
	return Snapshot{
		Phase:      s.Phase(),
		State:      state,
		MinScale:   s.geometry().MinScale(),
		Frame:      s.frame,
		BaseSize:   s.display.BaseSize,
		Viewport:   s.viewport,
		ImageRect:  mapper.DisplayedImageRect(state, s.display.BaseSize, s.viewport.Size),
		SourceRect: s.Plan().SourceRect(pixelSize),
		SourceSize: pixelSize,
		Gesturing:  s.tracker.Active(),
		LastEvent:  string(s.lc.lastEvent),
	}
}

// Plan captures what extraction needs as an immutable value.
func (s *Session) Plan() cropper.Plan {
	return cropper.Plan{
		Frame:    s.frame.Rect,
		State:    s.tracker.State(),
		BaseSize: s.display.BaseSize,
		Viewport: s.viewport.Size,
	}
}

// Confirm ends any gesture in progress, clamps, extracts the crop and closes
// the session. When extraction fails the session stays ready with its state
// untouched and Confirm may be called again.
func (s *Session) Confirm(ctx context.Context) (cropper.CropResult, error) {
	if err := s.open(); err != nil {
		return cropper.CropResult{}, err
	}
	if s.Phase() == PhaseGesturing {
		s.abortGestures(s.tracker.State())
	}
	if s.Phase() != PhaseReady {
		return cropper.CropResult{}, fmt.Errorf("%w: cannot confirm while %s", ErrNotReady, s.Phase())
	}

	plan := s.Plan()
	result, err := s.extractor.Extract(ctx, s.src, plan)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("frame", plan.Frame).Stringer("state", plan.State).Msg("extraction failed")
		return cropper.CropResult{}, fmt.Errorf("failed to extract crop: %w", err)
	}

	s.send(eventConfirm)
	s.logger.Debug().Str("region", result.Region.String()).Msg("session confirmed")
	return result, nil
}

// Cancel discards the session without extracting anything.
func (s *Session) Cancel() error {
	if err := s.open(); err != nil {
		return err
	}
	s.send(eventCancel)
	return nil
}
