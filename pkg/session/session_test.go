package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/menta2k/cropframe/pkg/cropper"
	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/layout"
	"github.com/menta2k/cropframe/pkg/source"
	"github.com/menta2k/cropframe/pkg/transform"
)

const tol = 1e-9

// createTestImage creates a simple gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

// portrait viewport with a 45pt margin: the usable area is 300x510 and the
// square frame sits at (45,150,300,300).
var portraitViewport = layout.Viewport{Size: geom.Sz(390, 600)}

func newTestSession(t *testing.T, w, h int, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithMargin(45)}, opts...)
	s, err := New(source.New(createTestImage(w, h), source.Upright), portraitViewport, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func mustApply(t *testing.T, s *Session, samples ...transform.Sample) {
	t.Helper()
	for _, sample := range samples {
		if _, err := s.Apply(sample); err != nil {
			t.Fatalf("Apply(%v) failed: %v", sample, err)
		}
	}
}

// mustReplay applies gesture steps built by Pinch and Drag
func mustReplay(t *testing.T, s *Session, steps ...Step) {
	t.Helper()
	if err := (Script{Steps: steps}).Replay(s); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
}

func assertCovered(t *testing.T, s *Session) {
	t.Helper()
	g := s.geometry()
	st := s.State()
	if st.Scale < g.MinScale()-tol {
		t.Errorf("scale %g below minimum %g", st.Scale, g.MinScale())
	}
	if !g.Covers(st, 1e-6) {
		t.Errorf("state %v leaves frame %v uncovered", st, g.Frame)
	}
}

func TestNewStartsReady(t *testing.T) {
	s := newTestSession(t, 100, 200)

	if s.Phase() != PhaseReady {
		t.Fatalf("Expected ready phase, got %s", s.Phase())
	}
	if want := geom.RectXYWH(45, 150, 300, 300); s.Frame().Rect != want {
		t.Errorf("Expected frame %v, got %v", want, s.Frame().Rect)
	}

	snap := s.Snapshot()
	if snap.BaseSize != geom.Sz(300, 600) {
		t.Errorf("Expected base 300x600, got %v", snap.BaseSize)
	}
	if !scalar.EqualWithinAbs(snap.MinScale, 1, tol) {
		t.Errorf("Expected min scale 1, got %g", snap.MinScale)
	}
	if !scalar.EqualWithinAbs(snap.State.Scale, 1.2, tol) {
		t.Errorf("Expected initial scale 1.2, got %g", snap.State.Scale)
	}
	if snap.State.Offset != (geom.Vector{}) {
		t.Errorf("Expected centered image, got offset %v", snap.State.Offset)
	}
	assertCovered(t, s)
}

func TestNewRejectsInvalidGeometry(t *testing.T) {
	tests := []struct {
		name     string
		src      source.ImageSource
		viewport layout.Viewport
	}{
		{"zero width viewport", source.New(createTestImage(10, 10), source.Upright), layout.Viewport{Size: geom.Sz(0, 500)}},
		{"empty image", source.New(image.NewNRGBA(image.Rect(0, 0, 0, 0)), source.Upright), portraitViewport},
		{"nil image", source.ImageSource{}, portraitViewport},
		{"insets swallow viewport", source.New(createTestImage(10, 10), source.Upright),
			layout.Viewport{Size: geom.Sz(100, 100), SafeInsets: geom.Insets{Top: 60, Bottom: 60}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.src, tt.viewport)
			if !errors.Is(err, geom.ErrInvalidGeometry) {
				t.Errorf("Expected ErrInvalidGeometry, got %v", err)
			}
			if s != nil {
				t.Error("Expected no session on error")
			}
		})
	}
}

func TestPinchLifecycle(t *testing.T) {
	s := newTestSession(t, 100, 200)

	mustApply(t, s, transform.PinchSample(transform.Began, 1))
	if s.Phase() != PhaseGesturing {
		t.Fatalf("Expected gesturing after began, got %s", s.Phase())
	}

	// coverage policy floors the scale at the minimum mid-gesture
	mustApply(t, s, transform.PinchSample(transform.Changed, 0.5))
	if !scalar.EqualWithinAbs(s.State().Scale, 1, tol) {
		t.Errorf("Expected scale floored at 1, got %g", s.State().Scale)
	}

	mustApply(t, s, transform.PinchSample(transform.Ended, 0.5))
	if s.Phase() != PhaseReady {
		t.Errorf("Expected ready after ended, got %s", s.Phase())
	}
	assertCovered(t, s)
}

func TestSimultaneousGestures(t *testing.T) {
	s := newTestSession(t, 100, 200)

	mustApply(t, s,
		transform.PinchSample(transform.Began, 1),
		transform.DragSample(transform.Began, 0, 0),
		transform.PinchSample(transform.Changed, 1.5),
		transform.DragSample(transform.Changed, 20, 0),
		transform.PinchSample(transform.Ended, 1.5),
	)
	if s.Phase() != PhaseGesturing {
		t.Fatalf("Expected gesturing while the drag is active, got %s", s.Phase())
	}

	mustApply(t, s, transform.DragSample(transform.Ended, 20, 0))
	if s.Phase() != PhaseReady {
		t.Errorf("Expected ready once every gesture ended, got %s", s.Phase())
	}
	if !scalar.EqualWithinAbs(s.State().Scale, 1.8, tol) {
		t.Errorf("Expected scale 1.8, got %g", s.State().Scale)
	}
	assertCovered(t, s)
}

func TestDragEndClamps(t *testing.T) {
	s := newTestSession(t, 100, 200)

	mustApply(t, s,
		transform.DragSample(transform.Began, 0, 0),
		transform.DragSample(transform.Changed, 500, 0),
	)
	if s.State().Offset.DX != 500 {
		t.Errorf("Expected unclamped offset mid-gesture, got %v", s.State().Offset)
	}

	res, err := s.Apply(transform.DragSample(transform.Ended, 500, 0))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !res.Ended || !res.Clamped {
		t.Errorf("Expected ended and clamped result, got %+v", res)
	}
	// scaled width 360 over a 300 frame leaves 30 either side
	if !scalar.EqualWithinAbs(s.State().Offset.DX, 30, tol) {
		t.Errorf("Expected offset clamped to 30, got %v", s.State().Offset)
	}
	assertCovered(t, s)
}

func TestApplyRejectsInvalidSample(t *testing.T) {
	s := newTestSession(t, 100, 200)
	before := s.State()

	_, err := s.Apply(transform.Sample{Kind: "rotate", Phase: transform.Changed})
	if !errors.Is(err, transform.ErrInvalidSample) {
		t.Errorf("Expected ErrInvalidSample, got %v", err)
	}
	if s.State() != before || s.Phase() != PhaseReady {
		t.Error("Expected invalid sample to leave the session untouched")
	}
}

func TestSetViewportReclamps(t *testing.T) {
	s := newTestSession(t, 100, 200)
	mustApply(t, s,
		transform.DragSample(transform.Began, 0, 0),
		transform.DragSample(transform.Changed, 10, 10),
	)

	// rotate to landscape: base becomes 195x390, minimum scale 300/195
	landscape := layout.Viewport{Size: geom.Sz(600, 390)}
	if err := s.SetViewport(landscape); err != nil {
		t.Fatalf("SetViewport failed: %v", err)
	}

	if s.Phase() != PhaseReady {
		t.Errorf("Expected viewport change to abort the gesture, got %s", s.Phase())
	}
	if s.tracker.Active() {
		t.Error("Expected no active gesture after viewport change")
	}
	if want := geom.RectXYWH(150, 45, 300, 300); s.Frame().Rect != want {
		t.Errorf("Expected frame %v, got %v", want, s.Frame().Rect)
	}
	if !scalar.EqualWithinAbs(s.State().Scale, 300.0/195.0, tol) {
		t.Errorf("Expected scale raised to %g, got %g", 300.0/195.0, s.State().Scale)
	}
	assertCovered(t, s)
}

func TestSetViewportInvalidLeavesStateUnchanged(t *testing.T) {
	s := newTestSession(t, 100, 200)
	before := s.Snapshot()

	err := s.SetViewport(layout.Viewport{Size: geom.Sz(-1, 600)})
	if !errors.Is(err, geom.ErrInvalidGeometry) {
		t.Fatalf("Expected ErrInvalidGeometry, got %v", err)
	}
	after := s.Snapshot()
	if after.State != before.State || after.Frame != before.Frame || after.Viewport != before.Viewport {
		t.Errorf("Expected unchanged session, got %+v", after)
	}
}

func TestRecomputationIsPure(t *testing.T) {
	s := newTestSession(t, 100, 200)
	for _, st := range append(Pinch(1.7, 3), Drag(-12, 7, 3)...) {
		mustApply(t, s, *st.Sample)
	}
	before := s.Snapshot()

	if err := s.SetViewport(portraitViewport); err != nil {
		t.Fatalf("SetViewport failed: %v", err)
	}
	after := s.Snapshot()
	if after.State != before.State || after.Frame != before.Frame || after.BaseSize != before.BaseSize {
		t.Errorf("Expected identical geometry, before %+v after %+v", before, after)
	}
}

func TestSetImageRestartsTransform(t *testing.T) {
	s := newTestSession(t, 100, 200)
	mustReplay(t, s, Pinch(2, 2)...)

	if err := s.SetImage(source.New(createTestImage(200, 100), source.Upright)); err != nil {
		t.Fatalf("SetImage failed: %v", err)
	}

	g := s.geometry()
	want := transform.Initial(g.MinScale(), transform.DefaultInitParams())
	if !scalar.EqualWithinAbs(s.State().Scale, want.Scale, tol) {
		t.Errorf("Expected initial scale %g, got %g", want.Scale, s.State().Scale)
	}
	if s.Snapshot().BaseSize != geom.Sz(390, 195) {
		t.Errorf("Expected base 390x195, got %v", s.Snapshot().BaseSize)
	}
	assertCovered(t, s)
}

func TestSetImageUsesUprightSize(t *testing.T) {
	s := newTestSession(t, 100, 200)

	// 200x100 raw buffer rotated a quarter turn is 100x200 upright
	if err := s.SetImage(source.New(createTestImage(200, 100), source.Rotate90CW)); err != nil {
		t.Fatalf("SetImage failed: %v", err)
	}
	if s.Snapshot().BaseSize != geom.Sz(300, 600) {
		t.Errorf("Expected base 300x600, got %v", s.Snapshot().BaseSize)
	}
}

func TestFocusOn(t *testing.T) {
	s := newTestSession(t, 100, 200)

	if err := s.FocusOn(geom.Pt(0.5, 0)); err != nil {
		t.Fatalf("FocusOn failed: %v", err)
	}
	// the top edge cannot reach the frame center; the clamp stops at 210
	if got := s.State().Offset; !scalar.EqualWithinAbs(got.DX, 0, tol) || !scalar.EqualWithinAbs(got.DY, 210, tol) {
		t.Errorf("Expected offset (0,210), got %v", got)
	}
	assertCovered(t, s)

	if err := s.FocusOn(geom.Pt(0.5, 0.5)); err != nil {
		t.Fatalf("FocusOn failed: %v", err)
	}
	if got := s.State().Offset; !scalar.EqualWithinAbs(got.DX, 0, tol) || !scalar.EqualWithinAbs(got.DY, 0, tol) {
		t.Errorf("Expected centered offset, got %v", got)
	}
}

func TestFocusOnErrors(t *testing.T) {
	s := newTestSession(t, 100, 200)

	if err := s.FocusOn(geom.Pt(1.5, 0)); !errors.Is(err, geom.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry, got %v", err)
	}

	mustApply(t, s, transform.DragSample(transform.Began, 0, 0))
	if err := s.FocusOn(geom.Pt(0.5, 0.5)); !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady while gesturing, got %v", err)
	}
}

func TestConfirm(t *testing.T) {
	extractor := cropper.NewWithConfig(cropper.CropConfig{Width: 64, Height: 64, AllowUpscaling: true})
	s := newTestSession(t, 100, 200, WithExtractor(extractor))

	result, err := s.Confirm(context.Background())
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if s.Phase() != PhaseConfirmed {
		t.Errorf("Expected confirmed phase, got %s", s.Phase())
	}
	if got := result.Image.Bounds().Size(); got != image.Pt(64, 64) {
		t.Errorf("Expected 64x64 output, got %v", got)
	}
	if !result.Region.In(image.Rect(0, 0, 100, 200)) {
		t.Errorf("Region %v escapes the source", result.Region)
	}

	if _, err := s.Apply(transform.DragSample(transform.Began, 0, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Apply, got %v", err)
	}
	if _, err := s.Confirm(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Confirm, got %v", err)
	}
	if err := s.Cancel(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Cancel, got %v", err)
	}
}

func TestConfirmDuringGestureClampsFirst(t *testing.T) {
	s := newTestSession(t, 100, 200)
	mustApply(t, s,
		transform.DragSample(transform.Began, 0, 0),
		transform.DragSample(transform.Changed, 500, 0),
	)

	if _, err := s.Confirm(context.Background()); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if !scalar.EqualWithinAbs(s.State().Offset.DX, 30, tol) {
		t.Errorf("Expected offset clamped before extraction, got %v", s.State().Offset)
	}
}

func TestConfirmDegenerateKeepsSessionReady(t *testing.T) {
	// a 1x1 source zoomed in far enough that the frame spans a fifth of a pixel
	s := newTestSession(t, 1, 1)
	mustReplay(t, s, Pinch(4, 1)...)
	if err := s.FocusOn(geom.Pt(0.8, 0.8)); err != nil {
		t.Fatalf("FocusOn failed: %v", err)
	}
	before := s.State()

	_, err := s.Confirm(context.Background())
	if !errors.Is(err, cropper.ErrDegenerateCropRegion) {
		t.Fatalf("Expected ErrDegenerateCropRegion, got %v", err)
	}
	if s.Phase() != PhaseReady {
		t.Errorf("Expected ready after failed confirm, got %s", s.Phase())
	}
	if s.State() != before {
		t.Errorf("Expected untouched state, got %v want %v", s.State(), before)
	}
}

func TestCancel(t *testing.T) {
	s := newTestSession(t, 100, 200)
	mustApply(t, s, transform.PinchSample(transform.Began, 1))

	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if s.Phase() != PhaseCancelled {
		t.Errorf("Expected cancelled phase, got %s", s.Phase())
	}
	if err := s.SetViewport(portraitViewport); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestLoggerReceivesEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	s := newTestSession(t, 100, 200, WithLogger(logger))

	mustReplay(t, s, Drag(500, 0, 2)...)

	out := buf.String()
	for _, msg := range []string{"session started", "clamped transform at gesture end"} {
		if !strings.Contains(out, msg) {
			t.Errorf("Expected log output to contain %q, got:\n%s", msg, out)
		}
	}
}

func BenchmarkSessionApply(b *testing.B) {
	s, err := New(source.New(createTestImage(100, 200), source.Upright), portraitViewport, WithMargin(45))
	if err != nil {
		b.Fatal(err)
	}
	steps := append(Pinch(1.5, 8), Pinch(1/1.5, 8)...)
	steps = append(steps, Drag(40, -25, 8)...)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, st := range steps {
			if _, err := s.Apply(*st.Sample); err != nil {
				b.Fatal(err)
			}
		}
	}
}
