package layout

import (
	"errors"
	"image"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/source"
)

const tol = 1e-9

func TestComputeBaseDisplaySize(t *testing.T) {
	tests := []struct {
		name  string
		image geom.Size
		outer geom.Size
		want  geom.Size
	}{
		{"height binds", geom.Sz(1000, 2000), geom.Sz(390, 600), geom.Sz(300, 600)},
		{"width binds", geom.Sz(4000, 1000), geom.Sz(390, 600), geom.Sz(390, 97.5)},
		{"same aspect", geom.Sz(200, 100), geom.Sz(800, 400), geom.Sz(800, 400)},
		{"upscale small image", geom.Sz(10, 10), geom.Sz(300, 500), geom.Sz(300, 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeBaseDisplaySize(tt.image, tt.outer)
			if err != nil {
				t.Fatalf("ComputeBaseDisplaySize failed: %v", err)
			}
			if !scalar.EqualWithinAbs(got.Width, tt.want.Width, tol) ||
				!scalar.EqualWithinAbs(got.Height, tt.want.Height, tol) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if got.Width > tt.outer.Width+tol || got.Height > tt.outer.Height+tol {
				t.Errorf("%v does not fit in %v", got, tt.outer)
			}
		})
	}
}

func TestComputeBaseDisplaySizeRejectsDegenerateInput(t *testing.T) {
	cases := [][2]geom.Size{
		{geom.Sz(0, 500), geom.Sz(390, 600)},
		{geom.Sz(500, -1), geom.Sz(390, 600)},
		{geom.Sz(500, 500), geom.Sz(0, 600)},
		{geom.Sz(500, 500), geom.Sz(390, -600)},
	}
	for _, c := range cases {
		if _, err := ComputeBaseDisplaySize(c[0], c[1]); !errors.Is(err, geom.ErrInvalidGeometry) {
			t.Errorf("ComputeBaseDisplaySize(%v, %v): expected ErrInvalidGeometry, got %v", c[0], c[1], err)
		}
	}
}

func TestComputeDisplayGeometryUsesUprightSize(t *testing.T) {
	// raw buffer is landscape, upright image is portrait
	raw := image.NewNRGBA(image.Rect(0, 0, 2000, 1000))
	src := source.New(raw, source.Rotate90CW)

	g, err := ComputeDisplayGeometry(src, Viewport{Size: geom.Sz(390, 600)})
	if err != nil {
		t.Fatalf("ComputeDisplayGeometry failed: %v", err)
	}
	if g.BaseSize != geom.Sz(300, 600) {
		t.Errorf("expected base 300x600, got %v", g.BaseSize)
	}
}

func TestComputeCropFrame(t *testing.T) {
	vp := Viewport{Size: geom.Sz(400, 800)}

	square, err := ComputeCropFrame(vp, 0, 20)
	if err != nil {
		t.Fatalf("ComputeCropFrame failed: %v", err)
	}
	if square.Rect != geom.RectXYWH(20, 220, 360, 360) {
		t.Errorf("unexpected square frame %v", square.Rect)
	}

	wide, err := ComputeCropFrame(vp, Widescreen.Value(), 0)
	if err != nil {
		t.Fatalf("ComputeCropFrame failed: %v", err)
	}
	if !scalar.EqualWithinAbs(wide.Rect.Size.Width, 400, tol) ||
		!scalar.EqualWithinAbs(wide.Rect.Size.Height, 225, tol) {
		t.Errorf("unexpected widescreen size %v", wide.Rect.Size)
	}

	// tall ratio in a wide viewport: height binds
	story, err := ComputeCropFrame(Viewport{Size: geom.Sz(800, 400)}, Story.Value(), 0)
	if err != nil {
		t.Fatalf("ComputeCropFrame failed: %v", err)
	}
	if !scalar.EqualWithinAbs(story.Rect.Size.Height, 400, tol) ||
		!scalar.EqualWithinAbs(story.Rect.Size.Width, 225, tol) {
		t.Errorf("unexpected story size %v", story.Rect.Size)
	}
	if c := story.Rect.Center(); !scalar.EqualWithinAbs(c.X, 400, tol) || !scalar.EqualWithinAbs(c.Y, 200, tol) {
		t.Errorf("story frame not centered: %v", c)
	}
}

func TestComputeCropFrameHonoursInsets(t *testing.T) {
	vp := Viewport{
		Size:       geom.Sz(400, 800),
		SafeInsets: geom.Insets{Top: 100, Bottom: 20},
	}
	f, err := ComputeCropFrame(vp, 0, 0)
	if err != nil {
		t.Fatalf("ComputeCropFrame failed: %v", err)
	}
	usable := vp.UsableRect(0)
	if !usable.Contains(f.Rect, tol) {
		t.Errorf("frame %v escapes usable area %v", f.Rect, usable)
	}
	if c := f.Rect.Center(); c != usable.Center() {
		t.Errorf("frame center %v, want %v", c, usable.Center())
	}
}

func TestComputeCropFrameRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		vp     Viewport
		ratio  float64
		margin float64
	}{
		{Viewport{Size: geom.Sz(0, 100)}, 0, 0},
		{Viewport{Size: geom.Sz(100, 100)}, -1, 0},
		{Viewport{Size: geom.Sz(100, 100)}, 0, 60},
		{Viewport{Size: geom.Sz(100, 100), SafeInsets: geom.Insets{Left: -5}}, 0, 0},
		{Viewport{Size: geom.Sz(100, 100), SafeInsets: geom.Insets{Top: 60, Bottom: 40}}, 0, 0},
	}
	for i, c := range cases {
		if _, err := ComputeCropFrame(c.vp, c.ratio, c.margin); !errors.Is(err, geom.ErrInvalidGeometry) {
			t.Errorf("case %d: expected ErrInvalidGeometry, got %v", i, err)
		}
	}
}

func TestRecomputationIsPure(t *testing.T) {
	vp := Viewport{Size: geom.Sz(393, 852), SafeInsets: geom.Insets{Top: 59, Bottom: 34}}
	src := source.New(image.NewNRGBA(image.Rect(0, 0, 3024, 4032)), source.Upright)

	f1, err1 := ComputeCropFrame(vp, Instagram.Value(), DefaultMargin)
	f2, err2 := ComputeCropFrame(vp, Instagram.Value(), DefaultMargin)
	if err1 != nil || err2 != nil {
		t.Fatalf("ComputeCropFrame failed: %v %v", err1, err2)
	}
	if f1 != f2 {
		t.Errorf("crop frame not reproducible: %v vs %v", f1, f2)
	}

	g1, err1 := ComputeDisplayGeometry(src, vp)
	g2, err2 := ComputeDisplayGeometry(src, vp)
	if err1 != nil || err2 != nil {
		t.Fatalf("ComputeDisplayGeometry failed: %v %v", err1, err2)
	}
	if g1 != g2 {
		t.Errorf("display geometry not reproducible: %v vs %v", g1, g2)
	}
}

func TestParseAspectRatio(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"free", 0},
		{"square", 1},
		{"Instagram", 0.8},
		{"16:9", 16.0 / 9.0},
		{" 4 : 5 ", 0.8},
		{"1.5", 1.5},
	}
	for _, tt := range tests {
		got, err := ParseAspectRatio(tt.in)
		if err != nil {
			t.Errorf("ParseAspectRatio(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAspectRatio(%q) = %g, want %g", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"0:1", "a:b", "-2", "wide"} {
		if _, err := ParseAspectRatio(bad); !errors.Is(err, geom.ErrInvalidGeometry) {
			t.Errorf("ParseAspectRatio(%q): expected ErrInvalidGeometry, got %v", bad, err)
		}
	}
}

func TestCommonAspectRatios(t *testing.T) {
	ratios := CommonAspectRatios()

	foundSquare := false
	for _, ratio := range ratios {
		if ratio.Value() <= 0 {
			t.Errorf("ratio %s has non-positive value", ratio)
		}
		if ratio.Name == "square" && ratio.Value() == 1 {
			foundSquare = true
		}
	}
	if !foundSquare {
		t.Error("Expected to find square aspect ratio")
	}
}
