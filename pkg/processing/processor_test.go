package processing

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/source"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{64, 64, 64, 255})
		}
	}
	return img
}

// exifSegment builds an APP1 segment holding a single orientation entry.
func exifSegment(bo binary.ByteOrder, orientation uint16) []byte {
	tiff := make([]byte, 8+2+12+4)
	if bo == binary.LittleEndian {
		copy(tiff, "II")
	} else {
		copy(tiff, "MM")
	}
	bo.PutUint16(tiff[2:], 42)
	bo.PutUint32(tiff[4:], 8)
	bo.PutUint16(tiff[8:], 1)
	bo.PutUint16(tiff[10:], tagOrientation)
	bo.PutUint16(tiff[12:], typeShort)
	bo.PutUint32(tiff[14:], 1)
	bo.PutUint16(tiff[18:], orientation)

	payload := append([]byte("Exif\x00\x00"), tiff...)
	seg := []byte{0xFF, markerAPP1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}

// jpegWithOrientation encodes img and splices an EXIF segment after SOI.
func jpegWithOrientation(t *testing.T, img image.Image, bo binary.ByteOrder, orientation uint16) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	out := append([]byte{}, raw[:2]...)
	out = append(out, exifSegment(bo, orientation)...)
	return append(out, raw[2:]...)
}

func TestReadOrientation(t *testing.T) {
	img := createTestImage(4, 2)

	tests := []struct {
		name string
		data []byte
		want source.Orientation
	}{
		{"big endian rotate 90", jpegWithOrientation(t, img, binary.BigEndian, 6), source.Rotate90CW},
		{"little endian rotate 270", jpegWithOrientation(t, img, binary.LittleEndian, 8), source.Rotate270CW},
		{"out of range value", jpegWithOrientation(t, img, binary.BigEndian, 9), source.Upright},
		{"not a jpeg", []byte("\x89PNG\r\n\x1a\n"), source.Upright},
		{"truncated", []byte{0xFF, 0xD8, 0xFF}, source.Upright},
		{"empty", nil, source.Upright},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReadOrientation(tt.data); got != tt.want {
				t.Errorf("ReadOrientation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadOrientationWithoutExif(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, createTestImage(8, 8), nil); err != nil {
		t.Fatal(err)
	}
	if got := ReadOrientation(buf.Bytes()); got != source.Upright {
		t.Errorf("Expected upright for plain JPEG, got %v", got)
	}
}

func TestDecodeSourceKeepsStoredPixelOrder(t *testing.T) {
	p := NewProcessor()
	data := jpegWithOrientation(t, createTestImage(40, 20), binary.BigEndian, 6)

	src, err := p.DecodeSource(data)
	if err != nil {
		t.Fatalf("DecodeSource failed: %v", err)
	}
	if src.Orientation != source.Rotate90CW {
		t.Errorf("Expected rotate-90-cw, got %v", src.Orientation)
	}
	if b := src.Pixels.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Errorf("Expected raw 40x20 pixels, got %v", b)
	}
	if src.PixelSize() != geom.Sz(20, 40) {
		t.Errorf("Expected upright size 20x40, got %v", src.PixelSize())
	}
}

func TestDecodeSourceRejectsGarbage(t *testing.T) {
	if _, err := NewProcessor().DecodeSource([]byte("definitely not an image")); err == nil {
		t.Error("Expected error for garbage input")
	}
}

func TestSaveAndLoadSource(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	img := createTestImage(30, 10)

	for _, format := range []string{"jpg", "png", "webp"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, "out."+format)
			if err := p.SaveImage(img, path, format, 90, false); err != nil {
				t.Fatalf("SaveImage failed: %v", err)
			}
			src, err := p.LoadSource(path)
			if err != nil {
				t.Fatalf("LoadSource failed: %v", err)
			}
			if src.PixelSize() != geom.Sz(30, 10) {
				t.Errorf("Expected 30x10, got %v", src.PixelSize())
			}
		})
	}
}

func TestLoadSourceMissingFile(t *testing.T) {
	_, err := NewProcessor().LoadSource(filepath.Join(t.TempDir(), "missing.jpg"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestLoadSourceFromURL(t *testing.T) {
	data := jpegWithOrientation(t, createTestImage(16, 8), binary.LittleEndian, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/photo.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(data)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewProcessor()
	src, err := p.LoadSourceSmart(context.Background(), srv.URL+"/photo.jpg")
	if err != nil {
		t.Fatalf("LoadSourceSmart failed: %v", err)
	}
	if src.Orientation != source.Rotate270CW || src.PixelSize() != geom.Sz(8, 16) {
		t.Errorf("Expected rotated 8x16 source, got %v %v", src.Orientation, src.PixelSize())
	}

	for _, path := range []string{"/page", "/missing"} {
		if _, err := p.LoadSourceFromURL(context.Background(), srv.URL+path); err == nil {
			t.Errorf("Expected error for %s", path)
		}
	}
	if _, err := p.LoadSourceFromURL(context.Background(), "ftp://example.com/a.jpg"); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"jpg":   "image/jpeg",
		"JPEG":  "image/jpeg",
		"png":   "image/png",
		".webp": "image/webp",
		"":      "image/jpeg",
	}
	for format, want := range tests {
		if got := ContentType(format); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", format, got, want)
		}
	}
}

func TestCreateDebugOverlay(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(200, 100)
	focus := geom.Pt(0.25, 0.5)

	out := p.CreateDebugOverlay(img, geom.RectXYWH(20, 10, 100, 80), &focus)
	if out.Bounds() != img.Bounds() {
		t.Fatalf("Expected bounds %v, got %v", img.Bounds(), out.Bounds())
	}

	check := func(x, y int, want color.NRGBA) {
		t.Helper()
		got := color.NRGBAModel.Convert(out.At(x, y)).(color.NRGBA)
		if got != want {
			t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
		}
	}
	check(20, 50, cropColor)    // left edge of the crop rect
	check(119, 50, cropColor)   // right edge
	check(70, 10, cropColor)    // top edge
	check(50, 50, focusColor)   // focus crosshair
	check(100, 50, centerColor) // image center
	check(160, 20, color.NRGBA{64, 64, 64, 255})

	// source image untouched
	if c := color.NRGBAModel.Convert(img.At(20, 50)).(color.NRGBA); c != (color.NRGBA{64, 64, 64, 255}) {
		t.Errorf("Expected original image unchanged, got %v", c)
	}
}
