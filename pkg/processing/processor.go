package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/source"
)

// Processor handles image loading, encoding and debug rendering
type Processor struct {
	client    *http.Client
	userAgent string
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "cropframe/1.0",
	}
}

// LoadSourceFromURL downloads an image and reads its orientation tag
func (p *Processor) LoadSourceFromURL(ctx context.Context, imageURL string) (source.ImageSource, error) {
	// Validate URL
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return source.ImageSource{}, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return source.ImageSource{}, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return source.ImageSource{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return source.ImageSource{}, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return source.ImageSource{}, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return source.ImageSource{}, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return source.ImageSource{}, fmt.Errorf("failed to read image data: %w", err)
	}
	return p.DecodeSource(data)
}

// LoadSource loads an image file without applying its orientation tag
func (p *Processor) LoadSource(path string) (source.ImageSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return source.ImageSource{}, fmt.Errorf("failed to read image: %w", err)
	}
	src, err := p.DecodeSource(data)
	if err != nil {
		return source.ImageSource{}, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// LoadSourceSmart loads an image from either a file path or URL
func (p *Processor) LoadSourceSmart(ctx context.Context, ref string) (source.ImageSource, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return p.LoadSourceFromURL(ctx, ref)
	}
	return p.LoadSource(ref)
}

// DecodeSource decodes raw pixels and pairs them with the EXIF orientation.
// The pixels are left in stored order.
func (p *Processor) DecodeSource(data []byte) (source.ImageSource, error) {
	img, err := decodeImage(data)
	if err != nil {
		return source.ImageSource{}, err
	}
	return source.New(img, ReadOrientation(data)), nil
}

// decodeImage decodes an image from byte data with WebP support
func decodeImage(data []byte) (image.Image, error) {
	// imaging.Decode leaves orientation alone unless asked
	if img, err := imaging.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// EncodeImage writes img in the given format (jpg, png or webp)
func (p *Processor) EncodeImage(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch NormalizeFormat(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	default:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.EncodeImage(f, img, format, quality, lossless); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// NormalizeFormat maps format aliases to jpg, png or webp.
func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "webp":
		return "webp"
	case "png":
		return "png"
	default:
		return "jpg"
	}
}

// ContentType returns the MIME type for an output format.
func ContentType(format string) string {
	switch NormalizeFormat(format) {
	case "webp":
		return "image/webp"
	case "png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

// Overlay colors
var (
	cropColor   = color.NRGBA{255, 204, 0, 255}
	focusColor  = color.NRGBA{255, 0, 0, 255}
	centerColor = color.NRGBA{0, 170, 255, 255}
)

// CreateDebugOverlay draws the mapped crop rectangle (source pixels) and an
// optional focus point (normalized) on a copy of the upright image.
func (p *Processor) CreateDebugOverlay(img image.Image, cropRect geom.Rect, focus *geom.Point) image.Image {
	canvas := imaging.Clone(img)
	w := canvas.Bounds().Dx()
	h := canvas.Bounds().Dy()
	stroke := int(math.Max(2, 0.004*float64(min(w, h)))) // ~0.4% of min side
	cross := int(math.Max(4, 0.01*float64(min(w, h))))   // ~1% of min side

	if cropRect.Area() > 0 {
		r := image.Rect(
			int(math.Round(cropRect.MinX())), int(math.Round(cropRect.MinY())),
			int(math.Round(cropRect.MaxX())), int(math.Round(cropRect.MaxY())),
		)
		strokeRect(canvas, r, stroke, cropColor)
	}

	if focus != nil {
		px := int(geom.Clamp(focus.X, 0, 1)*float64(w) + 0.5)
		py := int(geom.Clamp(focus.Y, 0, 1)*float64(h) + 0.5)
		crosshair(canvas, image.Pt(px, py), cross, focusColor)
	}

	crosshair(canvas, image.Pt(w/2, h/2), 6, centerColor)
	return canvas
}

func fillRect(dst *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

func strokeRect(dst *image.NRGBA, r image.Rectangle, stroke int, c color.NRGBA) {
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke), c)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func crosshair(dst *image.NRGBA, at image.Point, arm int, c color.NRGBA) {
	fillRect(dst, image.Rect(at.X-arm, at.Y, at.X+arm, at.Y+1), c)
	fillRect(dst, image.Rect(at.X, at.Y-arm, at.X+1, at.Y+arm), c)
}
