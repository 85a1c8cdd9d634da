// Package render produces the JPEG that is uploaded for a specimen photo.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	apperrors "github.com/vouchersnap/vouchersnap/internal/errors"
	"github.com/vouchersnap/vouchersnap/internal/scanner"
)

const (
	DefaultMaxDimension = 2048
	DefaultJPEGQuality  = 85

	minCaptionHeight = 20
	// caption text height relative to image height
	captionScale = 0.03
	// bar padding relative to image height
	paddingScale = 0.01
)

var barColor = color.NRGBA{0, 0, 0, 180}

// Options controls the rendered output.
type Options struct {
	MaxDimension int
	JPEGQuality  int
	Caption      string
}

// DefaultOptions returns 2048px, quality 85 and no caption.
func DefaultOptions() Options {
	return Options{MaxDimension: DefaultMaxDimension, JPEGQuality: DefaultJPEGQuality}
}

// Validate checks dimension and quality ranges.
func (o Options) Validate() error {
	if o.MaxDimension <= 0 {
		return apperrors.NewValidationError(fmt.Sprintf("max dimension must be positive, got %d", o.MaxDimension), nil)
	}
	if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
		return apperrors.NewValidationError(fmt.Sprintf("JPEG quality must be between 1 and 100, got %d", o.JPEGQuality), nil)
	}
	return nil
}

// Render loads path, applies orientation, flattens transparency, downscales
// and captions it, and returns JPEG bytes.
func Render(path string, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	img, err := scanner.LoadImage(data)
	if err != nil {
		return nil, apperrors.NewProcessingError("cannot decode image", err)
	}
	return Encode(Process(img, opts), opts.JPEGQuality)
}

// Process downscales img to fit MaxDimension and draws the caption.
func Process(img image.Image, opts Options) *image.NRGBA {
	out := Fit(img, opts.MaxDimension)
	if opts.Caption != "" {
		out = AddCaption(out, opts.Caption)
	}
	return out
}

// Fit shrinks img with Lanczos so neither side exceeds maxDim. Smaller
// images are returned unscaled.
func Fit(img image.Image, maxDim int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

// AddCaption draws caption centred in a translucent black bar along the
// bottom edge. Text taller than the basic face is scaled up from it.
func AddCaption(img *image.NRGBA, caption string) *image.NRGBA {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	text := rasterizeText(caption)
	textHeight := max(minCaptionHeight, int(float64(height)*captionScale))
	textWidth := text.Bounds().Dx() * textHeight / text.Bounds().Dy()
	if textWidth > width {
		textWidth = width
		textHeight = max(1, text.Bounds().Dy()*width/text.Bounds().Dx())
	}
	text = imaging.Resize(text, textWidth, textHeight, imaging.NearestNeighbor)

	padding := int(float64(height) * paddingScale)
	barHeight := min(height, textHeight+2*padding)
	barTop := height - barHeight

	out := imaging.Clone(img)
	bar := image.Rect(0, barTop, width, height)
	draw.Draw(out, bar, &image.Uniform{C: barColor}, image.Point{}, draw.Over)

	at := image.Pt((width-textWidth)/2, barTop+padding)
	draw.Draw(out, text.Bounds().Add(at), text, image.Point{}, draw.Over)
	return out
}

// rasterizeText draws s in white on a transparent canvas sized to the text.
func rasterizeText(s string) *image.NRGBA {
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	w := d.MeasureString(s).Ceil()
	metrics := face.Metrics()
	h := (metrics.Ascent + metrics.Descent).Ceil()

	canvas := image.NewNRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	d.Dst = canvas
	d.Src = image.NewUniform(color.White)
	d.Dot = fixed.Point26_6{X: 0, Y: metrics.Ascent}
	d.DrawString(s)
	return canvas
}

// Encode writes img as a baseline JPEG.
func Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, apperrors.NewProcessingError("cannot encode JPEG", err)
	}
	return buf.Bytes(), nil
}
