package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// MaxImagePixels bounds width*height before a full decode. Headers claiming
// more are rejected instead of allocating the raster.
const MaxImagePixels = 178_956_970

// ErrImageTooLarge is returned for images above MaxImagePixels.
var ErrImageTooLarge = errors.New("image too large")

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// SupportedExtensions lists the file extensions the scanner can decode.
func SupportedExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}
}

// IsSupportedImage checks the extension case-insensitively.
func IsSupportedImage(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// ReadOrientation returns the EXIF orientation tag, or 1 when the data has
// no EXIF block or no orientation entry.
func ReadOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// ApplyOrientation rotates img upright. Tag 3 rotates 180°, tag 6 rotates
// 270° counter-clockwise, tag 8 rotates 90° counter-clockwise. Mirrored tags
// (2, 4, 5, 7) and unknown values leave the image unchanged.
func ApplyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 3:
		return imaging.Rotate180(img)
	case 6:
		return imaging.Rotate270(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// Normalize returns an opaque NRGBA copy of img, flattening any transparency
// onto white.
func Normalize(img image.Image) *image.NRGBA {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return imaging.Clone(img)
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// LoadImage decodes data, applies its EXIF orientation and normalizes color.
func LoadImage(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > MaxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, MaxImagePixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	img = ApplyOrientation(img, ReadOrientation(bytes.NewReader(data)))
	return Normalize(img), nil
}
