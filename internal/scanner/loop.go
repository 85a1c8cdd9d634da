package scanner

import (
	"image"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/vouchersnap/vouchersnap/internal/logger"
)

const originalLabel = "original"

// Result is the decode loop's outcome plus diagnostics.
type Result struct {
	Outcome  Outcome
	Attempts int
	// Variant is the label of the raster that yielded the identifier.
	Variant string
}

// DecodeLoop tries the original image and then its variants, stopping at the
// first raster that yields an observation id.
type DecodeLoop struct {
	decoder Decoder
	targets []int
}

func NewDecodeLoop(decoder Decoder, targets []int) *DecodeLoop {
	return &DecodeLoop{decoder: decoder, targets: targets}
}

// Run expects an orientation-corrected, color-normalized image.
func (l *DecodeLoop) Run(img image.Image) Result {
	var (
		attempts  int
		sawSymbol bool
	)

	attempt := func(label string, candidate image.Image) (int64, bool) {
		attempts++
		symbols, err := l.decoder.Decode(candidate)
		if err != nil {
			logger.WithError(err).WithField("variant", label).Debug("Decoder failed on candidate")
			return 0, false
		}
		for _, sym := range symbols {
			// any decoded barcode turns a miss into foreign_qr
			sawSymbol = true
			if sym.Type != SymbolTypeQR {
				continue
			}
			// a non-text payload cannot be an observation URL
			if !utf8.Valid(sym.Data) {
				continue
			}
			if id, ok := ExtractTargetID(string(sym.Data)); ok {
				return id, true
			}
		}
		return 0, false
	}

	if id, ok := attempt(originalLabel, img); ok {
		return Result{Outcome: Found(id), Attempts: attempts, Variant: originalLabel}
	}
	for v := range Variants(img, l.targets) {
		if id, ok := attempt(v.Label, v.Image); ok {
			return Result{Outcome: Found(id), Attempts: attempts, Variant: v.Label}
		}
	}

	logger.WithFields(logrus.Fields{
		"attempts":   attempts,
		"saw_symbol": sawSymbol,
	}).Debug("No observation id in any variant")

	if sawSymbol {
		return Result{Outcome: ForeignQR(), Attempts: attempts}
	}
	return Result{Outcome: NoQR(), Attempts: attempts}
}
