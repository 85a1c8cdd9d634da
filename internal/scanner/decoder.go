package scanner

import (
	"image"

	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"

	"github.com/vouchersnap/vouchersnap/internal/logger"
)

// SymbolTypeQR is the type tag of QR symbols.
const SymbolTypeQR = "QR_CODE"

// Symbol is one decoded barcode. Data is the payload as the decoder reports
// it; the zxing decoder yields already-decoded text, other decoders may hand
// back raw bytes in any encoding.
type Symbol struct {
	Type string
	Data []byte
}

// Decoder finds every barcode in a raster. An image without barcodes returns
// no symbols and no error.
type Decoder interface {
	Decode(img image.Image) ([]Symbol, error)
}

type zxingDecoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewZXingDecoder returns a Decoder backed by the gozxing multi QR reader.
func NewZXingDecoder() Decoder {
	return &zxingDecoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

func (d *zxingDecoder) Decode(img image.Image) ([]Symbol, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, err
	}

	// A fresh reader per call; gozxing readers are not safe for concurrent use.
	results, err := multiqr.NewQRCodeMultiReader().DecodeMultiple(bmp, d.hints)
	if err != nil {
		// not-found, checksum and format errors all mean no symbol here
		logger.WithError(err).Debug("QR reader rejected candidate")
		return nil, nil
	}

	symbols := make([]Symbol, 0, len(results))
	for _, r := range results {
		symbols = append(symbols, Symbol{
			Type: r.GetBarcodeFormat().String(),
			Data: []byte(r.GetText()),
		})
	}
	return symbols, nil
}
