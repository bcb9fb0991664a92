package cache

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ErrInvalidImage indicates the body could not be decoded into a bitmap.
var ErrInvalidImage = errors.New("invalid image")

// DefaultMaxPixels is the largest declared image size DecodeImage accepts
// (25 megapixels, a 100 MiB bitmap).
const DefaultMaxPixels int64 = 25 * 1000 * 1000

// DecodeImage decodes a raw image body into an Image, rejecting images
// larger than DefaultMaxPixels.
// contentType may be empty, in which case it is sniffed from the data.
func DecodeImage(data []byte, contentType string) (*Image, error) {
	return DecodeImageLimit(data, contentType, DefaultMaxPixels)
}

// DecodeImageLimit is DecodeImage with an explicit pixel budget. The header
// is checked before any bitmap is allocated.
func DecodeImageLimit(data []byte, contentType string, maxPixels int64) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty bounds %dx%d", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	bitmap, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := bitmap.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrInvalidImage, bounds)
	}

	if contentType == "" {
		contentType = http.DetectContentType(data)
		if contentType == "application/octet-stream" {
			contentType = "image/" + format
		}
	}

	return &Image{
		Bitmap:      bitmap,
		Data:        data,
		ContentType: contentType,
	}, nil
}
