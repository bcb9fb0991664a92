// Package cache provides the bounded in-memory image cache used by a gallery
// session.
package cache

import (
	"image"
	"time"
)

// bytesPerPixel is the uncompressed RGBA footprint used for cost estimates.
const bytesPerPixel = 4

// Image is a fetched and decoded gallery image.
type Image struct {
	// Bitmap is the decoded image
	Bitmap image.Image

	// Data is the raw encoded body as served by the image server
	Data []byte

	// ContentType of the encoded body (e.g. "image/jpeg")
	ContentType string
}

// Width returns the pixel width of the decoded bitmap, or 0 without one.
func (i *Image) Width() int {
	if i == nil || i.Bitmap == nil {
		return 0
	}
	return i.Bitmap.Bounds().Dx()
}

// Height returns the pixel height of the decoded bitmap, or 0 without one.
func (i *Image) Height() int {
	if i == nil || i.Bitmap == nil {
		return 0
	}
	return i.Bitmap.Bounds().Dy()
}

// Cost returns the estimated memory footprint in bytes: width*height*4.
// Images without a bitmap are charged their encoded size.
func (i *Image) Cost() int64 {
	if i == nil {
		return 0
	}
	if i.Bitmap == nil {
		return int64(len(i.Data))
	}
	return int64(i.Width()) * int64(i.Height()) * bytesPerPixel
}

// Entry is a single cached image together with its accounted cost.
type Entry struct {
	// Key is the normalised resource identifier
	Key string

	// Value is the cached image
	Value *Image

	// Cost is the cost charged against the cache budget when the entry was stored
	Cost int64

	// CachedAt is when the entry was stored
	CachedAt time.Time
}

// Age returns how long the entry has been cached.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}
