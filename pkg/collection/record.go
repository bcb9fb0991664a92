package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDecode is returned when a page body is not a valid collection response.
	ErrDecode = errors.New("malformed collection response")

	// ErrMissingResource is returned for records that have no image identifier.
	ErrMissingResource = errors.New("record has no image identifier")
)

// DefaultFields is the field selection requested for every page.
var DefaultFields = []string{"id", "title", "image_id"}

// ImagePathSuffix selects the full-region, 843px-wide default rendition.
const ImagePathSuffix = "/full/843,/0/default.jpg"

// Record is one collection item.
type Record struct {
	ID      int64   `json:"id"`
	Title   string  `json:"title"`
	ImageID *string `json:"image_id"`
}

// HasImage reports whether the record carries a usable image identifier.
func (r Record) HasImage() bool {
	return r.ImageID != nil && strings.TrimSpace(*r.ImageID) != ""
}

// Page is one server-returned batch of records plus its pagination counters.
type Page struct {
	Records     []Record
	Total       int
	Limit       int
	Offset      int
	TotalPages  int
	CurrentPage int

	// IIIFURL is the image server base announced by the API, if any.
	IIIFURL string
}

// PageRequest selects one page of the collection.
type PageRequest struct {
	// Page is 1-based.
	Page   int
	Limit  int
	Fields []string
}

// Validate checks the request bounds.
func (r PageRequest) Validate() error {
	if r.Page < 1 {
		return fmt.Errorf("page must be >= 1 (got %d)", r.Page)
	}
	if r.Limit < 1 {
		return fmt.Errorf("limit must be >= 1 (got %d)", r.Limit)
	}
	return nil
}

// Fetcher retrieves pages of collection records.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// ImageURL derives the image URL for an identifier under base.
func ImageURL(base, imageID string) string {
	return strings.TrimRight(base, "/") + "/" + imageID + ImagePathSuffix
}

// FilterDisplayable returns the records that carry an image identifier, in
// their original order, and the number dropped.
func FilterDisplayable(records []Record) ([]Record, int) {
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		if r.HasImage() {
			kept = append(kept, r)
		}
	}
	return kept, len(records) - len(kept)
}
