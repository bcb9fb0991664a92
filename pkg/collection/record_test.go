package collection

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func TestRecord_HasImage(t *testing.T) {
	tests := []struct {
		name     string
		imageID  *string
		expected bool
	}{
		{"nil image id", nil, false},
		{"empty image id", strPtr(""), false},
		{"blank image id", strPtr("   "), false},
		{"valid image id", strPtr("abc-123"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{ID: 1, ImageID: tt.imageID}
			if got := r.HasImage(); got != tt.expected {
				t.Errorf("HasImage() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestImageURL(t *testing.T) {
	tests := []struct {
		base     string
		expected string
	}{
		{"https://www.artic.edu/iiif/2", "https://www.artic.edu/iiif/2/x/full/843,/0/default.jpg"},
		{"https://www.artic.edu/iiif/2/", "https://www.artic.edu/iiif/2/x/full/843,/0/default.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			if got := ImageURL(tt.base, "x"); got != tt.expected {
				t.Errorf("ImageURL() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFilterDisplayable(t *testing.T) {
	records := []Record{
		{ID: 1, Title: "A", ImageID: strPtr("x")},
		{ID: 2, Title: "B", ImageID: nil},
		{ID: 3, Title: "C", ImageID: strPtr("y")},
		{ID: 4, Title: "D", ImageID: strPtr("")},
	}

	kept, dropped := FilterDisplayable(records)

	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(kept) != 2 || kept[0].ID != 1 || kept[1].ID != 3 {
		t.Errorf("kept = %+v, want ids [1 3] in order", kept)
	}
}

func TestFilterDisplayable_Empty(t *testing.T) {
	kept, dropped := FilterDisplayable(nil)
	if len(kept) != 0 || dropped != 0 {
		t.Errorf("FilterDisplayable(nil) = %v, %d", kept, dropped)
	}
}

func TestPageRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     PageRequest
		wantErr bool
	}{
		{"valid", PageRequest{Page: 1, Limit: 10}, false},
		{"zero page", PageRequest{Page: 0, Limit: 10}, true},
		{"zero limit", PageRequest{Page: 1, Limit: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
