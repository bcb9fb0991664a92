// Package testutil provides testing utilities for the gallery pipeline.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ArtworksPath is the collection endpoint served by MockGallery.
const ArtworksPath = "/api/v1/artworks"

// IIIFPrefix is the image server prefix served by MockGallery.
const IIIFPrefix = "/iiif/2"

// MockArtwork is one record served by the mock collection endpoint.
type MockArtwork struct {
	ID      int64   `json:"id"`
	Title   string  `json:"title"`
	ImageID *string `json:"image_id"`
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}

// MockGallery is a configurable mock of the collection API and IIIF image server.
type MockGallery struct {
	server *httptest.Server

	mu        sync.RWMutex
	artworks  []MockArtwork
	handlers  map[string]func(w http.ResponseWriter, r *http.Request)
	corrupt   map[string]bool
	imageSize image.Point
	failPages int
	hold      chan struct{}
	delay     time.Duration

	// Tracking
	PageRequests  int
	ImageRequests map[string]int
	LastPageQuery map[string]string
}

// NewMockGallery creates and starts a mock server.
func NewMockGallery() *MockGallery {
	mock := &MockGallery{
		handlers:      make(map[string]func(w http.ResponseWriter, r *http.Request)),
		corrupt:       make(map[string]bool),
		imageSize:     image.Pt(16, 12),
		ImageRequests: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		switch {
		case r.URL.Path == ArtworksPath:
			mock.artworksHandler(w, r)
		case strings.HasPrefix(r.URL.Path, IIIFPrefix+"/"):
			mock.imageHandler(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGallery) URL() string {
	return m.server.URL
}

// APIBaseURL returns the base URL for the collection API.
func (m *MockGallery) APIBaseURL() string {
	return m.server.URL + "/api/v1"
}

// IIIFURL returns the IIIF base URL.
func (m *MockGallery) IIIFURL() string {
	return m.server.URL + IIIFPrefix
}

// ImageURL returns the URL of the default rendition of imageID.
func (m *MockGallery) ImageURL(imageID string) string {
	return fmt.Sprintf("%s/%s/full/843,/0/default.jpg", m.IIIFURL(), imageID)
}

// Close shuts down the mock server.
func (m *MockGallery) Close() {
	m.Release()
	m.server.Close()
}

// SetArtworks replaces the collection served by the artworks endpoint.
func (m *MockGallery) SetArtworks(artworks []MockArtwork) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artworks = artworks
}

// GenerateArtworks returns n artworks with ids starting at 1. Every record
// whose index is in missing gets a null image id.
func GenerateArtworks(n int, missing ...int) []MockArtwork {
	skip := make(map[int]bool, len(missing))
	for _, i := range missing {
		skip[i] = true
	}

	artworks := make([]MockArtwork, n)
	for i := 0; i < n; i++ {
		artworks[i] = MockArtwork{
			ID:    int64(i + 1),
			Title: fmt.Sprintf("Artwork %d", i+1),
		}
		if !skip[i] {
			artworks[i].ImageID = StrPtr(fmt.Sprintf("img-%d", i+1))
		}
	}
	return artworks
}

// SetHandler sets a custom handler for a specific path.
func (m *MockGallery) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetImageSize sets the pixel size of generated images.
func (m *MockGallery) SetImageSize(w, h int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageSize = image.Pt(w, h)
}

// SetCorruptImage makes imageID return bytes that do not decode.
func (m *MockGallery) SetCorruptImage(imageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt[imageID] = true
}

// FailNextPages makes the next n page requests return 500.
func (m *MockGallery) FailNextPages(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPages = n
}

// SetDelay delays every default response.
func (m *MockGallery) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Hold blocks every default response until Release is called.
func (m *MockGallery) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hold == nil {
		m.hold = make(chan struct{})
	}
}

// Release unblocks responses held by Hold.
func (m *MockGallery) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hold != nil {
		close(m.hold)
		m.hold = nil
	}
}

// GetPageRequests returns the number of artworks requests served.
func (m *MockGallery) GetPageRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PageRequests
}

// GetImageRequests returns the number of requests for imageID.
func (m *MockGallery) GetImageRequests(imageID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ImageRequests[imageID]
}

// GetLastPageQuery returns the query parameters of the last artworks request.
func (m *MockGallery) GetLastPageQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.LastPageQuery))
	for k, v := range m.LastPageQuery {
		out[k] = v
	}
	return out
}

// wait applies the configured delay and hold.
func (m *MockGallery) wait(r *http.Request) {
	m.mu.RLock()
	delay := m.delay
	hold := m.hold
	m.mu.RUnlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
		}
	}
}

// artworksHandler serves pages of the configured collection.
func (m *MockGallery) artworksHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	m.mu.Lock()
	m.PageRequests++
	m.LastPageQuery = map[string]string{
		"page":   query.Get("page"),
		"limit":  query.Get("limit"),
		"fields": query.Get("fields"),
	}
	fail := m.failPages > 0
	if fail {
		m.failPages--
	}
	artworks := m.artworks
	m.mu.Unlock()

	m.wait(r)

	w.Header().Set("X-RateLimit-Remaining", "59")
	w.Header().Set("X-RateLimit-Reset", "60")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status": 500, "error": "Internal server error"}`))
		return
	}

	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit < 1 {
		limit = 12
	}

	offset := (page - 1) * limit
	end := offset + limit
	if offset > len(artworks) {
		offset = len(artworks)
	}
	if end > len(artworks) {
		end = len(artworks)
	}

	data := artworks[offset:end]
	if data == nil {
		data = []MockArtwork{}
	}

	totalPages := (len(artworks) + limit - 1) / limit

	body := map[string]any{
		"pagination": map[string]any{
			"total":        len(artworks),
			"limit":        limit,
			"offset":       (page - 1) * limit,
			"total_pages":  totalPages,
			"current_page": page,
		},
		"data": data,
		"config": map[string]any{
			"iiif_url":    m.IIIFURL(),
			"website_url": "http://www.artic.edu",
		},
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

// imageHandler serves generated JPEGs under /iiif/2/{id}/full/843,/0/default.jpg.
func (m *MockGallery) imageHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, IIIFPrefix+"/")
	imageID := strings.SplitN(rest, "/", 2)[0]

	m.mu.Lock()
	m.ImageRequests[imageID]++
	corrupt := m.corrupt[imageID]
	size := m.imageSize
	m.mu.Unlock()

	m.wait(r)

	if imageID == "" || strings.HasPrefix(imageID, "missing") {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	if corrupt {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("this is not a jpeg"))
		return
	}

	data, err := EncodeJPEG(size.X, size.Y)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// EncodeJPEG returns a solid-colour JPEG of the given size.
func EncodeJPEG(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 40, B: 40, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
