package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/artic-gallery/internal/testutil"
	"github.com/Sternrassler/artic-gallery/pkg/config"
	"github.com/Sternrassler/artic-gallery/pkg/gallery"
	"github.com/gofiber/fiber/v2"
)

func setupServer(t *testing.T, mock *testutil.MockGallery) (*server, *fiber.App) {
	t.Helper()

	cfg := config.Default()
	cfg.API.BaseURL = mock.APIBaseURL()
	cfg.API.IIIFURL = mock.IIIFURL()
	cfg.API.UserAgent = "ArticGalleryTest/1.0 (test@example.com)"
	cfg.API.Timeout = 5 * time.Second

	srv, err := newServer(cfg, gallery.Deps{}, nil)
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	t.Cleanup(srv.close)

	return srv, newApp(srv)
}

func doRequest(t *testing.T, app *fiber.App, method, target string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil), -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func decodeGallery(t *testing.T, resp *http.Response) galleryResponse {
	t.Helper()
	defer resp.Body.Close()

	var body galleryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	_, app := setupServer(t, mock)

	resp := doRequest(t, app, http.MethodGet, "/health")
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint_MemoryStore(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	_, app := setupServer(t, mock)

	resp := doRequest(t, app, http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	_, app := setupServer(t, mock)

	resp := doRequest(t, app, http.MethodGet, "/metrics")
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	for _, name := range []string{"gallery_sessions_active", "gallery_sessions_total", "gallery_cache_items"} {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

func TestGallery_LoadAndScroll(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	mock.SetArtworks(testutil.GenerateArtworks(30, 3))
	_, app := setupServer(t, mock)

	body := decodeGallery(t, doRequest(t, app, http.MethodGet, "/gallery"))
	if body.Phase != "idle" || body.Count != 0 || body.Records == nil {
		t.Errorf("initial state = %+v", body)
	}

	body = decodeGallery(t, doRequest(t, app, http.MethodPost, "/gallery/load?wait=true"))
	if body.Started == nil || !*body.Started {
		t.Error("load should report a started fetch")
	}
	if body.Count != 9 {
		t.Errorf("count = %d, want 9 (one record without an image)", body.Count)
	}
	if !body.CanLoadMore || body.IsLoading {
		t.Errorf("state after load = %+v", body)
	}

	body = decodeGallery(t, doRequest(t, app, http.MethodPost, "/gallery/scroll/1?wait=true"))
	if body.Started == nil || *body.Started {
		t.Error("scroll far from the end should not start a fetch")
	}

	body = decodeGallery(t, doRequest(t, app, http.MethodPost, "/gallery/scroll/6?wait=true"))
	if body.Started == nil || !*body.Started {
		t.Error("scroll near the end should start a fetch")
	}
	if body.Count <= 9 {
		t.Errorf("count = %d, want more than 9 after scrolling", body.Count)
	}
}

func TestGallery_Image(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	mock.SetArtworks(testutil.GenerateArtworks(5))
	mock.SetImageSize(12, 8)
	_, app := setupServer(t, mock)

	doRequest(t, app, http.MethodPost, "/gallery/load?wait=true").Body.Close()

	resp := doRequest(t, app, http.MethodGet, "/gallery/images/2")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", ct)
	}
	if w, h := resp.Header.Get("X-Image-Width"), resp.Header.Get("X-Image-Height"); w != "12" || h != "8" {
		t.Errorf("size headers = %sx%s, want 12x8", w, h)
	}
	data, _ := io.ReadAll(resp.Body)
	if len(data) == 0 {
		t.Error("expected image bytes")
	}

	doRequest(t, app, http.MethodGet, "/gallery/images/2").Body.Close()
	if got := mock.GetImageRequests("img-3"); got != 1 {
		t.Errorf("image requests = %d, want 1 (second served from cache)", got)
	}
}

func TestGallery_ImageErrors(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	mock.SetArtworks(testutil.GenerateArtworks(3))
	mock.SetCorruptImage("img-1")
	_, app := setupServer(t, mock)

	doRequest(t, app, http.MethodPost, "/gallery/load?wait=true").Body.Close()

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"out of range", "/gallery/images/10", http.StatusNotFound},
		{"negative", "/gallery/images/-1", http.StatusNotFound},
		{"not a number", "/gallery/images/first", http.StatusBadRequest},
		{"undecodable", "/gallery/images/0", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, app, http.MethodGet, tt.target)
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Errorf("expected JSON error body, got %v (%v)", body, err)
			}
		})
	}
}

func TestGallery_PageFailure(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	mock.SetArtworks(testutil.GenerateArtworks(10))
	mock.FailNextPages(1)
	_, app := setupServer(t, mock)

	body := decodeGallery(t, doRequest(t, app, http.MethodPost, "/gallery/load?wait=true"))
	if body.Error == "" || body.Count != 0 || body.Phase != "idle" {
		t.Errorf("state after failure = %+v", body)
	}

	body = decodeGallery(t, doRequest(t, app, http.MethodPost, "/gallery/load?wait=true"))
	if body.Count != 10 || body.Error != "" {
		t.Errorf("state after retry = %+v", body)
	}
}

func TestGallery_Reset(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	mock.SetArtworks(testutil.GenerateArtworks(10))
	srv, app := setupServer(t, mock)

	first := decodeGallery(t, doRequest(t, app, http.MethodPost, "/gallery/load?wait=true"))
	doRequest(t, app, http.MethodGet, "/gallery/images/0").Body.Close()
	prev := srv.current()

	resp := doRequest(t, app, http.MethodPost, "/gallery/reset")
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", resp.StatusCode)
	}
	body := decodeGallery(t, resp)

	if body.SessionID == first.SessionID {
		t.Error("reset should create a new session")
	}
	if body.Count != 0 || body.Cache.Items != 0 {
		t.Errorf("state after reset = %+v", body)
	}
	if !prev.Ended() {
		t.Error("previous session should be ended")
	}
	if stats := prev.CacheStats(); stats.Items != 0 {
		t.Errorf("previous cache = %+v, want cleared", stats)
	}
}
