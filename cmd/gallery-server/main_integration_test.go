//go:build integration

package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/artic-gallery/internal/testutil"
	"github.com/Sternrassler/artic-gallery/pkg/config"
	"github.com/Sternrassler/artic-gallery/pkg/gallery"
	"github.com/Sternrassler/artic-gallery/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisC.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	cleanup := func() {
		redisClient.Close()
		redisC.Terminate(ctx)
	}

	return redisClient, cleanup
}

func TestReadyEndpoint_Redis(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	mock := testutil.NewMockGallery()
	defer mock.Close()
	mock.SetArtworks(testutil.GenerateArtworks(10))

	cfg := config.Default()
	cfg.API.BaseURL = mock.APIBaseURL()
	cfg.API.IIIFURL = mock.IIIFURL()
	cfg.API.Timeout = 5 * time.Second
	cfg.RateLimit.Store = config.StoreRedis

	httpClient, err := gallery.NewHTTPClient(cfg, ratelimit.NewRedisStore(redisClient))
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}

	srv, err := newServer(cfg, gallery.Deps{HTTP: httpClient}, redisClient)
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	defer srv.close()
	app := newApp(srv)

	t.Run("ready", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/ready")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("load_with_shared_window", func(t *testing.T) {
		body := decodeGallery(t, doRequest(t, app, http.MethodPost, "/gallery/load?wait=true"))
		if body.Count != 10 {
			t.Errorf("count = %d, want 10", body.Count)
		}

		state, err := ratelimit.NewRedisStore(redisClient).Load(context.Background())
		if err != nil || state == nil {
			t.Errorf("expected rate limit state in Redis, got %v (%v)", state, err)
		}
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		redisClient.Close()

		resp := doRequest(t, app, http.MethodGet, "/ready")
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", resp.StatusCode)
		}
	})
}
