// Command gallery-server serves an infinitely scrolling view of the Art
// Institute of Chicago collection over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/config"
	"github.com/Sternrassler/artic-gallery/pkg/gallery"
	"github.com/Sternrassler/artic-gallery/pkg/logging"
	"github.com/Sternrassler/artic-gallery/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", os.Getenv("GALLERY_CONFIG"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
	})
	logger := logging.NewLogger("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	var store ratelimit.Store
	if cfg.RateLimit.Store == config.StoreRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RateLimit.RedisAddr,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RateLimit.RedisAddr, err)
		}
		store = ratelimit.NewRedisStore(redisClient)
		logger.Info().Str("addr", cfg.RateLimit.RedisAddr).Msg("Connected to Redis")
	}

	httpClient, err := gallery.NewHTTPClient(*cfg, store)
	if err != nil {
		return err
	}

	srv, err := newServer(*cfg, gallery.Deps{HTTP: httpClient}, redisClient)
	if err != nil {
		return err
	}
	defer srv.close()

	app := newApp(srv)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", addr).
			Str("api", cfg.API.BaseURL).
			Str("user_agent", cfg.API.UserAgent).
			Str("rate_limit_store", cfg.RateLimit.Store).
			Msg("Starting gallery server")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
