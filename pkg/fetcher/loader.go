// Package fetcher loads image resources through the bounded cache: a hit is
// served from memory, a miss costs one GET plus a decode, and only decoded
// images are written back.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/cache"
	"github.com/Sternrassler/artic-gallery/pkg/dispatch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnavailable marks an image that could not be loaded. The caller
	// shows a placeholder; other images are unaffected.
	ErrUnavailable = errors.New("image unavailable")

	// ErrDecode is wrapped together with ErrUnavailable when the bytes
	// arrived but are not a decodable image.
	ErrDecode = errors.New("image decode failed")
)

// Doer performs a GET and returns the whole body.
type Doer interface {
	GetBytes(ctx context.Context, rawURL string) ([]byte, http.Header, error)
}

// Config holds loader configuration.
type Config struct {
	// Coalesce shares one GET between concurrent loads of the same key.
	Coalesce bool

	// PrefetchWorkers bounds concurrent fetches started by Prefetch
	PrefetchWorkers int

	// PrefetchTimeout applies to each prefetched image
	PrefetchTimeout time.Duration

	// MaxPixels rejects images whose declared size exceeds it before decoding
	// (default: cache.DefaultMaxPixels)
	MaxPixels int64

	// Poster is the consumption context LoadAsync delivers to.
	// Nil delivers on the fetching goroutine.
	Poster dispatch.Poster
}

// DefaultConfig returns the default loader configuration.
func DefaultConfig() Config {
	return Config{
		Coalesce:        true,
		PrefetchWorkers: 4,
		PrefetchTimeout: 15 * time.Second,
		MaxPixels:       cache.DefaultMaxPixels,
	}
}

// Loader is the cache-first image loader.
type Loader struct {
	cache  *cache.Bounded
	doer   Doer
	config Config
	group  singleflight.Group
	logger zerolog.Logger

	// ctx bounds shared flights; Close cancels it
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a loader over c. A nil cache gets a default-budget cache.
func New(c *cache.Bounded, d Doer, cfg Config) *Loader {
	if d == nil {
		panic("fetcher: doer cannot be nil")
	}
	if c == nil {
		c = cache.NewBounded(cache.DefaultConfig())
	}
	if cfg.PrefetchWorkers <= 0 {
		cfg.PrefetchWorkers = 4
	}
	if cfg.PrefetchTimeout <= 0 {
		cfg.PrefetchTimeout = 15 * time.Second
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = cache.DefaultMaxPixels
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Loader{
		cache:  c,
		doer:   d,
		config: cfg,
		logger: log.With().Str("component", "fetcher").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close cancels every shared flight. Loads started afterwards fail.
func (l *Loader) Close() {
	l.cancel()
}

// Cache returns the cache the loader writes to.
func (l *Loader) Cache() *cache.Bounded {
	return l.cache
}

// Load returns the image for rawURL, from cache when present.
// Failures wrap ErrUnavailable and leave the cache untouched.
func (l *Loader) Load(ctx context.Context, rawURL string) (*cache.Image, error) {
	key := cache.Key(rawURL)

	if img, ok := l.cache.Get(key); ok {
		imageLoadsTotal.WithLabelValues(resultHit).Inc()
		return img, nil
	}

	if !l.config.Coalesce {
		return l.fetch(ctx, rawURL, key)
	}

	// Shared flights run on the loader's context. Each caller waits at most
	// until its own ctx ends.
	ch := l.group.DoChan(key, func() (interface{}, error) {
		// A flight for this key may have completed between our miss and DoChan.
		if img, ok := l.cache.Get(key); ok {
			imageLoadsTotal.WithLabelValues(resultHit).Inc()
			return img, nil
		}
		return l.fetch(l.ctx, rawURL, key)
	})

	select {
	case res := <-ch:
		if res.Shared {
			imageLoadsTotal.WithLabelValues(resultShared).Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cache.Image), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, rawURL, ctx.Err())
	}
}

// fetch performs the GET and decode for one miss.
func (l *Loader) fetch(ctx context.Context, rawURL, key string) (*cache.Image, error) {
	start := time.Now()
	data, header, err := l.doer.GetBytes(ctx, rawURL)
	imageFetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		imageLoadsTotal.WithLabelValues(resultFailed).Inc()
		l.logger.Warn().
			Err(err).
			Str("url", rawURL).
			Msg("Image fetch failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, rawURL, err)
	}

	img, err := cache.DecodeImageLimit(data, header.Get("Content-Type"), l.config.MaxPixels)
	if err != nil {
		imageLoadsTotal.WithLabelValues(resultFailed).Inc()
		l.logger.Warn().
			Err(err).
			Str("url", rawURL).
			Int("bytes", len(data)).
			Msg("Image decode failed")
		return nil, fmt.Errorf("%w: %s: %w: %w", ErrUnavailable, rawURL, ErrDecode, err)
	}

	l.cache.Set(key, img)
	imageLoadsTotal.WithLabelValues(resultFetched).Inc()

	l.logger.Debug().
		Str("url", rawURL).
		Str("key", key).
		Int64("cost", img.Cost()).
		Dur("duration", time.Since(start)).
		Msg("Image cached")

	return img, nil
}

// LoadAsync loads rawURL on a new goroutine and hands the result to deliver
// on the configured Poster. Results for a stopped consumption context are
// dropped; a successful image is still cached.
func (l *Loader) LoadAsync(ctx context.Context, rawURL string, deliver func(*cache.Image, error)) {
	go func() {
		img, err := l.Load(ctx, rawURL)
		if deliver == nil {
			return
		}

		if l.config.Poster == nil {
			deliver(img, err)
			return
		}

		if !l.config.Poster.Post(func() { deliver(img, err) }) {
			l.logger.Debug().
				Str("url", rawURL).
				Msg("Consumption context stopped, dropping image result")
		}
	}()
}
