// Package gallery wires the cache, fetcher and pagination controller into a
// consumption session: start, scroll, load images, end.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/cache"
	"github.com/Sternrassler/artic-gallery/pkg/client"
	"github.com/Sternrassler/artic-gallery/pkg/collection"
	"github.com/Sternrassler/artic-gallery/pkg/config"
	"github.com/Sternrassler/artic-gallery/pkg/dispatch"
	"github.com/Sternrassler/artic-gallery/pkg/fetcher"
	"github.com/Sternrassler/artic-gallery/pkg/logging"
	"github.com/Sternrassler/artic-gallery/pkg/pagination"
	"github.com/Sternrassler/artic-gallery/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionEnded is returned by every operation after End.
	ErrSessionEnded = errors.New("gallery session ended")

	// ErrIndexOutOfRange is returned for an index past the loaded records.
	ErrIndexOutOfRange = errors.New("index out of range")
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gallery_sessions_active",
		Help: "Gallery sessions started and not yet ended",
	})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_sessions_total",
		Help: "Gallery sessions created",
	})
)

// Collection fetches pages and resolves records to image URLs.
type Collection interface {
	collection.Fetcher
	ImageURL(rec collection.Record) (string, error)
}

// Deps are optional collaborators. Nil fields are built from the config.
type Deps struct {
	// HTTP is the shared outbound client
	HTTP *client.Client

	// RateLimitStore backs a client built here (default: in-memory)
	RateLimitStore ratelimit.Store

	// Collection is the page source and image URL resolver
	Collection Collection

	// Images performs image GETs (default: HTTP)
	Images fetcher.Doer

	// Cache is the image cache; End clears it
	Cache *cache.Bounded
}

// Session is one consumption session over the collection.
type Session struct {
	id     string
	config config.Config
	logger zerolog.Logger

	loop       *dispatch.Loop
	controller *pagination.Controller
	loader     *fetcher.Loader
	cache      *cache.Bounded
	ownsCache  bool
	collection Collection

	ctx      context.Context
	cancel   context.CancelFunc
	prefetch sync.WaitGroup

	// endMu orders prefetch.Add against End's prefetch.Wait
	endMu   sync.Mutex
	ended   atomic.Bool
	endOnce sync.Once
	started time.Time
}

// NewHTTPClient builds the outbound client described by cfg. A nil store
// keeps the rate limit window in memory.
func NewHTTPClient(cfg config.Config, store ratelimit.Store) (*client.Client, error) {
	clientCfg := client.DefaultConfig(cfg.API.UserAgent)
	clientCfg.Timeout = cfg.API.Timeout
	clientCfg.MaxRetries = cfg.Fetch.MaxRetries
	clientCfg.InitialBackoff = cfg.Fetch.InitialBackoff
	clientCfg.RateLimitStore = store

	c, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}
	return c, nil
}

// NewSession builds a session from cfg, filling missing deps.
func NewSession(cfg config.Config, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()

	httpClient := deps.HTTP
	if httpClient == nil && (deps.Collection == nil || deps.Images == nil) {
		c, err := NewHTTPClient(cfg, deps.RateLimitStore)
		if err != nil {
			return nil, err
		}
		httpClient = c
	}

	coll := deps.Collection
	if coll == nil {
		c, err := collection.NewClient(httpClient, collection.Config{
			BaseURL: cfg.API.BaseURL,
			IIIFURL: cfg.API.IIIFURL,
			Fields:  cfg.API.Fields,
		})
		if err != nil {
			return nil, fmt.Errorf("create collection client: %w", err)
		}
		coll = c
	}

	var images fetcher.Doer = httpClient
	if deps.Images != nil {
		images = deps.Images
	}

	name := "session-" + id[:8]

	imageCache := deps.Cache
	ownsCache := imageCache == nil
	if ownsCache {
		imageCache = cache.NewBounded(cache.Config{
			Name:      name,
			ItemLimit: cfg.Cache.ItemLimit,
			CostLimit: cfg.Cache.CostLimit,
		})
	}

	loop := dispatch.NewLoop(name)

	controller := pagination.NewController(coll, loop, pagination.Config{
		InitialLoadCount: cfg.Gallery.InitialLoadCount,
		BatchSize:        cfg.Gallery.BatchSize,
		PreloadThreshold: cfg.Gallery.PreloadThreshold,
		Fields:           cfg.API.Fields,
		Mode:             pagination.Mode(cfg.Gallery.PagingMode),
		Timeout:          cfg.API.Timeout,
	})

	loader := fetcher.New(imageCache, images, fetcher.Config{
		Coalesce:        cfg.Fetch.Coalesce,
		PrefetchWorkers: cfg.Fetch.PrefetchWorkers,
		PrefetchTimeout: cfg.Fetch.PrefetchTimeout,
		MaxPixels:       cfg.Fetch.MaxImagePixels,
		Poster:          loop,
	})

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:         id,
		config:     cfg,
		logger:     logging.NewSessionLogger("gallery", id),
		loop:       loop,
		controller: controller,
		loader:     loader,
		cache:      imageCache,
		ownsCache:  ownsCache,
		collection: coll,
		ctx:        ctx,
		cancel:     cancel,
		started:    time.Now(),
	}

	sessionsTotal.Inc()
	sessionsActive.Inc()

	s.logger.Info().
		Int("initial_load_count", cfg.Gallery.InitialLoadCount).
		Int("batch_size", cfg.Gallery.BatchSize).
		Int("preload_threshold", cfg.Gallery.PreloadThreshold).
		Str("paging_mode", cfg.Gallery.PagingMode).
		Int("cache_item_limit", cfg.Cache.ItemLimit).
		Int64("cache_cost_limit", cfg.Cache.CostLimit).
		Msg("Gallery session created")

	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Start requests the initial batch. It reports whether a fetch was started.
func (s *Session) Start(ctx context.Context) (bool, error) {
	if s.ended.Load() {
		return false, ErrSessionEnded
	}

	var started bool
	if err := s.loop.Call(ctx, func() {
		started = s.controller.LoadInitialBatch()
	}); err != nil {
		return false, s.loopErr(err)
	}
	return started, nil
}

// ScrollNear reports that index is being rendered. It requests the next page
// when index is within the preload threshold of the end, and prefetches the
// images of the records that follow index. It reports whether a page fetch
// was started.
func (s *Session) ScrollNear(ctx context.Context, index int) (bool, error) {
	if s.ended.Load() {
		return false, ErrSessionEnded
	}

	var started bool
	var upcoming []collection.Record
	if err := s.loop.Call(ctx, func() {
		if s.controller.ShouldLoadMore(index) {
			started = s.controller.LoadMoreIfNeeded()
		}
		upcoming = s.upcoming(index)
	}); err != nil {
		return false, s.loopErr(err)
	}

	s.prefetchRecords(upcoming)

	return started, nil
}

// upcoming returns the records after index within the preload window.
// Runs on the loop.
func (s *Session) upcoming(index int) []collection.Record {
	records := s.controller.Snapshot().Records
	from := index + 1
	if from < 0 {
		from = 0
	}
	to := from + s.config.Gallery.PreloadThreshold
	if to > len(records) {
		to = len(records)
	}
	if from >= to {
		return nil
	}
	return records[from:to]
}

func (s *Session) prefetchRecords(records []collection.Record) {
	if len(records) == 0 {
		return
	}

	urls := make([]string, 0, len(records))
	for _, rec := range records {
		u, err := s.collection.ImageURL(rec)
		if err != nil {
			continue
		}
		urls = append(urls, u)
	}

	s.endMu.Lock()
	if s.ended.Load() {
		s.endMu.Unlock()
		return
	}
	s.prefetch.Add(1)
	s.endMu.Unlock()

	go func() {
		defer s.prefetch.Done()
		s.loader.Prefetch(s.ctx, urls)
	}()
}

// Image loads the image of the record at index.
func (s *Session) Image(ctx context.Context, index int) (*cache.Image, error) {
	if s.ended.Load() {
		return nil, ErrSessionEnded
	}

	url, err := s.imageURL(index)
	if err != nil {
		return nil, err
	}
	return s.loader.Load(ctx, url)
}

// ImageAsync loads the image of the record at index and delivers the result
// on the session's consumption context.
func (s *Session) ImageAsync(index int, deliver func(*cache.Image, error)) error {
	if s.ended.Load() {
		return ErrSessionEnded
	}

	url, err := s.imageURL(index)
	if err != nil {
		return err
	}
	s.loader.LoadAsync(s.ctx, url, deliver)
	return nil
}

func (s *Session) imageURL(index int) (string, error) {
	records := s.controller.Snapshot().Records
	if index < 0 || index >= len(records) {
		return "", fmt.Errorf("image %d of %d: %w", index, len(records), ErrIndexOutOfRange)
	}
	return s.collection.ImageURL(records[index])
}

// Wait blocks until no page request is outstanding.
func (s *Session) Wait(ctx context.Context) error {
	return s.controller.Wait(ctx)
}

// Subscribe registers fn for pagination state changes, called on the
// session's consumption context.
func (s *Session) Subscribe(fn func(pagination.State)) {
	s.controller.Subscribe(fn)
}

// Records returns the accumulated records.
func (s *Session) Records() []collection.Record {
	return s.controller.Snapshot().Records
}

// State returns the pagination state.
func (s *Session) State() pagination.State {
	return s.controller.Snapshot()
}

// CacheStats returns the image cache counters.
func (s *Session) CacheStats() cache.State {
	return s.cache.Stats()
}

// LoopStats returns the consumption context statistics.
func (s *Session) LoopStats() dispatch.Stats {
	return s.loop.GetStats()
}

// Ended reports whether End was called.
func (s *Session) Ended() bool {
	return s.ended.Load()
}

// End resets pagination, stops the consumption context and clears the
// image cache. Safe to call more than once.
func (s *Session) End() {
	s.endOnce.Do(func() {
		s.endMu.Lock()
		s.ended.Store(true)
		s.endMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.loop.Call(ctx, s.controller.Reset); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to reset pagination on session end")
		}

		s.cancel()
		s.loader.Close()
		s.prefetch.Wait()
		s.loop.Stop()

		stats := s.cache.Stats()
		if s.ownsCache {
			s.cache.Close()
		} else {
			s.cache.Clear()
		}

		sessionsActive.Dec()

		s.logger.Info().
			Int64("items", stats.Items).
			Int64("cost", stats.TotalCost).
			Dur("duration", time.Since(s.started)).
			Msg("Gallery session ended")
	})
}

func (s *Session) loopErr(err error) error {
	if errors.Is(err, dispatch.ErrStopped) {
		return ErrSessionEnded
	}
	return err
}
