package pagination

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/collection"
	"github.com/Sternrassler/artic-gallery/pkg/dispatch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Phase is the controller state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoadingInitial
	PhaseLoadingMore
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoadingInitial:
		return "loading_initial"
	case PhaseLoadingMore:
		return "loading_more"
	case PhaseExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Mode selects how page indexes are computed.
type Mode string

const (
	// PagingDerived computes page = nextOffset/count + 1 from the filtered offset.
	PagingDerived Mode = "derived"

	// PagingServer requests current_page + 1 as reported by the server.
	PagingServer Mode = "server"
)

// Config holds controller configuration.
type Config struct {
	// InitialLoadCount is the page size of the first request (default: 10)
	InitialLoadCount int

	// BatchSize is the page size of every later request (default: 10)
	BatchSize int

	// PreloadThreshold is how many items from the end trigger the next
	// page (default: 4)
	PreloadThreshold int

	// Fields selects record fields (default: id, title, image_id)
	Fields []string

	// Mode selects derived or server paging (default: derived)
	Mode Mode

	// Timeout per page request
	Timeout time.Duration
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		InitialLoadCount: 10,
		BatchSize:        10,
		PreloadThreshold: 4,
		Fields:           collection.DefaultFields,
		Mode:             PagingDerived,
		Timeout:          15 * time.Second,
	}
}

// State is a snapshot of the accumulated gallery.
type State struct {
	Records     []collection.Record
	Phase       Phase
	IsLoading   bool
	CanLoadMore bool

	// NextOffset is the filtered record count in derived mode and the raw
	// server offset in server mode.
	NextOffset int

	// NextPage is the page index the next request will use.
	NextPage int

	// LastError is the error of the most recent failed request, cleared on success.
	LastError error
}

// Controller pages through the collection on behalf of one consumer.
type Controller struct {
	fetcher collection.Fetcher
	loop    dispatch.Poster
	config  Config
	logger  zerolog.Logger

	// Owned by the consumption context.
	state       State
	currentPage int
	generation  uint64

	// Published copy for other goroutines.
	mu        sync.RWMutex
	published State
	inflight  chan struct{}
	listeners []func(State)
}

// NewController creates a controller. Completions are delivered through loop,
// which must be the context the load methods are called on.
func NewController(f collection.Fetcher, loop dispatch.Poster, cfg Config) *Controller {
	if f == nil {
		panic("pagination: fetcher cannot be nil")
	}
	if loop == nil {
		panic("pagination: loop cannot be nil")
	}

	defaults := DefaultConfig()
	if cfg.InitialLoadCount <= 0 {
		cfg.InitialLoadCount = defaults.InitialLoadCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.PreloadThreshold < 0 {
		cfg.PreloadThreshold = defaults.PreloadThreshold
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = defaults.Fields
	}
	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	c := &Controller{
		fetcher: f,
		loop:    loop,
		config:  cfg,
		logger:  log.With().Str("component", "pagination").Logger(),
	}
	c.state = c.initialState()
	c.published = c.state

	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.config
}

func (c *Controller) initialState() State {
	return State{
		Phase:       PhaseIdle,
		CanLoadMore: true,
		NextPage:    1,
	}
}

// LoadInitialBatch requests the first InitialLoadCount records. It is a
// no-op, returning false, when records are already present or a request is
// outstanding.
func (c *Controller) LoadInitialBatch() bool {
	if len(c.state.Records) > 0 || c.state.IsLoading {
		c.logger.Debug().
			Int("records", len(c.state.Records)).
			Bool("loading", c.state.IsLoading).
			Msg("Initial batch already loaded or loading")
		return false
	}

	c.currentPage = 0
	c.state.NextOffset = 0
	c.startFetch(PhaseLoadingInitial, c.pageFor(0, c.config.InitialLoadCount), c.config.InitialLoadCount)
	return true
}

// LoadMoreIfNeeded requests the next BatchSize records. It is a no-op,
// returning false, while a request is outstanding or when the collection is
// exhausted. Redundant calls are safe.
func (c *Controller) LoadMoreIfNeeded() bool {
	if c.state.IsLoading || !c.state.CanLoadMore {
		return false
	}

	c.startFetch(PhaseLoadingMore, c.pageFor(c.state.NextOffset, c.config.BatchSize), c.config.BatchSize)
	return true
}

// ShouldLoadMore reports whether rendering index is within PreloadThreshold
// items of the end of the accumulated records.
func (c *Controller) ShouldLoadMore(index int) bool {
	return index >= len(c.state.Records)-c.config.PreloadThreshold
}

// Reset discards all records and returns to the initial state. A request
// still in flight completes into nothing.
func (c *Controller) Reset() {
	c.generation++
	c.currentPage = 0
	c.state = c.initialState()
	c.publish(true)

	c.logger.Debug().Msg("Pagination state reset")
}

// pageFor returns the 1-based page index for a request of count records.
func (c *Controller) pageFor(offset, count int) int {
	if c.config.Mode == PagingServer {
		return c.currentPage + 1
	}
	return offset/count + 1
}

func (c *Controller) startFetch(phase Phase, page, count int) {
	c.state.Phase = phase
	c.state.IsLoading = true
	c.state.NextPage = page

	gen := c.generation
	req := collection.PageRequest{
		Page:   page,
		Limit:  count,
		Fields: c.config.Fields,
	}

	c.mu.Lock()
	c.inflight = make(chan struct{})
	c.mu.Unlock()
	c.publish(false)

	c.logger.Debug().
		Str("phase", phase.String()).
		Int("page", page).
		Int("count", count).
		Int("offset", c.state.NextOffset).
		Msg("Requesting page")

	go c.fetch(gen, req)
}

// fetch runs off the consumption context and posts its result back.
func (c *Controller) fetch(gen uint64, req collection.PageRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	start := time.Now()
	page, err := c.fetcher.FetchPage(ctx, req)
	pageFetchDuration.Observe(time.Since(start).Seconds())

	if !c.loop.Post(func() { c.complete(gen, req, page, err) }) {
		pageFetchesTotal.WithLabelValues(resultDropped).Inc()
		c.logger.Debug().
			Int("page", req.Page).
			Msg("Consumption context stopped, dropping page result")
		c.releaseWaiters()
	}
}

// complete applies a page result. Runs on the consumption context.
func (c *Controller) complete(gen uint64, req collection.PageRequest, page *collection.Page, err error) {
	if gen != c.generation {
		pageFetchesTotal.WithLabelValues(resultStale).Inc()
		c.logger.Debug().
			Int("page", req.Page).
			Msg("Discarding page result from before reset")
		return
	}

	c.state.IsLoading = false

	if err != nil {
		pageFetchesTotal.WithLabelValues(resultFailed).Inc()
		c.state.LastError = err
		c.state.Phase = c.restingPhase()

		c.logger.Warn().
			Err(err).
			Int("page", req.Page).
			Int("count", req.Limit).
			Msg("Page fetch failed, state unchanged")

		c.publish(true)
		return
	}

	kept, dropped := collection.FilterDisplayable(page.Records)
	if dropped > 0 {
		recordsFilteredTotal.Add(float64(dropped))
	}

	c.state.Records = append(c.state.Records, kept...)
	c.state.LastError = nil

	switch c.config.Mode {
	case PagingServer:
		current := page.CurrentPage
		if current <= 0 {
			current = req.Page
		}
		c.currentPage = current
		c.state.NextOffset = page.Offset + len(page.Records)
		c.state.CanLoadMore = len(page.Records) > 0 && (page.TotalPages == 0 || current < page.TotalPages)
		c.state.NextPage = current + 1
	default:
		c.state.NextOffset += len(kept)
		c.state.CanLoadMore = len(kept) > 0
		c.state.NextPage = c.pageFor(c.state.NextOffset, c.config.BatchSize)
	}

	c.state.Phase = c.restingPhase()
	pageFetchesTotal.WithLabelValues(resultSuccess).Inc()

	c.logger.Info().
		Int("page", req.Page).
		Int("received", len(page.Records)).
		Int("kept", len(kept)).
		Int("filtered", dropped).
		Int("records", len(c.state.Records)).
		Int("offset", c.state.NextOffset).
		Bool("can_load_more", c.state.CanLoadMore).
		Msg("Page applied")

	c.publish(true)
}

func (c *Controller) restingPhase() Phase {
	if c.state.CanLoadMore {
		return PhaseIdle
	}
	return PhaseExhausted
}

// publish copies the state for readers, notifies listeners and, when
// settled, releases Wait callers.
func (c *Controller) publish(settled bool) {
	c.mu.Lock()
	c.published = c.state
	listeners := c.listeners
	c.mu.Unlock()

	snapshot := c.Snapshot()
	for _, fn := range listeners {
		fn(snapshot)
	}

	if settled {
		c.releaseWaiters()
	}
}

func (c *Controller) releaseWaiters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight != nil {
		close(c.inflight)
		c.inflight = nil
	}
}

// Snapshot returns a copy of the latest published state. Safe from any goroutine.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.published
	s.Records = slices.Clone(s.Records)
	return s
}

// Wait blocks until no page request is outstanding.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.RLock()
	ch := c.inflight
	c.mu.RUnlock()

	if ch == nil {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn to be called on the consumption context after every
// state transition.
func (c *Controller) Subscribe(fn func(State)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}
