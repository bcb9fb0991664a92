package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/cache"
)

// PrefetchResult summarises one Prefetch call.
type PrefetchResult struct {
	Requested int
	Cached    int // already in cache, no request made
	Fetched   int
	Failed    int
	Errors    map[string]error
	Duration  time.Duration
}

type prefetchOutcome struct {
	url string
	err error
}

// Prefetch warms the cache for urls with a bounded worker pool.
// Failures are counted and logged, never returned as an error.
func (l *Loader) Prefetch(ctx context.Context, urls []string) PrefetchResult {
	start := time.Now()
	result := PrefetchResult{Errors: make(map[string]error)}

	// Deduplicate and skip what is already cached
	seen := make(map[string]bool, len(urls))
	pending := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		result.Requested++

		if l.cache.Contains(cache.Key(u)) {
			result.Cached++
			continue
		}
		pending = append(pending, u)
	}

	if len(pending) == 0 {
		result.Duration = time.Since(start)
		return result
	}

	workers := l.config.PrefetchWorkers
	if workers > len(pending) {
		workers = len(pending)
	}

	queue := make(chan string, len(pending))
	outcomes := make(chan prefetchOutcome, len(pending))

	for _, u := range pending {
		queue <- u
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go l.prefetchWorker(ctx, queue, outcomes, &wg, i)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		if o.err != nil {
			result.Failed++
			result.Errors[o.url] = o.err
			continue
		}
		result.Fetched++
	}

	result.Duration = time.Since(start)

	l.logger.Debug().
		Int("requested", result.Requested).
		Int("cached", result.Cached).
		Int("fetched", result.Fetched).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("Prefetch complete")

	return result
}

// prefetchWorker loads urls from the queue until it is drained or ctx ends.
func (l *Loader) prefetchWorker(ctx context.Context, queue <-chan string, outcomes chan<- prefetchOutcome, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for u := range queue {
		select {
		case <-ctx.Done():
			outcomes <- prefetchOutcome{url: u, err: ctx.Err()}
			continue
		default:
		}

		itemCtx, cancel := context.WithTimeout(ctx, l.config.PrefetchTimeout)
		_, err := l.Load(itemCtx, u)
		cancel()

		outcomes <- prefetchOutcome{url: u, err: err}
		processed++
	}

	if processed > 0 {
		l.logger.Debug().
			Int("worker_id", workerID).
			Int("processed", processed).
			Msg("Prefetch worker completed")
	}
}
