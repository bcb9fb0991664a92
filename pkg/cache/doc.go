// Package cache provides the bounded in-memory image cache for a gallery session.
//
// The cache maps a resource identifier (the image URL, normalised with Key)
// to a decoded Image and enforces two budgets:
//
// - an item-count limit (default 100 images)
// - a total-cost limit in bytes (default 100 MiB), where an image costs width*height*4
//
// When an insert pushes the cache over either budget, least recently used
// entries are evicted until both hold again. Re-setting an existing key
// replaces its cost rather than adding to it.
//
// # Basic Usage
//
//	c := cache.NewBounded(cache.DefaultConfig())
//
//	img, err := cache.DecodeImage(body, resp.Header.Get("Content-Type"))
//	if err != nil {
//		return err
//	}
//	c.Set(cache.Key(imageURL), img)
//
//	if img, ok := c.Get(cache.Key(imageURL)); ok {
//		// serve img.Data
//	}
//
//	// Session end
//	c.Clear()
//
// The cache is owned by the session that created it; there is no global instance.
//
// # Metrics
//
//   - gallery_cache_hits_total - Cache hits
//   - gallery_cache_misses_total - Cache misses
//   - gallery_cache_evictions_total{reason} - Evictions (capacity, cost)
//   - gallery_cache_items{cache} - Cached images, per cache
//   - gallery_cache_cost_bytes{cache} - Summed cost of cached images, per cache
//
// Each cache publishes its gauges under Config.Name. Close removes them.
package cache
