package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultItemLimit is the maximum number of cached images.
	DefaultItemLimit = 100

	// DefaultCostLimit is the maximum total cost in bytes (100 MiB).
	DefaultCostLimit int64 = 100 * 1024 * 1024

	// DefaultName labels the gauges of an unnamed cache.
	DefaultName = "default"
)

// Eviction reasons reported to metrics and OnEvict.
const (
	ReasonCapacity = "capacity"
	ReasonCost     = "cost"
)

// Config holds the cache budget.
type Config struct {
	// Name is the "cache" label on the item and cost gauges (default: "default")
	Name string

	// ItemLimit is the maximum number of entries (default: 100)
	ItemLimit int

	// CostLimit is the maximum summed entry cost in bytes (default: 100 MiB)
	CostLimit int64

	// OnEvict is called for every entry evicted by policy, with the reason.
	// It runs with the cache lock held and must not call back into the cache.
	OnEvict func(entry Entry, reason string)
}

// DefaultConfig returns the default cache budget.
func DefaultConfig() Config {
	return Config{
		ItemLimit: DefaultItemLimit,
		CostLimit: DefaultCostLimit,
	}
}

// State is a snapshot of the cache counters.
type State struct {
	Items        int64   `json:"items"`
	TotalCost    int64   `json:"total_cost"`
	ItemLimit    int64   `json:"item_limit"`
	CostLimit    int64   `json:"cost_limit"`
	UsagePercent float64 `json:"usage_percent"`
}

// calculateUsagePercent sets UsagePercent from TotalCost and CostLimit.
func (s *State) calculateUsagePercent() {
	if s.CostLimit > 0 {
		s.UsagePercent = float64(s.TotalCost) / float64(s.CostLimit) * 100
	} else {
		s.UsagePercent = 0
	}
}

// Bounded is an LRU image cache bounded by item count and total cost.
//
// Limits are targets enforced on every Set: least recently used entries are
// evicted until both budgets hold, except that the entry just written is
// never evicted by its own insert. A single entry larger than CostLimit is
// therefore kept alone until the next Set pushes it out.
//
// All methods are safe for concurrent use.
type Bounded struct {
	mu        sync.Mutex
	ll        *list.List // front = most recently used
	items     map[string]*list.Element
	totalCost int64
	config    Config
}

// NewBounded creates an empty cache. Non-positive limits fall back to defaults.
func NewBounded(cfg Config) *Bounded {
	if cfg.ItemLimit <= 0 {
		cfg.ItemLimit = DefaultItemLimit
	}
	if cfg.CostLimit <= 0 {
		cfg.CostLimit = DefaultCostLimit
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	b := &Bounded{
		ll:     list.New(),
		items:  make(map[string]*list.Element),
		config: cfg,
	}
	b.updateGauges()
	return b
}

// Get returns the image stored under key and marks it most recently used.
func (b *Bounded) Get(key string) (*Image, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.items[key]
	if !ok {
		CacheMisses.Inc()
		return nil, false
	}

	b.ll.MoveToFront(elem)
	CacheHits.Inc()
	return elem.Value.(*Entry).Value, true
}

// Contains reports whether key is cached without touching recency.
func (b *Bounded) Contains(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.items[key]
	return ok
}

// Set stores img under key, replacing any previous entry, then evicts until
// the cache is within budget. A nil image is ignored.
func (b *Bounded) Set(key string, img *Image) {
	if img == nil {
		return
	}
	cost := img.Cost()

	b.mu.Lock()
	defer b.mu.Unlock()

	if elem, ok := b.items[key]; ok {
		entry := elem.Value.(*Entry)
		b.totalCost -= entry.Cost
		entry.Value = img
		entry.Cost = cost
		entry.CachedAt = time.Now()
		b.totalCost += cost
		b.ll.MoveToFront(elem)
	} else {
		entry := &Entry{
			Key:      key,
			Value:    img,
			Cost:     cost,
			CachedAt: time.Now(),
		}
		b.items[key] = b.ll.PushFront(entry)
		b.totalCost += cost
	}

	b.evict()
	b.updateGauges()
}

// evict removes least recently used entries until both budgets hold or only
// the most recent entry is left. Caller must hold the lock.
func (b *Bounded) evict() {
	for b.ll.Len() > 1 {
		var reason string
		switch {
		case b.ll.Len() > b.config.ItemLimit:
			reason = ReasonCapacity
		case b.totalCost > b.config.CostLimit:
			reason = ReasonCost
		default:
			return
		}

		elem := b.ll.Back()
		entry := b.removeElement(elem)
		CacheEvictions.WithLabelValues(reason).Inc()
		if b.config.OnEvict != nil {
			b.config.OnEvict(*entry, reason)
		}
	}
}

// removeElement unlinks elem and adjusts counters. Caller must hold the lock.
func (b *Bounded) removeElement(elem *list.Element) *Entry {
	entry := elem.Value.(*Entry)
	b.ll.Remove(elem)
	delete(b.items, entry.Key)
	b.totalCost -= entry.Cost
	return entry
}

// Remove deletes key from the cache. It reports whether an entry existed.
func (b *Bounded) Remove(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.items[key]
	if !ok {
		return false
	}
	b.removeElement(elem)
	b.updateGauges()
	return true
}

// Clear drops every entry and resets the counters to zero.
func (b *Bounded) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ll.Init()
	b.items = make(map[string]*list.Element)
	b.totalCost = 0
	b.updateGauges()
}

// Close clears the cache and removes its gauge series. The cache stays
// usable; a later Set publishes the series again.
func (b *Bounded) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ll.Init()
	b.items = make(map[string]*list.Element)
	b.totalCost = 0
	CacheItems.DeleteLabelValues(b.config.Name)
	CacheCost.DeleteLabelValues(b.config.Name)
}

// Name returns the gauge label of the cache.
func (b *Bounded) Name() string {
	return b.config.Name
}

// Len returns the number of cached entries.
func (b *Bounded) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ll.Len()
}

// Keys returns the cached keys from most to least recently used.
func (b *Bounded) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, b.ll.Len())
	for elem := b.ll.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*Entry).Key)
	}
	return keys
}

// Stats returns a consistent snapshot of the cache counters.
func (b *Bounded) Stats() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := State{
		Items:     int64(b.ll.Len()),
		TotalCost: b.totalCost,
		ItemLimit: int64(b.config.ItemLimit),
		CostLimit: b.config.CostLimit,
	}
	s.calculateUsagePercent()
	return s
}

// updateGauges publishes the counters. Caller must hold the lock.
func (b *Bounded) updateGauges() {
	CacheItems.WithLabelValues(b.config.Name).Set(float64(b.ll.Len()))
	CacheCost.WithLabelValues(b.config.Name).Set(float64(b.totalCost))
}
