package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gallery_rate_limit_remaining",
		Help: "Number of requests remaining in the current API rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the rate limit window is exhausted",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_rate_limit_throttles_total",
		Help: "Total number of requests throttled because the rate limit window is low",
	})
)

// DefaultThrottleDelay is the pause applied to each request in the warning band.
const DefaultThrottleDelay = 1 * time.Second

// Tracker monitors the API rate limit window and gates requests.
type Tracker struct {
	store    Store
	logger   zerolog.Logger
	throttle time.Duration
}

// NewTracker creates a new rate limit tracker. A nil store uses a MemoryStore.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:    store,
		logger:   logger,
		throttle: DefaultThrottleDelay,
	}
}

// SetThrottleDelay overrides the warning-band pause (for testing).
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttle = d
}

// GetState returns the current window, or a default healthy state when
// nothing has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate limit state: %w", err)
	}
	if state == nil {
		t.logger.Debug().Msg("No rate limit state recorded, returning default healthy state")
		return defaultState(), nil
	}
	return state, nil
}

// UpdateFromHeaders parses the rate limit headers and stores the new window.
// Responses without the headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	var limit int
	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
	}

	now := time.Now()
	state := &State{
		Remaining:  remain,
		Limit:      limit,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	rateLimitRemaining.Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request may be sent now.
// It returns false in the critical band and pauses in the warning band.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Rate limit critical - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Rate limit warning - throttling request")

		rateLimitThrottlesTotal.Inc()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.throttle):
		}
	}

	return true, nil
}
