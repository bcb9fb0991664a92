// Package ratelimit implements request gating on the collection API's rate limit.
// It monitors the X-RateLimit-Remaining and X-RateLimit-Reset response headers
// and blocks or throttles requests before the window is exhausted.
package ratelimit

import (
	"time"
)

// Response headers read by the tracker.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderLimit     = "X-RateLimit-Limit"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks all requests when remaining requests fall below this value.
	ThresholdCritical = 2

	// ThresholdWarning applies throttling when remaining requests fall below this value.
	ThresholdWarning = 10

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 30

	// defaultRemaining is assumed until the first response headers arrive.
	defaultRemaining = 60
)

// State represents the current rate limit window.
type State struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// Limit is the window size, when the server reports it.
	Limit int `json:"limit,omitempty"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// defaultState is the optimistic state used before any headers were seen.
func defaultState() *State {
	now := time.Now()
	s := &State{
		Remaining:  defaultRemaining,
		ResetAt:    now.Add(60 * time.Second),
		LastUpdate: now,
	}
	s.UpdateHealth()
	return s
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
// A window whose reset time has passed never blocks.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && s.TimeUntilReset() > 0 && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets, or 0 if it already has.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
