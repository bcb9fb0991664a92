// Package dispatch provides the single consumption context: a serial event
// loop that runs posted closures one at a time, in submission order.
//
// State owned by the consumption context is only touched from closures
// running on the loop, so it needs no locking of its own. Worker goroutines
// hand results back by posting a closure instead of mutating state directly.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned when work is submitted to a stopped loop.
var ErrStopped = errors.New("dispatch loop is stopped")

// Poster accepts closures for execution on the consumption context.
type Poster interface {
	// Post enqueues fn without blocking. It reports false if fn was dropped.
	Post(fn func()) bool
}

// Stats contains loop statistics.
type Stats struct {
	Name     string `json:"name"`
	Pending  int    `json:"pending"`
	Executed int64  `json:"executed"`
	Panics   int64  `json:"panics"`
	Dropped  int64  `json:"dropped"`
	Running  bool   `json:"running"`
}

// Loop runs closures serially on one goroutine.
type Loop struct {
	name   string
	logger zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	running bool
	wake    chan struct{}
	done    chan struct{}

	executed int64
	panics   int64
	dropped  int64
}

// NewLoop creates and starts a loop.
func NewLoop(name string) *Loop {
	l := &Loop{
		name:    name,
		logger:  log.With().Str("component", "dispatch").Str("loop", name).Logger(),
		running: true,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	go l.run()

	return l
}

// Post enqueues fn. It never blocks; after Stop it drops fn and returns false.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}

	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		atomic.AddInt64(&l.dropped, 1)
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish.
// It must not be called from a closure running on the same loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// Accepted work always runs before the loop exits.
		<-finished
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new work, runs everything already queued and waits for the
// loop goroutine to exit. Safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.running = false
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	<-l.done

	l.logger.Debug().
		Int64("executed", atomic.LoadInt64(&l.executed)).
		Msg("Dispatch loop stopped")
}

// IsRunning reports whether the loop still accepts work.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// GetStats returns current loop statistics.
func (l *Loop) GetStats() Stats {
	l.mu.Lock()
	pending := len(l.queue)
	running := l.running
	l.mu.Unlock()

	return Stats{
		Name:     l.name,
		Pending:  pending,
		Executed: atomic.LoadInt64(&l.executed),
		Panics:   atomic.LoadInt64(&l.panics),
		Dropped:  atomic.LoadInt64(&l.dropped),
		Running:  running,
	}
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		running := l.running
		l.mu.Unlock()

		for _, fn := range batch {
			l.execute(fn)
		}

		if len(batch) > 0 {
			continue
		}
		if !running {
			return
		}

		<-l.wake
	}
}

// execute runs one closure; a panic is logged and does not kill the loop.
func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&l.panics, 1)
			l.logger.Error().
				Str("panic", fmt.Sprint(r)).
				Msg("Recovered panic in dispatched closure")
		}
	}()

	fn()
	atomic.AddInt64(&l.executed, 1)
}
