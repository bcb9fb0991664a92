package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLoop_RunsInOrder(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		if !l.Post(func() { got = append(got, i) }) {
			t.Fatalf("Post(%d) rejected", i)
		}
	}

	// Call is queued behind every Post above.
	var n int
	if err := l.Call(context.Background(), func() { n = len(got) }); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	if n != 100 {
		t.Fatalf("executed %d closures, want 100", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, closures ran out of order", i, v)
		}
	}
}

func TestLoop_SerialExecution(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	// counter is only touched on the loop; run with -race to check.
	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var final int
	if err := l.Call(context.Background(), func() { final = counter }); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if final != 1000 {
		t.Errorf("counter = %d, want 1000", final)
	}
}

func TestLoop_StopDrainsQueue(t *testing.T) {
	l := NewLoop("test")

	release := make(chan struct{})
	l.Post(func() { <-release })

	ran := 0
	for i := 0; i < 5; i++ {
		l.Post(func() { ran++ })
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	l.Stop()

	if ran != 5 {
		t.Errorf("ran = %d, want 5 (queued work must drain on Stop)", ran)
	}
}

func TestLoop_PostAfterStop(t *testing.T) {
	l := NewLoop("test")
	l.Stop()

	if l.Post(func() {}) {
		t.Error("Post() after Stop should return false")
	}
	if err := l.Call(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Call() after Stop error = %v, want ErrStopped", err)
	}
	if l.IsRunning() {
		t.Error("IsRunning() should be false after Stop")
	}

	stats := l.GetStats()
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}

	// second Stop is a no-op
	l.Stop()
}

func TestLoop_PostNil(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	if l.Post(nil) {
		t.Error("Post(nil) should return false")
	}
}

func TestLoop_PanicRecovery(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	l.Post(func() { panic("boom") })

	ok := false
	if err := l.Call(context.Background(), func() { ok = true }); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !ok {
		t.Error("loop should keep running after a panic")
	}

	stats := l.GetStats()
	if stats.Panics != 1 {
		t.Errorf("Panics = %d, want 1", stats.Panics)
	}
}

func TestLoop_CallContextCancelled(t *testing.T) {
	l := NewLoop("test")

	release := make(chan struct{})
	l.Post(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Call(ctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() error = %v, want DeadlineExceeded", err)
	}

	close(release)
	l.Stop()
}

func TestLoop_GetStats(t *testing.T) {
	l := NewLoop("gallery")

	if !l.GetStats().Running {
		t.Error("Running should be true before Stop")
	}

	for i := 0; i < 4; i++ {
		l.Post(func() {})
	}
	l.Stop()

	stats := l.GetStats()
	if stats.Name != "gallery" {
		t.Errorf("Name = %q, want gallery", stats.Name)
	}
	if stats.Executed != 4 {
		t.Errorf("Executed = %d, want 4", stats.Executed)
	}
	if stats.Pending != 0 {
		t.Errorf("Pending = %d, want 0", stats.Pending)
	}
	if stats.Running {
		t.Error("Running should be false after Stop")
	}
}

func TestLoop_ImplementsPoster(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	var _ Poster = l
}
