package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker() *Tracker {
	tracker := NewTracker(NewMemoryStore(), zerolog.Nop())
	tracker.SetThrottleDelay(time.Millisecond)
	return tracker
}

func TestTracker_GetState_Default(t *testing.T) {
	tracker := newTestTracker()

	state, err := tracker.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != defaultRemaining {
		t.Errorf("Remaining = %d, want %d", state.Remaining, defaultRemaining)
	}
	if !state.IsHealthy {
		t.Error("default state should be healthy")
	}
}

func TestTracker_UpdateFromHeaders(t *testing.T) {
	tests := []struct {
		name          string
		headers       map[string]string
		wantErr       bool
		wantRemaining int
		wantLimit     int
		wantStored    bool
	}{
		{
			name: "full headers",
			headers: map[string]string{
				HeaderRemaining: "42",
				HeaderReset:     "30",
				HeaderLimit:     "60",
			},
			wantRemaining: 42,
			wantLimit:     60,
			wantStored:    true,
		},
		{
			name: "without limit",
			headers: map[string]string{
				HeaderRemaining: "7",
				HeaderReset:     "10",
			},
			wantRemaining: 7,
			wantStored:    true,
		},
		{
			name:    "no headers is ignored",
			headers: map[string]string{},
		},
		{
			name: "missing reset",
			headers: map[string]string{
				HeaderRemaining: "10",
			},
			wantErr: true,
		},
		{
			name: "invalid remaining",
			headers: map[string]string{
				HeaderRemaining: "lots",
				HeaderReset:     "10",
			},
			wantErr: true,
		},
		{
			name: "invalid reset",
			headers: map[string]string{
				HeaderRemaining: "10",
				HeaderReset:     "soon",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			tracker := NewTracker(store, zerolog.Nop())
			ctx := context.Background()

			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}

			err := tracker.UpdateFromHeaders(ctx, headers)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UpdateFromHeaders() error = %v, wantErr %v", err, tt.wantErr)
			}

			stored, _ := store.Load(ctx)
			if !tt.wantStored {
				if stored != nil {
					t.Errorf("state stored unexpectedly: %+v", stored)
				}
				return
			}
			if stored == nil {
				t.Fatal("state not stored")
			}
			if stored.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", stored.Remaining, tt.wantRemaining)
			}
			if stored.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", stored.Limit, tt.wantLimit)
			}
		})
	}
}

func TestTracker_ShouldAllowRequest(t *testing.T) {
	tests := []struct {
		name      string
		remaining string
		want      bool
	}{
		{name: "healthy", remaining: "50", want: true},
		{name: "warning throttles but allows", remaining: "5", want: true},
		{name: "critical blocks", remaining: "1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTestTracker()
			ctx := context.Background()

			headers := http.Header{}
			headers.Set(HeaderRemaining, tt.remaining)
			headers.Set(HeaderReset, "60")
			if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			allowed, err := tracker.ShouldAllowRequest(ctx)
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.want {
				t.Errorf("ShouldAllowRequest() = %v, want %v", allowed, tt.want)
			}
		})
	}
}

func TestTracker_ShouldAllowRequest_ContextCancelledWhileThrottled(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(), zerolog.Nop())
	tracker.SetThrottleDelay(time.Hour)

	headers := http.Header{}
	headers.Set(HeaderRemaining, "5")
	headers.Set(HeaderReset, "60")
	if err := tracker.UpdateFromHeaders(context.Background(), headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if allowed {
		t.Error("cancelled request should not be allowed")
	}
	if err == nil {
		t.Error("expected context error")
	}
}

func TestMemoryStore_CopiesState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := &State{Remaining: 10}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	state.Remaining = 99

	loaded, _ := store.Load(ctx)
	if loaded.Remaining != 10 {
		t.Errorf("Remaining = %d, want 10 (store must copy)", loaded.Remaining)
	}

	if err := store.Save(ctx, nil); err == nil {
		t.Error("Save(nil) should fail")
	}
}
