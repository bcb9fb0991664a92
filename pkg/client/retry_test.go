package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryConfigForErrorClass(t *testing.T) {
	initial := 100 * time.Millisecond

	tests := []struct {
		name            string
		errorClass      ErrorClass
		expectedInitial time.Duration
		expectedMax     time.Duration
	}{
		{"server error config", ErrorClassServer, 100 * time.Millisecond, 10 * time.Second},
		{"rate limit config", ErrorClassRateLimit, 400 * time.Millisecond, 60 * time.Second},
		{"network error config", ErrorClassNetwork, 200 * time.Millisecond, 30 * time.Second},
		{"unknown error class uses default", "", 100 * time.Millisecond, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := RetryConfigForErrorClass(tt.errorClass, initial)

			if config.InitialBackoff != tt.expectedInitial {
				t.Errorf("InitialBackoff = %v, want %v", config.InitialBackoff, tt.expectedInitial)
			}
			if config.MaxBackoff != tt.expectedMax {
				t.Errorf("MaxBackoff = %v, want %v", config.MaxBackoff, tt.expectedMax)
			}
			if config.BackoffMultiplier != 2.0 {
				t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
			}
		})
	}
}

func TestRetryConfigForErrorClass_DefaultInitial(t *testing.T) {
	config := RetryConfigForErrorClass(ErrorClassServer, 0)
	if config.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", config.InitialBackoff)
	}
}

func TestRetryWithBackoff_SuccessFirstAttempt(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), 3, time.Millisecond, func() (ErrorClass, error) {
		attempts++
		return "", nil
	})

	if err != nil {
		t.Errorf("retryWithBackoff() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithBackoff_SingleAttempt(t *testing.T) {
	attempts := 0
	wantErr := errors.New("server down")
	err := retryWithBackoff(context.Background(), 1, time.Millisecond, func() (ErrorClass, error) {
		attempts++
		return ErrorClassServer, wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("a single attempt should return the original error, not ErrRetryExhausted")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	attempts := 0
	wantErr := errors.New("server down")
	err := retryWithBackoff(context.Background(), 3, time.Millisecond, func() (ErrorClass, error) {
		attempts++
		return ErrorClassServer, wantErr
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, should wrap the last failure", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoff_NonRetriable(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), 5, time.Millisecond, func() (ErrorClass, error) {
		attempts++
		return ErrorClassClient, errors.New("not found")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := retryWithBackoff(ctx, 5, time.Hour, func() (ErrorClass, error) {
		attempts++
		cancel()
		return ErrorClassNetwork, errors.New("timeout")
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("error = %v, want ErrContextCancelled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
