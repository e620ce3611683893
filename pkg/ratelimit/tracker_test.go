package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestTracker() *Tracker {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tr := NewTracker(NewMemoryStore(), logger)
	tr.SetThrottle(time.Millisecond)
	return tr
}

func headers(remaining, reset string) http.Header {
	h := http.Header{}
	if remaining != "" {
		h.Set(HeaderRemaining, remaining)
	}
	if reset != "" {
		h.Set(HeaderReset, reset)
	}
	return h
}

func TestUpdateFromHeaders(t *testing.T) {
	tests := []struct {
		name          string
		remaining     string
		reset         string
		shouldError   bool
		wantRemaining int
	}{
		{name: "healthy", remaining: "100", reset: "60", wantRemaining: 100},
		{name: "warning", remaining: "10", reset: "30", wantRemaining: 10},
		{name: "missing remaining header", remaining: "", reset: "60", wantRemaining: 100},
		{name: "both headers missing", wantRemaining: 100},
		{name: "invalid remaining header", remaining: "invalid", reset: "60", shouldError: true},
		{name: "invalid reset header", remaining: "100", reset: "invalid", shouldError: true},
		{name: "missing reset header", remaining: "100", shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()
			ctx := context.Background()

			err := tr.UpdateFromHeaders(ctx, headers(tt.remaining, tt.reset))
			if tt.shouldError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			state, err := tr.GetState(ctx)
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.wantRemaining)
			}
		})
	}
}

func TestShouldAllowRequest(t *testing.T) {
	tests := []struct {
		name      string
		remaining string
		allowed   bool
	}{
		{name: "no state", allowed: true},
		{name: "healthy", remaining: "80", allowed: true},
		{name: "warning throttles then allows", remaining: "5", allowed: true},
		{name: "critical blocks", remaining: "1", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()
			ctx := context.Background()
			if tt.remaining != "" {
				if err := tr.UpdateFromHeaders(ctx, headers(tt.remaining, "60")); err != nil {
					t.Fatalf("UpdateFromHeaders() error = %v", err)
				}
			}

			allowed, err := tr.ShouldAllowRequest(ctx)
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.allowed {
				t.Errorf("ShouldAllowRequest() = %v, want %v", allowed, tt.allowed)
			}
		})
	}
}

func TestWait_RespectsContext(t *testing.T) {
	tr := newTestTracker()
	if err := tr.UpdateFromHeaders(context.Background(), headers("0", "3600")); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tr.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestWait_ReleasesAfterReset(t *testing.T) {
	tr := newTestTracker()
	if err := tr.UpdateFromHeaders(context.Background(), headers("0", "1")); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) < 500*time.Millisecond {
		t.Error("Wait() returned before the window reset")
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got, err := s.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("Load() on empty store = %v, %v; want nil, nil", got, err)
	}

	in := &RateLimitState{Remaining: 7}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	in.Remaining = 99

	got, _ = s.Load(ctx)
	if got.Remaining != 7 {
		t.Errorf("stored state mutated through caller pointer: %d", got.Remaining)
	}
}

// TestRedisStore_Local runs against a local Redis if one is available.
func TestRedisStore_Local(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
	}
	defer client.Close()
	defer client.FlushDB(ctx)

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tr := NewTracker(NewRedisStore(client), logger)

	if err := tr.UpdateFromHeaders(ctx, headers("42", "120")); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}
	state, err := tr.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 42 {
		t.Errorf("Remaining = %d, want 42", state.Remaining)
	}
	if !state.IsHealthy {
		t.Error("state with 42 remaining should be healthy")
	}
}
