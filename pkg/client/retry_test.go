package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastPolicy keeps retry tests in the millisecond range.
func fastPolicy(ErrorClass) RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func failing(class ErrorClass, err error, calls *int) func() (ErrorClass, error) {
	return func() (ErrorClass, error) {
		*calls++
		return class, err
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfigForErrorClass(t *testing.T) {
	tests := []struct {
		name             string
		errorClass       ErrorClass
		expectedInitial  time.Duration
		expectedMax      time.Duration
		expectedAttempts int
	}{
		{
			name:             "server error config",
			errorClass:       ErrorClassServer,
			expectedInitial:  1 * time.Second,
			expectedMax:      10 * time.Second,
			expectedAttempts: 3,
		},
		{
			name:             "rate limit config",
			errorClass:       ErrorClassRateLimit,
			expectedInitial:  5 * time.Second,
			expectedMax:      60 * time.Second,
			expectedAttempts: 4,
		},
		{
			name:             "network error config",
			errorClass:       ErrorClassNetwork,
			expectedInitial:  2 * time.Second,
			expectedMax:      30 * time.Second,
			expectedAttempts: 3,
		},
		{
			name:             "unknown error class uses default",
			errorClass:       "",
			expectedInitial:  1 * time.Second,
			expectedMax:      30 * time.Second,
			expectedAttempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := RetryConfigForErrorClass(tt.errorClass)

			if config.InitialBackoff != tt.expectedInitial {
				t.Errorf("InitialBackoff = %v, want %v", config.InitialBackoff, tt.expectedInitial)
			}
			if config.MaxBackoff != tt.expectedMax {
				t.Errorf("MaxBackoff = %v, want %v", config.MaxBackoff, tt.expectedMax)
			}
			if config.MaxAttempts != tt.expectedAttempts {
				t.Errorf("MaxAttempts = %d, want %d", config.MaxAttempts, tt.expectedAttempts)
			}
		})
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastPolicy, failing("", nil, &calls))

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	calls := 0
	fn := func() (ErrorClass, error) {
		calls++
		if calls < 3 {
			return ErrorClassServer, errors.New("temporary error")
		}
		return "", nil
	}

	start := time.Now()
	err := retryWithBackoff(context.Background(), fastPolicy, fn)
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	// 10ms + 20ms, minus jitter
	if duration < 20*time.Millisecond {
		t.Errorf("Expected some backoff delay, got %v", duration)
	}
}

func TestRetryWithBackoff_MaxAttemptsExhausted(t *testing.T) {
	calls := 0
	testErr := errors.New("persistent error")

	err := retryWithBackoff(context.Background(), fastPolicy, failing(ErrorClassServer, testErr, &calls))

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected the last error to be wrapped, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls (MaxAttempts), got %d", calls)
	}
}

func TestRetryWithBackoff_ClientErrorNoRetry(t *testing.T) {
	calls := 0
	testErr := errors.New("client error")

	err := retryWithBackoff(context.Background(), fastPolicy, failing(ErrorClassClient, testErr, &calls))

	if calls != 1 {
		t.Errorf("Expected 1 call (no retry for client errors), got %d", calls)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Should not return ErrRetryExhausted for client errors")
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestRetryWithBackoff_UnclassifiedNoRetry(t *testing.T) {
	calls := 0
	testErr := errors.New("local error")

	err := retryWithBackoff(context.Background(), fastPolicy, failing("", testErr, &calls))

	if calls != 1 || !errors.Is(err, testErr) {
		t.Errorf("calls = %d, err = %v; want 1 call and the original error", calls, err)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	fn := func() (ErrorClass, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return ErrorClassServer, errors.New("error")
	}

	slow := func(ErrorClass) RetryConfig {
		return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffMultiplier: 1}
	}
	err := retryWithBackoff(ctx, slow, fn)

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call due to cancellation, got %d", calls)
	}
}

func TestRetryWithBackoff_Jitter(t *testing.T) {
	for i := 0; i < 5; i++ {
		var timestamps []time.Time
		fn := func() (ErrorClass, error) {
			timestamps = append(timestamps, time.Now())
			if len(timestamps) < 2 {
				return ErrorClassServer, errors.New("error")
			}
			return "", nil
		}

		policy := func(ErrorClass) RetryConfig {
			return RetryConfig{MaxAttempts: 2, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
		}
		if err := retryWithBackoff(context.Background(), policy, fn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// ±20% around 100ms, with scheduling slack on the upper bound
		d := timestamps[1].Sub(timestamps[0])
		if d < 80*time.Millisecond || d > 200*time.Millisecond {
			t.Errorf("Delay %v outside jitter range", d)
		}
	}
}

func TestRetryConfig_BackoffFor(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        3 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 1 * time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 3 * time.Second},
		{attempt: 10, want: 3 * time.Second},
	}

	for _, tt := range tests {
		if got := config.backoffFor(tt.attempt); got != tt.want {
			t.Errorf("backoffFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryWithBackoff_HonorsRetryAfter(t *testing.T) {
	calls := 0
	fn := func() (ErrorClass, error) {
		calls++
		if calls == 1 {
			return ErrorClassRateLimit, &HTTPError{StatusCode: 429, ErrorClass: ErrorClassRateLimit, RetryAfter: 60 * time.Millisecond}
		}
		return "", nil
	}
	policy := func(ErrorClass) RetryConfig {
		return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
	}

	start := time.Now()
	if err := retryWithBackoff(context.Background(), policy, fn); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if d := time.Since(start); d < 55*time.Millisecond {
		t.Errorf("Expected the Retry-After hint to be honored, waited %v", d)
	}
}

func TestRetryWithBackoff_RetryAfterCappedByMaxBackoff(t *testing.T) {
	calls := 0
	fn := func() (ErrorClass, error) {
		calls++
		if calls == 1 {
			return ErrorClassRateLimit, &HTTPError{StatusCode: 429, ErrorClass: ErrorClassRateLimit, RetryAfter: time.Hour}
		}
		return "", nil
	}

	start := time.Now()
	if err := retryWithBackoff(context.Background(), fastPolicy, fn); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Expected the hint to be capped at MaxBackoff, waited %v", d)
	}
}
