package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func testConfig(clock *fakeClock) Config {
	cfg := DefaultConfig()
	cfg.Clock = clock
	return cfg
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	clock := &fakeClock{}
	calls := 0

	err := Do(context.Background(), testConfig(clock), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if len(clock.sleeps) != 2 || clock.sleeps[0] != time.Second || clock.sleeps[1] != 2*time.Second {
		t.Errorf("Expected 1s then 2s backoff, got %v", clock.sleeps)
	}
}

func TestDo_Exhausted(t *testing.T) {
	clock := &fakeClock{}
	sentinel := errors.New("still down")

	err := Do(context.Background(), testConfig(clock), func(ctx context.Context, attempt int) error {
		return sentinel
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", exhausted.Attempts)
	}
	if !errors.Is(err, sentinel) {
		t.Error("ExhaustedError should wrap the last error")
	}
	if len(clock.sleeps) != 2 {
		t.Errorf("No sleep expected after the final attempt, got %v", clock.sleeps)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	clock := &fakeClock{}
	sentinel := errors.New("escalate")
	calls := 0

	err := Do(context.Background(), testConfig(clock), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(sentinel)
	})
	if err != sentinel {
		t.Fatalf("Expected unwrapped sentinel, got %v", err)
	}
	if calls != 1 || len(clock.sleeps) != 0 {
		t.Errorf("Expected a single call without sleeping, got calls=%d sleeps=%v", calls, clock.sleeps)
	}
}

func TestDo_RetryAfterDoesNotConsumeAttempts(t *testing.T) {
	clock := &fakeClock{}
	var attempts []int

	err := Do(context.Background(), testConfig(clock), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if len(attempts) == 1 {
			return &RetryAfterError{Delay: 5 * time.Second, Err: NewHTTPError(http.StatusTooManyRequests, "429 Too Many Requests", "")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if len(attempts) != 2 || attempts[1] != 0 {
		t.Errorf("Retry-After wait should not advance the attempt, got %v", attempts)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 5*time.Second {
		t.Errorf("Expected a single 5s wait, got %v", clock.sleeps)
	}
}

func TestDo_RetryAfterCapped(t *testing.T) {
	clock := &fakeClock{}
	calls := 0

	_ = Do(context.Background(), testConfig(clock), func(ctx context.Context, attempt int) error {
		calls++
		if calls == 1 {
			return &RetryAfterError{Delay: time.Hour, Err: errors.New("slow down")}
		}
		return nil
	})
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 5*time.Minute {
		t.Errorf("Expected wait capped at 5m, got %v", clock.sleeps)
	}
}

func TestDo_NonRetryableStatus(t *testing.T) {
	clock := &fakeClock{}
	calls := 0

	err := Do(context.Background(), testConfig(clock), func(ctx context.Context, attempt int) error {
		calls++
		return NewHTTPError(http.StatusNotFound, "404 Not Found", "")
	})
	if err == nil || calls != 1 {
		t.Errorf("404 should not be retried, calls=%d err=%v", calls, err)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, testConfig(&fakeClock{}), func(ctx context.Context, attempt int) error {
		t.Fatal("fn should not run with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if d, ok := ParseRetryAfter("5", now); !ok || d != 5*time.Second {
		t.Errorf("Expected 5s, got %v ok=%v", d, ok)
	}
	date := now.Add(30 * time.Second).Format(http.TimeFormat)
	if d, ok := ParseRetryAfter(date, now); !ok || d != 30*time.Second {
		t.Errorf("Expected 30s from date, got %v ok=%v", d, ok)
	}
	if _, ok := ParseRetryAfter("soon", now); ok {
		t.Error("Garbage should not parse")
	}
}
