package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"barsync/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func(int) error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	retries := 0
	maxAttempts := 3
	cause := errors.New("persistent error")

	err := Retry(context.Background(), maxAttempts, 0, func(int) error {
		attempts++
		return cause
	}, func(int, error) { retries++ })

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	var re *RetryError
	if !errors.As(err, &re) {
		t.Fatalf("Retry error = %T, want *RetryError", err)
	}
	if re.Attempts != maxAttempts {
		t.Errorf("RetryError.Attempts = %d, want %d", re.Attempts, maxAttempts)
	}
	if !errors.Is(err, cause) {
		t.Error("RetryError should unwrap to the last failure")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
	if retries != maxAttempts-1 {
		t.Errorf("onRetry called %d times, want %d", retries, maxAttempts-1)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func(int) error {
		return errors.New("fail")
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
}

func TestRetryFixedDelay(t *testing.T) {
	const delay = 20 * time.Millisecond
	var seen, notified []int

	start := time.Now()
	err := Retry(context.Background(), 3, delay, func(attempt int) error {
		seen = append(seen, attempt)
		return errors.New("fail")
	}, func(attempt int, _ error) { notified = append(notified, attempt) })
	elapsed := time.Since(start)

	var re *RetryError
	if !errors.As(err, &re) || re.Attempts != 3 {
		t.Fatalf("Retry error = %v, want *RetryError after 3 attempts", err)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("attempt numbers = %v, want [1 2 3]", seen)
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Errorf("onRetry attempts = %v, want [1 2]", notified)
	}
	// Two sleeps between three attempts, no growth between them.
	if elapsed < 2*delay {
		t.Errorf("elapsed %v, want at least %v", elapsed, 2*delay)
	}
	if elapsed > 20*delay {
		t.Errorf("elapsed %v, delay should not grow between attempts", elapsed)
	}
}

func TestRetryCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Retry(ctx, 5, time.Hour, func(int) error {
		calls++
		return errors.New("fail")
	}, func(int, error) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("Retry called fn %d times after cancel, want 1", calls)
	}
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(6000)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	unlimited := NewRateLimiter(0)
	for i := 0; i < 10; i++ {
		if err := unlimited.Wait(context.Background()); err != nil {
			t.Fatalf("unlimited Wait: %v", err)
		}
	}
}

func TestClassifySession(t *testing.T) {
	loc := MarketLocation()
	tests := []struct {
		at   time.Time
		want domain.Session
	}{
		{time.Date(2024, 3, 5, 8, 0, 0, 0, loc), domain.SessionPre},
		{time.Date(2024, 3, 5, 9, 30, 0, 0, loc), domain.SessionRegular},
		{time.Date(2024, 3, 5, 15, 59, 0, 0, loc), domain.SessionRegular},
		{time.Date(2024, 3, 5, 16, 0, 0, 0, loc), domain.SessionAfter},
		{time.Date(2024, 3, 5, 21, 0, 0, 0, loc), domain.SessionClosed},
		// 14:30 UTC in winter is 09:30 ET.
		{time.Date(2024, 1, 5, 14, 30, 0, 0, time.UTC), domain.SessionRegular},
	}
	for _, tt := range tests {
		if got := ClassifySession(tt.at); got != tt.want {
			t.Errorf("ClassifySession(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestMarketDate(t *testing.T) {
	// 02:00 UTC on Jan 6 is still Jan 5 in New York.
	got := MarketDate(time.Date(2024, 1, 6, 2, 0, 0, 0, time.UTC))
	if got.Day() != 5 || got.Hour() != 0 {
		t.Errorf("MarketDate = %v, want 2024-01-05 00:00 ET", got)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, LogOptions{Level: "debug", Format: "text"})
	log.Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("text handler output = %q", buf.String())
	}

	buf.Reset()
	log = newLogger(&buf, LogOptions{Level: "warn"})
	log.Info("dropped")
	log.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), `"msg":"kept"`) {
		t.Errorf("json handler output = %q", buf.String())
	}
}
