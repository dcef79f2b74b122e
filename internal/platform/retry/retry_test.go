package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rytswd-lab/socketmode/internal/platform/retry"
)

var fastPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	_, err := retry.Do(context.Background(), fastPolicy, func() (struct{}, error) {
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, func() (struct{}, error) {
		calls++
		if calls < 3 {
			return struct{}{}, errors.New("transient")
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, func() (struct{}, error) {
		calls++
		return struct{}{}, errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentAbortsImmediately(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, func() (struct{}, error) {
		calls++
		return struct{}{}, &retry.Permanent{Err: errors.New("fatal")}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	var perm *retry.Permanent
	if !errors.As(err, &perm) {
		t.Fatalf("expected Permanent error, got %v", err)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retry.Do(ctx, fastPolicy, func() (struct{}, error) {
		return struct{}{}, errors.New("transient")
	})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation error, got %v", err)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	p := fastPolicy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		attempts = append(attempts, attempt)
	}

	_, _ = retry.Do(context.Background(), p, func() (struct{}, error) {
		return struct{}{}, errors.New("transient")
	})

	// Last attempt fails without a retry callback.
	if len(attempts) != 2 {
		t.Fatalf("expected 2 retry callbacks, got %d", len(attempts))
	}
}
