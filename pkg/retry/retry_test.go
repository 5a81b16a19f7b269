package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		base    time.Duration
		cap     time.Duration
		want    time.Duration
	}{
		{"first attempt uses base", 0, time.Second, 30 * time.Second, time.Second},
		{"doubles per attempt", 3, time.Second, 30 * time.Second, 8 * time.Second},
		{"clamped at cap", 10, time.Second, 30 * time.Second, 30 * time.Second},
		{"base above cap clamps", 0, time.Minute, 30 * time.Second, 30 * time.Second},
		{"zero base uses default", 0, 0, 0, DefaultBase},
		{"negative attempt treated as zero", -4, time.Second, 30 * time.Second, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BackoffDelay(tt.attempt, tt.base, tt.cap)
			if got != tt.want {
				t.Errorf("BackoffDelay(%d, %v, %v) = %v, want %v", tt.attempt, tt.base, tt.cap, got, tt.want)
			}
		})
	}
}

func TestWithTimeoutSuccess(t *testing.T) {
	got, err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("WithTimeout returned error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestWithTimeoutExpires(t *testing.T) {
	started := make(chan struct{})
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	<-started
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestWithTimeoutNonPositiveBound(t *testing.T) {
	called := false
	_, err := WithTimeout(context.Background(), 0, func(ctx context.Context) (int, error) {
		called = true
		return 0, nil
	})
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindInvalidArgument {
		t.Fatalf("expected InvalidArgument error, got %v", err)
	}
	if called {
		t.Error("operation ran despite invalid bound")
	}
}

func TestWithTimeoutParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDoFirstSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	}, Options{MaxRetries: 3, Base: time.Millisecond})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
}

func TestDoRecoversAfterFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 7, nil
	}, Options{MaxRetries: 5, Base: time.Millisecond})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
	if calls != 3 {
		t.Errorf("operation called %d times, want 3", calls)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	}, Options{MaxRetries: 2, Base: time.Millisecond})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 3 {
		t.Errorf("operation called %d times, want 3 (1 + 2 retries)", calls)
	}
}

func TestDoZeroRetriesMeansSingleAttempt(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	}, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
}

func TestDoShouldRetryDeclines(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, fatal
	}, Options{
		MaxRetries:  5,
		Base:        time.Millisecond,
		ShouldRetry: func(err error) bool { return !errors.Is(err, fatal) },
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal, got %v", err)
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
}

func TestDoOnRetryAttemptNumbers(t *testing.T) {
	var attempts []int
	_, _ = Do(context.Background(), func(ctx context.Context) (int, error) {
		return 0, errors.New("again")
	}, Options{
		MaxRetries: 3,
		Base:       time.Millisecond,
		OnRetry:    func(attempt int, err error) { attempts = append(attempts, attempt) },
	})
	want := []int{1, 2, 3}
	if len(attempts) != len(want) {
		t.Fatalf("OnRetry called %d times, want %d", len(attempts), len(want))
	}
	for i := range want {
		if attempts[i] != want[i] {
			t.Errorf("attempt[%d] = %d, want %d", i, attempts[i], want[i])
		}
	}
}

func TestDoContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("transient")
	}, Options{MaxRetries: 10, Base: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
}
