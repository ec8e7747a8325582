package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestDoStopsAtCeiling(t *testing.T) {
	p := Exponential(3, time.Millisecond, 2*time.Millisecond, nil)
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoReturnsOnSuccess(t *testing.T) {
	p := Exponential(5, time.Millisecond, time.Millisecond, nil)
	calls := 0
	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDoSkipsNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	p := Exponential(3, time.Millisecond, time.Millisecond, func(err error) bool {
		return !errors.Is(err, fatal)
	})
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("err = %v calls = %d, want fatal after 1 call", err, calls)
	}
}

func TestDoPermanent(t *testing.T) {
	p := Exponential(3, time.Millisecond, time.Millisecond, nil)
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(errTransient)
	})
	if !errors.Is(err, errTransient) || calls != 1 {
		t.Fatalf("err = %v calls = %d", err, calls)
	}
}

func TestDoCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Exponential(3, time.Hour, time.Hour, nil).WithOnRetry(func(int, time.Duration, error) {
		cancel()
	})

	calls := 0
	start := time.Now()
	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if time.Since(start) > time.Second {
		t.Fatal("backoff sleep was not interrupted")
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
