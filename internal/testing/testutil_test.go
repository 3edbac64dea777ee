package testing

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoroutineTestBasic(t *testing.T) {
	gt := NewGoroutineTest(t)
	defer gt.Wait()

	for i := 0; i < 5; i++ {
		gt.Go(func() error {
			time.Sleep(10 * time.Millisecond)
			if i < 0 {
				return fmt.Errorf("unexpected negative index: %d", i)
			}
			return nil
		})
	}
}

func TestGoroutineTestWithContext(t *testing.T) {
	gt := NewGoroutineTestWithTimeout(t, 5*time.Second)
	defer gt.Wait()

	gt.GoWithContext(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
			return nil
		}
	})
}

func TestWithTimeout(t *testing.T) {
	if err := WithTimeout(time.Second, func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := RunWithTimeout(10*time.Millisecond, func() { time.Sleep(200 * time.Millisecond) }); err == nil {
		t.Error("expected timeout error")
	}
}

func TestRetry(t *testing.T) {
	var attempts atomic.Int32

	err := Retry(5, time.Millisecond, func() error {
		n := attempts.Add(1)
		if n < 3 {
			return fmt.Errorf("attempt %d failed", n)
		}
		return nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestEventually(t *testing.T) {
	var ready atomic.Bool
	go func() {
		time.Sleep(30 * time.Millisecond)
		ready.Store(true)
	}()

	if err := Eventually(time.Second, 5*time.Millisecond, ready.Load); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := Eventually(10*time.Millisecond, time.Millisecond, func() bool { return false }); err == nil {
		t.Error("expected error for a condition that never holds")
	}
}

func TestClock(t *testing.T) {
	c := NewClock(Day(2024, 3, 1))
	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(Day(2024, 3, 1).Add(90 * time.Second)) {
		t.Errorf("Now = %v", got)
	}
	c.Set(Day(2024, 3, 2))
	if !c.Now().Equal(Day(2024, 3, 2)) {
		t.Errorf("Set did not move the clock")
	}
}

func TestSamples(t *testing.T) {
	s := Samples("h", "n", Day(2024, 3, 1), time.Second, 6, 3)
	if len(s) != 6 {
		t.Fatalf("len = %d", len(s))
	}
	if !s[2].Lost || !s[5].Lost || s[0].Lost {
		t.Errorf("loss pattern wrong: %+v", s)
	}
	if !s[1].Timestamp.Equal(Day(2024, 3, 1).Add(time.Second)) {
		t.Errorf("spacing wrong: %v", s[1].Timestamp)
	}
}
