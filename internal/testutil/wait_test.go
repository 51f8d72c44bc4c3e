package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitFor_ConditionMet(t *testing.T) {
	t.Parallel()
	var flag atomic.Bool

	go func() {
		time.Sleep(10 * time.Millisecond)
		flag.Store(true)
	}()

	if !WaitFor(t, flag.Load, WithTimeout(time.Second)) {
		t.Error("expected condition to be met")
	}
}

func TestWaitFor_Timeout(t *testing.T) {
	t.Parallel()

	start := time.Now()
	met := WaitFor(t, func() bool { return false },
		WithTimeout(30*time.Millisecond), WithInterval(5*time.Millisecond))
	if met {
		t.Error("expected timeout")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("returned before timeout: %v", elapsed)
	}
}

func TestMustWaitForCount(t *testing.T) {
	t.Parallel()
	var counter atomic.Int64

	go func() {
		for range 3 {
			time.Sleep(5 * time.Millisecond)
			counter.Add(1)
		}
	}()

	MustWaitForCount(t, &counter, 3, WithTimeout(time.Second))
}
