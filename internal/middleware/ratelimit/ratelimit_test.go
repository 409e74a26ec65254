package ratelimit

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestAllowWithinBudget(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 5, WindowDuration: time.Minute})
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		if !rl.allow("client") {
			t.Fatalf("request %d denied within budget", i+1)
		}
	}
	if rl.allow("client") {
		t.Error("request beyond budget allowed")
	}
}

func TestAllowIsPerKey(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1, WindowDuration: time.Minute})
	defer rl.Stop()

	if !rl.allow("a") {
		t.Fatal("first request for a denied")
	}
	if rl.allow("a") {
		t.Error("second request for a allowed")
	}
	if !rl.allow("b") {
		t.Error("b must have its own bucket")
	}
}

func TestAllowRefills(t *testing.T) {
	// 100ms window with 10 tokens refills one token every 10ms.
	rl := New(Config{MaxRequestsPerMinute: 10, WindowDuration: 100 * time.Millisecond})
	defer rl.Stop()

	for i := 0; i < 10; i++ {
		rl.allow("client")
	}
	if rl.allow("client") {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(25 * time.Millisecond)

	if !rl.allow("client") {
		t.Error("expected a refilled token")
	}
}

func TestStopEndsCleanupGoroutine(t *testing.T) {
	before := runtime.NumGoroutine()

	limiters := make([]*RateLimiter, 10)
	for i := range limiters {
		limiters[i] = New(Config{MaxRequestsPerMinute: 1, WindowDuration: time.Minute})
	}
	for _, rl := range limiters {
		rl.Stop()
		rl.Stop() // second call is a no-op
	}

	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("cleanup goroutines still running: %d before, %d after Stop",
				before, runtime.NumGoroutine())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAllowConcurrentSameKey(t *testing.T) {
	const budget = 100
	rl := New(Config{MaxRequestsPerMinute: budget, WindowDuration: time.Hour})
	defer rl.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < budget*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.allow("client") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != budget {
		t.Errorf("allowed = %d, want exactly %d", allowed, budget)
	}
}
