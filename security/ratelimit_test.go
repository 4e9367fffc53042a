package security

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewFixedWindowLimiter_Defaults(t *testing.T) {
	rl := NewFixedWindowLimiter(0, 0, nil)
	defer rl.Stop()

	if rl.maxRequests != DefaultMaxRequestsPerWindow {
		t.Errorf("maxRequests = %d, want default %d", rl.maxRequests, DefaultMaxRequestsPerWindow)
	}
	if rl.window != DefaultWindow {
		t.Errorf("window = %v, want default %v", rl.window, DefaultWindow)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestFixedWindowLimiter_AdmitDenyReset(t *testing.T) {
	rl := NewFixedWindowLimiter(3, time.Second, slog.Default())
	defer rl.Stop()

	ctx := context.Background()

	// First 3 requests within the window are admitted.
	for i := 0; i < 3; i++ {
		if !rl.Allow(ctx, "user1") {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}

	// The 4th within the same window is denied.
	if rl.Allow(ctx, "user1") {
		t.Fatal("4th request within the window should be denied")
	}

	// Force the window to expire and verify the counter resets.
	rl.mu.Lock()
	rl.entries["user1"].Value.(*windowEntry).windowStart = time.Now().Add(-2 * time.Second)
	rl.mu.Unlock()

	if !rl.Allow(ctx, "user1") {
		t.Fatal("request after window expiry should be admitted")
	}
}

func TestFixedWindowLimiter_IndependentKeys(t *testing.T) {
	rl := NewFixedWindowLimiter(2, time.Second, slog.Default())
	defer rl.Stop()

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if !rl.Allow(ctx, "key-a") {
			t.Fatalf("key-a request %d should be admitted", i+1)
		}
	}
	if rl.Allow(ctx, "key-a") {
		t.Error("key-a should be denied after exhausting its window")
	}
	if !rl.Allow(ctx, "key-b") {
		t.Error("key-b should be admitted (separate counter)")
	}
}

func TestFixedWindowLimiter_AtomicUnderConcurrency(t *testing.T) {
	const max = 50
	rl := NewFixedWindowLimiter(max, time.Minute, slog.Default())
	defer rl.Stop()

	ctx := context.Background()
	var admitted atomic.Int64
	var wg sync.WaitGroup

	// Twice as many goroutines as the window admits. Exactly max must win.
	for i := 0; i < max*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow(ctx, "shared") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != max {
		t.Errorf("admitted %d concurrent requests, want exactly %d", got, max)
	}
}

func TestFixedWindowLimiter_LRUEviction(t *testing.T) {
	rl := NewFixedWindowLimiterWithConfig(5, time.Minute, 2, slog.Default())
	defer rl.Stop()

	ctx := context.Background()

	rl.Allow(ctx, "first")
	rl.Allow(ctx, "second")
	rl.Allow(ctx, "third") // evicts "first"

	stats := rl.GetStats()
	if stats.CurrentEntries != 2 {
		t.Errorf("CurrentEntries = %d, want 2", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 1 {
		t.Errorf("TotalEvictions = %d, want 1", stats.TotalEvictions)
	}
}

func TestFixedWindowLimiter_Cleanup(t *testing.T) {
	rl := NewFixedWindowLimiter(5, 10*time.Millisecond, slog.Default())
	defer rl.Stop()

	ctx := context.Background()
	rl.Allow(ctx, "stale")

	// Age the entry past 2x window and past the cleanup interval floor.
	rl.mu.Lock()
	rl.entries["stale"].Value.(*windowEntry).lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.Cleanup()

	stats := rl.GetStats()
	if stats.CurrentEntries != 0 {
		t.Errorf("CurrentEntries after cleanup = %d, want 0", stats.CurrentEntries)
	}
	if stats.TotalCleanups != 1 {
		t.Errorf("TotalCleanups = %d, want 1", stats.TotalCleanups)
	}
}

func TestFixedWindowLimiter_StopIdempotent(t *testing.T) {
	rl := NewFixedWindowLimiter(1, time.Second, slog.Default())
	rl.Stop()
	rl.Stop() // must not panic
}

func TestFixedWindowLimiter_GetStats(t *testing.T) {
	rl := NewFixedWindowLimiterWithConfig(1, time.Second, 10, slog.Default())
	defer rl.Stop()

	ctx := context.Background()
	rl.Allow(ctx, "k") // admitted
	rl.Allow(ctx, "k") // denied

	stats := rl.GetStats()
	if stats.TotalAllowed != 1 {
		t.Errorf("TotalAllowed = %d, want 1", stats.TotalAllowed)
	}
	if stats.TotalDenied != 1 {
		t.Errorf("TotalDenied = %d, want 1", stats.TotalDenied)
	}
	if stats.MemoryPressure != 10.0 {
		t.Errorf("MemoryPressure = %f, want 10.0", stats.MemoryPressure)
	}
}
