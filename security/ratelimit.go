package security

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxRequestsPerWindow is the default number of admitted requests
	// per caller key per window.
	DefaultMaxRequestsPerWindow = 10

	// DefaultWindow is the default fixed window duration.
	DefaultWindow = time.Minute

	// DefaultCleanupInterval is how often the cleanup goroutine runs.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultMaxEntries is the maximum number of caller keys tracked
	// simultaneously before LRU eviction kicks in.
	DefaultMaxEntries = 10000
)

// RateLimiter is the capability the client core consumes: an atomic
// increment-or-reset admit decision keyed by caller identity. The in-process
// FixedWindowLimiter satisfies it for single-instance deployments; the
// valkey-backed counter in storage/valkey satisfies it for multi-instance
// deployments. The contract (fixed window, atomic admit) is identical.
type RateLimiter interface {
	// Allow reports whether a request from the given caller key is admitted.
	Allow(ctx context.Context, key string) bool
}

// windowEntry tracks the fixed-window counter for one caller key.
type windowEntry struct {
	key         string
	count       int
	windowStart time.Time
	lastAccess  time.Time
}

// FixedWindowLimiter provides per-key fixed-window rate limiting with LRU
// eviction to prevent unbounded memory growth. The first request for a key
// starts a window; requests inside the window are admitted while the counter
// is below the maximum; a request arriving after the window has elapsed
// resets the counter atomically with its own admission.
type FixedWindowLimiter struct {
	entries         map[string]*list.Element // caller key -> list element
	lruList         *list.List               // LRU list of *windowEntry
	mu              sync.Mutex
	maxRequests     int
	window          time.Duration
	maxEntries      int
	logger          *slog.Logger
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	// Statistics
	totalAllowed   int64
	totalDenied    int64
	totalEvictions int64
	totalCleanups  int64
}

// NewFixedWindowLimiter creates a fixed-window limiter with default capacity
// (10,000 tracked keys). Use NewFixedWindowLimiterWithConfig for custom capacity.
func NewFixedWindowLimiter(maxRequests int, window time.Duration, logger *slog.Logger) *FixedWindowLimiter {
	return NewFixedWindowLimiterWithConfig(maxRequests, window, DefaultMaxEntries, logger)
}

// NewFixedWindowLimiterWithConfig creates a fixed-window limiter with custom
// maximum tracked keys. When the limit is reached, least recently used keys
// are evicted. Set maxEntries to 0 for unlimited (not recommended).
func NewFixedWindowLimiterWithConfig(maxRequests int, window time.Duration, maxEntries int, logger *slog.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequestsPerWindow
		logger.Warn("Invalid maxRequests, using default", "maxRequests", maxRequests)
	}
	if window <= 0 {
		window = DefaultWindow
		logger.Warn("Invalid window, using default", "window", window)
	}
	if maxEntries < 0 {
		maxEntries = DefaultMaxEntries
		logger.Warn("Invalid maxEntries, using default", "maxEntries", maxEntries)
	}

	rl := &FixedWindowLimiter{
		entries:         make(map[string]*list.Element),
		lruList:         list.New(),
		maxRequests:     maxRequests,
		window:          window,
		maxEntries:      maxEntries,
		logger:          logger,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from the given caller key is admitted.
// The counter read, the admit decision, and the increment happen under one
// lock so concurrent requests cannot both slip in as the maxRequests-th one.
func (rl *FixedWindowLimiter) Allow(_ context.Context, key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, exists := rl.entries[key]; exists {
		rl.lruList.MoveToFront(elem)
		entry := elem.Value.(*windowEntry)
		entry.lastAccess = now

		// Window expired: reset atomically with this request's admission.
		if now.Sub(entry.windowStart) >= rl.window {
			entry.windowStart = now
			entry.count = 1
			rl.totalAllowed++
			return true
		}

		if entry.count >= rl.maxRequests {
			rl.totalDenied++
			rl.logger.Warn("Rate limit exceeded",
				"key", key,
				"count", entry.count,
				"max_requests", rl.maxRequests,
				"window", rl.window,
				"total_denied", rl.totalDenied)
			return false
		}

		entry.count++
		rl.totalAllowed++
		return true
	}

	// New key: first request starts a window.
	if rl.maxEntries > 0 && len(rl.entries) >= rl.maxEntries {
		rl.evictLRU()
	}

	entry := &windowEntry{
		key:         key,
		count:       1,
		windowStart: now,
		lastAccess:  now,
	}
	elem := rl.lruList.PushFront(entry)
	rl.entries[key] = elem

	rl.totalAllowed++
	return true
}

// evictLRU removes the least recently used entry.
// Must be called with the mutex held.
func (rl *FixedWindowLimiter) evictLRU() {
	elem := rl.lruList.Back()
	if elem == nil {
		return
	}

	entry := elem.Value.(*windowEntry)
	delete(rl.entries, entry.key)
	rl.lruList.Remove(elem)
	rl.totalEvictions++

	rl.logger.Debug("Rate limiter LRU eviction",
		"key", entry.key,
		"total_evictions", rl.totalEvictions,
		"current_entries", len(rl.entries))
}

// cleanupLoop periodically removes idle entries to prevent memory leaks.
func (rl *FixedWindowLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup removes entries that have been idle for more than twice the window.
func (rl *FixedWindowLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	maxIdleTime := rl.window * 2
	if maxIdleTime < rl.cleanupInterval {
		maxIdleTime = rl.cleanupInterval
	}
	removed := 0

	var next *list.Element
	for elem := rl.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*windowEntry)

		if now.Sub(entry.lastAccess) > maxIdleTime {
			delete(rl.entries, entry.key)
			rl.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.totalCleanups++
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.entries),
			"total_cleanups", rl.totalCleanups)
	}
}

// Stop gracefully stops the cleanup goroutine.
// Safe to call multiple times concurrently.
func (rl *FixedWindowLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// LimiterStats holds rate limiter statistics for monitoring.
type LimiterStats struct {
	CurrentEntries int     // Current number of tracked caller keys
	MaxEntries     int     // Maximum allowed entries (0 = unlimited)
	TotalAllowed   int64   // Total requests admitted
	TotalDenied    int64   // Total requests denied
	TotalEvictions int64   // Total LRU evictions
	TotalCleanups  int64   // Total cleanup operations
	MemoryPressure float64 // Percentage of max capacity used (0-100)
}

// GetStats returns current limiter statistics for monitoring and alerting.
func (rl *FixedWindowLimiter) GetStats() LimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := LimiterStats{
		CurrentEntries: len(rl.entries),
		MaxEntries:     rl.maxEntries,
		TotalAllowed:   rl.totalAllowed,
		TotalDenied:    rl.totalDenied,
		TotalEvictions: rl.totalEvictions,
		TotalCleanups:  rl.totalCleanups,
	}

	if rl.maxEntries > 0 {
		stats.MemoryPressure = float64(stats.CurrentEntries) / float64(rl.maxEntries) * 100.0
	}

	return stats
}

// Compile-time interface check.
var _ RateLimiter = (*FixedWindowLimiter)(nil)
