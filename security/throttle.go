package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultThrottleMaxEntries bounds the number of tracked client IPs
	DefaultThrottleMaxEntries = 10000

	// DefaultThrottleIdleTime is how long an unused bucket is kept
	DefaultThrottleIdleTime = 30 * time.Minute

	defaultThrottleCleanupInterval = 5 * time.Minute
)

// throttleEntry tracks a token bucket and its last access time
type throttleEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Throttle is a per-identifier token bucket that sheds request floods in
// front of the persistent sliding-window limits. Buckets live in memory with
// LRU eviction so the number of tracked identifiers stays bounded.
type Throttle struct {
	limiters        map[string]*list.Element // identifier -> list element
	lruList         *list.List               // LRU list of *throttleEntry
	mu              sync.Mutex
	rate            rate.Limit
	burst           int
	maxEntries      int
	logger          *slog.Logger
	now             func() time.Time
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	// Statistics
	totalEvictions int64
	totalCleanups  int64
}

// ThrottleConfig configures a Throttle
type ThrottleConfig struct {
	// RequestsPerSecond is the sustained rate per identifier
	RequestsPerSecond float64

	// Burst is the bucket size per identifier
	Burst int

	// MaxEntries bounds the tracked identifiers. 0 means unlimited.
	MaxEntries int

	// Now overrides the time source
	Now func() time.Time

	Logger *slog.Logger
}

// NewThrottle creates a throttle with a background cleanup goroutine.
// Call Stop to release it.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxEntries < 0 {
		logger.Warn("Invalid throttle maxEntries, using default", "maxEntries", cfg.MaxEntries)
		cfg.MaxEntries = DefaultThrottleMaxEntries
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	t := &Throttle{
		limiters:        make(map[string]*list.Element),
		lruList:         list.New(),
		rate:            rate.Limit(cfg.RequestsPerSecond),
		burst:           cfg.Burst,
		maxEntries:      cfg.MaxEntries,
		logger:          logger,
		now:             now,
		cleanupInterval: defaultThrottleCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go t.cleanupLoop()

	return t
}

// Allow reports whether a request from identifier may proceed
func (t *Throttle) Allow(identifier string) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, exists := t.limiters[identifier]; exists {
		t.lruList.MoveToFront(elem)
		entry := elem.Value.(*throttleEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if t.maxEntries > 0 && len(t.limiters) >= t.maxEntries {
		t.evictLRU()
	}

	entry := &throttleEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(t.rate, t.burst),
		lastAccess: now,
	}
	t.limiters[identifier] = t.lruList.PushFront(entry)

	return entry.limiter.AllowN(now, 1)
}

// evictLRU removes the least recently used entry. Must be called with mu held.
func (t *Throttle) evictLRU() {
	elem := t.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*throttleEntry)
	delete(t.limiters, entry.identifier)
	t.lruList.Remove(elem)
	t.totalEvictions++

	t.logger.Debug("Throttle LRU eviction",
		"identifier", entry.identifier,
		"total_evictions", t.totalEvictions,
		"current_entries", len(t.limiters))
}

func (t *Throttle) cleanupLoop() {
	ticker := time.NewTicker(t.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Cleanup(DefaultThrottleIdleTime)
		case <-t.stopCleanup:
			return
		}
	}
}

// Cleanup removes buckets that have not been used for maxIdleTime
func (t *Throttle) Cleanup(maxIdleTime time.Duration) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	var next *list.Element
	for elem := t.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*throttleEntry)
		if now.Sub(entry.lastAccess) > maxIdleTime {
			delete(t.limiters, entry.identifier)
			t.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		t.totalCleanups++
		t.logger.Debug("Throttle cleanup completed",
			"removed", removed,
			"remaining", len(t.limiters),
			"total_cleanups", t.totalCleanups)
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (t *Throttle) Stop() {
	t.stopOnce.Do(func() { close(t.stopCleanup) })
}

// ThrottleStats holds throttle statistics for monitoring
type ThrottleStats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
	TotalCleanups  int64
}

// Stats returns current throttle statistics
func (t *Throttle) Stats() ThrottleStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ThrottleStats{
		CurrentEntries: len(t.limiters),
		MaxEntries:     t.maxEntries,
		TotalEvictions: t.totalEvictions,
		TotalCleanups:  t.totalCleanups,
	}
}
