package security

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zinacoffee/menuguard/internal/testutil"
)

func newTestThrottle(t *testing.T, rps float64, burst, maxEntries int) (*Throttle, *testutil.MockClock) {
	t.Helper()
	clock := testutil.NewMockClock(testutil.FixedTime)
	th := NewThrottle(ThrottleConfig{
		RequestsPerSecond: rps,
		Burst:             burst,
		MaxEntries:        maxEntries,
		Now:               clock.Now,
	})
	t.Cleanup(th.Stop)
	return th, clock
}

func TestThrottle_Allow(t *testing.T) {
	th, _ := newTestThrottle(t, 10, 5, 0)

	for i := 0; i < 5; i++ {
		if !th.Allow("203.0.113.10") {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}
	if th.Allow("203.0.113.10") {
		t.Error("Allow() should return false once the burst is spent")
	}
	if !th.Allow("203.0.113.11") {
		t.Error("Allow() for a different identifier should be allowed")
	}
}

func TestThrottle_RefillOverTime(t *testing.T) {
	th, clock := newTestThrottle(t, 2, 2, 0)

	th.Allow("ip")
	th.Allow("ip")
	if th.Allow("ip") {
		t.Fatal("Allow() should return false when the bucket is empty")
	}

	clock.Advance(500 * time.Millisecond)
	if !th.Allow("ip") {
		t.Error("Allow() should be allowed after a token refilled")
	}
}

func TestThrottle_LRUEviction(t *testing.T) {
	th, _ := newTestThrottle(t, 10, 1, 2)

	th.Allow("a")
	th.Allow("b")
	th.Allow("a") // a becomes most recently used
	th.Allow("c") // evicts b

	stats := th.Stats()
	testutil.AssertEqual(t, stats.CurrentEntries, 2)
	testutil.AssertEqual(t, stats.TotalEvictions, int64(1))

	th.mu.Lock()
	_, hasB := th.limiters["b"]
	th.mu.Unlock()
	if hasB {
		t.Error("least recently used entry should have been evicted")
	}
}

func TestThrottle_Cleanup(t *testing.T) {
	th, clock := newTestThrottle(t, 10, 1, 0)

	th.Allow("idle")
	clock.Advance(time.Hour)
	th.Allow("active")

	th.Cleanup(30 * time.Minute)

	stats := th.Stats()
	testutil.AssertEqual(t, stats.CurrentEntries, 1)
	testutil.AssertEqual(t, stats.TotalCleanups, int64(1))
}

func TestThrottle_ConcurrentAccess(t *testing.T) {
	th, _ := newTestThrottle(t, 100, 100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				th.Allow(fmt.Sprintf("identifier-%d", id))
			}
		}(i)
	}
	wg.Wait()

	testutil.AssertEqual(t, th.Stats().CurrentEntries, 10)
}

func TestThrottle_StopTwice(t *testing.T) {
	th := NewThrottle(ThrottleConfig{RequestsPerSecond: 1, Burst: 1})
	th.Stop()
	th.Stop()
}
