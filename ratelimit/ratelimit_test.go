package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zinacoffee/menuguard/instrumentation"
	"github.com/zinacoffee/menuguard/internal/testutil"
	"github.com/zinacoffee/menuguard/storage"
	"github.com/zinacoffee/menuguard/storage/memory"
	"github.com/zinacoffee/menuguard/storage/mock"
)

func newTestLimiter(t *testing.T, opts ...Option) (*Limiter, *testutil.MockClock) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	clock := testutil.NewMockClock(testutil.FixedTime)
	l, err := New(store, append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, clock
}

func TestLimiter_SixthLoginAttemptDenied(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Check(ctx, "203.0.113.10", LoginAttempts)
		testutil.AssertNoError(t, err)
		if !d.Allowed {
			t.Fatalf("attempt %d denied, want allowed", i)
		}
		if d.Remaining != 5-i {
			t.Errorf("attempt %d Remaining = %d, want %d", i, d.Remaining, 5-i)
		}
	}

	d, err := l.Check(ctx, "203.0.113.10", LoginAttempts)
	testutil.AssertNoError(t, err)
	if d.Allowed {
		t.Fatal("sixth attempt allowed, want denied")
	}
	if d.RetryAfter != 3600 {
		t.Errorf("RetryAfter = %d, want 3600", d.RetryAfter)
	}
}

func TestLimiter_WindowBoundary(t *testing.T) {
	l, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Check(ctx, "ip", LoginAttempts)
		testutil.AssertNoError(t, err)
	}

	clock.Advance(time.Hour - time.Millisecond)
	d, err := l.Check(ctx, "ip", LoginAttempts)
	testutil.AssertNoError(t, err)
	if d.Allowed || d.RetryAfter != 1 {
		t.Errorf("1ms before expiry: Decision = %+v, want denied with RetryAfter 1", d)
	}

	clock.Advance(time.Millisecond)
	d, err = l.Check(ctx, "ip", LoginAttempts)
	testutil.AssertNoError(t, err)
	if !d.Allowed {
		t.Fatal("attempt after the window elapsed was denied")
	}
	if d.Remaining != 4 {
		t.Errorf("Remaining = %d, want 4 after expired attempts are pruned", d.Remaining)
	}
}

func TestLimiter_RetryAfterTracksOldestAttempt(t *testing.T) {
	l, clock := newTestLimiter(t)
	ctx := context.Background()

	_, err := l.Check(ctx, "ip", LoginAttempts)
	testutil.AssertNoError(t, err)
	clock.Advance(10 * time.Minute)
	for i := 0; i < 4; i++ {
		_, err := l.Check(ctx, "ip", LoginAttempts)
		testutil.AssertNoError(t, err)
	}
	clock.Advance(20 * time.Minute)

	d, err := l.Check(ctx, "ip", LoginAttempts)
	testutil.AssertNoError(t, err)
	if d.Allowed {
		t.Fatal("attempt allowed, want denied")
	}
	// oldest attempt leaves the window 30 minutes from now
	if d.RetryAfter != 1800 {
		t.Errorf("RetryAfter = %d, want 1800", d.RetryAfter)
	}

	clock.Advance(30 * time.Minute)
	d, err = l.Check(ctx, "ip", LoginAttempts)
	testutil.AssertNoError(t, err)
	if !d.Allowed || d.Remaining != 0 {
		t.Errorf("Decision = %+v, want allowed with Remaining 0", d)
	}
}

func TestLimiter_LimitTypesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Check(ctx, "ip", LoginAttempts)
		testutil.AssertNoError(t, err)
	}

	d, err := l.Check(ctx, "ip", MenuUpdates)
	testutil.AssertNoError(t, err)
	if !d.Allowed || d.Remaining != 19 {
		t.Errorf("MenuUpdates Decision = %+v, want allowed with Remaining 19", d)
	}

	d, err = l.Check(ctx, "other-ip", LoginAttempts)
	testutil.AssertNoError(t, err)
	if !d.Allowed {
		t.Error("different identifier was denied")
	}
}

func TestLimiter_DefaultLimits(t *testing.T) {
	l, _ := newTestLimiter(t)

	tests := []struct {
		lt   LimitType
		want Limit
	}{
		{LoginAttempts, Limit{MaxAttempts: 5, Window: 3600000 * time.Millisecond}},
		{APICalls, Limit{MaxAttempts: 100, Window: 60000 * time.Millisecond}},
		{MenuUpdates, Limit{MaxAttempts: 20, Window: 3600000 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(string(tt.lt), func(t *testing.T) {
			got, err := l.LimitFor(tt.lt)
			testutil.AssertNoError(t, err)
			if got != tt.want {
				t.Errorf("LimitFor(%s) = %+v, want %+v", tt.lt, got, tt.want)
			}
		})
	}
}

func TestLimiter_Errors(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	_, err := l.Check(ctx, "ip", LimitType("PASSWORD_RESETS"))
	testutil.AssertErrorIs(t, err, ErrUnknownLimitType)

	_, err = l.Check(ctx, "", APICalls)
	testutil.AssertErrorIs(t, err, ErrEmptyIdentifier)

	_, err = New(nil)
	testutil.AssertError(t, err)

	store := memory.New()
	defer store.Stop()
	_, err = New(store, WithLimits(map[LimitType]Limit{APICalls: {MaxAttempts: 0, Window: time.Minute}}))
	testutil.AssertError(t, err)
}

func TestLimiter_WithLimitsOverride(t *testing.T) {
	l, _ := newTestLimiter(t, WithLimits(map[LimitType]Limit{
		APICalls: {MaxAttempts: 2, Window: time.Second},
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "ip", APICalls)
		testutil.AssertNoError(t, err)
		if !d.Allowed {
			t.Fatalf("attempt %d denied", i+1)
		}
	}
	d, err := l.Check(ctx, "ip", APICalls)
	testutil.AssertNoError(t, err)
	if d.Allowed || d.RetryAfter != 1 {
		t.Errorf("Decision = %+v, want denied with RetryAfter 1", d)
	}

	limit, err := l.LimitFor(LoginAttempts)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, limit.MaxAttempts, 5)
}

func TestLimiter_StoreErrorPropagates(t *testing.T) {
	backing := memory.New()
	defer backing.Stop()

	wantErr := errors.New("store unavailable")
	store := mock.NewMockRateLimitStore(backing)
	store.UpdateRateWindowFunc = func(context.Context, string, storage.RateWindowUpdateFunc) error {
		return wantErr
	}

	l, err := New(store)
	testutil.AssertNoError(t, err)

	_, err = l.Check(context.Background(), "ip", APICalls)
	testutil.AssertErrorIs(t, err, wantErr)
}

// retryingStore calls the update function twice, first against a full window
// and then against an empty store, as a compare-and-swap store does after a
// conflicting write.
type retryingStore struct {
	storage.RateLimitStore
	full *storage.RateWindow
}

func (s *retryingStore) UpdateRateWindow(_ context.Context, _ string, fn storage.RateWindowUpdateFunc) error {
	if _, err := fn(s.full.Clone()); err != nil {
		return err
	}
	_, err := fn(nil)
	return err
}

func TestLimiter_RetriedUpdateUsesLastDecision(t *testing.T) {
	now := testutil.FixedTime
	full := &storage.RateWindow{Attempts: make([]int64, 5)}
	for i := range full.Attempts {
		full.Attempts[i] = now.UnixMilli()
	}

	l, err := New(&retryingStore{full: full}, WithClock(func() time.Time { return now }))
	testutil.AssertNoError(t, err)

	d, err := l.Check(context.Background(), "ip", LoginAttempts)
	testutil.AssertNoError(t, err)
	if !d.Allowed || d.RetryAfter != 0 || d.Remaining != 4 {
		t.Errorf("Decision = %+v, want the decision of the final attempt", d)
	}
}

func TestLimiter_ConcurrentChecksNeverExceedLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, "ip", MenuUpdates)
			if err != nil {
				t.Errorf("Check() error = %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 20 {
		t.Errorf("allowed = %d, want 20", got)
	}
}

func TestLimiter_WithInstrumentation(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MetricsExporter: instrumentation.MetricsExporterPrometheus})
	testutil.AssertNoError(t, err)
	defer func() { _ = inst.Shutdown(context.Background()) }()

	l, _ := newTestLimiter(t, WithInstrumentation(inst))
	d, err := l.Check(context.Background(), "ip", APICalls)
	testutil.AssertNoError(t, err)
	if !d.Allowed {
		t.Error("first check denied")
	}
}

func TestKey(t *testing.T) {
	testutil.AssertEqual(t, Key(LoginAttempts, "203.0.113.10"), "LOGIN_ATTEMPTS:203.0.113.10")
}
