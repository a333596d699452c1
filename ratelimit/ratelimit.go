// Package ratelimit implements a sliding-window rate limiter over a
// storage.RateLimitStore.
//
// Each (limit type, identifier) pair owns one window holding the timestamps of
// recent accepted attempts. A check prunes attempts older than the window,
// denies when the remaining count has reached the limit, and otherwise records
// the new attempt. Denied attempts are not recorded.
//
// Checks are atomic per key: the read-modify-write runs through
// RateLimitStore.UpdateRateWindow, which the memory store serializes under a
// mutex and the Valkey store implements as a versioned compare-and-swap.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zinacoffee/menuguard/instrumentation"
	"github.com/zinacoffee/menuguard/storage"
)

// LimitType names a rate limit policy
type LimitType string

const (
	LoginAttempts LimitType = "LOGIN_ATTEMPTS"
	APICalls      LimitType = "API_CALLS"
	MenuUpdates   LimitType = "MENU_UPDATES"
)

// Limit is the number of attempts allowed within a sliding window
type Limit struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultLimits returns the built-in limit table
func DefaultLimits() map[LimitType]Limit {
	return map[LimitType]Limit{
		LoginAttempts: {MaxAttempts: 5, Window: time.Hour},
		APICalls:      {MaxAttempts: 100, Window: time.Minute},
		MenuUpdates:   {MaxAttempts: 20, Window: time.Hour},
	}
}

var (
	// ErrUnknownLimitType is returned for a limit type with no configured limit
	ErrUnknownLimitType = errors.New("unknown limit type")

	// ErrEmptyIdentifier is returned when Check is called without an identifier
	ErrEmptyIdentifier = errors.New("rate limit identifier is required")
)

// Decision is the outcome of a check. Remaining is set when the attempt is
// allowed; RetryAfter, in whole seconds, when it is denied.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter int
}

// Limiter checks attempts against the configured limits
type Limiter struct {
	store  storage.RateLimitStore
	limits map[LimitType]Limit
	now    func() time.Time
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Option configures a Limiter
type Option func(*Limiter)

// WithLimits replaces the limit table. Types missing from limits keep their
// default.
func WithLimits(limits map[LimitType]Limit) Option {
	return func(l *Limiter) {
		for lt, limit := range limits {
			l.limits[lt] = limit
		}
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithInstrumentation enables metrics and tracing
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(l *Limiter) {
		l.instrumentation = inst
		if inst != nil {
			l.tracer = inst.Tracer("ratelimit")
		}
	}
}

// New creates a limiter backed by store
func New(store storage.RateLimitStore, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("rate limit store is required")
	}

	l := &Limiter{
		store:  store,
		limits: DefaultLimits(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	for lt, limit := range l.limits {
		if limit.MaxAttempts <= 0 || limit.Window <= 0 {
			return nil, fmt.Errorf("limit %s must have positive attempts and window", lt)
		}
	}
	return l, nil
}

// LimitFor returns the limit configured for lt
func (l *Limiter) LimitFor(lt LimitType) (Limit, error) {
	limit, ok := l.limits[lt]
	if !ok {
		return Limit{}, fmt.Errorf("%w: %s", ErrUnknownLimitType, lt)
	}
	return limit, nil
}

// Key returns the store key of the window for identifier under lt
func Key(lt LimitType, identifier string) string {
	return string(lt) + ":" + identifier
}

// Check records an attempt by identifier under lt if the limit allows it
func (l *Limiter) Check(ctx context.Context, identifier string, lt LimitType) (Decision, error) {
	limit, err := l.LimitFor(lt)
	if err != nil {
		return Decision{}, err
	}
	if identifier == "" {
		return Decision{}, ErrEmptyIdentifier
	}

	var span trace.Span
	if l.tracer != nil {
		ctx, span = l.tracer.Start(ctx, "ratelimit.check",
			trace.WithAttributes(attribute.String(instrumentation.AttrLimitType, string(lt))))
		defer span.End()
	}

	now := l.now()
	nowMs := now.UnixMilli()
	windowMs := limit.Window.Milliseconds()
	windowStart := nowMs - windowMs

	var decision Decision
	err = l.store.UpdateRateWindow(ctx, Key(lt, identifier), func(current *storage.RateWindow) (*storage.RateWindow, error) {
		// The store may call this more than once; only the last call counts.
		decision = Decision{}

		if current == nil {
			decision = Decision{Allowed: true, Remaining: limit.MaxAttempts - 1}
			return &storage.RateWindow{
				Identifier: identifier,
				LimitType:  string(lt),
				Attempts:   []int64{nowMs},
				CreatedAt:  now,
			}, nil
		}

		recent := make([]int64, 0, len(current.Attempts)+1)
		oldest := int64(0)
		for _, at := range current.Attempts {
			if at > windowStart {
				if len(recent) == 0 || at < oldest {
					oldest = at
				}
				recent = append(recent, at)
			}
		}

		if len(recent) >= limit.MaxAttempts {
			decision = Decision{RetryAfter: ceilSeconds(oldest + windowMs - nowMs)}
			return nil, nil
		}

		recent = append(recent, nowMs)
		current.Attempts = recent
		decision = Decision{Allowed: true, Remaining: limit.MaxAttempts - len(recent)}
		return current, nil
	})
	if err != nil {
		if span != nil {
			instrumentation.RecordError(span, err)
		}
		return Decision{}, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if span != nil {
		instrumentation.AddRateLimitAttributes(span, string(lt), decision.Allowed, decision.Remaining, decision.RetryAfter)
		instrumentation.SetSpanSuccess(span)
	}
	if l.instrumentation != nil {
		l.instrumentation.Metrics().RecordRateLimitCheck(ctx, string(lt), decision.Allowed)
	}
	if !decision.Allowed {
		l.logger.Debug("Rate limit exceeded",
			"limit_type", lt,
			"identifier", identifier,
			"retry_after", decision.RetryAfter)
	}

	return decision, nil
}

func ceilSeconds(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}
