package security

import "time"

const (
	// DefaultClockSkewGracePeriod is how far in the future a CSRF token
	// timestamp may lie before it is rejected. It absorbs clock drift between
	// replicas behind the same load balancer.
	DefaultClockSkewGracePeriod = 5 * time.Second

	// DefaultSessionIdleTimeout is how long a session may stay unused
	DefaultSessionIdleTimeout = 30 * time.Minute

	// DefaultSessionWarningWindow is how long before expiry the client is warned
	DefaultSessionWarningWindow = 5 * time.Minute
)

// IsSessionIdle reports whether a session last seen at lastSeen has been idle
// longer than timeout at now
func IsSessionIdle(lastSeen, now time.Time, timeout time.Duration) bool {
	if lastSeen.IsZero() {
		return true
	}
	return now.Sub(lastSeen) > timeout
}

// SessionExpiresSoon reports whether a session will hit its idle timeout
// within warning
func SessionExpiresSoon(lastSeen, now time.Time, timeout, warning time.Duration) bool {
	remaining := SessionRemaining(lastSeen, now, timeout)
	return remaining > 0 && remaining <= warning
}

// SessionRemaining returns the idle time left before the session expires,
// or zero if it already has
func SessionRemaining(lastSeen, now time.Time, timeout time.Duration) time.Duration {
	remaining := lastSeen.Add(timeout).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
