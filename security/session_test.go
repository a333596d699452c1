package security

import (
	"testing"
	"time"

	"github.com/zinacoffee/menuguard/internal/testutil"
)

func TestSessionIdleHelpers(t *testing.T) {
	lastSeen := testutil.FixedTime

	tests := []struct {
		name          string
		elapsed       time.Duration
		wantIdle      bool
		wantSoon      bool
		wantRemaining time.Duration
	}{
		{"fresh", time.Minute, false, false, 29 * time.Minute},
		{"just outside warning window", 24*time.Minute + 59*time.Second, false, false, 5*time.Minute + time.Second},
		{"warning window start", 25 * time.Minute, false, true, 5 * time.Minute},
		{"about to expire", 29 * time.Minute, false, true, time.Minute},
		{"exactly at timeout", 30 * time.Minute, false, false, 0},
		{"expired", 31 * time.Minute, true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := lastSeen.Add(tt.elapsed)
			if got := IsSessionIdle(lastSeen, now, DefaultSessionIdleTimeout); got != tt.wantIdle {
				t.Errorf("IsSessionIdle() = %v, want %v", got, tt.wantIdle)
			}
			if got := SessionExpiresSoon(lastSeen, now, DefaultSessionIdleTimeout, DefaultSessionWarningWindow); got != tt.wantSoon {
				t.Errorf("SessionExpiresSoon() = %v, want %v", got, tt.wantSoon)
			}
			if got := SessionRemaining(lastSeen, now, DefaultSessionIdleTimeout); got != tt.wantRemaining {
				t.Errorf("SessionRemaining() = %v, want %v", got, tt.wantRemaining)
			}
		})
	}
}

func TestIsSessionIdle_ZeroLastSeen(t *testing.T) {
	if !IsSessionIdle(time.Time{}, testutil.FixedTime, DefaultSessionIdleTimeout) {
		t.Error("a session that was never seen should be idle")
	}
}
