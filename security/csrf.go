package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	// InsecureFallbackCSRFSecret is used when no secret is configured.
	// It is public knowledge and must never be relied on in production.
	InsecureFallbackCSRFSecret = "CHANGE_ME_IN_PRODUCTION"

	// DefaultCSRFTokenValidity is how long an issued token stays valid
	DefaultCSRFTokenValidity = time.Hour
)

var (
	// ErrEmptyCSRFSecret is returned when a token service is created without a secret
	ErrEmptyCSRFSecret = errors.New("CSRF secret cannot be empty")

	// ErrEmptySubject is returned when a token is requested for an empty subject
	ErrEmptySubject = errors.New("CSRF subject cannot be empty")
)

// Token is an issued CSRF token. ExpiresIn is in seconds.
type Token struct {
	Value     string `json:"csrfToken"`
	ExpiresIn int    `json:"expiresIn"`
}

// TokenService issues and verifies stateless CSRF tokens of the form
// "<issuedAtMillis>.<hex HMAC-SHA256(secret, subjectID:issuedAtMillis)>".
// A token is bound to the subject it was issued for.
type TokenService struct {
	secret      []byte
	validity    time.Duration
	gracePeriod time.Duration
	now         func() time.Time
}

// TokenOption configures a TokenService
type TokenOption func(*TokenService)

// WithTokenClock sets the time source
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenGracePeriod sets how far in the future a token timestamp may lie
func WithTokenGracePeriod(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d >= 0 {
			s.gracePeriod = d
		}
	}
}

// NewTokenService creates a token service signing with secret
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if secret == "" {
		return nil, ErrEmptyCSRFSecret
	}
	s := &TokenService{
		secret:      []byte(secret),
		validity:    DefaultCSRFTokenValidity,
		gracePeriod: DefaultClockSkewGracePeriod,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// UsesInsecureFallback reports whether the service signs with the public fallback secret
func (s *TokenService) UsesInsecureFallback() bool {
	return hmac.Equal(s.secret, []byte(InsecureFallbackCSRFSecret))
}

// Issue creates a token for subjectID
func (s *TokenService) Issue(subjectID string) (Token, error) {
	if subjectID == "" {
		return Token{}, ErrEmptySubject
	}
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	return Token{
		Value:     ts + "." + s.sign(subjectID, ts),
		ExpiresIn: int(s.validity / time.Second),
	}, nil
}

// Verify reports whether token was issued for subjectID and is still valid.
// A token exactly at the end of its validity is accepted.
func (s *TokenService) Verify(token, subjectID string) bool {
	if token == "" || subjectID == "" {
		return false
	}

	ts, sig, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(sig, ".") {
		return false
	}

	issuedAt, ok := parseMillis(ts)
	if !ok {
		return false
	}

	nowMs := s.now().UnixMilli()
	if nowMs-issuedAt > s.validity.Milliseconds() {
		return false
	}
	if issuedAt-nowMs > s.gracePeriod.Milliseconds() {
		return false
	}

	expected := s.sign(subjectID, ts)
	if len(sig) != len(expected) {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(expected))
}

func (s *TokenService) sign(subjectID, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(subjectID + ":" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}

// parseMillis accepts only unsigned decimal digits
func parseMillis(s string) (int64, bool) {
	if s == "" || len(s) > 19 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
