package menuguard

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/zinacoffee/menuguard/identity"
	"github.com/zinacoffee/menuguard/ratelimit"
	"github.com/zinacoffee/menuguard/security"
)

// Environment names
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

// Storage backends
const (
	StorageBackendMemory = "memory"
	StorageBackendValkey = "valkey"
)

// Default values applied by applySecureDefaults
const (
	DefaultHTTPAddr            = ":8080"
	DefaultReadHeaderTimeout   = 5 * time.Second
	DefaultReadTimeout         = 10 * time.Second
	DefaultWriteTimeout        = 10 * time.Second
	DefaultIdleTimeout         = 60 * time.Second
	DefaultMaxBodyBytes        = 1 << 20
	DefaultThrottleRate        = 10.0
	DefaultThrottleBurst       = 20
	DefaultRateWindowRetention = 24 * time.Hour
	DefaultAuditRetention      = 30 * 24 * time.Hour
	DefaultArchiveBatchSize    = 500
	DefaultCleanupInterval     = 24 * time.Hour
	DefaultAuditPageSize       = 50
	MaxAuditPageSize           = 200
)

// Config is the process-wide configuration. It is loaded once at startup and
// must not be modified after NewServer.
type Config struct {
	// Environment is "development" or "production". Production refuses
	// insecure fallbacks.
	Environment string `yaml:"environment"`

	// AuthorizedEmails is the administrator allow-list. Matching is exact
	// and case-sensitive.
	AuthorizedEmails []string `yaml:"authorized_emails"`

	Security        SecurityConfig        `yaml:"security"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	Session         SessionConfig         `yaml:"session"`
	Storage         StorageConfig         `yaml:"storage"`
	Identity        IdentityConfig        `yaml:"identity"`
	Instrumentation InstrumentationConfig `yaml:"instrumentation"`
	HTTP            HTTPConfig            `yaml:"http"`

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger `yaml:"-"`
}

// SecurityConfig holds secrets and request trust settings
type SecurityConfig struct {
	// CSRFSecret keys the HMAC of CSRF tokens. Empty falls back to
	// security.InsecureFallbackCSRFSecret with an ERROR log.
	CSRFSecret string `yaml:"csrf_secret"`

	// AllowInsecureCSRFSecret permits the fallback secret in production.
	// WARNING: anyone who knows the fallback can forge CSRF tokens.
	AllowInsecureCSRFSecret bool `yaml:"allow_insecure_csrf_secret"`

	// MasterPassphrase is the plaintext shared secret accepted for menu
	// mutations and restores. LoadConfig hashes it and clears this field.
	MasterPassphrase string `yaml:"master_passphrase"`

	// MasterPassphraseHash is the bcrypt hash of the master passphrase.
	// Empty disables the master passphrase entirely.
	MasterPassphraseHash string `yaml:"master_passphrase_hash"`

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool `yaml:"trust_proxy"`

	// TrustedProxyCount is the number of proxies in front of the server
	TrustedProxyCount int `yaml:"trusted_proxy_count"`

	// EnableHSTS sends Strict-Transport-Security on every response
	EnableHSTS bool `yaml:"enable_hsts"`
}

// LimitConfig overrides one sliding-window limit
type LimitConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// RateLimitConfig holds the sliding-window limits and the per-IP throttle
type RateLimitConfig struct {
	LoginAttempts LimitConfig `yaml:"login_attempts"`
	APICalls      LimitConfig `yaml:"api_calls"`
	MenuUpdates   LimitConfig `yaml:"menu_updates"`

	// ThrottleRate is the sustained requests per second allowed per IP at the
	// HTTP layer. Negative disables the throttle.
	ThrottleRate float64 `yaml:"throttle_rate"`

	// ThrottleBurst is the burst size of the per-IP throttle
	ThrottleBurst int `yaml:"throttle_burst"`

	// ThrottleMaxEntries bounds the number of tracked IPs
	ThrottleMaxEntries int `yaml:"throttle_max_entries"`
}

// SessionConfig holds administrator session timing
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	WarningWindow time.Duration `yaml:"warning_window"`
}

// StorageConfig selects and tunes the store backend
type StorageConfig struct {
	// Backend is "memory" or "valkey"
	Backend string       `yaml:"backend"`
	Valkey  ValkeyConfig `yaml:"valkey"`

	// RateWindowRetention is the age after which rate windows are deleted
	RateWindowRetention time.Duration `yaml:"rate_window_retention"`

	// AuditRetention is the age after which audit events are archived
	AuditRetention time.Duration `yaml:"audit_retention"`

	// ArchiveBatchSize is the number of audit events archived per batch
	ArchiveBatchSize int `yaml:"archive_batch_size"`

	// CleanupInterval is how often `serve` runs the cleanup job
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ValkeyConfig holds the Valkey connection settings
type ValkeyConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TLS       bool   `yaml:"tls"`
}

// IdentityConfig configures bearer token verification
type IdentityConfig struct {
	// UserInfoURL is the OpenID Connect userinfo endpoint. Empty means
	// Issuer discovery, or Google when Issuer is empty too.
	UserInfoURL string `yaml:"userinfo_url"`

	// Issuer is an OpenID Connect issuer whose discovery document names the
	// userinfo endpoint
	Issuer string `yaml:"issuer"`

	// StaticTokens maps fixed bearer tokens to emails. Development only.
	StaticTokens map[string]string `yaml:"static_tokens"`
}

// InstrumentationConfig configures metrics
type InstrumentationConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MetricsExporter string `yaml:"metrics_exporter"`
	ServiceName     string `yaml:"service_name"`
	ServiceVersion  string `yaml:"service_version"`
	LogClientIPs    bool   `yaml:"log_client_ips"`
}

// HTTPConfig holds listener settings
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
}

// IsProduction reports whether the config targets production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// IsAuthorizedEmail reports whether email is on the allow-list
func (c *Config) IsAuthorizedEmail(email string) bool {
	if email == "" {
		return false
	}
	for _, allowed := range c.AuthorizedEmails {
		if allowed == email {
			return true
		}
	}
	return false
}

// Limits returns the sliding-window limit table with overrides applied
func (c *Config) Limits() map[ratelimit.LimitType]ratelimit.Limit {
	limits := ratelimit.DefaultLimits()
	override := func(lt ratelimit.LimitType, lc LimitConfig) {
		l := limits[lt]
		if lc.MaxAttempts > 0 {
			l.MaxAttempts = lc.MaxAttempts
		}
		if lc.Window > 0 {
			l.Window = lc.Window
		}
		limits[lt] = l
	}
	override(ratelimit.LoginAttempts, c.RateLimit.LoginAttempts)
	override(ratelimit.APICalls, c.RateLimit.APICalls)
	override(ratelimit.MenuUpdates, c.RateLimit.MenuUpdates)
	return limits
}

// LoadConfig reads a YAML config file, applies MENUGUARD_* environment
// overrides and hashes the master passphrase. An empty path loads only the
// environment.
func LoadConfig(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return parseConfig(data, os.LookupEnv)
}

func parseConfig(data []byte, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if len(strings.TrimSpace(string(data))) > 0 {
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(lookupEnv); err != nil {
		return nil, err
	}

	if cfg.Security.MasterPassphrase != "" {
		hash, err := HashMasterPassphrase(cfg.Security.MasterPassphrase)
		if err != nil {
			return nil, err
		}
		cfg.Security.MasterPassphraseHash = hash
		cfg.Security.MasterPassphrase = ""
	}

	return cfg, nil
}

// applyEnv overrides fields from MENUGUARD_* environment variables
func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	str("MENUGUARD_ENVIRONMENT", &c.Environment)
	str("MENUGUARD_CSRF_SECRET", &c.Security.CSRFSecret)
	str("MENUGUARD_MASTER_PASSPHRASE", &c.Security.MasterPassphrase)
	str("MENUGUARD_MASTER_PASSPHRASE_HASH", &c.Security.MasterPassphraseHash)
	str("MENUGUARD_STORAGE_BACKEND", &c.Storage.Backend)
	str("MENUGUARD_VALKEY_ADDR", &c.Storage.Valkey.Addr)
	str("MENUGUARD_VALKEY_PASSWORD", &c.Storage.Valkey.Password)
	str("MENUGUARD_USERINFO_URL", &c.Identity.UserInfoURL)
	str("MENUGUARD_OIDC_ISSUER", &c.Identity.Issuer)
	str("MENUGUARD_HTTP_ADDR", &c.HTTP.Addr)

	if v, ok := lookupEnv("MENUGUARD_AUTHORIZED_EMAILS"); ok && v != "" {
		var emails []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				emails = append(emails, e)
			}
		}
		c.AuthorizedEmails = emails
	}

	if v, ok := lookupEnv("MENUGUARD_TRUST_PROXY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MENUGUARD_TRUST_PROXY: %w", err)
		}
		c.Security.TrustProxy = b
	}

	return nil
}

// HashMasterPassphrase returns the bcrypt hash of passphrase
func HashMasterPassphrase(passphrase string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash master passphrase: %w", err)
	}
	return string(hash), nil
}

// applySecureDefaults fills unset fields with secure defaults and logs
// warnings for weakened settings. It returns a copy; cfg is not modified.
func applySecureDefaults(cfg Config, logger *slog.Logger) *Config {
	if cfg.Environment == "" {
		cfg.Environment = EnvironmentDevelopment
	}
	cfg.AuthorizedEmails = append([]string(nil), cfg.AuthorizedEmails...)

	if cfg.Security.TrustedProxyCount <= 0 {
		cfg.Security.TrustedProxyCount = 1
	}

	if cfg.RateLimit.ThrottleRate == 0 {
		cfg.RateLimit.ThrottleRate = DefaultThrottleRate
	}
	if cfg.RateLimit.ThrottleBurst <= 0 {
		cfg.RateLimit.ThrottleBurst = DefaultThrottleBurst
	}
	if cfg.RateLimit.ThrottleMaxEntries <= 0 {
		cfg.RateLimit.ThrottleMaxEntries = security.DefaultThrottleMaxEntries
	}

	if cfg.Session.IdleTimeout <= 0 {
		cfg.Session.IdleTimeout = security.DefaultSessionIdleTimeout
	}
	if cfg.Session.WarningWindow <= 0 {
		cfg.Session.WarningWindow = security.DefaultSessionWarningWindow
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageBackendMemory
	}
	if cfg.Storage.RateWindowRetention <= 0 {
		cfg.Storage.RateWindowRetention = DefaultRateWindowRetention
	}
	if cfg.Storage.AuditRetention <= 0 {
		cfg.Storage.AuditRetention = DefaultAuditRetention
	}
	if cfg.Storage.ArchiveBatchSize <= 0 {
		cfg.Storage.ArchiveBatchSize = DefaultArchiveBatchSize
	}
	if cfg.Storage.CleanupInterval <= 0 {
		cfg.Storage.CleanupInterval = DefaultCleanupInterval
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.HTTP.ReadHeaderTimeout <= 0 {
		cfg.HTTP.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = DefaultReadTimeout
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.HTTP.IdleTimeout <= 0 {
		cfg.HTTP.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if cfg.Security.CSRFSecret == "" || cfg.Security.CSRFSecret == security.InsecureFallbackCSRFSecret {
		cfg.Security.CSRFSecret = security.InsecureFallbackCSRFSecret
		logger.Error("SECURITY WARNING: CSRF secret is not configured, using the insecure fallback",
			"risk", "Anyone who knows the fallback can forge CSRF tokens",
			"recommendation", "Set MENUGUARD_CSRF_SECRET to a long random value",
			"environment", cfg.Environment)
	}
	if cfg.Security.MasterPassphraseHash == "" {
		logger.Info("Master passphrase is not configured, menu mutations require an administrator identity")
	}
	if cfg.Security.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if cfg.RateLimit.ThrottleRate < 0 {
		logger.Warn("SECURITY WARNING: Per-IP request throttle is disabled")
	}
	if len(cfg.AuthorizedEmails) == 0 {
		logger.Warn("No authorized administrator emails configured, only the master passphrase can modify the menu")
	}

	return &cfg
}

// Validate checks the config for settings that must not reach production
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case "", EnvironmentDevelopment, EnvironmentProduction:
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}

	switch c.Storage.Backend {
	case "", StorageBackendMemory:
	case StorageBackendValkey:
		if c.Storage.Valkey.Addr == "" {
			errs = append(errs, errors.New("storage.valkey.addr is required for the valkey backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.IsProduction() {
		insecure := c.Security.CSRFSecret == "" || c.Security.CSRFSecret == security.InsecureFallbackCSRFSecret
		if insecure && !c.Security.AllowInsecureCSRFSecret {
			errs = append(errs, errors.New("refusing the insecure fallback CSRF secret in production"))
		}
		if len(c.Identity.StaticTokens) > 0 {
			errs = append(errs, errors.New("static identity tokens are not allowed in production"))
		}
	}

	if c.Identity.Issuer != "" {
		if err := identity.ValidateIssuerURL(c.Identity.Issuer); err != nil {
			errs = append(errs, fmt.Errorf("identity.issuer: %w", err))
		}
	}

	if c.Security.MasterPassphrase != "" {
		errs = append(errs, errors.New("master passphrase must be hashed before use"))
	}

	return errors.Join(errs...)
}
