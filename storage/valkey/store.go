package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/zinacoffee/menuguard/internal/util"
	"github.com/zinacoffee/menuguard/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "menuguard:"

	// DefaultSessionTTL is how long an untouched session key lives
	DefaultSessionTTL = 24 * time.Hour

	// idLogLength is the number of characters to include when logging IDs
	idLogLength = 8

	// maxCASAttempts bounds the compare-and-swap retries of one update
	maxCASAttempts = 16

	// batchSize is the number of index entries removed per script call
	batchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "menuguard:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// SessionTTL is how long a session key survives without activity.
	// Default: 24 hours
	SessionTTL time.Duration
}

// Store is a Valkey-backed implementation of all storage interfaces.
type Store struct {
	client     valkeygo.Client
	prefix     string
	logger     *slog.Logger
	sessionTTL time.Duration
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.RateLimitStore = (*Store)(nil)
	_ storage.AuditStore     = (*Store)(nil)
	_ storage.MenuStore      = (*Store)(nil)
	_ storage.SessionStore   = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:     client,
		prefix:     prefix,
		logger:     logger,
		sessionTTL: sessionTTL,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// ============================================================
// Key Helpers
// ============================================================

// rateWindowKey returns the key of a rate window: {prefix}rate:{limitType}:{identifier}
func (s *Store) rateWindowKey(key string) string {
	return s.prefix + "rate:" + key
}

func (s *Store) rateIndexKey() string {
	return s.prefix + "rate:index"
}

// auditEventPrefix is the key prefix of audit events: {prefix}audit:event:
func (s *Store) auditEventPrefix() string {
	return s.prefix + "audit:event:"
}

func (s *Store) auditIndexKey() string {
	return s.prefix + "audit:index"
}

func (s *Store) auditMembersKey() string {
	return s.prefix + "audit:members"
}

func (s *Store) auditSeqKey() string {
	return s.prefix + "audit:seq"
}

func (s *Store) auditArchiveKey() string {
	return s.prefix + "audit:archive"
}

// menuItemPrefix is the key prefix of menu items: {prefix}menu:item:
func (s *Store) menuItemPrefix() string {
	return s.prefix + "menu:item:"
}

func (s *Store) menuItemKey(id string) string {
	return s.menuItemPrefix() + id
}

func (s *Store) menuIndexKey() string {
	return s.prefix + "menu:index"
}

func (s *Store) menuSeqKey() string {
	return s.prefix + "menu:seq"
}

// sessionPrefix is the key prefix of sessions: {prefix}session:
func (s *Store) sessionPrefix() string {
	return s.prefix + "session:"
}

func (s *Store) sessionKey(id string) string {
	return s.sessionPrefix() + id
}

// userSessionsPrefix is the key prefix of per-user session sets: {prefix}user:sessions:
func (s *Store) userSessionsPrefix() string {
	return s.prefix + "user:sessions:"
}

func (s *Store) userSessionsKey(userID string) string {
	return s.userSessionsPrefix() + userID
}

// ============================================================
// Helper methods
// ============================================================

// eval runs a Lua script
func (s *Store) eval(ctx context.Context, script string, keys []string, args ...string) valkeygo.ValkeyResult {
	return s.client.Do(ctx,
		s.client.B().Eval().Script(script).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(args...).
			Build(),
	)
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func logID(id string) string {
	return util.SafeTruncate(id, idLogLength)
}
