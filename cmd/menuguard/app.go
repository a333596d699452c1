package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/zinacoffee/menuguard"
	"github.com/zinacoffee/menuguard/identity"
	"github.com/zinacoffee/menuguard/instrumentation"
	"github.com/zinacoffee/menuguard/storage"
	"github.com/zinacoffee/menuguard/storage/memory"
	"github.com/zinacoffee/menuguard/storage/valkey"
)

const (
	// cliIPAddress is the client address recorded for one-shot commands
	cliIPAddress = "127.0.0.1"

	// discoveryTimeout bounds the OpenID Connect discovery request at startup
	discoveryTimeout = 10 * time.Second
)

// app is a fully wired server plus the resources it owns
type app struct {
	server *menuguard.Server
	inst   *instrumentation.Instrumentation
	logger *slog.Logger

	closers []func()
}

// Close releases stores and flushes instrumentation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newLogger builds the process logger writing to w
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func parseLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
	return lvl, nil
}

// loadConfig reads the configuration and attaches logger to it
func loadConfig(opts *globalOptions, logger *slog.Logger) (*menuguard.Config, error) {
	cfg, err := menuguard.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger
	return cfg, nil
}

// newApp loads the configuration and wires storage, identity verification,
// instrumentation and the server. mutate may adjust the configuration
// before the server is created.
func newApp(ctx context.Context, opts *globalOptions, logOutput io.Writer, mutate func(*menuguard.Config)) (*app, error) {
	logger, err := newLogger(logOutput, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts, logger)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}

	a := &app{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if cfg.Instrumentation.Enabled {
		inst, err := instrumentation.New(instrumentation.Config{
			Enabled:         true,
			ServiceName:     cfg.Instrumentation.ServiceName,
			ServiceVersion:  cfg.Instrumentation.ServiceVersion,
			MetricsExporter: cfg.Instrumentation.MetricsExporter,
			LogClientIPs:    cfg.Instrumentation.LogClientIPs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
		a.inst = inst
		a.closers = append(a.closers, func() {
			if err := inst.Shutdown(context.Background()); err != nil {
				logger.Warn("Failed to shut down instrumentation", "error", err)
			}
		})
	}

	stores, closeStores, err := openStores(cfg, logger, a.inst)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStores)

	provider, err := newIdentityProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	serverOpts := []menuguard.ServerOption{}
	if a.inst != nil {
		serverOpts = append(serverOpts, menuguard.WithServerInstrumentation(a.inst))
	}
	a.server, err = menuguard.NewServer(*cfg, stores, provider, serverOpts...)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// fullStore is a backend implementing every store interface
type fullStore interface {
	storage.RateLimitStore
	storage.AuditStore
	storage.MenuStore
	storage.SessionStore
}

func storesOf(s fullStore) menuguard.Stores {
	return menuguard.Stores{
		RateLimits: s,
		Audit:      s,
		Menu:       s,
		Sessions:   s,
	}
}

// openStores creates the configured storage backend and returns a function
// releasing it
func openStores(cfg *menuguard.Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (menuguard.Stores, func(), error) {
	switch cfg.Storage.Backend {
	case "", menuguard.StorageBackendMemory:
		store := memory.New()
		store.SetLogger(logger)
		if inst != nil {
			store.SetInstrumentation(inst)
		}
		return storesOf(store), store.Stop, nil

	case menuguard.StorageBackendValkey:
		vc := cfg.Storage.Valkey
		valkeyCfg := valkey.Config{
			Address:   vc.Addr,
			Password:  vc.Password,
			DB:        vc.DB,
			KeyPrefix: vc.KeyPrefix,
			Logger:    logger,
		}
		if vc.TLS {
			valkeyCfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		store, err := valkey.New(valkeyCfg)
		if err != nil {
			return menuguard.Stores{}, nil, err
		}
		return storesOf(store), store.Close, nil

	default:
		return menuguard.Stores{}, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// newIdentityProvider returns a static provider when static tokens are
// configured and a userinfo provider otherwise. The userinfo endpoint is
// discovered from the issuer when only the issuer is configured.
func newIdentityProvider(ctx context.Context, cfg *menuguard.Config, logger *slog.Logger) (identity.Provider, error) {
	if len(cfg.Identity.StaticTokens) > 0 {
		logger.Warn("Using static identity tokens, do not use in production",
			"tokens", len(cfg.Identity.StaticTokens))
		provider := make(identity.StaticProvider, len(cfg.Identity.StaticTokens))
		for token, email := range cfg.Identity.StaticTokens {
			provider[token] = identity.Identity{
				SubjectID:     "static:" + email,
				Email:         email,
				EmailVerified: true,
			}
		}
		return provider, nil
	}

	userInfoURL := cfg.Identity.UserInfoURL
	if userInfoURL == "" && cfg.Identity.Issuer != "" {
		discoverCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
		defer cancel()

		discovered, err := identity.DiscoverUserInfoURL(discoverCtx, nil, cfg.Identity.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover userinfo endpoint: %w", err)
		}
		logger.Info("Discovered userinfo endpoint", "issuer", cfg.Identity.Issuer, "userinfo_url", discovered)
		userInfoURL = discovered
	}

	provider, err := identity.NewUserInfoProvider(identity.UserInfoConfig{
		URL:    userInfoURL,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}
	return provider, nil
}
