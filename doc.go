// Package menuguard is the security layer in front of the Zina Coffee menu.
//
// A Server combines the building blocks found in the subpackages:
//
//   - ratelimit: sliding-window limits for sign-in attempts, API calls and
//     menu updates, keyed by "limitType:identifier"
//   - security: HMAC CSRF tokens, the audit trail, session idle checks,
//     client IP extraction and response headers
//   - sanitize and validation: escaping, threat scanning and schema checks
//     applied to every menu item before it is stored
//   - identity: bearer token verification against an OpenID Connect
//     userinfo endpoint
//   - storage: memory and Valkey backends
//
// Handler exposes the Server over HTTP. Errors returned by the Server are
// *Error values whose Kind maps to an HTTP status.
//
// Basic usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	provider, _ := identity.NewUserInfoProvider(identity.UserInfoConfig{})
//	server, err := menuguard.NewServer(cfg, menuguard.Stores{
//	    RateLimits: store,
//	    Audit:      store,
//	    Menu:       store,
//	    Sessions:   store,
//	}, provider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	handler := menuguard.NewHandler(server, logger)
//	defer handler.Close()
//	log.Fatal(handler.HTTPServer().ListenAndServe())
package menuguard
