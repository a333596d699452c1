package security

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIP identifies callers whose address could not be determined.
// All such callers share one rate limit bucket.
const UnknownIP = "unknown"

// ClientIPConfig controls how the client address is derived from a request
type ClientIPConfig struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP. Only enable it behind
	// a reverse proxy that overwrites these headers.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies, counted from the right of
	// X-Forwarded-For, that are under our control. 0 means 1.
	TrustedProxyCount int
}

// GetClientIP extracts the client IP address used for rate limiting and audit.
//
// X-Forwarded-For has the form "client, proxy1, proxy2"; the rightmost
// TrustedProxyCount entries were appended by our own proxies, so the entry
// just left of them is the first one a client could not have forged.
func GetClientIP(r *http.Request, cfg ClientIPConfig) string {
	if cfg.TrustProxy {
		if ip := clientIPFromXFF(r.Header.Get("X-Forwarded-For"), cfg.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return clientIPFromRemoteAddr(r.RemoteAddr)
}

func clientIPFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	idx := max(len(ips)-proxies-1, 0)

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func clientIPFromRemoteAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return UnknownIP
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		if net.ParseIP(remoteAddr) != nil {
			return remoteAddr
		}
		return UnknownIP
	}
	return host
}
