package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// maxDiscoveryBytes bounds the discovery document read into memory
const maxDiscoveryBytes = 1 << 20

// discoveryDocument is the subset of OpenID Connect provider metadata used here
type discoveryDocument struct {
	Issuer           string `json:"issuer"`
	UserInfoEndpoint string `json:"userinfo_endpoint"`
}

// ValidateIssuerURL checks an issuer URL before anything is fetched from it.
// It requires HTTPS and rejects loopback, private and link-local IP literals.
func ValidateIssuerURL(issuerURL string) error {
	u, err := url.Parse(issuerURL)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("issuer URL must use HTTPS, got %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("issuer URL must have a hostname")
	}

	if ip := net.ParseIP(host); ip != nil {
		switch {
		case ip.IsLoopback():
			return fmt.Errorf("issuer URL must not point to loopback addresses")
		case ip.IsPrivate():
			return fmt.Errorf("issuer URL must not point to private IP ranges")
		case ip.IsLinkLocalUnicast():
			return fmt.Errorf("issuer URL must not point to link-local addresses")
		}
	}

	return nil
}

// DiscoverUserInfoURL reads the OpenID Connect discovery document of issuer
// and returns its userinfo endpoint. A nil httpClient uses
// http.DefaultClient.
func DiscoverUserInfoURL(ctx context.Context, httpClient *http.Client, issuerURL string) (string, error) {
	if err := ValidateIssuerURL(issuerURL); err != nil {
		return "", err
	}
	return discoverUserInfoURL(ctx, httpClient, issuerURL)
}

func discoverUserInfoURL(ctx context.Context, httpClient *http.Client, issuerURL string) (string, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	discoveryURL := strings.TrimSuffix(issuerURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery failed with status %d", resp.StatusCode)
	}

	var doc discoveryDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDiscoveryBytes)).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if strings.TrimSuffix(doc.Issuer, "/") != strings.TrimSuffix(issuerURL, "/") {
		return "", fmt.Errorf("discovery document issuer %q does not match %q", doc.Issuer, issuerURL)
	}
	if doc.UserInfoEndpoint == "" {
		return "", fmt.Errorf("discovery document has no userinfo_endpoint")
	}
	if !strings.HasPrefix(doc.UserInfoEndpoint, "https://") {
		return "", fmt.Errorf("userinfo_endpoint must use HTTPS: %s", doc.UserInfoEndpoint)
	}

	return doc.UserInfoEndpoint, nil
}
