package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const (
	// GoogleUserInfoURL is the OpenID Connect userinfo endpoint of Google
	GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

	// GoogleProviderName is reported in Identity.Provider for Google tokens
	GoogleProviderName = "google.com"

	// maxUserInfoBytes bounds the userinfo response read into memory
	maxUserInfoBytes = 1 << 20
)

// UserInfoConfig configures a UserInfoProvider
type UserInfoConfig struct {
	// URL is the OpenID Connect userinfo endpoint. Defaults to Google's.
	URL string

	// Name is reported in Identity.Provider. Defaults to the URL host.
	Name string

	// HTTPClient is an optional custom HTTP client
	HTTPClient *http.Client

	Logger *slog.Logger
}

// UserInfoProvider verifies access tokens by calling an OpenID Connect
// userinfo endpoint with them.
type UserInfoProvider struct {
	url        string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewUserInfoProvider creates a provider calling cfg.URL
func NewUserInfoProvider(cfg UserInfoConfig) (*UserInfoProvider, error) {
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = GoogleUserInfoURL
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("invalid userinfo URL: %q", endpoint)
	}

	name := cfg.Name
	switch {
	case name != "":
	case endpoint == GoogleUserInfoURL:
		name = GoogleProviderName
	default:
		name = u.Host
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &UserInfoProvider{url: endpoint, name: name, httpClient: httpClient, logger: logger}, nil
}

// userInfoResponse covers both the OpenID Connect and the legacy Google field names
type userInfoResponse struct {
	Sub           string `json:"sub"`
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Verify calls the userinfo endpoint with bearer
func (p *UserInfoProvider) Verify(ctx context.Context, bearer string) (*Identity, error) {
	if bearer == "" {
		return nil, ErrInvalidToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: bearer,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: userinfo returned status %d", ErrInvalidToken, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		p.logger.Warn("Userinfo request failed", "status", resp.StatusCode)
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var info userInfoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	subject := info.Sub
	if subject == "" {
		subject = info.ID
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: userinfo response has no subject", ErrInvalidToken)
	}

	return &Identity{
		SubjectID:     subject,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Provider:      p.name,
	}, nil
}
