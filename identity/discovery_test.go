package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateIssuerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "public https", url: "https://accounts.google.com", wantErr: false},
		{name: "https with path", url: "https://dex.example.com/dex", wantErr: false},
		{name: "http", url: "http://accounts.google.com", wantErr: true},
		{name: "no host", url: "https://", wantErr: true},
		{name: "loopback", url: "https://127.0.0.1", wantErr: true},
		{name: "private", url: "https://10.0.0.5", wantErr: true},
		{name: "link-local", url: "https://169.254.169.254", wantErr: true},
		{name: "ipv6 loopback", url: "https://[::1]:8443", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIssuerURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIssuerURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestDiscoverUserInfoURL_RejectsLoopbackIssuer(t *testing.T) {
	server := httptest.NewTLSServer(http.NotFoundHandler())
	defer server.Close()

	if _, err := DiscoverUserInfoURL(t.Context(), server.Client(), server.URL); err == nil {
		t.Error("Expected error for loopback issuer")
	}
}

func TestDiscoverUserInfoURL(t *testing.T) {
	tests := []struct {
		name    string
		doc     func(issuer string) map[string]any
		status  int
		want    string
		wantErr string
	}{
		{
			name: "success",
			doc: func(issuer string) map[string]any {
				return map[string]any{"issuer": issuer, "userinfo_endpoint": "https://idp.example.com/userinfo"}
			},
			want: "https://idp.example.com/userinfo",
		},
		{
			name: "issuer mismatch",
			doc: func(string) map[string]any {
				return map[string]any{"issuer": "https://evil.example.com", "userinfo_endpoint": "https://idp.example.com/userinfo"}
			},
			wantErr: "does not match",
		},
		{
			name: "missing userinfo",
			doc: func(issuer string) map[string]any {
				return map[string]any{"issuer": issuer}
			},
			wantErr: "no userinfo_endpoint",
		},
		{
			name: "plain http userinfo",
			doc: func(issuer string) map[string]any {
				return map[string]any{"issuer": issuer, "userinfo_endpoint": "http://idp.example.com/userinfo"}
			},
			wantErr: "must use HTTPS",
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			wantErr: "status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var issuer string
			server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/.well-known/openid-configuration" {
					http.NotFound(w, r)
					return
				}
				if tt.status != 0 {
					w.WriteHeader(tt.status)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(tt.doc(issuer))
			}))
			defer server.Close()
			issuer = server.URL

			got, err := discoverUserInfoURL(t.Context(), server.Client(), issuer+"/")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("discoverUserInfoURL() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("discoverUserInfoURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("discoverUserInfoURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
