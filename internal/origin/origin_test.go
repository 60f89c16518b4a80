package origin

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name           string
		in             string
		wantNormalized string
		wantHost       string
		wantOK         bool
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM", "https://example.com", "example.com", true},
		{"strips default https port", "https://example.com:443", "https://example.com", "example.com", true},
		{"strips default http port", "http://example.com:80", "http://example.com", "example.com", true},
		{"keeps non-default port", "http://localhost:5173", "http://localhost:5173", "localhost:5173", true},
		{"allows trailing slash", "http://localhost:5173/", "http://localhost:5173", "localhost:5173", true},
		{"allows null origin", "null", "null", "", true},
		{"ipv6 literal", "https://[2001:db8::1]:8443", "https://[2001:db8::1]:8443", "[2001:db8::1]:8443", true},
		{"rejects empty", "", "", "", false},
		{"rejects other scheme", "ftp://example.com", "", "", false},
		{"rejects path", "https://example.com/path", "", "", false},
		{"rejects query", "https://example.com/?q=1", "", "", false},
		{"rejects credentials", "https://user@example.com", "", "", false},
		{"rejects fragment", "https://example.com/#frag", "", "", false},
		{"rejects zero port", "https://example.com:0", "", "", false},
		{"rejects junk port", "https://example.com:abc", "", "", false},
		{"rejects unbracketed ipv6", "https://2001:db8::1", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, host, ok := Normalize(tc.in)
			if ok != tc.wantOK {
				t.Fatalf("Normalize(%q) ok=%v, want %v", tc.in, ok, tc.wantOK)
			}
			if normalized != tc.wantNormalized || host != tc.wantHost {
				t.Fatalf("Normalize(%q) = (%q, %q), want (%q, %q)", tc.in, normalized, host, tc.wantNormalized, tc.wantHost)
			}
		})
	}
}

func TestAllowedWithAllowlist(t *testing.T) {
	allowlist := []string{"https://app.example.com", "http://localhost:5173"}

	if !Allowed("https://app.example.com", "app.example.com", "relay.example.com", allowlist) {
		t.Fatalf("allowlisted origin rejected")
	}
	if Allowed("https://evil.example.com", "evil.example.com", "relay.example.com", allowlist) {
		t.Fatalf("non-allowlisted origin accepted")
	}
	if !Allowed("https://anything.example.com", "anything.example.com", "relay.example.com", []string{"*"}) {
		t.Fatalf("wildcard allowlist rejected origin")
	}
}

func TestAllowedSameHostDefault(t *testing.T) {
	cases := []struct {
		name        string
		normalized  string
		originHost  string
		requestHost string
		want        bool
	}{
		{"same host and port", "http://example.com:8080", "example.com:8080", "example.com:8080", true},
		{"default port equivalence", "https://example.com", "example.com", "example.com:443", true},
		{"host case insensitive", "http://example.com:8080", "example.com:8080", "EXAMPLE.com:8080", true},
		{"different host", "http://other.com:8080", "other.com:8080", "example.com:8080", false},
		{"different port", "http://example.com:8080", "example.com:8080", "example.com:9090", false},
		{"null origin never matches", "null", "", "example.com", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allowed(tc.normalized, tc.originHost, tc.requestHost, nil); got != tc.want {
				t.Fatalf("Allowed = %v, want %v", got, tc.want)
			}
		})
	}
}
