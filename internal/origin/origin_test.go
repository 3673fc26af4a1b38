package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		raw      string
		wantOK   bool
		wantNorm string
		wantHost string
	}{
		{raw: "HTTPS://Example.COM:443", wantOK: true, wantNorm: "https://example.com", wantHost: "example.com"},
		{raw: "http://localhost:5173/", wantOK: true, wantNorm: "http://localhost:5173", wantHost: "localhost:5173"},
		{raw: "http://example.com:443", wantOK: true, wantNorm: "http://example.com:443", wantHost: "example.com:443"},
		{raw: "http://[::1]:8080", wantOK: true, wantNorm: "http://[::1]:8080", wantHost: "[::1]:8080"},
		{raw: "null", wantOK: true, wantNorm: "null", wantHost: ""},
		{raw: "  ", wantOK: false},
		{raw: "ftp://example.com", wantOK: false},
		{raw: "https://example.com/path", wantOK: false},
		{raw: "https://example.com/?q=1", wantOK: false},
		{raw: "https://example.com?", wantOK: false},
		{raw: "https://user@example.com", wantOK: false},
		{raw: "https://example.com/#frag", wantOK: false},
		{raw: "https://example.com:0", wantOK: false},
		{raw: "https://example.com:70000", wantOK: false},
		{raw: "example.com", wantOK: false},
		{raw: "https://bücher.example", wantOK: false},
		{raw: "https://xn--bcher-kva.example", wantOK: true, wantNorm: "https://xn--bcher-kva.example", wantHost: "xn--bcher-kva.example"},
	}

	for _, tc := range cases {
		norm, host, ok := NormalizeHeader(tc.raw)
		if ok != tc.wantOK {
			t.Fatalf("NormalizeHeader(%q) ok=%v, want %v", tc.raw, ok, tc.wantOK)
		}
		if !ok {
			continue
		}
		if norm != tc.wantNorm || host != tc.wantHost {
			t.Fatalf("NormalizeHeader(%q)=(%q, %q), want (%q, %q)", tc.raw, norm, host, tc.wantNorm, tc.wantHost)
		}
	}
}

func TestIsAllowed(t *testing.T) {
	norm, host, _ := NormalizeHeader("https://app.example.com")

	t.Run("default is same host", func(t *testing.T) {
		if !IsAllowed(norm, host, "app.example.com", nil) {
			t.Fatalf("expected same host to be allowed")
		}
		if !IsAllowed(norm, host, "app.example.com:443", nil) {
			t.Fatalf("expected default port to be equivalent")
		}
		if IsAllowed(norm, host, "relay.example.com", nil) {
			t.Fatalf("expected different host to be rejected")
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		if !IsAllowed(norm, host, "whatever:1234", []string{Wildcard}) {
			t.Fatalf("expected * to allow any origin")
		}
	})

	t.Run("explicit list", func(t *testing.T) {
		if !IsAllowed(norm, host, "relay.example.com", []string{"https://app.example.com"}) {
			t.Fatalf("expected listed origin to be allowed")
		}
		if IsAllowed(norm, host, "app.example.com", []string{"https://other.example.com"}) {
			t.Fatalf("expected unlisted origin to be rejected even on same host")
		}
	})

	t.Run("null origin", func(t *testing.T) {
		if IsAllowed("null", "", "relay.example.com", nil) {
			t.Fatalf("expected null origin to be rejected by default")
		}
		if !IsAllowed("null", "", "relay.example.com", []string{"null"}) {
			t.Fatalf("expected null origin to be allowed when listed")
		}
	})
}

func TestCheckRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "http://relay.example.com/signaling/ws/room", nil)
	if norm, ok := CheckRequest(req, nil); !ok || norm != "" {
		t.Fatalf("no Origin: (%q, %v), want (\"\", true)", norm, ok)
	}

	req.Header.Set("Origin", "http://relay.example.com")
	if norm, ok := CheckRequest(req, nil); !ok || norm != "http://relay.example.com" {
		t.Fatalf("same host: (%q, %v), want allowed", norm, ok)
	}

	req.Header.Set("Origin", "https://evil.example.com")
	if _, ok := CheckRequest(req, nil); ok {
		t.Fatalf("cross origin allowed without allow-list")
	}
	if _, ok := CheckRequest(req, []string{"https://evil.example.com"}); !ok {
		t.Fatalf("listed origin rejected")
	}

	req.Header.Set("Origin", "not an origin")
	if _, ok := CheckRequest(req, []string{Wildcard}); ok {
		t.Fatalf("malformed Origin allowed")
	}
}
