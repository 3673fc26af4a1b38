package origin

import (
	"net/url"
	"strings"
	"testing"
)

func FuzzNormalizeHeader(f *testing.F) {
	// Known-good cases from unit tests.
	f.Add("HTTPS://App.Example.COM:443")
	f.Add("http://localhost:8080")
	f.Add("http://[::1]:80")
	f.Add("http://[::FFFF:192.0.2.1]")
	f.Add("https://example.com/")
	f.Add("null")

	// Known-bad and edge cases.
	f.Add("")
	f.Add("   ")
	f.Add("ws://example.com")
	f.Add("https://example.com/path")
	f.Add("https://example.com?q")
	f.Add("https://example.com#frag")
	f.Add("https://user@example.com")
	f.Add("https://example.com:0")
	f.Add("https://example.com:99999")
	f.Add("https://bücher.example")
	f.Add("https://a.example,https://b.example")

	f.Fuzz(func(t *testing.T, originHeader string) {
		normalized1, host1, ok1 := NormalizeHeader(originHeader)
		normalized2, host2, ok2 := NormalizeHeader(originHeader)
		if ok1 != ok2 || normalized1 != normalized2 || host1 != host2 {
			t.Fatalf("non-deterministic result: ok1=%v ok2=%v normalized1=%q normalized2=%q host1=%q host2=%q", ok1, ok2, normalized1, normalized2, host1, host2)
		}
		if !ok1 {
			if normalized1 != "" || host1 != "" {
				t.Fatalf("rejected origin returned values: normalized=%q host=%q", normalized1, host1)
			}
			return
		}

		if normalized1 == "null" {
			if host1 != "" {
				t.Fatalf("null origin must have empty host, got %q", host1)
			}
			return
		}

		for i := 0; i < len(normalized1); i++ {
			if c := normalized1[i]; c <= ' ' || c >= 0x7f {
				t.Fatalf("normalized origin contains byte %#x: %q", c, normalized1)
			}
		}
		if strings.ContainsAny(host1, "/?#@") {
			t.Fatalf("host contains path, query, fragment or userinfo delimiters: %q", host1)
		}

		wantHost := strings.TrimPrefix(normalized1, "http://")
		wantHost = strings.TrimPrefix(wantHost, "https://")
		if wantHost == normalized1 {
			t.Fatalf("normalized origin missing scheme: %q", normalized1)
		}
		if host1 != wantHost || host1 == "" {
			t.Fatalf("host mismatch: normalized=%q host=%q want=%q", normalized1, host1, wantHost)
		}
		if strings.HasPrefix(normalized1, "http://") && strings.HasSuffix(host1, ":80") {
			t.Fatalf("default http port kept: %q", normalized1)
		}
		if strings.HasPrefix(normalized1, "https://") && strings.HasSuffix(host1, ":443") {
			t.Fatalf("default https port kept: %q", normalized1)
		}

		u, err := url.Parse(normalized1)
		if err != nil {
			t.Fatalf("url.Parse(%q): %v", normalized1, err)
		}
		if u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
			t.Fatalf("normalized origin parsed with unexpected components: %#v", u)
		}

		n3, h3, ok := NormalizeHeader(normalized1)
		if !ok || n3 != normalized1 || h3 != host1 {
			t.Fatalf("NormalizeHeader not idempotent: input=%q ok=%v normalized=%q host=%q", normalized1, ok, n3, h3)
		}
		if !IsAllowed(normalized1, host1, host1, nil) {
			t.Fatalf("origin %q rejected by its own host under the same-host policy", normalized1)
		}
	})
}
