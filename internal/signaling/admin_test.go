package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postNamespace(t *testing.T, mux *http.ServeMux, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/signaling/namespace", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	var out map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return rr, out
}

func TestAdminEnsureNamespace(t *testing.T) {
	r, log := newTestRelay(t, nil)
	mux := http.NewServeMux()
	r.RegisterAdminRoutes(mux)

	for i := 0; i < 2; i++ {
		rr, out := postNamespace(t, mux, `{"name":"lobby"}`)
		if rr.Code != http.StatusCreated {
			t.Fatalf("status=%d, want %d", rr.Code, http.StatusCreated)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("Content-Type=%q, want application/json", ct)
		}
		if out["namespace"] != "/lobby" {
			t.Fatalf("namespace=%q, want %q", out["namespace"], "/lobby")
		}
	}
	if got := len(log.ofType(EventNamespaceCreated)); got != 1 {
		t.Fatalf("NAMESPACE_CREATED raised %d times, want 1", got)
	}
}

func TestAdminEnsureNamespace_PreconditionFailed(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	mux := http.NewServeMux()
	r.RegisterAdminRoutes(mux)

	for _, body := range []string{``, `{`, `{"name":""}`, `{"name":"has space"}`, `[]`} {
		rr, out := postNamespace(t, mux, body)
		if rr.Code != http.StatusPreconditionFailed {
			t.Fatalf("body %q: status=%d, want %d", body, rr.Code, http.StatusPreconditionFailed)
		}
		if out["code"] != "precondition_failed" {
			t.Fatalf("body %q: code=%q", body, out["code"])
		}
	}

	r.Close()
	rr, _ := postNamespace(t, mux, `{"name":"late"}`)
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("after close: status=%d, want %d", rr.Code, http.StatusPreconditionFailed)
	}
}

func TestAdminEnsureNamespace_MethodNotAllowed(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	mux := http.NewServeMux()
	r.RegisterAdminRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/signaling/namespace", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}
