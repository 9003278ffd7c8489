package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kestrelgw/kestrel/config"
)

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := NewChain(tag("a"), tag("b")).Append(tag("c")).Then(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			order = append(order, "handler")
		}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	want := "a,b,c,handler"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("execution order = %s, want %s", got, want)
	}
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if seen == "" {
		t.Fatal("no request ID in context")
	}
	if got := w.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("response header %q != context ID %q", got, seen)
	}
}

func TestRequestIDTrustsIncoming(t *testing.T) {
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromContext(r.Context()); got != "req-123" {
			t.Fatalf("context ID = %q, want incoming req-123", got)
		}
	}))

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(RequestIDHeader, "req-123")
	h.ServeHTTP(httptest.NewRecorder(), r)
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "INTERNAL") {
		t.Fatalf("body = %s, want error envelope", w.Body.String())
	}
}

func TestRealIPUntrustedPeerIgnoresForwardedFor(t *testing.T) {
	ri := NewRealIP([]string{"10.0.0.1"})

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:1234"
	r.Header.Set("X-Forwarded-For", "198.51.100.2")

	if got := ri.ClientIP(r); got != "203.0.113.7" {
		t.Fatalf("ClientIP() = %s, want the direct peer", got)
	}
}

func TestRealIPTrustedPeerUsesLeftmostUntrusted(t *testing.T) {
	ri := NewRealIP([]string{"10.0.0.1", "10.0.0.2"})

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "10.0.0.2, 198.51.100.2, 192.0.2.1")

	if got := ri.ClientIP(r); got != "198.51.100.2" {
		t.Fatalf("ClientIP() = %s, want first untrusted hop", got)
	}
}

func TestRealIPTrustedPeerNoHeader(t *testing.T) {
	ri := NewRealIP([]string{"10.0.0.1"})

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"

	if got := ri.ClientIP(r); got != "10.0.0.1" {
		t.Fatalf("ClientIP() = %s, want peer", got)
	}
}

func TestBodyLimitRejectsDeclaredOversize(t *testing.T) {
	limits := config.LimitsConfig{DefaultBodyLimit: 10, UploadBodyLimit: 100, UploadPaths: []string{"/api/files"}}
	h := BodyLimit(limits)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/users", strings.NewReader(strings.Repeat("x", 11)))
	h.ServeHTTP(w, r)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestBodyLimitAllowsExactLimit(t *testing.T) {
	limits := config.LimitsConfig{DefaultBodyLimit: 10, UploadBodyLimit: 100}
	h := BodyLimit(limits)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/users", strings.NewReader(strings.Repeat("x", 10)))
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want body exactly at limit allowed", w.Code)
	}
}

func TestBodyLimitUploadPathsUseLargerLimit(t *testing.T) {
	limits := config.LimitsConfig{DefaultBodyLimit: 10, UploadBodyLimit: 100, UploadPaths: []string{"/api/files"}}
	h := BodyLimit(limits)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/files/upload", strings.NewReader(strings.Repeat("x", 50)))
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want upload limit applied", w.Code)
	}
}
