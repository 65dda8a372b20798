package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func echoRequestID() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(RequestIDFromContext(r.Context())))
	})
}

func TestRequestIDEchoesHeader(t *testing.T) {
	h := RequestID(echoRequestID())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Body.String(); got != "req-42" {
		t.Fatalf("context request id = %q, want req-42", got)
	}
	if got := rec.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("response header = %q, want req-42", got)
	}
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	h := RequestID(echoRequestID())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Body.Len() == 0 {
		t.Fatal("expected a generated request id")
	}
	if rec.Body.String() != rec.Header().Get(requestIDHeader) {
		t.Fatal("context and header request ids must match")
	}
}

func TestRequestIDRejectsOversizedHeader(t *testing.T) {
	h := RequestID(echoRequestID())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", 100))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Body.String(); len(got) > 64 {
		t.Fatalf("oversized header must be replaced, got %d chars", len(got))
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("expected a Content-Security-Policy header")
	}
}

func TestRateLimitReturns429(t *testing.T) {
	h := RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), 2, 1)

	var limited bool
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst of requests was never rate limited")
	}
}

func TestRateLimitIsPerClient(t *testing.T) {
	h := RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), 1, 1)

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first client: status = %d", rec.Code)
	}

	// Exhaust the first client, then a second client must still pass.
	for i := 0; i < 3; i++ {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, first)
	}
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client: status = %d", rec.Code)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h := MaxBodyBytes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf [16]byte
		for {
			if _, err := r.Body.Read(buf[:]); err != nil {
				if err.Error() == "http: request body too large" {
					w.WriteHeader(http.StatusRequestEntityTooLarge)
				}
				return
			}
		}
	}), 8)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 64)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}
