package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// TestRateLimiterPerIP tests that limits are tracked per client
func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(2)
	fixed := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return fixed }

	if !rl.Allow("1.1.1.1") || !rl.Allow("1.1.1.1") {
		t.Fatal("burst should allow two requests")
	}
	if rl.Allow("1.1.1.1") {
		t.Error("third request in the same instant should be limited")
	}
	if !rl.Allow("2.2.2.2") {
		t.Error("other clients have their own budget")
	}
}

// TestRateLimiterMiddleware tests the 429 response
func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1)
	fixed := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return fixed }
	h := rl.Middleware(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Rate limit exceeded") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

// TestRateLimiterSweep tests eviction of idle clients
func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(10)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(idleTTL + time.Second)
	rl.Allow("new")

	if left := rl.Sweep(); left != 1 {
		t.Errorf("expected 1 remaining visitor, got %d", left)
	}
}

// TestGetIP tests client address extraction
func TestGetIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if ip := getIP(req); ip != "192.0.2.1" {
		t.Errorf("expected remote host, got %s", ip)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 192.0.2.1")
	if ip := getIP(req); ip != "203.0.113.5" {
		t.Errorf("expected first forwarded hop, got %s", ip)
	}
}

// TestSecurityHeaders tests the headers added to every response
func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
}

// TestMaxBodySize tests declared and streamed oversize bodies
func TestMaxBodySize(t *testing.T) {
	var readErr error
	h := MaxBodySizeMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("way too long body")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("way too long body"))
	req.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil {
		t.Error("expected read error for streamed oversize body")
	}
}

// TestRequestLogger tests status-dependent log levels
func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fine", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["status"] != int64(200) {
		t.Errorf("unexpected first entry: %v %v", entries[0].Level, entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Errorf("expected warn for 404, got %v", entries[1].Level)
	}
}
