package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DilyaSoft/Time-off-company-manager/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, 1))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" || body["code"] != "rate_limited" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["request_id"] == "" || body["request_id"] != rr2.Header().Get(requestIDHeader) {
		t.Fatalf("expected request_id in body matching header, got %v", body["request_id"])
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected other client to pass, got %d", rr3.Code)
	}
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RealIP(RateLimit(base, 1, 1), nil)

	for i, xff := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		req := httptest.NewRequest(http.MethodPost, "/account/login-to-company-workspace", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		want := http.StatusOK
		if i > 0 {
			want = http.StatusTooManyRequests
		}
		if rr.Code != want {
			t.Fatalf("request %d with X-Forwarded-For %s: got %d, want %d", i, xff, rr.Code, want)
		}
	}
}

func TestRealIPTrustedProxies(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	cases := []struct {
		name   string
		remote string
		xff    []string
		want   string
	}{
		{"no header", "10.1.1.1:80", nil, "10.1.1.1"},
		{"untrusted peer", "203.0.113.9:80", []string{"1.1.1.1"}, "203.0.113.9"},
		{"trusted peer", "10.1.1.1:80", []string{"198.51.100.7"}, "198.51.100.7"},
		{"spoofed left hop", "10.1.1.1:80", []string{"6.6.6.6, 198.51.100.7"}, "198.51.100.7"},
		{"chained proxies", "192.168.1.5:80", []string{"198.51.100.7, 10.2.2.2"}, "198.51.100.7"},
		{"split headers", "10.1.1.1:80", []string{"6.6.6.6", "198.51.100.7"}, "198.51.100.7"},
		{"garbage hop", "10.1.1.1:80", []string{"198.51.100.7, nonsense"}, "10.1.1.1"},
		{"only proxies", "10.1.1.1:80", []string{"10.3.3.3"}, "10.3.3.3"},
	}
	for _, tc := range cases {
		var got string
		handler := RealIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = clientIP(r)
		}), trusted)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		for _, v := range tc.xff {
			req.Header.Add("X-Forwarded-For", v)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if got != tc.want {
			t.Fatalf("%s: client ip %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/8", "proxy.local"}); err == nil {
		t.Fatal("expected error for a hostname")
	}
}

func TestRequestIDPropagatesClientValue(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "client-rid")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "client-rid" || rr.Header().Get(requestIDHeader) != "client-rid" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rr.Header().Get(requestIDHeader))
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.SetLogger(obs.NewJSONLogger(&buf))
	defer obs.SetLogger(prev)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.Clone(context.Background()))

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["msg"] != "request_complete" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
}

func TestRecoverReturnsJSON500(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.SetLogger(obs.NewJSONLogger(&buf))
	defer obs.SetLogger(prev)

	handler := RequestID(Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic to be logged, got %q", buf.String())
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"https://app.example.com"})

	preflight := httptest.NewRequest(http.MethodOptions, "/account/sign-out", nil)
	preflight.Header.Set("Origin", "https://app.example.com")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, preflight)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("origin not allowed: %v", rr.Header())
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Expose-Headers"), authStateHeader) {
		t.Fatalf("authorization state header not exposed")
	}

	foreign := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	foreign.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, foreign)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin must not be allowed")
	}
}

func TestMaxBodyBytesRejectsLargeBodies(t *testing.T) {
	handler := RequestID(MaxBodyBytes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := decodeJSON(r, &v); err != nil {
			writeDecodeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 16))

	body := `{"email":"` + strings.Repeat("a", 64) + `"}`
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}
