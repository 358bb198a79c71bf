package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/DilyaSoft/Time-off-company-manager/internal/config"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                 "/",
		"/metrics":                         "/metrics",
		"/account/sign-up":                 "/account/sign-up",
		"/account/sign-up/":                "/account/sign-up",
		"/account/is-invite-valid?email=a": "/account/is-invite-valid",
		"/account/unknown":                 "other",
		"/wp-admin/setup.php":              "other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	Init()
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418"))

	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418"))
	if after-before != 1 {
		t.Fatalf("expected one counted request, got %v", after-before)
	}
}

func TestResolveBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.24.1",
		Main:      debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	cases := []struct {
		name            string
		version, commit string
		bi              *debug.BuildInfo
		want            BuildInfo
	}{
		{"linker values win", "1.2.0", "abc123", bi, BuildInfo{"1.2.0", "abc123", "go1.24.1", true}},
		{"vcs fallback", "0.1.0", "dev", bi, BuildInfo{"0.1.0", "0123456789ab-dirty", "go1.24.1", true}},
		{"no build info", "", "", nil, BuildInfo{"unknown", "unknown", runtime.Version(), false}},
	}
	for _, tc := range cases {
		if got := resolveBuildInfo(tc.version, tc.commit, tc.bi); got != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestInitBuildInfoPublishesOneSeries(t *testing.T) {
	InitBuildInfo("1.0.0", "first")
	info := InitBuildInfo("1.0.1", "second")
	if n := testutil.CollectAndCount(buildInfo); n != 1 {
		t.Fatalf("expected one build_info series, got %d", n)
	}
	if got := testutil.ToFloat64(buildInfo.WithLabelValues(info.Version, info.Commit, info.GoVersion)); got != 1 {
		t.Fatalf("build_info = %v, want 1", got)
	}
}

func TestAuthCounters(t *testing.T) {
	before := testutil.ToFloat64(refreshReuseTotal)
	ObserveRefreshReuse()
	if got := testutil.ToFloat64(refreshReuseTotal); got-before != 1 {
		t.Fatalf("reuse counter not incremented: %v", got-before)
	}
	ObserveSignIn("rejected")
	if testutil.ToFloat64(signInTotal.WithLabelValues("rejected")) < 1 {
		t.Fatal("sign-in counter not incremented")
	}
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf)
	l.Info("hello", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("not json: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "service", "version", "k"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing key %q in %v", key, entry)
		}
	}
	if entry["level"] != "info" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	l := NewLogger(config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"}, "1.0.0")
	if l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled at warn level")
	}
	prev := SetLogger(l)
	defer SetLogger(prev)
	if Logger() != l {
		t.Fatal("SetLogger did not replace logger")
	}
}
