package obs

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                       "/",
		"/metrics":               "/metrics",
		"/api/auth/login":        "/api/auth/login",
		"/api/auth/login/":       "/api/auth/login",
		"/api/auth/me?verbose=1": "/api/auth/me",
		"/.well-known/jwks.json": "/.well-known/jwks.json",
		"/api/auth/users/123":    "other",
		"/wp-admin/install.php":  "other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByStatus(t *testing.T) {
	Init()
	Init()

	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
	if v := testutil.ToFloat64(httpInFlight); v != 0 {
		t.Fatalf("in-flight gauge should return to 0, got %v", v)
	}
}

func TestObserveAuthDefaultsOutcome(t *testing.T) {
	before := testutil.ToFloat64(authOperations.WithLabelValues("login", "ok"))
	ObserveAuth("login", "")
	if got := testutil.ToFloat64(authOperations.WithLabelValues("login", "ok")); got-before != 1 {
		t.Fatalf("expected ok outcome to be counted, got delta %v", got-before)
	}
}

func TestInitBuildInfoLabelsBlankValues(t *testing.T) {
	InitBuildInfo("", "abc123")
	if got := testutil.ToFloat64(buildInfo.WithLabelValues("unknown", "abc123", runtime.Version())); got != 1 {
		t.Fatalf("expected build info gauge set to 1, got %v", got)
	}
}
