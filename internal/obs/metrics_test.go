package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "/"},
		{"/metrics", "/metrics"},
		{"/api/products/01HZX3N6V9R8TQ2M4K5J7P0ABC", "/api/products/:id"},
		{"/api/users/42/role", "/api/users/:id/role"},
		{"/api/api-keys/6f1c1d0e-5b7a-4f2e-9a55-8d3c2b1a0f9e", "/api/api-keys/:id"},
		{"/api/products/draft", "/api/products/draft"},
		{"/api/audit-logs?limit=10", "/api/audit-logs"},
	}
	for _, c := range cases {
		if got := CanonicalPath(c.in); got != c.want {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", c.in, got, c.want)
		}
	}
}

func TestInstrumentUsesPattern(t *testing.T) {
	Init()
	Init()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Instrument(mux)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/things/abc", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "GET /api/things/{id}", "418"))
	if got != 1 {
		t.Fatalf("expected one request under the route pattern, got %v", got)
	}
}

func TestAuditAndAuthCounters(t *testing.T) {
	before := testutil.ToFloat64(auditEvents.WithLabelValues("dropped"))
	AuditEvent("dropped")
	if got := testutil.ToFloat64(auditEvents.WithLabelValues("dropped")); got != before+1 {
		t.Fatalf("audit counter not incremented: %v", got)
	}
	before = testutil.ToFloat64(authAttempts.WithLabelValues("api_key", "ok"))
	AuthAttempt("api_key", "ok")
	if got := testutil.ToFloat64(authAttempts.WithLabelValues("api_key", "ok")); got != before+1 {
		t.Fatalf("auth counter not incremented: %v", got)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "INFO"}, &buf)
	log.Debug("hidden")
	log.Info("request_complete")
	_ = log.Sync()

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "hidden") {
		t.Fatal("debug line written at info level")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("invalid json log: %v (%q)", err, line)
	}
	for _, key := range []string{"ts", "level", "msg"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing key %s in %v", key, payload)
		}
	}
	if payload["level"] != "info" || payload["msg"] != "request_complete" {
		t.Fatalf("unexpected payload %v", payload)
	}
}
