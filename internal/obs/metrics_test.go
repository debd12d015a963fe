package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                               OtherPath,
		"/":                                              OtherPath,
		"/wp-admin/setup.php":                            OtherPath,
		"/auth/login/../../etc/passwd":                   OtherPath,
		"/metrics":                                       "/metrics",
		"/auth/login":                                    "/auth/login",
		"/v1/superadmins":                                "/v1/superadmins",
		"/v1/superadmins/abc":                            "/v1/superadmins/:id",
		"/v1/superadmins/abc/":                           "/v1/superadmins/:id",
		"/v1/superadmins/abc/unlock":                     "/v1/superadmins/:id/unlock",
		"/v1/superadmins/abc/permissions":                "/v1/superadmins/:id/permissions",
		"/v1/superadmins/abc/permissions/manage_billing": "/v1/superadmins/:id/permissions/:permission",
		"/v1/superadmins/abc/extra":                      OtherPath,
		"/v1/superadmins/abc/permissions/x/y":            OtherPath,
		"/v1/audit-logs?limit=10":                        "/v1/audit-logs",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusLocked)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	if rr.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d", rr.Code)
	}

	ObserveLogin("locked")
	rr = httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	if !strings.Contains(body, `http_requests_total{method="POST",path="/auth/login",status="423"}`) {
		t.Fatalf("request counter missing from exposition")
	}
	if !strings.Contains(body, `superadmin_login_attempts_total{outcome="locked"}`) {
		t.Fatalf("login counter missing from exposition")
	}
}

func TestInstrumentFoldsUnknownPaths(t *testing.T) {
	h := Instrument(http.NotFoundHandler())
	for _, p := range []string{"/random-1", "/random-2", "/.env"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	if !strings.Contains(body, `http_requests_total{method="GET",path="other",status="404"} 3`) {
		t.Fatalf("unknown paths not folded into one series")
	}
	if strings.Contains(body, "/random-1") {
		t.Fatalf("raw path leaked into labels")
	}
}

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nopWriter{})

	Logger().Info().Str("request_id", "req-1").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["message"] != "hello" || entry["service"] != ServiceName || entry["request_id"] != "req-1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if err := SetLevel("nonsense"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
