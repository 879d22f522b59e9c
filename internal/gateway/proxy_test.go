package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestProxy(t *testing.T, services map[string]string) *Proxy {
	t.Helper()
	reg := NewServiceRegistry(services, time.Minute, testLogger())
	return NewProxy(reg, NewErrorHandler(testLogger()), NewBreaker(testLogger()), 5*time.Second, testLogger())
}

func TestProxy_ForwardsRequest(t *testing.T) {
	var got *http.Request
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":7}`)
	}))
	defer upstream.Close()

	proxy := newTestProxy(t, map[string]string{"backend-monolith": upstream.URL})
	route := &Route{ID: "cases", Prefix: "/api/user", Service: "backend-monolith"}

	req := httptest.NewRequest(http.MethodPost, "/api/user/cases?sort=desc", strings.NewReader(`{"title":"theft"}`))
	req.RemoteAddr = "192.0.2.7:1234"
	req.Header.Set("X-User-Id", "42")
	rec := httptest.NewRecorder()
	proxy.Handler(route).ServeHTTP(rec, req)

	if got == nil {
		t.Fatal("upstream was never called")
	}
	if got.URL.Path != "/api/user/cases" {
		t.Errorf("upstream path = %q, want /api/user/cases", got.URL.Path)
	}
	if got.URL.RawQuery != "sort=desc" {
		t.Errorf("query = %q, want sort=desc", got.URL.RawQuery)
	}
	if gotBody != `{"title":"theft"}` {
		t.Errorf("body = %q", gotBody)
	}
	if got.Header.Get("X-User-Id") != "42" {
		t.Error("identity header was not forwarded")
	}
	if got.Header.Get("X-Forwarded-For") != "192.0.2.7" {
		t.Errorf("X-Forwarded-For = %q, want 192.0.2.7", got.Header.Get("X-Forwarded-For"))
	}
	if got.Header.Get("X-Forwarded-Proto") != "http" {
		t.Errorf("X-Forwarded-Proto = %q, want http", got.Header.Get("X-Forwarded-Proto"))
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Error("upstream response header was dropped")
	}
	if rec.Body.String() != `{"id":7}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestProxy_StripPrefix(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer upstream.Close()

	proxy := newTestProxy(t, map[string]string{"report-service": upstream.URL})
	route := &Route{ID: "reports", Prefix: "/api/reports", Service: "report-service", StripPrefix: true}

	rec := httptest.NewRecorder()
	proxy.Handler(route).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/monthly", nil))

	if gotPath != "/monthly" {
		t.Errorf("upstream path = %q, want /monthly", gotPath)
	}
}

func TestProxy_AppendsForwardedFor(t *testing.T) {
	var gotXFF string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXFF = r.Header.Get("X-Forwarded-For")
	}))
	defer upstream.Close()

	proxy := newTestProxy(t, map[string]string{"backend-monolith": upstream.URL})
	route := &Route{ID: "cases", Prefix: "/api/user", Service: "backend-monolith"}

	req := httptest.NewRequest(http.MethodGet, "/api/user/cases", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	proxy.Handler(route).ServeHTTP(rec, req)

	if gotXFF != "203.0.113.9, 192.0.2.7" {
		t.Errorf("X-Forwarded-For = %q, want the chain to be appended", gotXFF)
	}
}

func TestProxy_UnknownService(t *testing.T) {
	proxy := newTestProxy(t, map[string]string{})
	route := &Route{ID: "ghost", Prefix: "/api/ghost", Service: "ghost-service"}

	rec := httptest.NewRecorder()
	proxy.Handler(route).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ghost", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if raw["success"] != false {
		t.Error("success should be false")
	}
}

func TestProxy_ConnectionRefused(t *testing.T) {
	// Grab a port that nothing listens on anymore.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	proxy := newTestProxy(t, map[string]string{"backend-monolith": deadURL})
	route := &Route{ID: "cases", Prefix: "/api/user", Service: "backend-monolith"}

	rec := httptest.NewRecorder()
	proxy.Handler(route).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user/cases", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 for a refused connection", rec.Code)
	}
}

func TestProxy_UpstreamTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()

	reg := NewServiceRegistry(map[string]string{"backend-monolith": slow.URL}, time.Minute, testLogger())
	proxy := NewProxy(reg, NewErrorHandler(testLogger()), NewBreaker(testLogger()), 50*time.Millisecond, testLogger())
	route := &Route{ID: "cases", Prefix: "/api/user", Service: "backend-monolith"}

	rec := httptest.NewRecorder()
	proxy.Handler(route).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user/cases", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504 for a slow upstream", rec.Code)
	}
}

func TestProxy_StripsHopByHopResponseHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Set("X-App", "ok")
	}))
	defer upstream.Close()

	proxy := newTestProxy(t, map[string]string{"backend-monolith": upstream.URL})
	route := &Route{ID: "cases", Prefix: "/api/user", Service: "backend-monolith"}

	rec := httptest.NewRecorder()
	proxy.Handler(route).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user/cases", nil))

	if got := rec.Header().Get("Keep-Alive"); got != "" {
		t.Errorf("hop-by-hop header leaked: Keep-Alive=%q", got)
	}
	if got := rec.Header().Get("X-App"); got != "ok" {
		t.Errorf("end-to-end header dropped: X-App=%q", got)
	}
}
