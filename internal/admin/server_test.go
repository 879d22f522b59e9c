package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocrs/api-gateway/internal/gateway"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	table, err := gateway.ParseRoutes([]byte(`
services:
  backend-monolith: http://localhost:9000
routes:
  - id: user-cases
    prefix: /api/user
    service: backend-monolith
    auth: true
    required_role: admin
    rate_limit:
      strategy: user
  - id: public-auth
    prefix: /api/auth
    service: backend-monolith
`))
	if err != nil {
		t.Fatalf("ParseRoutes() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := gateway.NewServiceRegistry(table.Services(), time.Minute, logger)
	return NewServer("production", "1.0.0-test", table, registry,
		gateway.NewBreaker(logger), prometheus.NewRegistry(), logger)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["status"] != "UP" {
		t.Errorf("status = %v, want UP", body["status"])
	}
	services, ok := body["services"].(map[string]interface{})
	if !ok || len(services) != 1 {
		t.Errorf("services = %v, want the one registered service", body["services"])
	}
}

func TestRoutesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/routes", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Routes []struct {
			ID          string `json:"id"`
			Auth        bool   `json:"auth"`
			RateLimited bool   `json:"rate_limited"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if len(body.Routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(body.Routes))
	}
	for _, rt := range body.Routes {
		if rt.ID == "user-cases" && (!rt.Auth || !rt.RateLimited) {
			t.Errorf("user-cases flags = %+v", rt)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
