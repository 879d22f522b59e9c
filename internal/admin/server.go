// Package admin serves the gateway's operational surface: health, route
// listing and Prometheus metrics. It runs on its own listen address so it is
// never subject to the proxy pipeline's filters.
package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocrs/api-gateway/internal/gateway"
	"github.com/ocrs/api-gateway/internal/system"
)

const serviceName = "api-gateway"

// Server wraps the admin HTTP server
type Server struct {
	engine    *gin.Engine
	table     *gateway.RouteTable
	registry  *gateway.ServiceRegistry
	breaker   *gateway.Breaker
	version   string
	startTime time.Time
}

// NewServer creates the admin server and registers its routes.
func NewServer(environment, version string, table *gateway.RouteTable, registry *gateway.ServiceRegistry, breaker *gateway.Breaker, metrics *prometheus.Registry, logger *slog.Logger) *Server {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		table:     table,
		registry:  registry,
		breaker:   breaker,
		version:   version,
		startTime: time.Now(),
	}

	engine.GET("/health", s.health)
	engine.GET("/", s.root)
	engine.GET("/routes", s.routes)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics, promhttp.HandlerOpts{})))

	logger.Debug("admin server routes registered")
	return s
}

// Handler exposes the underlying engine for http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "UP",
		"service":        serviceName,
		"timestamp":      time.Now().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"services":       s.registry.Snapshot(),
		"circuits":       s.breaker.States(),
		"system":         system.Collect(),
	})
}

func (s *Server) root(c *gin.Context) {
	endpoints := make(map[string]string, len(s.table.Routes()))
	for _, rt := range s.table.Routes() {
		endpoints[rt.ID] = rt.Prefix
	}
	c.JSON(http.StatusOK, gin.H{
		"service":   "OCRS API Gateway",
		"version":   s.version,
		"status":    "Running",
		"endpoints": endpoints,
	})
}

func (s *Server) routes(c *gin.Context) {
	type routeInfo struct {
		ID           string `json:"id"`
		Prefix       string `json:"prefix"`
		Service      string `json:"service"`
		Auth         bool   `json:"auth"`
		RequiredRole string `json:"required_role,omitempty"`
		RateLimited  bool   `json:"rate_limited"`
	}
	out := make([]routeInfo, 0, len(s.table.Routes()))
	for _, rt := range s.table.Routes() {
		out = append(out, routeInfo{
			ID:           rt.ID,
			Prefix:       rt.Prefix,
			Service:      rt.Service,
			Auth:         rt.Auth,
			RequiredRole: rt.RequiredRole,
			RateLimited:  rt.RateLimit != nil,
		})
	}
	c.JSON(http.StatusOK, gin.H{"routes": out})
}
