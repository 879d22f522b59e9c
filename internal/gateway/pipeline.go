package gateway

import (
	"log/slog"
	"net/http"

	"github.com/ocrs/api-gateway/internal/ratelimit"
)

// LimiterFactory builds the rate-limit store for one route. main decides
// whether that is Redis-backed or in-memory.
type LimiterFactory func(routeID string, rps, burst int) ratelimit.Limiter

// Pipeline is the gateway's request entry point. Each route's filter chain is
// configured once here; per request the flow is fixed: CORS, then route
// matching, then the matched route's chain (request id, metrics, JWT if the
// route requires auth, rate limiting, proxy).
type Pipeline struct {
	handler  http.Handler
	table    *RouteTable
	handlers map[string]http.Handler
	logger   *slog.Logger
}

// NewPipeline wires the configured filter instances for every route.
func NewPipeline(cfg *Config, table *RouteTable, registry *ServiceRegistry, breaker *Breaker, limiters LimiterFactory, metrics *Metrics, logger *slog.Logger) *Pipeline {
	errorHandler := NewErrorHandler(logger)
	proxy := NewProxy(registry, errorHandler, breaker, cfg.UpstreamTimeout, logger)
	cors := NewCORS(cfg.AllowedOrigins, cfg.AllowedMethods, logger)

	p := &Pipeline{
		table:    table,
		handlers: make(map[string]http.Handler, len(table.Routes())),
		logger:   logger,
	}

	for i := range table.Routes() {
		route := &table.Routes()[i]

		mws := []Middleware{
			Recovery(errorHandler, logger),
			RequestID(),
			metrics.Instrument(route.ID),
		}
		if route.Auth {
			mws = append(mws, NewJWTAuth(cfg.JWTSecret, AuthConfig{RequiredRole: route.RequiredRole}, logger))
		}
		if route.RateLimit != nil {
			rps, burst := route.RateLimit.RPS, route.RateLimit.Burst
			if rps <= 0 {
				rps = cfg.RateLimitRPS
			}
			if burst <= 0 {
				burst = cfg.RateLimitBurst
			}
			limiter := limiters(route.ID, rps, burst)
			resolver := ResolverFor(route.RateLimit.Strategy)
			mws = append(mws, NewRateLimit(limiter, resolver, route.ID, metrics, logger))
		}

		p.handlers[route.ID] = Chain(proxy.Handler(route), mws...)
	}

	// CORS runs before route matching so preflight never needs to satisfy
	// a route's method or auth requirements.
	p.handler = cors.Middleware(http.HandlerFunc(p.dispatch))
	return p
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

func (p *Pipeline) dispatch(w http.ResponseWriter, r *http.Request) {
	route := p.table.Match(r.URL.Path)
	if route == nil {
		p.logger.WarnContext(r.Context(), "gateway: no route matched",
			"method", r.Method,
			"path", r.URL.Path,
		)
		writeError(w, r, http.StatusNotFound, "Route not found")
		return
	}

	p.logger.DebugContext(r.Context(), "gateway: dispatching request",
		"route", route.ID,
		"method", r.Method,
		"path", r.URL.Path,
	)
	p.handlers[route.ID].ServeHTTP(w, r)
}
