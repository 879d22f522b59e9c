package gateway

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/ocrs/api-gateway/internal/ratelimit"
)

// KeyResolver produces the rate-limiting partition key for a request. It is a
// pure function of request state and safe to call any number of times.
type KeyResolver func(*http.Request) string

const anonymousKey = "anonymous"

// IPKeyResolver keys by the client IP: the host component of the remote
// socket address, never the port.
func IPKeyResolver(r *http.Request) string {
	addr := r.RemoteAddr
	if addr == "" {
		return anonymousKey
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// No port component; the address already is the host.
		return addr
	}
	if host == "" {
		return anonymousKey
	}
	return host
}

// UserKeyResolver keys by the X-User-Id header injected by the auth filter.
// An empty value is treated the same as an absent header.
func UserKeyResolver(r *http.Request) string {
	if id := r.Header.Get("X-User-Id"); id != "" {
		return id
	}
	return anonymousKey
}

// ResolverFor selects the resolver for a route's configured strategy,
// defaulting to IP-based keys.
func ResolverFor(strategy string) KeyResolver {
	if strategy == "user" {
		return UserKeyResolver
	}
	return IPKeyResolver
}

// NewRateLimit returns the rate-limiting filter for one route. Limiter errors
// fail open: an unreachable limiter store must not take the gateway down with
// it.
func NewRateLimit(limiter ratelimit.Limiter, resolver KeyResolver, routeID string, metrics *Metrics, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := resolver(r)
			d, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WarnContext(r.Context(), "ratelimit: check failed, allowing request",
					"route", routeID,
					"key", key,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			retryAfter := int(d.RetryAfter.Seconds())
			h.Set("X-RateLimit-Reset", strconv.Itoa(retryAfter))

			if !d.Allowed {
				if metrics != nil {
					metrics.RateLimitRejected(routeID)
				}
				logger.InfoContext(r.Context(), "ratelimit: request rejected",
					"route", routeID,
					"key", key,
				)
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, r, http.StatusTooManyRequests, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
