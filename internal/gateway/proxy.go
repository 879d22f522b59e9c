package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy forwards requests to the resolved downstream service and copies the
// response back untouched. All failures are handed to the error translator.
type Proxy struct {
	registry  *ServiceRegistry
	errors    *ErrorHandler
	breaker   *Breaker
	transport http.RoundTripper
	timeout   time.Duration
	logger    *slog.Logger
}

func NewProxy(registry *ServiceRegistry, errors *ErrorHandler, breaker *Breaker, timeout time.Duration, logger *slog.Logger) *Proxy {
	return &Proxy{
		registry:  registry,
		errors:    errors,
		breaker:   breaker,
		transport: http.DefaultTransport,
		timeout:   timeout,
		logger:    logger,
	}
}

// Handler returns the terminal pipeline stage bound to one route.
func (p *Proxy) Handler(route *Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		baseURL, err := p.registry.Resolve(route.Service)
		if err != nil {
			p.errors.Handle(w, r, err)
			return
		}

		if !p.breaker.Allow(route.Service) {
			p.errors.Handle(w, r, &StatusError{
				Code:    http.StatusServiceUnavailable,
				Message: "Service temporarily unavailable",
			})
			return
		}

		targetURL, err := url.Parse(baseURL)
		if err != nil {
			p.errors.Handle(w, r, fmt.Errorf("invalid base URL %q for service %q: %w",
				baseURL, route.Service, err))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
		defer cancel()

		outPath := r.URL.Path
		if route.StripPrefix {
			outPath = strings.TrimPrefix(outPath, route.Prefix)
			if !strings.HasPrefix(outPath, "/") {
				outPath = "/" + outPath
			}
		}

		// Same method, path, query and body; only the target changes.
		outReq := r.Clone(ctx)
		outReq.URL.Scheme = targetURL.Scheme
		outReq.URL.Host = targetURL.Host
		outReq.URL.Path = outPath
		outReq.URL.RawQuery = r.URL.RawQuery
		outReq.Host = targetURL.Host
		outReq.RequestURI = ""

		for _, h := range hopByHopHeaders {
			outReq.Header.Del(h)
		}

		if clientIP := IPKeyResolver(r); clientIP != anonymousKey {
			if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
				outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
			} else {
				outReq.Header.Set("X-Forwarded-For", clientIP)
			}
		}
		outReq.Header.Set("X-Forwarded-Host", r.Host)
		if r.TLS != nil {
			outReq.Header.Set("X-Forwarded-Proto", "https")
		} else {
			outReq.Header.Set("X-Forwarded-Proto", "http")
		}

		p.logger.DebugContext(r.Context(), "proxy: forwarding request",
			"route", route.ID,
			"service", route.Service,
			"target", baseURL,
			"path", outPath,
		)

		resp, err := p.transport.RoundTrip(outReq)
		if err != nil {
			// Client disconnects are normal; everything else goes through
			// the translator (refused -> 503, deadline -> 504, ...).
			if r.Context().Err() == context.Canceled {
				p.logger.DebugContext(r.Context(), "proxy: request canceled by client",
					"route", route.ID,
				)
				return
			}
			p.breaker.RecordFailure(route.Service)
			p.errors.Handle(w, r, fmt.Errorf("upstream %s: %w", route.Service, err))
			return
		}
		defer resp.Body.Close()
		p.breaker.RecordSuccess(route.Service)

		header := w.Header()
		for k, vv := range resp.Header {
			if isHopByHop(k) {
				continue
			}
			for _, v := range vv {
				header.Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	})
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
