package gateway

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"
)

// Headers clients may send on cross-origin requests.
var corsAllowedHeaders = []string{
	"Authorization",
	"Content-Type",
	"Accept",
	"Origin",
	"X-Requested-With",
	"Access-Control-Request-Method",
	"Access-Control-Request-Headers",
	"X-Request-Id",
	"Cache-Control",
}

// Headers exposed to browser scripts on cross-origin responses.
var corsExposedHeaders = []string{
	"X-Request-Id",
	"X-RateLimit-Remaining",
	"X-RateLimit-Limit",
	"X-RateLimit-Reset",
}

const corsMaxAge = "3600"

// originPattern is one pre-parsed entry from the allow-list. Exactly one of
// the three shapes applies: exact string, trailing ":*" wildcard port, or
// general glob.
type originPattern struct {
	exact string

	// wildcard-port shape: "http://localhost:*" becomes
	// portPrefix "http://localhost:" and bare "http://localhost".
	portPrefix string
	bare       string

	glob *regexp.Regexp
}

func (p originPattern) matches(origin string) bool {
	switch {
	case p.portPrefix != "":
		if origin == p.bare {
			return true
		}
		rest, ok := strings.CutPrefix(origin, p.portPrefix)
		return ok && isDigits(rest)
	case p.glob != nil:
		return p.glob.MatchString(origin)
	default:
		return origin == p.exact
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CORS enforces the origin allow-list and answers preflight requests. It must
// be the outermost filter: preflight requests carry no Authorization header
// and must never reach the JWT filter.
type CORS struct {
	patterns     []originPattern
	allowMethods string
	logger       *slog.Logger
}

// NewCORS parses the allow-list once; the filter is read-only afterwards.
func NewCORS(allowedOrigins, allowedMethods []string, logger *slog.Logger) *CORS {
	patterns := make([]originPattern, 0, len(allowedOrigins))
	for _, raw := range allowedOrigins {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		patterns = append(patterns, parseOriginPattern(raw))
	}
	return &CORS{
		patterns:     patterns,
		allowMethods: strings.Join(allowedMethods, ", "),
		logger:       logger,
	}
}

func parseOriginPattern(raw string) originPattern {
	if base, ok := strings.CutSuffix(raw, ":*"); ok {
		return originPattern{portPrefix: base + ":", bare: base}
	}
	if strings.Contains(raw, "*") {
		// Glob: dots are literal, "*" matches anything, whole-string match.
		expr := strings.ReplaceAll(raw, ".", `\.`)
		expr = strings.ReplaceAll(expr, "*", ".*")
		return originPattern{glob: regexp.MustCompile("^" + expr + "$")}
	}
	return originPattern{exact: raw}
}

// OriginAllowed reports whether the given Origin header value matches any
// configured pattern.
func (c *CORS) OriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, p := range c.patterns {
		if p.matches(origin) {
			return true
		}
	}
	return false
}

// Middleware applies CORS enforcement before the rest of the chain.
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Same-origin or non-browser request: nothing to enforce.
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !c.OriginAllowed(origin) {
			c.logger.WarnContext(r.Context(), "cors: blocked disallowed origin",
				"origin", origin,
				"path", r.URL.Path,
			)
			w.WriteHeader(http.StatusForbidden)
			return
		}

		c.setHeaders(w, origin)

		// Preflight is answered here; it must not reach auth or the proxy.
		if r.Method == http.MethodOptions {
			c.logger.DebugContext(r.Context(), "cors: handling preflight",
				"origin", origin,
				"path", r.URL.Path,
			)
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (c *CORS) setHeaders(w http.ResponseWriter, origin string) {
	h := w.Header()
	// Echo the exact origin, never "*": credentials are allowed.
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", c.allowMethods)
	h.Set("Access-Control-Allow-Headers", strings.Join(corsAllowedHeaders, ", "))
	h.Set("Access-Control-Expose-Headers", strings.Join(corsExposedHeaders, ", "))
	h.Set("Access-Control-Max-Age", corsMaxAge)
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
}
