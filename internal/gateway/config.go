package gateway

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds gateway configuration.
// It is built once at startup and never mutated afterwards; every filter
// receives the values it needs through its constructor rather than reading
// the environment at request time.
type Config struct {
	ListenAddress   string        // Address the proxy listens on (e.g. :8080)
	AdminAddress    string        // Address the admin/health server listens on (e.g. :8081)
	Environment     string        // "development" or "production"
	JWTSecret       string        // Shared HMAC secret used to verify user tokens
	AllowedOrigins  []string      // CORS allow-list patterns, already split and trimmed
	AllowedMethods  []string      // Methods advertised in Access-Control-Allow-Methods
	RoutesFile      string        // Path to the YAML route table
	RedisURL        string        // Redis URL for the distributed rate limiter; empty = in-memory
	RateLimitRPS    int           // Default refill rate for routes without an explicit limit
	RateLimitBurst  int           // Default burst capacity for routes without an explicit limit
	ProbeInterval   time.Duration // How often the service registry probes downstream health
	UpstreamTimeout time.Duration // Per-request deadline for proxied calls
}

var ErrJWTSecretRequired = errors.New("JWT_SECRET is required")

const (
	defaultAllowedOrigins = "http://localhost:5173,http://localhost:3000"
	defaultAllowedMethods = "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD"
)

// LoadConfig loads gateway configuration from environment
func LoadConfig() (*Config, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, ErrJWTSecretRequired
	}

	listenAddr := os.Getenv("GATEWAY_LISTEN_ADDRESS")
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	adminAddr := os.Getenv("GATEWAY_ADMIN_ADDRESS")
	if adminAddr == "" {
		adminAddr = ":8081"
	}
	environment := os.Getenv("APP_ENV")
	if environment == "" {
		environment = "production"
	}

	origins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if origins == "" {
		origins = defaultAllowedOrigins
	}
	methods := os.Getenv("CORS_ALLOWED_METHODS")
	if methods == "" {
		methods = defaultAllowedMethods
	}

	routesFile := os.Getenv("GATEWAY_ROUTES_FILE")
	if routesFile == "" {
		routesFile = "routes.yaml"
	}

	rps := 10
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rps = n
		}
	}
	burst := 20
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	probeSec := 60
	if v := os.Getenv("GATEWAY_PROBE_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			probeSec = n
		}
	}
	upstreamSec := 30
	if v := os.Getenv("GATEWAY_UPSTREAM_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			upstreamSec = n
		}
	}

	return &Config{
		ListenAddress:   listenAddr,
		AdminAddress:    adminAddr,
		Environment:     environment,
		JWTSecret:       secret,
		AllowedOrigins:  splitAndTrim(origins),
		AllowedMethods:  splitAndTrim(methods),
		RoutesFile:      routesFile,
		RedisURL:        os.Getenv("REDIS_URL"),
		RateLimitRPS:    rps,
		RateLimitBurst:  burst,
		ProbeInterval:   time.Duration(probeSec) * time.Second,
		UpstreamTimeout: time.Duration(upstreamSec) * time.Second,
	}, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
