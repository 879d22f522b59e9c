package gateway

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RateLimitSpec selects the partition-key strategy and the bucket shape for
// one route. RPS/Burst of zero fall back to the process-wide defaults.
type RateLimitSpec struct {
	Strategy string `yaml:"strategy"` // "ip" or "user"
	RPS      int    `yaml:"rps"`
	Burst    int    `yaml:"burst"`
}

// Route binds a path prefix to a downstream service together with the filter
// configuration applied to requests matching it. Routes are immutable after
// loading.
type Route struct {
	ID           string         `yaml:"id"`
	Prefix       string         `yaml:"prefix"`
	Service      string         `yaml:"service"`
	StripPrefix  bool           `yaml:"strip_prefix"`
	Auth         bool           `yaml:"auth"`
	RequiredRole string         `yaml:"required_role"`
	RateLimit    *RateLimitSpec `yaml:"rate_limit"`
}

// routesFile is the on-disk shape of the route table.
type routesFile struct {
	Services map[string]string `yaml:"services"` // service name -> base URL
	Routes   []Route           `yaml:"routes"`
}

// RouteTable matches request paths to routes, longest prefix first.
type RouteTable struct {
	routes   []Route
	services map[string]string
}

// LoadRoutes reads and validates the YAML route table.
func LoadRoutes(path string) (*RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes parses a YAML route table from memory.
func ParseRoutes(data []byte) (*RouteTable, error) {
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	if len(f.Routes) == 0 {
		return nil, fmt.Errorf("routes file defines no routes")
	}

	seen := make(map[string]bool, len(f.Routes))
	for i := range f.Routes {
		rt := &f.Routes[i]
		if rt.ID == "" {
			return nil, fmt.Errorf("route %d: id is required", i)
		}
		if seen[rt.ID] {
			return nil, fmt.Errorf("route %q: duplicate id", rt.ID)
		}
		seen[rt.ID] = true
		if !strings.HasPrefix(rt.Prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix must start with /", rt.ID)
		}
		if rt.Service == "" {
			return nil, fmt.Errorf("route %q: service is required", rt.ID)
		}
		if _, ok := f.Services[rt.Service]; !ok {
			return nil, fmt.Errorf("route %q: unknown service %q", rt.ID, rt.Service)
		}
		if rt.RateLimit != nil {
			switch rt.RateLimit.Strategy {
			case "", "ip", "user":
			default:
				return nil, fmt.Errorf("route %q: unknown rate limit strategy %q", rt.ID, rt.RateLimit.Strategy)
			}
		}
	}

	routes := make([]Route, len(f.Routes))
	copy(routes, f.Routes)
	// Longest prefix first so Match can take the first hit.
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Prefix) > len(routes[j].Prefix)
	})

	return &RouteTable{routes: routes, services: f.Services}, nil
}

// Match returns the route whose prefix matches the path, preferring the
// longest prefix, or nil when nothing matches.
func (t *RouteTable) Match(path string) *Route {
	for i := range t.routes {
		if strings.HasPrefix(path, t.routes[i].Prefix) {
			return &t.routes[i]
		}
	}
	return nil
}

// Routes returns the loaded routes in match order.
func (t *RouteTable) Routes() []Route {
	return t.routes
}

// Services returns the service name to base URL map.
func (t *RouteTable) Services() map[string]string {
	return t.services
}
