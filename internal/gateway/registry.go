package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type serviceEntry struct {
	baseURL string
	healthy bool
}

// ServiceRegistry resolves downstream service names to base URLs and probes
// each service's health endpoint periodically, so the proxy never forwards to
// a target known to be down. It stands in for the discovery server the rest
// of the deployment uses.
type ServiceRegistry struct {
	httpClient *http.Client
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	stopOnce   sync.Once

	mu       sync.RWMutex
	services map[string]*serviceEntry
}

// NewServiceRegistry creates a registry over a static service -> base URL
// map. Services start healthy until the first probe says otherwise.
func NewServiceRegistry(services map[string]string, interval time.Duration, logger *slog.Logger) *ServiceRegistry {
	entries := make(map[string]*serviceEntry, len(services))
	for name, url := range services {
		entries[name] = &serviceEntry{baseURL: url, healthy: true}
	}
	return &ServiceRegistry{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
		services:   entries,
	}
}

// Start begins periodic health probing; call once after creation.
func (r *ServiceRegistry) Start() {
	r.probeAll()
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.probeAll()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the probe loop.
func (r *ServiceRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *ServiceRegistry) probeAll() {
	r.mu.RLock()
	targets := make(map[string]string, len(r.services))
	for name, e := range r.services {
		targets[name] = e.baseURL
	}
	r.mu.RUnlock()

	for name, base := range targets {
		healthy := r.probe(base)

		r.mu.Lock()
		e := r.services[name]
		changed := e.healthy != healthy
		e.healthy = healthy
		r.mu.Unlock()

		if changed {
			if healthy {
				r.logger.Info("registry: service recovered", "service", name, "base_url", base)
			} else {
				r.logger.Warn("registry: service unhealthy", "service", name, "base_url", base)
			}
		}
	}
}

func (r *ServiceRegistry) probe(baseURL string) bool {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Resolve returns the base URL for the service, or ServiceNotFoundError when
// the service is unknown or currently unhealthy.
func (r *ServiceRegistry) Resolve(service string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[service]
	if !ok || !e.healthy {
		return "", &ServiceNotFoundError{Service: service}
	}
	return e.baseURL, nil
}

// Snapshot reports each known service and whether it is currently healthy.
func (r *ServiceRegistry) Snapshot() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.services))
	for name, e := range r.services {
		out[name] = e.healthy
	}
	return out
}
