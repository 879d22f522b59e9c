package gateway

import (
	"log/slog"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

const (
	breakerFailureThreshold = 5
	breakerCooldown         = 30 * time.Second
	breakerCloseSuccesses   = 2
)

type circuit struct {
	state       breakerState
	failures    int
	successes   int
	lastChange  time.Time
	lastFailure time.Time
}

// Breaker tracks one circuit per downstream service so a failing upstream is
// failed fast instead of burning a full timeout on every request. After
// breakerFailureThreshold consecutive transport failures the circuit opens;
// once the cooldown passes a probe request is let through, and
// breakerCloseSuccesses successes in a row close it again.
type Breaker struct {
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	circuits map[string]*circuit
}

func NewBreaker(logger *slog.Logger) *Breaker {
	return &Breaker{
		now:      time.Now,
		logger:   logger,
		circuits: make(map[string]*circuit),
	}
}

// Allow reports whether a request to the service may proceed. An open circuit
// whose cooldown has passed transitions to half-open and lets the request
// through as a probe.
func (b *Breaker) Allow(service string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[service]
	if !ok {
		return true
	}
	if c.state != breakerOpen {
		return true
	}
	if b.now().Sub(c.lastChange) < breakerCooldown {
		return false
	}
	c.state = breakerHalfOpen
	c.successes = 0
	c.lastChange = b.now()
	b.logger.Info("breaker: probing service", "service", service)
	return true
}

// RecordSuccess resets the failure count and, in half-open state, counts
// toward closing the circuit.
func (b *Breaker) RecordSuccess(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[service]
	if !ok {
		return
	}
	c.failures = 0
	if c.state == breakerHalfOpen {
		c.successes++
		if c.successes >= breakerCloseSuccesses {
			c.state = breakerClosed
			c.lastChange = b.now()
			b.logger.Info("breaker: circuit closed", "service", service)
		}
	}
}

// RecordFailure counts a transport failure; enough of them in a row open the
// circuit, and any failure while half-open reopens it.
func (b *Breaker) RecordFailure(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[service]
	if !ok {
		c = &circuit{state: breakerClosed, lastChange: b.now()}
		b.circuits[service] = c
	}
	c.failures++
	c.lastFailure = b.now()

	switch c.state {
	case breakerClosed:
		if c.failures >= breakerFailureThreshold {
			c.state = breakerOpen
			c.lastChange = b.now()
			b.logger.Warn("breaker: circuit opened", "service", service, "failures", c.failures)
		}
	case breakerHalfOpen:
		c.state = breakerOpen
		c.successes = 0
		c.lastChange = b.now()
		b.logger.Warn("breaker: probe failed, circuit reopened", "service", service)
	}
}

// States reports the current circuit state per tracked service.
func (b *Breaker) States() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.circuits))
	for service, c := range b.circuits {
		out[service] = c.state.String()
	}
	return out
}
