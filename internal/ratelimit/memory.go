package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// How long a bucket may sit untouched before the sweeper drops it.
const idleBucketTTL = 10 * time.Minute

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. It is the
// store used when no Redis URL is configured; limits are then per gateway
// instance rather than global.
type MemoryLimiter struct {
	rate  float64 // tokens per second
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	cron   *cron.Cron
	logger *slog.Logger
}

// NewMemoryLimiter creates an in-memory limiter and starts a periodic sweep
// of idle buckets so long-gone clients do not leak memory.
func NewMemoryLimiter(rps, burst int, logger *slog.Logger) *MemoryLimiter {
	l := &MemoryLimiter{
		rate:    float64(rps),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		logger:  logger,
	}
	l.cron = cron.New()
	_, _ = l.cron.AddFunc("@every 5m", l.sweep)
	l.cron.Start()
	return l
}

// Allow refills the key's bucket for the elapsed time and tries to take one
// token.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastSeen: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastSeen).Seconds()
		if elapsed > 0 {
			b.tokens = math.Min(float64(l.burst), b.tokens+elapsed*l.rate)
		}
		b.lastSeen = now
	}

	d := Decision{Limit: l.burst}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(b.tokens)
		return d, nil
	}
	d.Remaining = 0
	d.RetryAfter = time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return d, nil
}

func (l *MemoryLimiter) sweep() {
	cutoff := l.now().Add(-idleBucketTTL)

	l.mu.Lock()
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	remaining := len(l.buckets)
	l.mu.Unlock()

	if removed > 0 {
		l.logger.Debug("ratelimit: swept idle buckets", "removed", removed, "remaining", remaining)
	}
}

// Close stops the background sweep.
func (l *MemoryLimiter) Close() {
	l.cron.Stop()
}
