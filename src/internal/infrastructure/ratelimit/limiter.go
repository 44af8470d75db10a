// Package ratelimit throttles outbound requests per server host.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/logger"
)

// RateLimiter keeps one token bucket per identifier (a server host).
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	lastSeen map[string]time.Time
	maxSize  int

	stop     chan struct{}
	stopOnce sync.Once
}

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerSecond float64       // Requests allowed per second; 0 disables limiting
	Burst             int           // Maximum burst size
	TTL               time.Duration // How long to keep idle limiters in memory
}

// DefaultConfig returns a configuration suited to a small fleet.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 50,
		Burst:             100,
		TTL:               15 * time.Minute,
	}
}

// Enabled reports whether cfg limits anything.
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Stop to end it.
func NewRateLimiter(cfg Config) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		ttl:      cfg.TTL,
		lastSeen: make(map[string]time.Time),
		maxSize:  1000,
		stop:     make(chan struct{}),
	}

	go rl.cleanup(time.Minute)

	return rl
}

// limiter returns the bucket for identifier, creating it if needed.
func (rl *RateLimiter) limiter(identifier string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[identifier]
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !exists {
		limiter, exists = rl.limiters[identifier]
	}
	if !exists {
		if len(rl.limiters) >= rl.maxSize {
			rl.evictOldest()
		}
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[identifier] = limiter
	}
	rl.lastSeen[identifier] = time.Now()
	return limiter
}

// Allow reports whether a request for identifier may proceed now.
func (rl *RateLimiter) Allow(identifier string) bool {
	allowed := rl.limiter(identifier).Allow()
	if !allowed {
		logger.WithField("host", identifier).Debug("Outbound rate limit reached")
	}
	return allowed
}

// Wait blocks until a request for identifier may proceed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, identifier string) error {
	if err := rl.limiter(identifier).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", identifier, err)
	}
	return nil
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// evictOldest removes the least recently used limiter. Callers hold rl.mu.
func (rl *RateLimiter) evictOldest() {
	var oldestID string
	var oldestTime time.Time
	first := true

	for id, lastSeen := range rl.lastSeen {
		if first || lastSeen.Before(oldestTime) {
			oldestID = id
			oldestTime = lastSeen
			first = false
		}
	}

	if oldestID != "" {
		delete(rl.limiters, oldestID)
		delete(rl.lastSeen, oldestID)
	}
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			if n := rl.removeIdle(time.Now()); n > 0 {
				logger.WithField("count", n).Debug("Cleaned up idle rate limiters")
			}
		}
	}
}

// removeIdle drops limiters unused for longer than the TTL.
func (rl *RateLimiter) removeIdle(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for identifier, lastSeen := range rl.lastSeen {
		if now.Sub(lastSeen) > rl.ttl {
			delete(rl.limiters, identifier)
			delete(rl.lastSeen, identifier)
			removed++
		}
	}
	return removed
}

// Stats returns statistics about current rate limiters.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return map[string]interface{}{
		"active_limiters":  len(rl.limiters),
		"limit_per_second": float64(rl.limit),
		"burst_size":       rl.burst,
		"ttl_minutes":      int(rl.ttl.Minutes()),
	}
}

// Transport is an http.RoundTripper that waits for the host's bucket
// before forwarding each request.
type Transport struct {
	Limiter *RateLimiter
	Base    http.RoundTripper
}

// RoundTrip implements http.RoundTripper. A request that finds the bucket
// empty waits for the next token.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Limiter != nil && !t.Limiter.Allow(req.URL.Host) {
		if err := t.Limiter.Wait(req.Context(), req.URL.Host); err != nil {
			return nil, err
		}
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// WrapClient returns a copy of client whose transport is throttled by rl.
func WrapClient(client *http.Client, rl *RateLimiter) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	wrapped := *client
	wrapped.Transport = &Transport{Limiter: rl, Base: client.Transport}
	return &wrapped
}
