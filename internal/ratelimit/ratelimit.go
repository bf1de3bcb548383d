// Package ratelimit provides a keyed token-bucket limiter for inbound requests.
// Keys that stay idle are evicted so per-client state does not grow without bound.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long a key may go unused before its limiter is dropped.
const DefaultIdleTTL = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter manages per-key rate limiting.
// Each unique key gets its own independent rate limiter.
type KeyedRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a new keyed rate limiter and starts its eviction loop.
// rps: requests per second allowed.
// burst: maximum burst size (tokens available immediately).
// idleTTL: eviction age for unused keys; zero means DefaultIdleTTL.
func New(rps float64, burst int, idleTTL time.Duration) *KeyedRateLimiter {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}

	krl := &KeyedRateLimiter{
		entries: make(map[string]*entry),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go krl.evictLoop()

	return krl
}

// PerInterval converts "n requests per interval" into requests per second.
func PerInterval(n int, interval time.Duration) float64 {
	return float64(n) / interval.Seconds()
}

// Allow reports whether a request for key may proceed now. It never blocks.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	now := time.Now()

	krl.mu.Lock()
	e, ok := krl.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.entries[key] = e
	}
	e.lastSeen = now
	krl.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (krl *KeyedRateLimiter) Len() int {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	return len(krl.entries)
}

// Stop shuts down the eviction loop and waits for it to exit.
func (krl *KeyedRateLimiter) Stop() {
	krl.stopOnce.Do(func() {
		close(krl.done)
	})
	<-krl.stopped
}

func (krl *KeyedRateLimiter) evictLoop() {
	defer close(krl.stopped)

	ticker := time.NewTicker(krl.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-krl.done:
			return
		case now := <-ticker.C:
			krl.evictIdle(now)
		}
	}
}

// evictIdle drops limiters not used since now - idleTTL. Returns how many were dropped.
func (krl *KeyedRateLimiter) evictIdle(now time.Time) int {
	cutoff := now.Add(-krl.idleTTL)

	krl.mu.Lock()
	defer krl.mu.Unlock()

	evicted := 0
	for key, e := range krl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(krl.entries, key)
			evicted++
		}
	}
	return evicted
}
