// Package ratelimit implements per-client token bucket rate limiting.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// maxClients caps the tracked bucket map. When full, the least
	// recently used client is evicted.
	maxClients = 10000

	// idleEvictAfter is how long a bucket may sit untouched before the
	// cleanup sweep drops it.
	idleEvictAfter = 10 * time.Minute

	cleanupInterval = time.Minute
)

// bucket is one client's token bucket.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// Limiter enforces a requests-per-window budget per client key. Tokens
// refill continuously at rate/window; a request consumes one whole token.
type Limiter struct {
	rate   float64
	window time.Duration

	mu      sync.Mutex
	buckets *lru.Cache[string, *bucket]

	now func() time.Time

	stop chan struct{}
	done chan struct{}

	// onEvict and onTrack observe cache churn for metrics.
	onEvict func()
	onTrack func(n int)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithEvictionObserver registers a callback fired per evicted client.
func WithEvictionObserver(fn func()) Option {
	return func(l *Limiter) { l.onEvict = fn }
}

// WithTrackedObserver registers a callback receiving the tracked client
// count after each cleanup sweep.
func WithTrackedObserver(fn func(n int)) Option {
	return func(l *Limiter) { l.onTrack = fn }
}

// New creates a limiter allowing rate requests per window.
func New(rate int, window time.Duration, opts ...Option) *Limiter {
	if rate <= 0 {
		rate = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		rate:   float64(rate),
		window: window,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	cache, _ := lru.NewWithEvict[string, *bucket](maxClients, func(string, *bucket) {
		if l.onEvict != nil {
			l.onEvict()
		}
	})
	l.buckets = cache

	go l.cleanupLoop()
	return l
}

// Allow reports whether the client identified by key may proceed, and the
// number of seconds to wait before retrying when it may not.
func (l *Limiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	b, ok := l.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: l.rate, lastRefill: now}
		l.buckets.Add(key, b)
	}

	// Lazy continuous refill, capped at the bucket size.
	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		b.tokens += elapsed.Seconds() * l.rate / l.window.Seconds()
		if b.tokens > l.rate {
			b.tokens = l.rate
		}
		b.lastRefill = now
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	// Seconds until one full token accrues, rounded up.
	deficit := 1 - b.tokens
	wait := time.Duration(deficit * l.window.Seconds() / l.rate * float64(time.Second))
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return false, secs
}

// Tracked returns the number of clients currently tracked.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets.Len()
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	close(l.stop)
	<-l.done
}

func (l *Limiter) cleanupLoop() {
	defer close(l.done)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep drops buckets idle past the expiry window and publishes the
// tracked count.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idleEvictAfter)
	for _, key := range l.buckets.Keys() {
		b, ok := l.buckets.Peek(key)
		if ok && b.lastSeen.Before(cutoff) {
			l.buckets.Remove(key)
		}
	}
	if l.onTrack != nil {
		l.onTrack(l.buckets.Len())
	}
}
