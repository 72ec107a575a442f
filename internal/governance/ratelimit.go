package governance

import (
	"math"
	"sync"
	"time"
)

// RateLimiterConfig defines per-partition throughput settings.
type RateLimiterConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst"`
}

// RateLimiter implements token bucket rate limiting per partition key.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	config  map[string]RateLimiterConfig
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter with the provided configuration.
func NewRateLimiter(config map[string]RateLimiterConfig) *RateLimiter {
	return newRateLimiter(config, time.Now)
}

func newRateLimiter(config map[string]RateLimiterConfig, now func() time.Time) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  make(map[string]RateLimiterConfig),
		now:     now,
	}
	rl.Configure(config)
	return rl
}

// Configure updates the rate limiter with new per-partition limits.
func (rl *RateLimiter) Configure(config map[string]RateLimiterConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.config = make(map[string]RateLimiterConfig, len(config))
	for key, cfg := range config {
		rl.config[key] = cfg
	}

	newBuckets := make(map[string]*tokenBucket, len(config))
	for key, cfg := range config {
		if bucket, exists := rl.buckets[key]; exists {
			bucket.configure(cfg.RequestsPerSecond, cfg.BurstSize)
			newBuckets[key] = bucket
		} else {
			newBuckets[key] = newTokenBucket(cfg.RequestsPerSecond, cfg.BurstSize, rl.now)
		}
	}
	rl.buckets = newBuckets
}

// Reserve consumes one token for key. When no token is available it returns
// false and the time until the next token becomes available.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	rl.mu.RLock()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket, exists = rl.buckets[WildcardKey]
	}
	rl.mu.RUnlock()

	if !exists {
		return true, 0
	}

	return bucket.take()
}

// Stats returns current rate limit statistics for all partitions.
func (rl *RateLimiter) Stats() map[string]RateLimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := make(map[string]RateLimitStats, len(rl.buckets))
	for key, bucket := range rl.buckets {
		stats[key] = bucket.stats()
	}
	return stats
}

// WildcardKey configures a bucket shared by partitions without their own limit.
const WildcardKey = "*"

// RateLimitStats exposes current state of a rate limit bucket.
type RateLimitStats struct {
	Limit          int     `json:"limit"`
	BurstSize      int     `json:"burstSize"`
	Available      float64 `json:"available"`
	LastRefillTime string  `json:"lastRefillTime"`
}

type tokenBucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	capacity   float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

func newTokenBucket(rps, burstSize int, now func() time.Time) *tokenBucket {
	if rps <= 0 {
		rps = 100
	}
	if burstSize <= 0 {
		burstSize = rps
	}

	return &tokenBucket{
		rate:       float64(rps),
		capacity:   float64(burstSize),
		tokens:     float64(burstSize),
		lastRefill: now(),
		now:        now,
	}
}

func (tb *tokenBucket) configure(rps, burstSize int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if rps <= 0 {
		rps = 100
	}
	if burstSize <= 0 {
		burstSize = rps
	}

	oldCapacity := tb.capacity
	tb.rate = float64(rps)
	tb.capacity = float64(burstSize)

	if tb.capacity > oldCapacity {
		tb.tokens += tb.capacity - oldCapacity
	}
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

func (tb *tokenBucket) take() (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, 0
	}

	missing := 1.0 - tb.tokens
	wait := time.Duration(math.Ceil(missing / tb.rate * float64(time.Second)))
	return false, wait
}

func (tb *tokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}

	tb.lastRefill = now
}

func (tb *tokenBucket) stats() RateLimitStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	return RateLimitStats{
		Limit:          int(tb.rate),
		BurstSize:      int(tb.capacity),
		Available:      tb.tokens,
		LastRefillTime: tb.lastRefill.Format(time.RFC3339),
	}
}
